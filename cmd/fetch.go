// Copyright 2025
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"errors"

	"github.com/foliosim/foliosim/data"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	fetchTickers      []string
	fetchStart        string
	fetchEnd          string
	fetchCompanyNames bool
)

func init() {
	fetchCmd.Flags().StringSliceVarP(&fetchTickers, "tickers", "t", nil, "Tickers to fetch")
	fetchCmd.Flags().StringVar(&fetchStart, "start", "", "Fetch start date (YYYY-MM-DD)")
	fetchCmd.Flags().StringVar(&fetchEnd, "end", "", "Fetch end date (YYYY-MM-DD)")
	fetchCmd.Flags().BoolVar(&fetchCompanyNames, "company-names", false, "Also fetch and store company names")

	if err := fetchCmd.MarkFlagRequired("tickers"); err != nil {
		log.Panic().Err(err).Msg("could not mark tickers flag required")
	}
	if err := fetchCmd.MarkFlagRequired("start"); err != nil {
		log.Panic().Err(err).Msg("could not mark start flag required")
	}
	if err := fetchCmd.MarkFlagRequired("end"); err != nil {
		log.Panic().Err(err).Msg("could not mark end flag required")
	}

	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Pre-warm the price cache for a set of tickers",
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()
		provider := setupProvider(ctx)
		fetcher := data.NewYahooFetcher()

		start := parseDate(fetchStart, "start")
		end := parseDate(fetchEnd, "end")

		for _, ticker := range normalizeTickers(fetchTickers) {
			subLog := log.With().Str("Ticker", ticker).Logger()

			series, err := provider.GetPrices(ctx, ticker, start, end)
			switch {
			case errors.Is(err, data.ErrNoDataAvailable):
				subLog.Warn().Msg("no data available for ticker")
				continue
			case err != nil:
				subLog.Fatal().Err(err).Msg("could not fetch prices")
			}
			subLog.Info().Int("NumBars", series.Len()).Msg("cached price bars")

			if !fetchCompanyNames {
				continue
			}
			name, err := fetcher.FetchCompanyName(ctx, ticker)
			if err != nil {
				subLog.Warn().Err(err).Msg("could not fetch company name")
				continue
			}
			if _, err := provider.Cache().GetOrCreateSecurity(ctx, ticker, name); err != nil {
				subLog.Warn().Err(err).Msg("could not store company name")
			}
		}
	},
}
