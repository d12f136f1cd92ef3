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
	"time"

	"github.com/foliosim/foliosim/data"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	refreshOnce     bool
	refreshLookback int
)

func init() {
	if err := viper.BindEnv("fetch.refresh_schedule", "FOLIOSIM_REFRESH_SCHEDULE"); err != nil {
		log.Panic().Err(err).Msg("could not bind fetch.refresh_schedule")
	}
	refreshCmd.Flags().String("schedule", "0 22 * * 1-5", "Cron schedule for the refresh job")
	if err := viper.BindPFlag("fetch.refresh_schedule", refreshCmd.Flags().Lookup("schedule")); err != nil {
		log.Panic().Err(err).Msg("could not bind fetch.refresh_schedule")
	}

	refreshCmd.Flags().BoolVar(&refreshOnce, "once", false, "Run a single refresh and exit")
	refreshCmd.Flags().IntVar(&refreshLookback, "lookback", 30, "Days of history to refresh")

	rootCmd.AddCommand(refreshCmd)
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Periodically refresh recent prices for every cached ticker",
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()
		provider := setupProvider(ctx)

		if refreshOnce {
			refreshCachedTickers(ctx, provider)
			return
		}

		scheduler := gocron.NewScheduler(time.UTC)
		schedule := viper.GetString("fetch.refresh_schedule")
		if _, err := scheduler.Cron(schedule).Do(func() {
			refreshCachedTickers(ctx, provider)
		}); err != nil {
			log.Fatal().Err(err).Str("Schedule", schedule).Msg("could not schedule refresh job")
		}

		log.Info().Str("Schedule", schedule).Msg("starting refresh scheduler")
		scheduler.StartBlocking()
	},
}

// refreshCachedTickers pulls the trailing lookback window for every ticker
// that has cache metadata, letting the provider fill whatever is missing.
func refreshCachedTickers(ctx context.Context, provider *data.Provider) {
	tickers, err := provider.Cache().CachedTickers(ctx)
	if err != nil {
		log.Error().Err(err).Msg("could not list cached tickers")
		return
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -refreshLookback)

	for _, ticker := range tickers {
		subLog := log.With().Str("Ticker", ticker).Logger()
		series, err := provider.GetPrices(ctx, ticker, start, end)
		switch {
		case errors.Is(err, data.ErrNoDataAvailable):
			subLog.Warn().Msg("no recent data for ticker")
		case err != nil:
			subLog.Error().Err(err).Msg("could not refresh ticker")
		default:
			subLog.Info().Int("NumBars", series.Len()).Msg("refreshed ticker")
		}
	}
	log.Info().Int("NumTickers", len(tickers)).Msg("refresh pass complete")
}
