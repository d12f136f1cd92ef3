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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var purgeTickers []string

func init() {
	purgeCmd.Flags().StringSliceVarP(&purgeTickers, "tickers", "t", nil, "Tickers to purge from the cache")
	if err := purgeCmd.MarkFlagRequired("tickers"); err != nil {
		log.Panic().Err(err).Msg("could not mark tickers flag required")
	}

	rootCmd.AddCommand(purgeCmd)
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete cached prices, metadata and no-data markers for tickers",
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()
		provider := setupProvider(ctx)

		for _, ticker := range normalizeTickers(purgeTickers) {
			if err := provider.Cache().Purge(ctx, ticker); err != nil {
				log.Fatal().Err(err).Str("Ticker", ticker).Msg("could not purge ticker")
			}
			log.Info().Str("Ticker", ticker).Msg("purged cached data")
		}
	},
}
