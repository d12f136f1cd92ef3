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
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/foliosim/foliosim/data"
	"github.com/foliosim/foliosim/database"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
)

// setupProvider connects to the database, applies pending migrations and
// wires the cache-first provider over the Yahoo fetcher. Failure to reach
// the database is fatal for the invocation.
func setupProvider(ctx context.Context) *data.Provider {
	pool, err := database.Connect(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("could not connect to database")
	}

	if err := database.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("could not apply database migrations")
	}

	cache := data.NewCache(pool)
	return data.NewProvider(cache, data.NewYahooFetcher())
}

// parseDate parses a YYYY-MM-DD flag value; a bad value is fatal.
func parseDate(value string, flagName string) time.Time {
	date, err := time.Parse("2006-01-02", value)
	if err != nil {
		log.Fatal().Err(err).Str("Flag", flagName).Str("Value", value).Msg("could not parse date, expected YYYY-MM-DD")
	}
	return date
}

// buildWeights zips tickers and weights into a weight map. Empty weights
// means equal weighting; a length mismatch is fatal.
func buildWeights(tickers []string, weights []float64) map[string]float64 {
	weightMap := make(map[string]float64, len(tickers))
	if len(weights) == 0 {
		for _, ticker := range tickers {
			weightMap[data.NormalizeTicker(ticker)] = 1.0 / float64(len(tickers))
		}
		return weightMap
	}

	if len(weights) != len(tickers) {
		log.Fatal().Int("NumTickers", len(tickers)).Int("NumWeights", len(weights)).
			Msg("number of weights must match number of tickers")
	}
	for idx, ticker := range tickers {
		weightMap[data.NormalizeTicker(ticker)] = weights[idx]
	}
	return weightMap
}

// normalizeTickers upper-cases and trims every ticker flag value.
func normalizeTickers(tickers []string) []string {
	normalized := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		normalized = append(normalized, data.NormalizeTicker(ticker))
	}
	return normalized
}

// printSummaryTable renders a metric/value table to stdout with rows in
// sorted metric order.
func printSummaryTable(summary map[string]float64) {
	keys := make([]string, 0, len(summary))
	for key := range summary {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	for _, key := range keys {
		table.Append([]string{key, strconv.FormatFloat(summary[key], 'f', 4, 64)})
	}
	table.Render()
}
