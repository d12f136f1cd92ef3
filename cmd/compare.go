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
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/foliosim/foliosim/backtest"
	"github.com/foliosim/foliosim/data"
	"github.com/foliosim/foliosim/portfolio"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// TimePeriod is one named backtest window from the config file:
//
//	[[periods]]
//	name = "covid-crash"
//	start = "2020-01-01"
//	end = "2020-12-31"
type TimePeriod struct {
	Name  string `mapstructure:"name"`
	Start string `mapstructure:"start"`
	End   string `mapstructure:"end"`
}

type tickerPerformance struct {
	ticker  string
	curve   []*portfolio.EquityPoint
	summary map[string]float64
}

var (
	comparePeriod   string
	compareOutput   string
	compareCost     float64
	compareParallel int
)

func init() {
	compareCmd.Flags().StringVarP(&comparePeriod, "period", "p", "", "Time period name to backtest (default: all periods)")
	compareCmd.Flags().StringVarP(&compareOutput, "output", "o", "output/comparisons", "Output directory")
	compareCmd.Flags().Float64VarP(&compareCost, "cost", "c", 0, "Transaction cost percentage (0.1 = 0.1%)")
	compareCmd.Flags().IntVar(&compareParallel, "parallel", backtest.DefaultFetchParallelism, "Maximum concurrent backtests")

	rootCmd.AddCommand(compareCmd)
}

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Backtest each configured ticker individually and rank the results",
	Long: `Runs one 100% allocation backtest per ticker from the config file over each
named time period and ranks the tickers by total return.`,
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()
		provider := setupProvider(ctx)

		tickers := normalizeTickers(viper.GetStringSlice("tickers"))
		if len(tickers) == 0 {
			log.Fatal().Msg("no tickers configured; set tickers in the config file")
		}

		var periods []*TimePeriod
		if err := viper.UnmarshalKey("periods", &periods); err != nil {
			log.Fatal().Err(err).Msg("could not read periods from config")
		}
		if len(periods) == 0 {
			log.Fatal().Msg("no periods configured; add [[periods]] blocks to the config file")
		}

		if comparePeriod != "" {
			period := findPeriod(periods, comparePeriod)
			if period == nil {
				log.Fatal().Str("Period", comparePeriod).Msg("period not found in config")
			}
			periods = []*TimePeriod{period}
		}

		for _, period := range periods {
			runComparison(ctx, provider, tickers, period)
		}
	},
}

func findPeriod(periods []*TimePeriod, name string) *TimePeriod {
	for _, period := range periods {
		if period.Name == name {
			return period
		}
	}
	return nil
}

// runComparison backtests every ticker at 100% weight over the period, in
// parallel across tickers, and writes the ranked comparison report.
func runComparison(ctx context.Context, provider *data.Provider, tickers []string, period *TimePeriod) {
	subLog := log.With().Str("Period", period.Name).Logger()
	subLog.Info().Strs("Tickers", tickers).Msg("starting comparison backtest")

	start := parseDate(period.Start, "period.start")
	end := parseDate(period.End, "period.end")

	var mu sync.Mutex
	results := []*tickerPerformance{}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(compareParallel)
	for _, ticker := range tickers {
		ticker := ticker
		group.Go(func() error {
			cfg := &backtest.Config{
				Tickers:            []string{ticker},
				Weights:            map[string]float64{ticker: 1.0},
				StartDate:          start,
				EndDate:            end,
				InitialCapital:     10000,
				Frequency:          backtest.Monthly,
				TransactionCostPct: compareCost,
				FetchParallelism:   1,
			}

			result, err := backtest.Run(groupCtx, provider, cfg)
			if err != nil {
				subLog.Warn().Err(err).Str("Ticker", ticker).Msg("backtest failed for ticker")
				return nil
			}

			mu.Lock()
			results = append(results, &tickerPerformance{
				ticker:  ticker,
				curve:   result.EquityCurve,
				summary: portfolio.Summary(result.EquityCurve, nil, 0),
			})
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		subLog.Fatal().Err(err).Msg("comparison backtest failed")
	}

	if len(results) == 0 {
		subLog.Error().Msg("no tickers had valid data for period")
		return
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].summary["total_return"] > results[j].summary["total_return"]
	})

	reportPath, err := portfolio.CreateReportDirectory(compareOutput, period.Name)
	if err != nil {
		subLog.Fatal().Err(err).Msg("could not create report directory")
	}

	for _, perf := range results {
		curvePath := filepath.Join(reportPath, "data", perf.ticker+"_equity_curve.csv")
		if err := portfolio.ExportEquityCurve(perf.curve, curvePath); err != nil {
			subLog.Warn().Err(err).Str("Ticker", perf.ticker).Msg("could not export equity curve")
		}
	}

	summaryPath := filepath.Join(reportPath, "comparison_summary.csv")
	if err := writeComparisonSummary(results, summaryPath); err != nil {
		subLog.Fatal().Err(err).Msg("could not write comparison summary")
	}

	printComparisonTable(results)
	subLog.Info().Str("SummaryPath", summaryPath).Msg("comparison backtest complete")
}

func writeComparisonSummary(results []*tickerPerformance, outputPath string) error {
	fh, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer fh.Close()

	rows := [][]string{{"ticker", "total_return", "cagr", "sharpe_ratio", "max_drawdown"}}
	for _, perf := range results {
		rows = append(rows, []string{
			perf.ticker,
			strconv.FormatFloat(perf.summary["total_return"], 'f', -1, 64),
			strconv.FormatFloat(perf.summary["cagr"], 'f', -1, 64),
			strconv.FormatFloat(perf.summary["sharpe_ratio"], 'f', -1, 64),
			strconv.FormatFloat(perf.summary["max_drawdown"], 'f', -1, 64),
		})
	}
	return csv.NewWriter(fh).WriteAll(rows)
}

func printComparisonTable(results []*tickerPerformance) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Ticker", "Total Return", "CAGR", "Sharpe", "Max Drawdown"})
	for _, perf := range results {
		table.Append([]string{
			perf.ticker,
			strconv.FormatFloat(perf.summary["total_return"], 'f', 4, 64),
			strconv.FormatFloat(perf.summary["cagr"], 'f', 4, 64),
			strconv.FormatFloat(perf.summary["sharpe_ratio"], 'f', 4, 64),
			strconv.FormatFloat(perf.summary["max_drawdown"], 'f', 4, 64),
		})
	}
	table.Render()
}
