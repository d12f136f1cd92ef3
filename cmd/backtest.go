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
	"path/filepath"

	"github.com/foliosim/foliosim/backtest"
	"github.com/foliosim/foliosim/portfolio"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	backtestTickers   []string
	backtestWeights   []float64
	backtestStart     string
	backtestEnd       string
	backtestCapital   float64
	backtestFrequency string
	backtestCost      float64
	backtestBenchmark string
	backtestOutput    string
	backtestRiskFree  float64
)

func init() {
	backtestCmd.Flags().StringSliceVarP(&backtestTickers, "tickers", "t", nil, "Tickers to hold, e.g. VTI,BND")
	backtestCmd.Flags().Float64SliceVarP(&backtestWeights, "weights", "w", nil, "Target weights matching --tickers; defaults to equal weighting")
	backtestCmd.Flags().StringVar(&backtestStart, "start", "", "Backtest start date (YYYY-MM-DD)")
	backtestCmd.Flags().StringVar(&backtestEnd, "end", "", "Backtest end date (YYYY-MM-DD)")
	backtestCmd.Flags().Float64Var(&backtestCapital, "capital", 10000, "Initial capital in dollars")
	backtestCmd.Flags().StringVarP(&backtestFrequency, "frequency", "f", "monthly", "Rebalance frequency: daily, weekly or monthly")
	backtestCmd.Flags().Float64VarP(&backtestCost, "cost", "c", 0, "Transaction cost percentage (0.1 = 0.1%)")
	backtestCmd.Flags().StringVarP(&backtestBenchmark, "benchmark", "b", "", "Benchmark ticker for beta/alpha")
	backtestCmd.Flags().StringVarP(&backtestOutput, "output", "o", "", "Report output directory; no CSV export when empty")
	backtestCmd.Flags().Float64Var(&backtestRiskFree, "risk-free", 0, "Annual risk-free rate for sharpe/alpha (0.02 = 2%)")

	if err := backtestCmd.MarkFlagRequired("tickers"); err != nil {
		log.Panic().Err(err).Msg("could not mark tickers flag required")
	}
	if err := backtestCmd.MarkFlagRequired("start"); err != nil {
		log.Panic().Err(err).Msg("could not mark start flag required")
	}
	if err := backtestCmd.MarkFlagRequired("end"); err != nil {
		log.Panic().Err(err).Msg("could not mark end flag required")
	}

	rootCmd.AddCommand(backtestCmd)
}

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a backtest of a periodically rebalanced portfolio",
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()
		provider := setupProvider(ctx)

		tickers := normalizeTickers(backtestTickers)
		cfg := &backtest.Config{
			Tickers:            tickers,
			Weights:            buildWeights(tickers, backtestWeights),
			StartDate:          parseDate(backtestStart, "start"),
			EndDate:            parseDate(backtestEnd, "end"),
			InitialCapital:     backtestCapital,
			Frequency:          backtest.Frequency(backtestFrequency),
			TransactionCostPct: backtestCost,
			BenchmarkTicker:    backtestBenchmark,
		}

		result, err := backtest.Run(ctx, provider, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("backtest failed")
		}

		summary := portfolio.Summary(result.EquityCurve, result.Benchmark, backtestRiskFree)
		printSummaryTable(summary)

		if backtestOutput == "" {
			return
		}

		reportName := backtestStart + "_" + backtestEnd
		reportPath, err := portfolio.CreateReportDirectory(backtestOutput, reportName)
		if err != nil {
			log.Fatal().Err(err).Msg("could not create report directory")
		}

		dataDir := filepath.Join(reportPath, "data")
		if err := portfolio.ExportEquityCurve(result.EquityCurve, filepath.Join(dataDir, "equity_curve.csv")); err != nil {
			log.Fatal().Err(err).Msg("could not export equity curve")
		}
		if err := portfolio.ExportSummaryStats(summary, filepath.Join(dataDir, "summary.csv")); err != nil {
			log.Fatal().Err(err).Msg("could not export summary stats")
		}
		if err := portfolio.ExportTradeLog(result.Portfolio, filepath.Join(dataDir, "trades.csv")); err != nil {
			log.Warn().Err(err).Msg("could not export trade log")
		}

		log.Info().Str("ReportPath", reportPath).Msg("backtest report written")
	},
}
