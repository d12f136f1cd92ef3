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

package portfolio

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyCurve   = errors.New("equity curve cannot be empty")
	ErrNoTrades     = errors.New("no trades found in portfolio history")
	ErrEmptyMetrics = errors.New("metrics cannot be empty")
)

// CreateReportDirectory creates <basePath>/<reportName> with charts/ and
// data/ subdirectories and returns the report root.
func CreateReportDirectory(basePath string, reportName string) (string, error) {
	reportPath := filepath.Join(basePath, reportName)
	for _, dir := range []string{
		reportPath,
		filepath.Join(reportPath, "charts"),
		filepath.Join(reportPath, "data"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Error().Err(err).Str("Dir", dir).Msg("could not create report directory")
			return "", err
		}
	}
	return reportPath, nil
}

// ExportEquityCurve writes the curve as CSV with date, total_value and cash
// columns.
func ExportEquityCurve(curve []*EquityPoint, outputPath string) error {
	if len(curve) == 0 {
		return ErrEmptyCurve
	}

	rows := [][]string{{"date", "total_value", "cash"}}
	for _, point := range curve {
		rows = append(rows, []string{
			point.Date.Format("2006-01-02"),
			formatFloat(point.TotalValue),
			formatFloat(point.Cash),
		})
	}
	return writeCSV(outputPath, rows)
}

// ExportTradeLog writes the portfolio's flattened trade history as CSV.
func ExportTradeLog(port *Portfolio, outputPath string) error {
	if len(port.History) == 0 {
		return ErrNoTrades
	}

	trades := port.Trades()
	if len(trades) == 0 {
		return ErrNoTrades
	}

	rows := [][]string{{"date", "ticker", "shares", "price", "value", "transaction_cost"}}
	for _, trade := range trades {
		rows = append(rows, []string{
			trade.Date.Format("2006-01-02"),
			trade.Ticker,
			formatFloat(trade.Shares),
			formatFloat(trade.Price),
			formatFloat(trade.Value),
			formatFloat(trade.Cost),
		})
	}
	return writeCSV(outputPath, rows)
}

// ExportSummaryStats writes metrics as a metric,value CSV with rows in
// sorted key order.
func ExportSummaryStats(metrics map[string]float64, outputPath string) error {
	if len(metrics) == 0 {
		return ErrEmptyMetrics
	}

	keys := make([]string, 0, len(metrics))
	for key := range metrics {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := [][]string{{"metric", "value"}}
	for _, key := range keys {
		rows = append(rows, []string{key, formatFloat(metrics[key])})
	}
	return writeCSV(outputPath, rows)
}

func writeCSV(outputPath string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		log.Error().Err(err).Str("Path", outputPath).Msg("could not create output directory")
		return err
	}

	fh, err := os.Create(outputPath)
	if err != nil {
		log.Error().Err(err).Str("Path", outputPath).Msg("could not create csv file")
		return err
	}
	defer fh.Close()

	writer := csv.NewWriter(fh)
	if err := writer.WriteAll(rows); err != nil {
		log.Error().Err(err).Str("Path", outputPath).Msg("could not write csv rows")
		return err
	}
	return nil
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
