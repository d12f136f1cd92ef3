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

package portfolio_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/foliosim/foliosim/portfolio"
)

var _ = Describe("Reporting", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "foliosim-report-*")
		Expect(err).To(BeNil())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("creates the report directory layout", func() {
		reportPath, err := portfolio.CreateReportDirectory(tmpDir, "2020-crash")
		Expect(err).To(BeNil())

		Expect(filepath.Join(reportPath, "charts")).To(BeADirectory())
		Expect(filepath.Join(reportPath, "data")).To(BeADirectory())
	})

	It("exports an equity curve with header and one row per point", func() {
		curve := []*portfolio.EquityPoint{
			{Date: day(2023, time.January, 3), TotalValue: 10000, Cash: 0},
			{Date: day(2023, time.January, 4), TotalValue: 10100, Cash: 0},
		}
		outputPath := filepath.Join(tmpDir, "equity_curve.csv")
		Expect(portfolio.ExportEquityCurve(curve, outputPath)).To(Succeed())

		contents, err := os.ReadFile(outputPath)
		Expect(err).To(BeNil())
		Expect(string(contents)).To(HavePrefix("date,total_value,cash\n"))
		Expect(string(contents)).To(ContainSubstring("2023-01-03,10000,0\n"))
	})

	It("refuses to export an empty curve", func() {
		err := portfolio.ExportEquityCurve(nil, filepath.Join(tmpDir, "empty.csv"))
		Expect(err).To(MatchError(portfolio.ErrEmptyCurve))
	})

	It("exports the flattened trade log", func() {
		port := portfolio.New(10000, 0)
		Expect(port.Rebalance(map[string]float64{"VTI": 1.0}, map[string]float64{"VTI": 100}, day(2023, time.January, 3))).To(Succeed())

		outputPath := filepath.Join(tmpDir, "trades.csv")
		Expect(portfolio.ExportTradeLog(port, outputPath)).To(Succeed())

		contents, err := os.ReadFile(outputPath)
		Expect(err).To(BeNil())
		Expect(string(contents)).To(HavePrefix("date,ticker,shares,price,value,transaction_cost\n"))
		Expect(string(contents)).To(ContainSubstring("2023-01-03,VTI,100,100,10000,0\n"))
	})

	It("refuses to export a portfolio with no trades", func() {
		port := portfolio.New(10000, 0)
		err := portfolio.ExportTradeLog(port, filepath.Join(tmpDir, "trades.csv"))
		Expect(err).To(MatchError(portfolio.ErrNoTrades))
	})

	It("exports summary stats in sorted metric order", func() {
		metrics := map[string]float64{"total_return": 0.5, "cagr": 0.1}
		outputPath := filepath.Join(tmpDir, "summary.csv")
		Expect(portfolio.ExportSummaryStats(metrics, outputPath)).To(Succeed())

		contents, err := os.ReadFile(outputPath)
		Expect(err).To(BeNil())
		Expect(string(contents)).To(Equal("metric,value\ncagr,0.1\ntotal_return,0.5\n"))
	})
})
