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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/foliosim/foliosim/portfolio"
)

func day(year int, month time.Month, dayOfMonth int) time.Time {
	return time.Date(year, month, dayOfMonth, 0, 0, 0, 0, time.UTC)
}

var _ = Describe("Portfolio", func() {
	var port *portfolio.Portfolio

	BeforeEach(func() {
		port = portfolio.New(10000, 0)
	})

	Describe("TotalValue", func() {
		It("starts as all cash", func() {
			Expect(port.TotalValue(map[string]float64{})).To(BeNumerically("~", 10000, 1e-9))
		})

		It("excludes positions without a price", func() {
			port.Positions["VTI"] = 10
			port.Positions["BND"] = 20
			value := port.TotalValue(map[string]float64{"VTI": 100})
			Expect(value).To(BeNumerically("~", 10000+10*100, 1e-9))
		})
	})

	Describe("Rebalance", func() {
		It("allocates a 60/40 VTI/BND portfolio", func() {
			prices := map[string]float64{"VTI": 100, "BND": 50}
			weights := map[string]float64{"VTI": 0.6, "BND": 0.4}

			Expect(port.Rebalance(weights, prices, day(2023, time.January, 3))).To(Succeed())

			Expect(port.Positions["VTI"]).To(BeNumerically("~", 60, 1e-9))
			Expect(port.Positions["BND"]).To(BeNumerically("~", 80, 1e-9))
			Expect(port.Cash).To(BeNumerically("~", 0, 1e-9))
			Expect(port.TotalValue(prices)).To(BeNumerically("~", 10000, 1e-9))
		})

		It("rejects a non-positive price before trading", func() {
			prices := map[string]float64{"VTI": 100, "BND": 0}
			weights := map[string]float64{"VTI": 0.6, "BND": 0.4}

			err := port.Rebalance(weights, prices, day(2023, time.January, 3))
			Expect(err).To(MatchError(portfolio.ErrNonPositivePrice))
			Expect(port.Positions).To(BeEmpty())
			Expect(port.Cash).To(BeNumerically("~", 10000, 1e-9))
			Expect(port.History).To(BeEmpty())
		})

		It("skips tickers without a price", func() {
			prices := map[string]float64{"VTI": 100}
			weights := map[string]float64{"VTI": 0.6, "BND": 0.4}

			Expect(port.Rebalance(weights, prices, day(2023, time.January, 3))).To(Succeed())
			Expect(port.Positions).ToNot(HaveKey("BND"))
			Expect(port.Positions["VTI"]).To(BeNumerically("~", 60, 1e-9))
		})

		It("records a history entry even when no trades occur", func() {
			prices := map[string]float64{"VTI": 100}
			weights := map[string]float64{"VTI": 1.0}

			Expect(port.Rebalance(weights, prices, day(2023, time.January, 3))).To(Succeed())
			Expect(port.Rebalance(weights, prices, day(2023, time.January, 4))).To(Succeed())

			Expect(port.History).To(HaveLen(2))
			Expect(port.History[0].Trades).To(HaveLen(1))
			Expect(port.History[1].Trades).To(BeEmpty())
		})

		It("conserves value when trading without transaction costs", func() {
			weights := map[string]float64{"VTI": 0.6, "BND": 0.4}

			Expect(port.Rebalance(weights, map[string]float64{"VTI": 100, "BND": 50}, day(2023, time.January, 3))).To(Succeed())

			// prices drift; rebalance back to target
			drifted := map[string]float64{"VTI": 120, "BND": 45}
			before := port.TotalValue(drifted)
			Expect(port.Rebalance(weights, drifted, day(2023, time.February, 1))).To(Succeed())
			Expect(port.TotalValue(drifted)).To(BeNumerically("~", before, 1e-9))

			// weights match the target after the rebalance
			vtiValue := port.Positions["VTI"] * drifted["VTI"]
			Expect(vtiValue / port.TotalValue(drifted)).To(BeNumerically("~", 0.6, 1e-9))
		})

		It("deducts transaction costs from cash", func() {
			costly := portfolio.New(10000, 0.1) // 0.1% of traded value
			prices := map[string]float64{"VTI": 100}
			weights := map[string]float64{"VTI": 1.0}

			Expect(costly.Rebalance(weights, prices, day(2023, time.January, 3))).To(Succeed())

			// bought $10,000 of VTI and paid $10 in costs
			Expect(costly.Positions["VTI"]).To(BeNumerically("~", 100, 1e-9))
			Expect(costly.Cash).To(BeNumerically("~", -10, 1e-9))

			trades := costly.Trades()
			Expect(trades).To(HaveLen(1))
			Expect(trades[0].Cost).To(BeNumerically("~", 10, 1e-9))
		})

		It("snapshots positions immutably in the history", func() {
			prices := map[string]float64{"VTI": 100}
			weights := map[string]float64{"VTI": 1.0}

			Expect(port.Rebalance(weights, prices, day(2023, time.January, 3))).To(Succeed())
			snapshot := port.History[0].Positions["VTI"]

			Expect(port.Rebalance(weights, map[string]float64{"VTI": 200}, day(2023, time.February, 1))).To(Succeed())
			Expect(port.History[0].Positions["VTI"]).To(Equal(snapshot))
		})
	})

	Describe("EquityCurve", func() {
		It("is empty without history", func() {
			Expect(port.EquityCurve()).To(BeEmpty())
		})

		It("tracks total value across rebalances in order", func() {
			weights := map[string]float64{"VTI": 1.0}
			Expect(port.Rebalance(weights, map[string]float64{"VTI": 100}, day(2023, time.January, 3))).To(Succeed())
			Expect(port.Rebalance(weights, map[string]float64{"VTI": 110}, day(2023, time.February, 1))).To(Succeed())

			curve := port.EquityCurve()
			Expect(curve).To(HaveLen(2))
			Expect(curve[0].TotalValue).To(BeNumerically("~", 10000, 1e-9))
			Expect(curve[1].TotalValue).To(BeNumerically("~", 11000, 1e-9))
			Expect(curve[0].Date.Before(curve[1].Date)).To(BeTrue())
		})
	})
})
