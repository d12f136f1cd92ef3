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

package backtest_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/foliosim/foliosim/backtest"
	"github.com/foliosim/foliosim/data"
)

// fakeProvider serves canned series per ticker without touching a database.
type fakeProvider struct {
	series map[string]*data.PriceSeries
	errs   map[string]error
}

func (provider *fakeProvider) GetPrices(_ context.Context, ticker string, _, _ time.Time) (*data.PriceSeries, error) {
	if err, ok := provider.errs[ticker]; ok {
		return nil, err
	}
	if series, ok := provider.series[ticker]; ok {
		return series, nil
	}
	return nil, data.ErrNoDataAvailable
}

func day(year int, month time.Month, dayOfMonth int) time.Time {
	return time.Date(year, month, dayOfMonth, 0, 0, 0, 0, time.UTC)
}

func bar(date time.Time, closeDollars float64) *data.PriceBar {
	cents := data.ToCents(closeDollars)
	return &data.PriceBar{Date: date, Close: cents, AdjClose: cents}
}

func seriesOf(ticker string, bars ...*data.PriceBar) *data.PriceSeries {
	return &data.PriceSeries{Ticker: ticker, Bars: bars}
}

func validConfig() *backtest.Config {
	return &backtest.Config{
		Tickers:        []string{"VTI"},
		Weights:        map[string]float64{"VTI": 1.0},
		StartDate:      day(2023, time.January, 1),
		EndDate:        day(2023, time.March, 1),
		InitialCapital: 10000,
		Frequency:      backtest.Monthly,
	}
}

var _ = Describe("Config validation", func() {
	It("accepts a well-formed config", func() {
		Expect(validConfig().Validate()).To(Succeed())
	})

	It("rejects an empty ticker list", func() {
		cfg := validConfig()
		cfg.Tickers = nil
		Expect(cfg.Validate()).To(MatchError(backtest.ErrNoTickers))
	})

	It("rejects weights that do not sum to 1", func() {
		cfg := validConfig()
		cfg.Weights = map[string]float64{"VTI": 0.6, "BND": 0.3}
		Expect(cfg.Validate()).To(MatchError(backtest.ErrInvalidWeights))
	})

	It("accepts weights within the tolerance", func() {
		cfg := validConfig()
		cfg.Weights = map[string]float64{"VTI": 0.6, "BND": 0.4005}
		Expect(cfg.Validate()).To(Succeed())
	})

	It("rejects non-positive capital", func() {
		cfg := validConfig()
		cfg.InitialCapital = 0
		Expect(cfg.Validate()).To(MatchError(backtest.ErrInvalidCapital))
	})

	It("rejects an inverted date range", func() {
		cfg := validConfig()
		cfg.StartDate, cfg.EndDate = cfg.EndDate, cfg.StartDate
		Expect(cfg.Validate()).To(MatchError(backtest.ErrInvalidDateRange))
	})

	It("rejects an unknown frequency", func() {
		cfg := validConfig()
		cfg.Frequency = "fortnightly"
		Expect(cfg.Validate()).To(MatchError(backtest.ErrUnknownFrequency))
	})
})

var _ = Describe("Run", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("rebalances on every trading date at daily frequency", func() {
		provider := &fakeProvider{series: map[string]*data.PriceSeries{
			"VTI": seriesOf("VTI",
				bar(day(2023, time.January, 3), 100),
				bar(day(2023, time.January, 4), 110),
				bar(day(2023, time.January, 5), 121),
			),
		}}
		cfg := validConfig()
		cfg.Frequency = backtest.Daily

		result, err := backtest.Run(ctx, provider, cfg)
		Expect(err).To(BeNil())
		Expect(result.EquityCurve).To(HaveLen(3))
		Expect(result.EquityCurve[0].TotalValue).To(BeNumerically("~", 10000, 1e-9))
		Expect(result.EquityCurve[2].TotalValue).To(BeNumerically("~", 12100, 1e-9))
	})

	It("rebalances once per ISO week at weekly frequency", func() {
		provider := &fakeProvider{series: map[string]*data.PriceSeries{
			"VTI": seriesOf("VTI",
				bar(day(2023, time.January, 2), 100), // ISO week 1
				bar(day(2023, time.January, 3), 101),
				bar(day(2023, time.January, 5), 102),
				bar(day(2023, time.January, 9), 103), // ISO week 2
				bar(day(2023, time.January, 10), 104),
			),
		}}
		cfg := validConfig()
		cfg.Frequency = backtest.Weekly

		result, err := backtest.Run(ctx, provider, cfg)
		Expect(err).To(BeNil())
		Expect(result.EquityCurve).To(HaveLen(2))
		Expect(result.EquityCurve[0].Date).To(Equal(day(2023, time.January, 2)))
		Expect(result.EquityCurve[1].Date).To(Equal(day(2023, time.January, 9)))
	})

	It("treats the same ISO week in different years as distinct", func() {
		provider := &fakeProvider{series: map[string]*data.PriceSeries{
			"VTI": seriesOf("VTI",
				bar(day(2022, time.December, 26), 100), // ISO week 52 of 2022
				bar(day(2023, time.January, 2), 101),   // ISO week 1 of 2023
			),
		}}
		cfg := validConfig()
		cfg.StartDate = day(2022, time.December, 1)
		cfg.Frequency = backtest.Weekly

		result, err := backtest.Run(ctx, provider, cfg)
		Expect(err).To(BeNil())
		Expect(result.EquityCurve).To(HaveLen(2))
	})

	It("rebalances on the first trading date of each month at monthly frequency", func() {
		provider := &fakeProvider{series: map[string]*data.PriceSeries{
			"VTI": seriesOf("VTI",
				bar(day(2023, time.January, 3), 100),
				bar(day(2023, time.January, 17), 105),
				bar(day(2023, time.February, 1), 110),
				bar(day(2023, time.February, 15), 115),
			),
		}}
		cfg := validConfig()

		result, err := backtest.Run(ctx, provider, cfg)
		Expect(err).To(BeNil())
		Expect(result.EquityCurve).To(HaveLen(2))
		Expect(result.EquityCurve[0].Date).To(Equal(day(2023, time.January, 3)))
		Expect(result.EquityCurve[1].Date).To(Equal(day(2023, time.February, 1)))
	})

	It("carries the last known price forward across per-ticker gaps", func() {
		provider := &fakeProvider{series: map[string]*data.PriceSeries{
			"VTI": seriesOf("VTI",
				bar(day(2023, time.January, 3), 100),
				bar(day(2023, time.January, 4), 110),
				bar(day(2023, time.January, 5), 120),
			),
			"BND": seriesOf("BND",
				bar(day(2023, time.January, 3), 100),
				// no bar on Jan 4
				bar(day(2023, time.January, 5), 100),
			),
		}}
		cfg := validConfig()
		cfg.Tickers = []string{"VTI", "BND"}
		cfg.Weights = map[string]float64{"VTI": 0.5, "BND": 0.5}
		cfg.Frequency = backtest.Daily

		result, err := backtest.Run(ctx, provider, cfg)
		Expect(err).To(BeNil())
		Expect(result.EquityCurve).To(HaveLen(3))

		// Jan 4: 50 VTI shares at $110 plus 50 BND shares at the carried $100
		Expect(result.EquityCurve[1].TotalValue).To(BeNumerically("~", 50*110+50*100, 1e-9))
	})

	It("drops a failing ticker and continues with the rest", func() {
		provider := &fakeProvider{
			series: map[string]*data.PriceSeries{
				"VTI": seriesOf("VTI",
					bar(day(2023, time.January, 3), 100),
					bar(day(2023, time.February, 1), 110),
				),
			},
			errs: map[string]error{"DEAD": data.ErrNoDataAvailable},
		}
		cfg := validConfig()
		cfg.Tickers = []string{"VTI", "DEAD"}
		cfg.Weights = map[string]float64{"VTI": 0.5, "DEAD": 0.5}

		result, err := backtest.Run(ctx, provider, cfg)
		Expect(err).To(BeNil())
		Expect(result.Portfolio.Positions).To(HaveKey("VTI"))
		Expect(result.Portfolio.Positions).ToNot(HaveKey("DEAD"))
	})

	It("fails when every ticker fails", func() {
		provider := &fakeProvider{errs: map[string]error{
			"VTI": errors.New("remote unavailable"),
		}}
		cfg := validConfig()

		_, err := backtest.Run(ctx, provider, cfg)
		Expect(err).To(MatchError(data.ErrNoDataAvailable))
	})

	It("rejects an invalid config before loading any data", func() {
		provider := &fakeProvider{}
		cfg := validConfig()
		cfg.Weights = map[string]float64{"VTI": 2.0}

		_, err := backtest.Run(ctx, provider, cfg)
		Expect(err).To(MatchError(backtest.ErrInvalidWeights))
	})

	Describe("benchmark", func() {
		It("tracks a buy-and-hold position opened at the first close", func() {
			provider := &fakeProvider{series: map[string]*data.PriceSeries{
				"VTI": seriesOf("VTI",
					bar(day(2023, time.January, 3), 100),
					bar(day(2023, time.February, 1), 110),
				),
				"SPY": seriesOf("SPY",
					bar(day(2023, time.January, 3), 400),
					bar(day(2023, time.February, 1), 440),
				),
			}}
			cfg := validConfig()
			cfg.BenchmarkTicker = "SPY"

			result, err := backtest.Run(ctx, provider, cfg)
			Expect(err).To(BeNil())
			Expect(result.Benchmark).To(HaveLen(2))

			// 10000 / 400 = 25 shares
			Expect(result.Benchmark[0].TotalValue).To(BeNumerically("~", 10000, 1e-9))
			Expect(result.Benchmark[1].TotalValue).To(BeNumerically("~", 11000, 1e-9))
		})

		It("downgrades to no benchmark when benchmark data is unavailable", func() {
			provider := &fakeProvider{series: map[string]*data.PriceSeries{
				"VTI": seriesOf("VTI",
					bar(day(2023, time.January, 3), 100),
					bar(day(2023, time.February, 1), 110),
				),
			}}
			cfg := validConfig()
			cfg.BenchmarkTicker = "SPY"

			result, err := backtest.Run(ctx, provider, cfg)
			Expect(err).To(BeNil())
			Expect(result.Benchmark).To(BeNil())
		})
	})
})
