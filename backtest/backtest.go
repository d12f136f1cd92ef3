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

// Package backtest simulates a periodically rebalanced portfolio over
// historical daily prices.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/foliosim/foliosim/data"
	"github.com/foliosim/foliosim/portfolio"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// WeightTolerance is how far from 1.0 the weight sum may stray before the
// config is rejected.
const WeightTolerance = 0.001

// DefaultFetchParallelism bounds concurrent price loads across distinct
// tickers. The cache writer path is not reentrant for a single ticker, so
// parallelism never spans the same ticker twice.
const DefaultFetchParallelism = 4

// Frequency selects which trading dates trigger a rebalance.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

var (
	ErrNoTickers        = errors.New("at least one ticker is required")
	ErrInvalidWeights   = errors.New("weights must sum to 1.0")
	ErrInvalidCapital   = errors.New("initial capital must be positive")
	ErrInvalidDateRange = errors.New("start date must be before end date")
	ErrUnknownFrequency = errors.New("unknown rebalance frequency")
)

// PriceProvider is the data dependency of a backtest run. *data.Provider
// implements it.
type PriceProvider interface {
	GetPrices(ctx context.Context, ticker string, start, end time.Time) (*data.PriceSeries, error)
}

// Config describes one backtest run. It is validated before the run starts
// and not modified afterwards.
type Config struct {
	Tickers            []string
	Weights            map[string]float64
	StartDate          time.Time
	EndDate            time.Time
	InitialCapital     float64
	Frequency          Frequency
	TransactionCostPct float64
	BenchmarkTicker    string
	FetchParallelism   int
}

// Validate checks the config for structural errors. It does not touch the
// network or database.
func (cfg *Config) Validate() error {
	if len(cfg.Tickers) == 0 {
		return ErrNoTickers
	}

	var sum float64
	for _, weight := range cfg.Weights {
		sum += weight
	}
	if math.Abs(sum-1.0) > WeightTolerance {
		return fmt.Errorf("%w, got %f", ErrInvalidWeights, sum)
	}

	if cfg.InitialCapital <= 0 {
		return ErrInvalidCapital
	}
	if !cfg.StartDate.Before(cfg.EndDate) {
		return ErrInvalidDateRange
	}

	switch cfg.Frequency {
	case Daily, Weekly, Monthly:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFrequency, cfg.Frequency)
	}
	return nil
}

// Result is the output of one backtest run. Benchmark is nil when no
// benchmark ticker was configured or its data was unavailable.
type Result struct {
	Portfolio   *portfolio.Portfolio
	EquityCurve []*portfolio.EquityPoint
	Benchmark   []*portfolio.EquityPoint
}

// Run executes the backtest: load each ticker's series, walk the union of
// trading dates in order, carry prices forward across per-ticker gaps, and
// rebalance on the dates the configured frequency selects. Tickers whose
// series cannot be loaded are dropped; the run fails only when every ticker
// fails.
func Run(ctx context.Context, provider PriceProvider, cfg *Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	series, err := loadSeries(ctx, provider, cfg)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, data.ErrNoDataAvailable
	}

	allDates := unionDates(series)
	rebalanceDates := selectRebalanceDates(allDates, cfg.Frequency)

	port := portfolio.New(cfg.InitialCapital, cfg.TransactionCostPct)
	cursors := make(map[string]int, len(series))

	for _, date := range allDates {
		prices := make(map[string]float64, len(series))
		for ticker, priceSeries := range series {
			idx := cursors[ticker]
			for idx < priceSeries.Len() && !priceSeries.Bars[idx].Date.After(date) {
				idx++
			}
			cursors[ticker] = idx
			if idx > 0 {
				prices[ticker] = priceSeries.Bars[idx-1].CloseDollars()
			}
		}
		if len(prices) == 0 {
			continue
		}

		if _, ok := rebalanceDates[date]; ok {
			if err := port.Rebalance(cfg.Weights, prices, date); err != nil {
				return nil, err
			}
		}
	}

	result := &Result{
		Portfolio:   port,
		EquityCurve: port.EquityCurve(),
	}

	if cfg.BenchmarkTicker != "" {
		benchmark, err := loadBenchmark(ctx, provider, cfg)
		if err != nil {
			return nil, err
		}
		result.Benchmark = benchmark
	}
	return result, nil
}

// loadSeries fetches every ticker's bars through the provider, in parallel
// across distinct tickers. A ticker that fails is logged and dropped.
func loadSeries(ctx context.Context, provider PriceProvider, cfg *Config) (map[string]*data.PriceSeries, error) {
	parallelism := cfg.FetchParallelism
	if parallelism <= 0 {
		parallelism = DefaultFetchParallelism
	}

	var mu sync.Mutex
	series := make(map[string]*data.PriceSeries, len(cfg.Tickers))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(parallelism)
	for _, ticker := range cfg.Tickers {
		ticker := ticker
		group.Go(func() error {
			priceSeries, err := provider.GetPrices(groupCtx, ticker, cfg.StartDate, cfg.EndDate)
			if err != nil {
				log.Warn().Err(err).Str("Ticker", ticker).Msg("dropping ticker: could not load prices")
				return nil
			}
			mu.Lock()
			series[ticker] = priceSeries
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return series, nil
}

// unionDates merges every series' trading dates into one ascending slice.
func unionDates(series map[string]*data.PriceSeries) []time.Time {
	seen := make(map[time.Time]struct{})
	for _, priceSeries := range series {
		for _, bar := range priceSeries.Bars {
			seen[bar.Date] = struct{}{}
		}
	}

	dates := make([]time.Time, 0, len(seen))
	for date := range seen {
		dates = append(dates, date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// selectRebalanceDates picks the dates to trade on: every date for daily,
// the first trading date of each ISO week for weekly, and the first trading
// date of each calendar month for monthly. allDates must be ascending and
// the frequency already validated.
func selectRebalanceDates(allDates []time.Time, frequency Frequency) map[time.Time]struct{} {
	selected := make(map[time.Time]struct{})
	switch frequency {
	case Daily:
		for _, date := range allDates {
			selected[date] = struct{}{}
		}
	case Weekly:
		type isoWeek struct {
			year int
			week int
		}
		var current *isoWeek
		for _, date := range allDates {
			year, week := date.ISOWeek()
			if current == nil || current.year != year || current.week != week {
				selected[date] = struct{}{}
				current = &isoWeek{year: year, week: week}
			}
		}
	case Monthly:
		type yearMonth struct {
			year  int
			month time.Month
		}
		var current *yearMonth
		for _, date := range allDates {
			if current == nil || current.year != date.Year() || current.month != date.Month() {
				selected[date] = struct{}{}
				current = &yearMonth{year: date.Year(), month: date.Month()}
			}
		}
	}
	return selected
}

// loadBenchmark turns the benchmark ticker's series into an equity curve of
// a buy-and-hold position opened with the full initial capital at the first
// close. Missing benchmark data downgrades to no benchmark.
func loadBenchmark(ctx context.Context, provider PriceProvider, cfg *Config) ([]*portfolio.EquityPoint, error) {
	priceSeries, err := provider.GetPrices(ctx, cfg.BenchmarkTicker, cfg.StartDate, cfg.EndDate)
	if errors.Is(err, data.ErrNoDataAvailable) {
		log.Warn().Str("Ticker", cfg.BenchmarkTicker).Msg("no benchmark data available; skipping benchmark")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	first := priceSeries.First()
	if first == nil || first.Close <= 0 {
		return nil, nil
	}

	shares := cfg.InitialCapital / first.CloseDollars()
	curve := make([]*portfolio.EquityPoint, 0, priceSeries.Len())
	for _, bar := range priceSeries.Bars {
		curve = append(curve, &portfolio.EquityPoint{
			Date:       bar.Date,
			TotalValue: shares * bar.CloseDollars(),
		})
	}
	return curve, nil
}
