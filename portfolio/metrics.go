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
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// minDataPoints is the smallest curve a ratio metric is computed for;
// shorter curves yield 0.
const minDataPoints = 2

const tradingDaysPerYear = 252

// TotalReturn is the fractional change from the first to the last point of
// the curve. Empty curves and zero starting values yield 0.
func TotalReturn(curve []*EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	initial := curve[0].TotalValue
	final := curve[len(curve)-1].TotalValue
	if initial == 0 {
		return 0
	}
	return (final - initial) / initial
}

// CAGR is the compound annual growth rate over the curve using 365.25-day
// years.
func CAGR(curve []*EquityPoint) float64 {
	if len(curve) < minDataPoints {
		return 0
	}
	initial := curve[0].TotalValue
	final := curve[len(curve)-1].TotalValue
	if initial == 0 || final == 0 {
		return 0
	}
	years := curve[len(curve)-1].Date.Sub(curve[0].Date).Hours() / 24 / 365.25
	if years == 0 {
		return 0
	}
	return math.Pow(final/initial, 1/years) - 1
}

// SharpeRatio is the annualized ratio of mean daily excess return to the
// sample standard deviation of daily returns. riskFreeRate is an annual
// rate compounded down to a daily rate.
func SharpeRatio(curve []*EquityPoint, riskFreeRate float64) float64 {
	returns := dailyReturns(curve)
	if len(returns) == 0 {
		return 0
	}

	stdReturn := stat.StdDev(returns, nil)
	if stdReturn == 0 || math.IsNaN(stdReturn) {
		return 0
	}

	dailyRF := math.Pow(1+riskFreeRate, 1.0/tradingDaysPerYear) - 1
	excess := stat.Mean(returns, nil) - dailyRF
	return excess / stdReturn * math.Sqrt(tradingDaysPerYear)
}

// MaxDrawdown is the largest fractional drop from a running peak, as a
// positive number.
func MaxDrawdown(curve []*EquityPoint) float64 {
	maxDrawdown := 0.0
	peak := math.Inf(-1)
	for _, point := range curve {
		if point.TotalValue > peak {
			peak = point.TotalValue
		}
		if peak > 0 {
			drawdown := (peak - point.TotalValue) / peak
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}
	return maxDrawdown
}

// Beta is the sample covariance of daily portfolio and benchmark returns
// over the sample variance of benchmark returns, after an inner join of the
// two curves on date.
func Beta(curve []*EquityPoint, benchmark []*EquityPoint) float64 {
	portReturns, benchReturns := alignedReturns(curve, benchmark)
	if len(portReturns) < minDataPoints {
		return 0
	}

	variance := stat.Variance(benchReturns, nil)
	if variance == 0 || math.IsNaN(variance) {
		return 0
	}
	return stat.Covariance(portReturns, benchReturns, nil) / variance
}

// Alpha is the annualized CAPM excess return of the portfolio over the
// benchmark.
func Alpha(curve []*EquityPoint, benchmark []*EquityPoint, riskFreeRate float64) float64 {
	portReturns, benchReturns := alignedReturns(curve, benchmark)
	if len(portReturns) < minDataPoints {
		return 0
	}

	beta := Beta(curve, benchmark)
	dailyRF := math.Pow(1+riskFreeRate, 1.0/tradingDaysPerYear) - 1

	portMean := stat.Mean(portReturns, nil)
	benchMean := stat.Mean(benchReturns, nil)

	dailyAlpha := portMean - (dailyRF + beta*(benchMean-dailyRF))
	return dailyAlpha * tradingDaysPerYear
}

// Summary computes every metric for the curve, adding beta, alpha and the
// benchmark's own return when a benchmark curve is supplied.
func Summary(curve []*EquityPoint, benchmark []*EquityPoint, riskFreeRate float64) map[string]float64 {
	metrics := map[string]float64{
		"total_return": TotalReturn(curve),
		"cagr":         CAGR(curve),
		"sharpe_ratio": SharpeRatio(curve, riskFreeRate),
		"max_drawdown": MaxDrawdown(curve),
	}
	if benchmark != nil {
		metrics["beta"] = Beta(curve, benchmark)
		metrics["alpha"] = Alpha(curve, benchmark, riskFreeRate)
		metrics["benchmark_return"] = TotalReturn(benchmark)
	}
	return metrics
}

// dailyReturns is the day-over-day fractional change of the curve.
func dailyReturns(curve []*EquityPoint) []float64 {
	if len(curve) < minDataPoints {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for idx := 1; idx < len(curve); idx++ {
		prev := curve[idx-1].TotalValue
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[idx].TotalValue-prev)/prev)
	}
	return returns
}

// alignedReturns inner-joins the two curves on date and returns their daily
// return series. Dates present in only one curve are dropped.
func alignedReturns(curve []*EquityPoint, benchmark []*EquityPoint) ([]float64, []float64) {
	benchByDate := make(map[time.Time]float64, len(benchmark))
	for _, point := range benchmark {
		benchByDate[point.Date] = point.TotalValue
	}

	var portAligned, benchAligned []*EquityPoint
	for _, point := range curve {
		if value, ok := benchByDate[point.Date]; ok {
			portAligned = append(portAligned, point)
			benchAligned = append(benchAligned, &EquityPoint{Date: point.Date, TotalValue: value})
		}
	}

	return dailyReturns(portAligned), dailyReturns(benchAligned)
}
