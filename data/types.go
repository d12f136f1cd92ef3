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

package data

import (
	"math"
	"sort"
	"time"
)

// PriceBar is one OHLCV record for a security on a trading day. Monetary
// fields are stored as integer cents; Date is a UTC instant at day
// resolution.
type PriceBar struct {
	Date     time.Time
	Open     int64
	High     int64
	Low      int64
	Close    int64
	AdjClose int64
	Volume   int64
}

// ToCents converts a dollar value to integer cents, rounding half away from
// zero. The round-trip through ToDollars is lossless for any value exactly
// representable in cents.
func ToCents(dollars float64) int64 {
	return int64(math.Round(dollars * 100))
}

// ToDollars converts integer cents to a dollar value.
func ToDollars(cents int64) float64 {
	return float64(cents) / 100.0
}

// CloseDollars returns the close price in dollars.
func (bar *PriceBar) CloseDollars() float64 {
	return ToDollars(bar.Close)
}

// PriceSeries is an ordered-by-date collection of bars for a single ticker.
type PriceSeries struct {
	Ticker string
	Bars   []*PriceBar
}

func (series *PriceSeries) Len() int {
	if series == nil {
		return 0
	}
	return len(series.Bars)
}

func (series *PriceSeries) Empty() bool {
	return series.Len() == 0
}

// First returns the earliest bar in the series, or nil when empty.
func (series *PriceSeries) First() *PriceBar {
	if series.Empty() {
		return nil
	}
	return series.Bars[0]
}

// Dates returns the trading dates covered by the series in ascending order.
func (series *PriceSeries) Dates() []time.Time {
	dates := make([]time.Time, 0, series.Len())
	for _, bar := range series.Bars {
		dates = append(dates, bar.Date)
	}
	return dates
}

// CloseOnOrBefore returns the close (in dollars) of the bar on the given
// date, or of the most recent bar prior to it. The second return value is
// false when no bar exists on or before the date.
func (series *PriceSeries) CloseOnOrBefore(date time.Time) (float64, bool) {
	if series.Empty() {
		return 0, false
	}
	idx := sort.Search(len(series.Bars), func(i int) bool {
		return series.Bars[i].Date.After(date)
	})
	if idx == 0 {
		return 0, false
	}
	return series.Bars[idx-1].CloseDollars(), true
}
