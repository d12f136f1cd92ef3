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

package data_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/foliosim/foliosim/data"
)

var _ = Describe("Price types", func() {
	DescribeTable("converting dollars to cents",
		func(dollars float64, cents int64) {
			Expect(data.ToCents(dollars)).To(Equal(cents))
		},
		Entry("whole dollars", 123.0, int64(12300)),
		Entry("dollars and cents", 123.45, int64(12345)),
		Entry("half a cent rounds away from zero", 0.005, int64(1)),
		Entry("negative half a cent rounds away from zero", -0.005, int64(-1)),
		Entry("sub-half cent rounds down", 10.001, int64(1000)),
		Entry("zero", 0.0, int64(0)),
	)

	It("round-trips values exactly representable in cents", func() {
		for _, cents := range []int64{0, 1, -1, 12345, 99999999} {
			Expect(data.ToCents(data.ToDollars(cents))).To(Equal(cents))
		}
	})

	Describe("day normalization", func() {
		It("truncates to the start of the UTC day", func() {
			ts := time.Date(2023, time.March, 15, 13, 45, 12, 0, time.UTC)
			Expect(data.StartOfDay(ts)).To(Equal(time.Date(2023, time.March, 15, 0, 0, 0, 0, time.UTC)))
		})

		It("extends to the end of the UTC day", func() {
			ts := time.Date(2023, time.March, 15, 13, 45, 12, 0, time.UTC)
			Expect(data.EndOfDay(ts)).To(Equal(time.Date(2023, time.March, 15, 23, 59, 59, 0, time.UTC)))
		})
	})

	Describe("PriceSeries", func() {
		var series *data.PriceSeries

		BeforeEach(func() {
			series = &data.PriceSeries{
				Ticker: "VTI",
				Bars: []*data.PriceBar{
					{Date: time.Date(2023, time.January, 3, 0, 0, 0, 0, time.UTC), Close: 10000},
					{Date: time.Date(2023, time.January, 4, 0, 0, 0, 0, time.UTC), Close: 10100},
					{Date: time.Date(2023, time.January, 6, 0, 0, 0, 0, time.UTC), Close: 10200},
				},
			}
		})

		It("returns the close on an exact date", func() {
			price, ok := series.CloseOnOrBefore(time.Date(2023, time.January, 4, 0, 0, 0, 0, time.UTC))
			Expect(ok).To(BeTrue())
			Expect(price).To(BeNumerically("~", 101.0, 1e-9))
		})

		It("carries the most recent close forward across a gap", func() {
			price, ok := series.CloseOnOrBefore(time.Date(2023, time.January, 5, 0, 0, 0, 0, time.UTC))
			Expect(ok).To(BeTrue())
			Expect(price).To(BeNumerically("~", 101.0, 1e-9))
		})

		It("reports no close before the first bar", func() {
			_, ok := series.CloseOnOrBefore(time.Date(2023, time.January, 2, 0, 0, 0, 0, time.UTC))
			Expect(ok).To(BeFalse())
		})

		It("handles a nil series", func() {
			var nilSeries *data.PriceSeries
			Expect(nilSeries.Len()).To(Equal(0))
			Expect(nilSeries.Empty()).To(BeTrue())
		})
	})

	Describe("Interval", func() {
		It("rejects inverted ranges", func() {
			interval := &data.Interval{
				Begin: time.Date(2023, time.January, 10, 0, 0, 0, 0, time.UTC),
				End:   time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC),
			}
			Expect(interval.Valid()).To(MatchError(data.ErrInvalidTimeRange))
		})

		It("knows containment", func() {
			outer := &data.Interval{
				Begin: time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC),
				End:   time.Date(2023, time.December, 31, 0, 0, 0, 0, time.UTC),
			}
			inner := &data.Interval{
				Begin: time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC),
				End:   time.Date(2023, time.April, 1, 0, 0, 0, 0, time.UTC),
			}
			Expect(outer.Contains(inner)).To(BeTrue())
			Expect(inner.Contains(outer)).To(BeFalse())
		})
	})

	DescribeTable("normalizing tickers",
		func(raw, normalized string) {
			Expect(data.NormalizeTicker(raw)).To(Equal(normalized))
		},
		Entry("lower case", "vti", "VTI"),
		Entry("whitespace", " bnd\t", "BND"),
		Entry("already normalized", "SPY", "SPY"),
	)
})
