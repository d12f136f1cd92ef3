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

// Package portfolio tracks cash and fractional share positions across
// periodic rebalances and computes performance metrics over the resulting
// equity curve.
package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// MinTradeValue is the smallest dollar amount worth trading. Rebalance
// deltas below it are left alone.
const MinTradeValue = 0.01

var ErrNonPositivePrice = errors.New("price must be positive")

// Trade records a single buy (positive shares) or sell (negative shares).
type Trade struct {
	Date   time.Time `json:"date"`
	Ticker string    `json:"ticker"`
	Shares float64   `json:"shares"`
	Price  float64   `json:"price"`
	Value  float64   `json:"value"`
	Cost   float64   `json:"cost"`
}

// RebalanceRecord is an immutable snapshot taken after each rebalance call,
// including calls that produced no trades.
type RebalanceRecord struct {
	Date       time.Time          `json:"date"`
	TotalValue float64            `json:"totalValue"`
	Cash       float64            `json:"cash"`
	Positions  map[string]float64 `json:"positions"`
	Trades     []*Trade           `json:"trades"`
}

// EquityPoint is one row of an equity curve.
type EquityPoint struct {
	Date       time.Time `json:"date"`
	TotalValue float64   `json:"totalValue"`
	Cash       float64   `json:"cash"`
}

// Portfolio tracks cash, fractional share positions and an append-only
// rebalance history. Values are float64 dollars; fractional shares are
// allowed. Not safe for concurrent use.
type Portfolio struct {
	InitialCapital     float64
	Cash               float64
	TransactionCostPct float64
	Positions          map[string]float64
	History            []*RebalanceRecord
}

// New creates a portfolio holding initialCapital in cash.
// transactionCostPct is a percentage: 0.1 means 0.1% of traded value.
func New(initialCapital float64, transactionCostPct float64) *Portfolio {
	return &Portfolio{
		InitialCapital:     initialCapital,
		Cash:               initialCapital,
		TransactionCostPct: transactionCostPct,
		Positions:          make(map[string]float64),
	}
}

// PositionValue returns the dollar value of the ticker's position at price.
func (port *Portfolio) PositionValue(ticker string, price float64) float64 {
	return port.Positions[ticker] * price
}

// TotalValue returns cash plus the value of every position that has a price
// in the snapshot. Positions without a price are silently excluded.
func (port *Portfolio) TotalValue(prices map[string]float64) float64 {
	total := port.Cash
	for ticker, shares := range port.Positions {
		if price, ok := prices[ticker]; ok {
			total += shares * price
		}
	}
	return total
}

// TransactionCost returns the cost of trading the given dollar amount.
func (port *Portfolio) TransactionCost(amount float64) float64 {
	return math.Abs(amount) * (port.TransactionCostPct / 100.0)
}

// Rebalance trades toward targetWeights at the given price snapshot and
// appends one history record. Tickers absent from the snapshot are skipped;
// deltas under MinTradeValue are left alone. Any non-positive price in the
// snapshot rejects the whole call before any trade executes.
func (port *Portfolio) Rebalance(targetWeights map[string]float64, prices map[string]float64, date time.Time) error {
	for _, ticker := range sortedKeys(prices) {
		if prices[ticker] <= 0 {
			return fmt.Errorf("%w: %s = %f on %s", ErrNonPositivePrice, ticker, prices[ticker], date.Format("2006-01-02"))
		}
	}

	totalValue := port.TotalValue(prices)
	trades := []*Trade{}

	for _, ticker := range sortedKeys(targetWeights) {
		price, ok := prices[ticker]
		if !ok {
			continue
		}

		targetValue := totalValue * targetWeights[ticker]
		currentValue := port.Positions[ticker] * price
		tradeValue := targetValue - currentValue
		if math.Abs(tradeValue) < MinTradeValue {
			continue
		}

		cost := port.TransactionCost(tradeValue)
		shares := tradeValue / price

		port.Positions[ticker] += shares
		port.Cash -= tradeValue + cost

		trades = append(trades, &Trade{
			Date:   date,
			Ticker: ticker,
			Shares: shares,
			Price:  price,
			Value:  tradeValue,
			Cost:   cost,
		})
	}

	positions := make(map[string]float64, len(port.Positions))
	for ticker, shares := range port.Positions {
		positions[ticker] = shares
	}

	record := &RebalanceRecord{
		Date:       date,
		TotalValue: port.TotalValue(prices),
		Cash:       port.Cash,
		Positions:  positions,
		Trades:     trades,
	}
	port.History = append(port.History, record)

	log.Debug().Time("Date", date).Float64("TotalValue", record.TotalValue).
		Int("NumTrades", len(trades)).Msg("rebalanced portfolio")
	return nil
}

// EquityCurve returns one point per rebalance record, in history order.
func (port *Portfolio) EquityCurve() []*EquityPoint {
	curve := make([]*EquityPoint, 0, len(port.History))
	for _, record := range port.History {
		curve = append(curve, &EquityPoint{
			Date:       record.Date,
			TotalValue: record.TotalValue,
			Cash:       record.Cash,
		})
	}
	return curve
}

// Trades flattens the per-rebalance trade lists into a single ordered log.
func (port *Portfolio) Trades() []*Trade {
	trades := []*Trade{}
	for _, record := range port.History {
		trades = append(trades, record.Trades...)
	}
	return trades
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
