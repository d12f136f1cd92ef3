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
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Fetcher retrieves OHLCV rows from a remote price source. Implementations
// return rows ordered by date and ErrNoData when the source confirms the
// range holds nothing.
type Fetcher interface {
	Fetch(ctx context.Context, ticker string, begin, end time.Time) ([]*PriceBar, error)
}

var yahooAPI = "https://query1.finance.yahoo.com"

// YahooFetcher loads daily bars from the Yahoo Finance v8 chart API.
type YahooFetcher struct {
	Client *http.Client
}

// NewYahooFetcher creates a Yahoo Finance fetcher with a 30 second request
// timeout.
func NewYahooFetcher() *YahooFetcher {
	return &YahooFetcher{
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol    string `json:"symbol"`
				ShortName string `json:"shortName"`
				LongName  string `json:"longName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Fetch retrieves daily bars for ticker over [begin, end]. Bars are
// normalized to UTC day resolution and cents-encoded. ErrNoData is returned
// when Yahoo confirms there is nothing in the range.
func (fetcher *YahooFetcher) Fetch(ctx context.Context, ticker string, begin, end time.Time) ([]*PriceBar, error) {
	ticker = NormalizeTicker(ticker)
	subLog := log.With().Str("Ticker", ticker).Time("Begin", begin).Time("End", end).Logger()

	requestURL := fmt.Sprintf("%s/v8/finance/chart/%s?period1=%d&period2=%d&interval=1d&events=history",
		yahooAPI, url.PathEscape(ticker), StartOfDay(begin).Unix(), EndOfDay(end).Unix())

	chart, err := fetcher.getChart(ctx, requestURL)
	if err != nil {
		subLog.Error().Err(err).Msg("yahoo chart request failed")
		return nil, err
	}

	result := chart.Chart.Result[0]
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return nil, ErrNoData
	}
	quote := result.Indicators.Quote[0]

	var adjClose []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adjClose = result.Indicators.AdjClose[0].AdjClose
	}

	// one bar per day; Yahoo may tack the live quote for today onto the end
	// with an intraday timestamp, so the last write for a day wins
	byDay := make(map[time.Time]*PriceBar, len(result.Timestamp))
	for idx, ts := range result.Timestamp {
		if idx >= len(quote.Close) || quote.Close[idx] == nil {
			continue
		}
		bar := &PriceBar{
			Date:  StartOfDay(time.Unix(ts, 0)),
			Close: ToCents(*quote.Close[idx]),
		}
		if idx < len(quote.Open) && quote.Open[idx] != nil {
			bar.Open = ToCents(*quote.Open[idx])
		}
		if idx < len(quote.High) && quote.High[idx] != nil {
			bar.High = ToCents(*quote.High[idx])
		}
		if idx < len(quote.Low) && quote.Low[idx] != nil {
			bar.Low = ToCents(*quote.Low[idx])
		}
		if idx < len(quote.Volume) && quote.Volume[idx] != nil {
			bar.Volume = *quote.Volume[idx]
		}
		if idx < len(adjClose) && adjClose[idx] != nil {
			bar.AdjClose = ToCents(*adjClose[idx])
		} else {
			bar.AdjClose = bar.Close
		}
		byDay[bar.Date] = bar
	}

	if len(byDay) == 0 {
		return nil, ErrNoData
	}

	bars := make([]*PriceBar, 0, len(byDay))
	for _, bar := range byDay {
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Date.Before(bars[j].Date)
	})
	return bars, nil
}

// FetchCompanyName returns the long (or short) company name from the chart
// metadata, falling back to the ticker symbol when neither is available.
func (fetcher *YahooFetcher) FetchCompanyName(ctx context.Context, ticker string) (string, error) {
	ticker = NormalizeTicker(ticker)
	requestURL := fmt.Sprintf("%s/v8/finance/chart/%s?range=1d&interval=1d", yahooAPI, url.PathEscape(ticker))

	chart, err := fetcher.getChart(ctx, requestURL)
	if err != nil {
		log.Warn().Err(err).Str("Ticker", ticker).Msg("could not fetch company name")
		return "", err
	}

	meta := chart.Chart.Result[0].Meta
	switch {
	case meta.LongName != "":
		return meta.LongName, nil
	case meta.ShortName != "":
		return meta.ShortName, nil
	}
	return ticker, nil
}

func (fetcher *YahooFetcher) getChart(ctx context.Context, requestURL string) (*yahooChartResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := fetcher.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoData
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http request returned invalid status code: %d", resp.StatusCode)
	}

	chart := &yahooChartResponse{}
	if err := json.Unmarshal(body, chart); err != nil {
		return nil, err
	}

	if chart.Chart.Error != nil {
		if chart.Chart.Error.Code == "Not Found" {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, ErrNoData
	}
	return chart, nil
}
