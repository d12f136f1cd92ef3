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
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Provider serves price series cache-first: cached bars are returned as-is,
// uncovered boundary ranges are fetched from the remote source, stored, and
// the merged result is served from the cache. Ranges the remote source has
// confirmed empty are remembered so they are not asked for again.
type Provider struct {
	cache   *Cache
	fetcher Fetcher
	retry   RetryPolicy
}

// NewProvider creates a cache-first provider around cache and fetcher using
// the default retry policy.
func NewProvider(cache *Cache, fetcher Fetcher) *Provider {
	return &Provider{
		cache:   cache,
		fetcher: fetcher,
		retry:   DefaultRetryPolicy(),
	}
}

// WithRetryPolicy overrides the retry policy used for remote fetches.
func (provider *Provider) WithRetryPolicy(policy RetryPolicy) *Provider {
	provider.retry = policy
	return provider
}

// Cache exposes the underlying price cache.
func (provider *Provider) Cache() *Cache {
	return provider.cache
}

// GetPrices returns daily bars for ticker over [start, end], fetching from
// the remote source only what the cache does not already hold. It returns
// ErrNoDataAvailable when the range is confirmed to hold nothing, and fails
// hard on transport errors so a flaky source cannot silently produce a
// partial series.
func (provider *Provider) GetPrices(ctx context.Context, ticker string, start, end time.Time) (*PriceSeries, error) {
	ticker = NormalizeTicker(ticker)
	if ticker == "" {
		return nil, ErrEmptyTicker
	}
	if StartOfDay(start).After(StartOfDay(end)) {
		return nil, ErrInvalidTimeRange
	}

	subLog := log.With().Str("Ticker", ticker).Time("Start", start).Time("End", end).Logger()

	cached, err := provider.cache.LoadBars(ctx, ticker, start, end)
	switch {
	case errors.Is(err, ErrNoDataAvailable):
		return provider.fetchAll(ctx, ticker, start, end)
	case err != nil:
		return nil, err
	}

	missing, err := provider.cache.FindMissingRanges(ctx, ticker, start, end)
	if err != nil {
		return nil, err
	}
	if len(missing) == 0 {
		subLog.Debug().Int("NumBars", cached.Len()).Msg("serving prices from cache")
		return cached, nil
	}

	stored := false
	for _, interval := range missing {
		known, err := provider.cache.CheckNoDataCached(ctx, ticker, interval.Begin, interval.End)
		if err != nil {
			return nil, err
		}
		if known {
			subLog.Debug().Object("Interval", interval).Msg("skipping range previously confirmed empty")
			continue
		}

		bars, err := provider.fetchRange(ctx, ticker, interval.Begin, interval.End)
		if errors.Is(err, ErrNoData) {
			if err := provider.cache.CacheNoDataRange(ctx, ticker, interval.Begin, interval.End); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		if err := provider.cache.StoreBars(ctx, ticker, bars); err != nil {
			return nil, err
		}
		stored = true
	}

	if stored {
		if err := provider.cache.UpdateCacheMetadata(ctx, ticker); err != nil {
			return nil, err
		}
		return provider.cache.LoadBars(ctx, ticker, start, end)
	}
	return cached, nil
}

// fetchAll handles the cold path: nothing cached in the range. Freshly
// fetched bars are stored and returned directly without a reload.
func (provider *Provider) fetchAll(ctx context.Context, ticker string, start, end time.Time) (*PriceSeries, error) {
	known, err := provider.cache.CheckNoDataCached(ctx, ticker, start, end)
	if err != nil {
		return nil, err
	}
	if known {
		return nil, ErrNoDataAvailable
	}

	bars, err := provider.fetchRange(ctx, ticker, start, end)
	if errors.Is(err, ErrNoData) {
		if err := provider.cache.CacheNoDataRange(ctx, ticker, start, end); err != nil {
			return nil, err
		}
		return nil, ErrNoDataAvailable
	}
	if err != nil {
		return nil, err
	}

	if err := provider.cache.StoreBars(ctx, ticker, bars); err != nil {
		return nil, err
	}
	if err := provider.cache.UpdateCacheMetadata(ctx, ticker); err != nil {
		return nil, err
	}
	return &PriceSeries{Ticker: ticker, Bars: bars}, nil
}

// fetchRange calls the remote source under the retry policy. ErrNoData is a
// definitive answer, not a transient failure, so it is not retried.
func (provider *Provider) fetchRange(ctx context.Context, ticker string, start, end time.Time) ([]*PriceBar, error) {
	var bars []*PriceBar
	err := provider.retry.Do(ctx, func() error {
		fetched, err := provider.fetcher.Fetch(ctx, ticker, start, end)
		if errors.Is(err, ErrNoData) {
			return backoff.Permanent(err)
		}
		if err != nil {
			log.Warn().Err(err).Str("Ticker", ticker).Msg("remote fetch failed; will retry")
			return err
		}
		bars = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bars, nil
}
