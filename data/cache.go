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
	"fmt"
	"time"

	"github.com/foliosim/foliosim/database"
	lru "github.com/hashicorp/golang-lru"
	"github.com/jackc/pgconn"
	"github.com/rs/zerolog/log"
)

// GapToleranceDays is how many calendar days of uncovered span at a cache
// boundary are ignored by FindMissingRanges. Gaps this small are weekends
// and holiday runs, not missing data.
const GapToleranceDays = 3

const pgUniqueViolation = "23505"

const securityLRUSize = 512

// Cache is the durable price store. All operations run inside a pgx
// transaction on the injected pool handle; the writer path for a single
// ticker is not safely reentrant (concurrent first-fetch of the same ticker
// may surface ErrDuplicateBar).
type Cache struct {
	pool       database.PgxIface
	securities *lru.Cache
}

// NewCache creates a price cache on top of the given connection pool.
func NewCache(pool database.PgxIface) *Cache {
	securities, err := lru.New(securityLRUSize)
	if err != nil {
		log.Panic().Err(err).Msg("could not create security lru")
	}
	return &Cache{
		pool:       pool,
		securities: securities,
	}
}

// StoreBars appends bars for ticker, creating the security when unknown.
// It does not deduplicate: inserting a bar for an already-cached
// (security, timestamp) is a constraint violation surfaced as
// ErrDuplicateBar. Callers must not re-fetch ranges already in the cache.
func (cache *Cache) StoreBars(ctx context.Context, ticker string, bars []*PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	ticker = NormalizeTicker(ticker)
	subLog := log.With().Str("Ticker", ticker).Int("NumBars", len(bars)).Logger()

	trx, err := cache.pool.Begin(ctx)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not get transaction for storing bars")
		return err
	}

	security, err := cache.getOrCreateSecurity(ctx, trx, ticker, "")
	if err != nil {
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	for _, bar := range bars {
		_, err := trx.Exec(ctx,
			"INSERT INTO prices (security_id, timestamp, open, high, low, close, volume, adjusted_close) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
			security.ID, bar.Date.Unix(), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.AdjClose)
		if err != nil {
			if err := trx.Rollback(ctx); err != nil {
				subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return fmt.Errorf("%w: %s %s", ErrDuplicateBar, ticker, bar.Date.Format("2006-01-02"))
			}
			subLog.Error().Stack().Err(err).Time("BarDate", bar.Date).Msg("could not insert price bar")
			return err
		}
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not commit transaction")
	}
	return nil
}

// LoadBars returns the cached bars for ticker whose timestamps fall in
// [start 00:00:00 UTC, end 23:59:59 UTC], ordered by timestamp. It returns
// ErrNoDataAvailable when the security is unknown or no bars fall in the
// range.
func (cache *Cache) LoadBars(ctx context.Context, ticker string, start, end time.Time) (*PriceSeries, error) {
	ticker = NormalizeTicker(ticker)
	if start.After(end) {
		return nil, ErrInvalidTimeRange
	}

	subLog := log.With().Str("Ticker", ticker).Time("Start", start).Time("End", end).Logger()

	trx, err := cache.pool.Begin(ctx)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not get transaction for loading bars")
		return nil, err
	}

	security, err := cache.lookupSecurity(ctx, trx, ticker)
	if err != nil {
		if rollbackErr := trx.Rollback(ctx); rollbackErr != nil {
			subLog.Error().Stack().Err(rollbackErr).Msg("could not rollback transaction")
		}
		if errors.Is(err, ErrSecurityNotFound) {
			return nil, ErrNoDataAvailable
		}
		return nil, err
	}

	rows, err := trx.Query(ctx,
		"SELECT timestamp, open, high, low, close, volume, adjusted_close FROM prices WHERE security_id = $1 AND timestamp >= $2 AND timestamp <= $3 ORDER BY timestamp",
		security.ID, StartOfDay(start).Unix(), EndOfDay(end).Unix())
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not query price bars")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	series := &PriceSeries{Ticker: ticker}
	for rows.Next() {
		var ts int64
		var adjClose *int64
		bar := &PriceBar{}
		if err := rows.Scan(&ts, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume, &adjClose); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not scan price bar")
			if err := trx.Rollback(ctx); err != nil {
				subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return nil, err
		}
		bar.Date = time.Unix(ts, 0).UTC()
		if adjClose != nil {
			bar.AdjClose = *adjClose
		} else {
			bar.AdjClose = bar.Close
		}
		series.Bars = append(series.Bars, bar)
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	if series.Empty() {
		return nil, ErrNoDataAvailable
	}
	return series, nil
}

// FindMissingRanges compares the requested range against the earliest and
// latest cached bar inside it and reports up to two uncovered boundary
// ranges: one before the earliest bar and one after the latest. A boundary
// gap is only reported when it exceeds GapToleranceDays calendar days, and
// the reported range stops one day short of the cached extreme so a fetch
// of it cannot collide with stored bars.
//
// Interior gaps -- holes strictly between the earliest and latest cached
// bar -- are not detected. This is a known limitation of the min/max
// comparison, kept intentionally.
func (cache *Cache) FindMissingRanges(ctx context.Context, ticker string, start, end time.Time) ([]*Interval, error) {
	ticker = NormalizeTicker(ticker)
	startDay := StartOfDay(start)
	endDay := StartOfDay(end)
	whole := []*Interval{{Begin: startDay, End: endDay}}

	if startDay.After(endDay) {
		return nil, ErrInvalidTimeRange
	}

	subLog := log.With().Str("Ticker", ticker).Time("Start", start).Time("End", end).Logger()

	trx, err := cache.pool.Begin(ctx)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not get transaction for gap detection")
		return nil, err
	}

	security, err := cache.lookupSecurity(ctx, trx, ticker)
	if err != nil {
		if rollbackErr := trx.Rollback(ctx); rollbackErr != nil {
			subLog.Error().Stack().Err(rollbackErr).Msg("could not rollback transaction")
		}
		if errors.Is(err, ErrSecurityNotFound) {
			return whole, nil
		}
		return nil, err
	}

	var minTS, maxTS *int64
	row := trx.QueryRow(ctx,
		"SELECT MIN(timestamp), MAX(timestamp) FROM prices WHERE security_id = $1 AND timestamp >= $2 AND timestamp <= $3",
		security.ID, startDay.Unix(), EndOfDay(end).Unix())
	if err := row.Scan(&minTS, &maxTS); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not query cached extent")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	if minTS == nil || maxTS == nil {
		return whole, nil
	}

	cachedBegin := StartOfDay(time.Unix(*minTS, 0))
	cachedEnd := StartOfDay(time.Unix(*maxTS, 0))
	tolerance := GapToleranceDays * 24 * time.Hour

	missing := []*Interval{}
	if cachedBegin.Sub(startDay) > tolerance {
		missing = append(missing, &Interval{Begin: startDay, End: cachedBegin.AddDate(0, 0, -1)})
	}
	if endDay.Sub(cachedEnd) > tolerance {
		missing = append(missing, &Interval{Begin: cachedEnd.AddDate(0, 0, 1), End: endDay})
	}
	return missing, nil
}

// CheckNoDataCached reports whether an existing no-data marker fully
// contains the query range.
func (cache *Cache) CheckNoDataCached(ctx context.Context, ticker string, start, end time.Time) (bool, error) {
	ticker = NormalizeTicker(ticker)
	subLog := log.With().Str("Ticker", ticker).Time("Start", start).Time("End", end).Logger()

	trx, err := cache.pool.Begin(ctx)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not get transaction for no-data lookup")
		return false, err
	}

	security, err := cache.lookupSecurity(ctx, trx, ticker)
	if err != nil {
		if rollbackErr := trx.Rollback(ctx); rollbackErr != nil {
			subLog.Error().Stack().Err(rollbackErr).Msg("could not rollback transaction")
		}
		if errors.Is(err, ErrSecurityNotFound) {
			return false, nil
		}
		return false, err
	}

	var count int
	row := trx.QueryRow(ctx,
		"SELECT COUNT(*) FROM no_data_ranges WHERE security_id = $1 AND start_timestamp <= $2 AND end_timestamp >= $3",
		security.ID, StartOfDay(start).Unix(), StartOfDay(end).Unix())
	if err := row.Scan(&count); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not query no-data ranges")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return false, err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not commit transaction")
	}
	return count > 0, nil
}

// CacheNoDataRange records that [start, end] has been confirmed to have no
// upstream data. Upserting an existing marker refreshes its last-checked
// time. Markers are a best-effort optimization; losing one only costs a
// redundant remote call.
func (cache *Cache) CacheNoDataRange(ctx context.Context, ticker string, start, end time.Time) error {
	ticker = NormalizeTicker(ticker)
	subLog := log.With().Str("Ticker", ticker).Time("Start", start).Time("End", end).Logger()

	trx, err := cache.pool.Begin(ctx)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not get transaction for no-data marker")
		return err
	}

	security, err := cache.getOrCreateSecurity(ctx, trx, ticker, "")
	if err != nil {
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	if _, err := trx.Exec(ctx,
		"INSERT INTO no_data_ranges (security_id, start_timestamp, end_timestamp, last_checked) VALUES ($1, $2, $3, $4) ON CONFLICT (security_id, start_timestamp, end_timestamp) DO UPDATE SET last_checked = EXCLUDED.last_checked",
		security.ID, StartOfDay(start).Unix(), StartOfDay(end).Unix(), time.Now().Unix()); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not upsert no-data range")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not commit transaction")
	}
	return nil
}

// UpdateCacheMetadata recomputes the denormalized per-security metadata row
// from the current bars. It is a no-op when the security is unknown or has
// no bars.
func (cache *Cache) UpdateCacheMetadata(ctx context.Context, ticker string) error {
	ticker = NormalizeTicker(ticker)
	subLog := log.With().Str("Ticker", ticker).Logger()

	trx, err := cache.pool.Begin(ctx)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not get transaction for metadata update")
		return err
	}

	security, err := cache.lookupSecurity(ctx, trx, ticker)
	if err != nil {
		if rollbackErr := trx.Rollback(ctx); rollbackErr != nil {
			subLog.Error().Stack().Err(rollbackErr).Msg("could not rollback transaction")
		}
		if errors.Is(err, ErrSecurityNotFound) {
			return nil
		}
		return err
	}

	var minTS, maxTS *int64
	var total int
	row := trx.QueryRow(ctx,
		"SELECT MIN(timestamp), MAX(timestamp), COUNT(*) FROM prices WHERE security_id = $1",
		security.ID)
	if err := row.Scan(&minTS, &maxTS, &total); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not query price extent")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	if total == 0 || minTS == nil || maxTS == nil {
		if err := trx.Commit(ctx); err != nil {
			subLog.Warn().Stack().Err(err).Msg("could not commit transaction")
		}
		return nil
	}

	now := time.Now().Unix()
	if _, err := trx.Exec(ctx,
		"INSERT INTO cache_metadata (security_id, last_fetch, earliest_data, latest_data, total_records) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (security_id) DO UPDATE SET last_fetch = EXCLUDED.last_fetch, earliest_data = EXCLUDED.earliest_data, latest_data = EXCLUDED.latest_data, total_records = EXCLUDED.total_records",
		security.ID, now, *minTS, *maxTS, total); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not upsert cache metadata")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	if _, err := trx.Exec(ctx,
		"UPDATE securities SET updated_at = $1 WHERE id = $2", now, security.ID); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not touch security")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not commit transaction")
	}
	return nil
}

// CachedTickers lists every ticker that has cache metadata, i.e. has been
// fetched at least once.
func (cache *Cache) CachedTickers(ctx context.Context) ([]string, error) {
	trx, err := cache.pool.Begin(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get transaction for ticker listing")
		return nil, err
	}

	rows, err := trx.Query(ctx,
		"SELECT s.ticker FROM securities s JOIN cache_metadata cm ON cm.security_id = s.id ORDER BY s.ticker")
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not query cached tickers")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	tickers := []string{}
	for rows.Next() {
		var ticker string
		if err := rows.Scan(&ticker); err != nil {
			log.Error().Stack().Err(err).Msg("could not scan ticker")
			if err := trx.Rollback(ctx); err != nil {
				log.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return nil, err
		}
		tickers = append(tickers, ticker)
	}

	if err := trx.Commit(ctx); err != nil {
		log.Warn().Stack().Err(err).Msg("could not commit transaction")
	}
	return tickers, nil
}

// Purge removes all cached bars, metadata and no-data markers for ticker.
// The security row itself is kept.
func (cache *Cache) Purge(ctx context.Context, ticker string) error {
	ticker = NormalizeTicker(ticker)
	subLog := log.With().Str("Ticker", ticker).Logger()

	trx, err := cache.pool.Begin(ctx)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not get transaction for purge")
		return err
	}

	security, err := cache.lookupSecurity(ctx, trx, ticker)
	if err != nil {
		if rollbackErr := trx.Rollback(ctx); rollbackErr != nil {
			subLog.Error().Stack().Err(rollbackErr).Msg("could not rollback transaction")
		}
		if errors.Is(err, ErrSecurityNotFound) {
			return nil
		}
		return err
	}

	for _, stmt := range []string{
		"DELETE FROM prices WHERE security_id = $1",
		"DELETE FROM no_data_ranges WHERE security_id = $1",
		"DELETE FROM cache_metadata WHERE security_id = $1",
	} {
		if _, err := trx.Exec(ctx, stmt, security.ID); err != nil {
			subLog.Error().Stack().Err(err).Str("Query", stmt).Msg("could not purge cached data")
			if err := trx.Rollback(ctx); err != nil {
				subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return err
		}
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not commit transaction")
	}
	cache.securities.Remove(ticker)
	return nil
}
