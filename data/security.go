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
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
)

// Security represents a tradeable asset. Identity is the case-normalized
// ticker symbol.
type Security struct {
	ID          int64  `json:"id"`
	Ticker      string `json:"ticker"`
	CompanyName string `json:"companyName"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// NormalizeTicker trims whitespace and upper-cases a ticker symbol.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// GetOrCreateSecurity returns the security for ticker, creating it when
// unknown. A non-empty companyName fills in a missing company name on an
// existing row; it never overwrites one already set.
func (cache *Cache) GetOrCreateSecurity(ctx context.Context, ticker string, companyName string) (*Security, error) {
	ticker = NormalizeTicker(ticker)
	if ticker == "" {
		return nil, ErrEmptyTicker
	}

	subLog := log.With().Str("Ticker", ticker).Logger()
	trx, err := cache.pool.Begin(ctx)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not get transaction for security upsert")
		return nil, err
	}

	security, err := cache.getOrCreateSecurity(ctx, trx, ticker, companyName)
	if err != nil {
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not commit transaction")
	}
	return security, nil
}

// lookupSecurity loads a security by ticker inside an open transaction,
// consulting the in-memory LRU first.
func (cache *Cache) lookupSecurity(ctx context.Context, trx pgx.Tx, ticker string) (*Security, error) {
	if cached, ok := cache.securities.Get(ticker); ok {
		return cached.(*Security), nil
	}

	row := trx.QueryRow(ctx,
		"SELECT id, ticker, COALESCE(company_name, ''), created_at, updated_at FROM securities WHERE ticker = $1",
		ticker)
	security := &Security{}
	if err := row.Scan(&security.ID, &security.Ticker, &security.CompanyName,
		&security.CreatedAt, &security.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSecurityNotFound
		}
		log.Error().Stack().Err(err).Str("Ticker", ticker).Msg("could not scan security")
		return nil, err
	}

	cache.securities.Add(ticker, security)
	return security, nil
}

func (cache *Cache) getOrCreateSecurity(ctx context.Context, trx pgx.Tx, ticker string, companyName string) (*Security, error) {
	security, err := cache.lookupSecurity(ctx, trx, ticker)
	switch {
	case errors.Is(err, ErrSecurityNotFound):
		now := time.Now().Unix()
		var name interface{}
		if companyName != "" {
			name = companyName
		}
		row := trx.QueryRow(ctx,
			"INSERT INTO securities (ticker, company_name, created_at, updated_at) VALUES ($1, $2, $3, $4) RETURNING id",
			ticker, name, now, now)
		security = &Security{Ticker: ticker, CompanyName: companyName, CreatedAt: now, UpdatedAt: now}
		if err := row.Scan(&security.ID); err != nil {
			log.Error().Stack().Err(err).Str("Ticker", ticker).Msg("could not insert security")
			return nil, err
		}
		return security, nil
	case err != nil:
		return nil, err
	}

	if companyName != "" && security.CompanyName == "" {
		now := time.Now().Unix()
		if _, err := trx.Exec(ctx,
			"UPDATE securities SET company_name = $1, updated_at = $2 WHERE id = $3",
			companyName, now, security.ID); err != nil {
			log.Error().Stack().Err(err).Str("Ticker", ticker).Msg("could not update company name")
			return nil, err
		}
		updated := *security
		updated.CompanyName = companyName
		updated.UpdatedAt = now
		security = &updated
		cache.securities.Add(ticker, security)
	}

	return security, nil
}
