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

package database

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// migrations are applied in order and recorded in schema_migrations. Only
// additive, backward-compatible changes are allowed; never edit an entry
// that has shipped, append a new one.
var migrations = [][]string{
	{
		// base schema
		`CREATE TABLE securities (
			id SERIAL PRIMARY KEY,
			ticker TEXT NOT NULL UNIQUE,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX idx_securities_ticker ON securities (ticker)`,
		`CREATE TABLE prices (
			security_id INT NOT NULL REFERENCES securities (id),
			timestamp BIGINT NOT NULL,
			open BIGINT NOT NULL,
			high BIGINT NOT NULL,
			low BIGINT NOT NULL,
			close BIGINT NOT NULL,
			volume BIGINT NOT NULL,
			adjusted_close BIGINT,
			PRIMARY KEY (security_id, timestamp)
		)`,
		`CREATE INDEX idx_prices_timestamp ON prices (timestamp)`,
		`CREATE TABLE cache_metadata (
			security_id INT PRIMARY KEY REFERENCES securities (id),
			last_fetch BIGINT NOT NULL,
			earliest_data BIGINT,
			latest_data BIGINT,
			total_records INT
		)`,
	},
	{
		`ALTER TABLE securities ADD COLUMN company_name TEXT`,
	},
	{
		`CREATE TABLE no_data_ranges (
			security_id INT NOT NULL REFERENCES securities (id),
			start_timestamp BIGINT NOT NULL,
			end_timestamp BIGINT NOT NULL,
			last_checked BIGINT NOT NULL,
			PRIMARY KEY (security_id, start_timestamp, end_timestamp)
		)`,
		`CREATE INDEX idx_no_data_ranges_security ON no_data_ranges (security_id)`,
		`CREATE INDEX idx_no_data_ranges_timestamps ON no_data_ranges (security_id, start_timestamp, end_timestamp)`,
	},
}

// Migrate brings the schema up to date. Each pending migration runs in its
// own transaction and is recorded before the next one starts.
func Migrate(ctx context.Context, pool PgxIface) error {
	applied, err := appliedVersion(ctx, pool)
	if err != nil {
		return err
	}

	for version := applied + 1; version <= len(migrations); version++ {
		subLog := log.With().Int("Version", version).Logger()
		trx, err := pool.Begin(ctx)
		if err != nil {
			subLog.Error().Stack().Err(err).Msg("could not get transaction for migration")
			return err
		}

		for _, stmt := range migrations[version-1] {
			if _, err := trx.Exec(ctx, stmt); err != nil {
				subLog.Error().Stack().Err(err).Str("Query", stmt).Msg("migration statement failed")
				if err := trx.Rollback(ctx); err != nil {
					subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
				}
				return err
			}
		}

		if _, err := trx.Exec(ctx, "INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)",
			version, time.Now().Unix()); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not record migration")
			if err := trx.Rollback(ctx); err != nil {
				subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return err
		}

		if err := trx.Commit(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not commit migration")
			return err
		}
		subLog.Info().Msg("applied migration")
	}

	return nil
}

func appliedVersion(ctx context.Context, pool PgxIface) (int, error) {
	trx, err := pool.Begin(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get transaction for migration bookkeeping")
		return 0, err
	}

	if _, err := trx.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INT PRIMARY KEY,
		applied_at BIGINT NOT NULL
	)`); err != nil {
		log.Error().Stack().Err(err).Msg("could not create schema_migrations")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return 0, err
	}

	var version int
	row := trx.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&version); err != nil {
		log.Error().Stack().Err(err).Msg("could not read schema version")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return 0, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
		return 0, err
	}

	return version, nil
}
