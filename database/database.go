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

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// PgxIface is the subset of pgxpool.Pool the rest of the application relies
// on. pgxmock connections satisfy it, which is how the data layer is tested
// without a live server.
type PgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Connect creates a connection pool from the database.url configuration key
// and verifies connectivity with a ping.
func Connect(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := pgxpool.Connect(ctx, viper.GetString("database.url"))
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not connect to database")
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not ping database")
		pool.Close()
		return nil, err
	}
	return pool, nil
}
