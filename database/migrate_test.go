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

package database_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"

	"github.com/foliosim/foliosim/database"
)

var _ = Describe("Migrate", func() {
	var (
		ctx    context.Context
		dbPool pgxmock.PgxConnIface
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
	})

	AfterEach(func() {
		Expect(dbPool.ExpectationsWereMet()).To(Succeed())
		dbPool.Close(context.Background())
	})

	expectVersion := func(version int) {
		dbPool.ExpectBegin()
		dbPool.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
		dbPool.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\)`).
			WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(version))
		dbPool.ExpectCommit()
	}

	It("applies every migration on an empty database", func() {
		expectVersion(0)

		// base schema: 5 statements plus the bookkeeping insert
		dbPool.ExpectBegin()
		dbPool.ExpectExec("CREATE TABLE securities").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		dbPool.ExpectExec("CREATE INDEX idx_securities_ticker").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		dbPool.ExpectExec("CREATE TABLE prices").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		dbPool.ExpectExec("CREATE INDEX idx_prices_timestamp").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		dbPool.ExpectExec("CREATE TABLE cache_metadata").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		dbPool.ExpectExec("INSERT INTO schema_migrations").WillReturnResult(pgxmock.NewResult("INSERT", 1))
		dbPool.ExpectCommit()

		// company_name column
		dbPool.ExpectBegin()
		dbPool.ExpectExec("ALTER TABLE securities ADD COLUMN company_name").WillReturnResult(pgxmock.NewResult("ALTER", 0))
		dbPool.ExpectExec("INSERT INTO schema_migrations").WillReturnResult(pgxmock.NewResult("INSERT", 1))
		dbPool.ExpectCommit()

		// no-data markers
		dbPool.ExpectBegin()
		dbPool.ExpectExec("CREATE TABLE no_data_ranges").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		dbPool.ExpectExec("CREATE INDEX idx_no_data_ranges_security").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		dbPool.ExpectExec("CREATE INDEX idx_no_data_ranges_timestamps").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		dbPool.ExpectExec("INSERT INTO schema_migrations").WillReturnResult(pgxmock.NewResult("INSERT", 1))
		dbPool.ExpectCommit()

		Expect(database.Migrate(ctx, dbPool)).To(Succeed())
	})

	It("applies only pending migrations", func() {
		expectVersion(2)

		dbPool.ExpectBegin()
		dbPool.ExpectExec("CREATE TABLE no_data_ranges").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		dbPool.ExpectExec("CREATE INDEX idx_no_data_ranges_security").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		dbPool.ExpectExec("CREATE INDEX idx_no_data_ranges_timestamps").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		dbPool.ExpectExec("INSERT INTO schema_migrations").WillReturnResult(pgxmock.NewResult("INSERT", 1))
		dbPool.ExpectCommit()

		Expect(database.Migrate(ctx, dbPool)).To(Succeed())
	})

	It("does nothing when the schema is current", func() {
		expectVersion(3)
		Expect(database.Migrate(ctx, dbPool)).To(Succeed())
	})

	It("rolls back and stops on a failing statement", func() {
		expectVersion(2)

		dbPool.ExpectBegin()
		dbPool.ExpectExec("CREATE TABLE no_data_ranges").WillReturnError(errors.New("permission denied"))
		dbPool.ExpectRollback()

		Expect(database.Migrate(ctx, dbPool)).To(MatchError(ContainSubstring("permission denied")))
	})
})
