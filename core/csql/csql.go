// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package csql wraps a postgres database with the schema all tables live in
package csql

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq" // load database driver for postgres

	"github.com/relabs-tech/homebase/core/logger"
)

// DB encapsulates a standard sql.DB with a schema
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

// OpenWithSchema opens a postgres database and selects schema, which gets created if it does
// not exist yet. The password is passed separately so that it does not end up in logs.
func OpenWithSchema(dataSourceName, password, schema string) (*DB, error) {
	logger.Default().Infoln("connecting to postgres database:", dataSourceName)
	if password != "" {
		dataSourceName += " password=" + password
	}
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("cannot open postgres: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot reach postgres: %w", err)
	}
	if schema == "" {
		schema = "public"
	}
	if strings.ContainsAny(schema, "\"; ") {
		db.Close()
		return nil, fmt.Errorf("invalid schema name '%s'", schema)
	}
	logger.Default().Infoln("selected database schema:", schema)
	if _, err = db.Exec(`CREATE schema IF NOT EXISTS "` + schema + `";`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot create schema %s: %w", schema, err)
	}
	return &DB{DB: db, Schema: schema}, nil
}

// Table returns the fully qualified name of a table in the database's schema
func (db *DB) Table(name string) string {
	return `"` + db.Schema + `"."` + name + `"`
}

// ClearSchema clears all the data contained in the database's schema
// Technically this is done by dropping the schema and then recreating it
func (db *DB) ClearSchema() error {
	if db.Schema == "public" {
		return fmt.Errorf("refuse to drop public schema")
	}
	_, err := db.Exec(`DROP SCHEMA "` + db.Schema + `" CASCADE;
CREATE schema IF NOT EXISTS "` + db.Schema + `";`)
	if err != nil {
		return fmt.Errorf("clear schema %s: %w", db.Schema, err)
	}
	return nil
}
