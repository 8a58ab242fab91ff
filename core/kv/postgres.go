// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/relabs-tech/homebase/core/csql"
)

// Postgres is a store backed by three tables in a postgres schema
//
//	_kv_       string values with optional expiry
//	_kv_hash_  one row per hash field
//	_kv_list_  one row per list element, ordered by position from head to tail
type Postgres struct {
	db                     *csql.DB
	strings, hashes, lists string
	ownsDB                 bool
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects to postgres and creates the tables in schema
func OpenPostgres(dataSourceName, password, schema string) (*Postgres, error) {
	db, err := csql.OpenWithSchema(dataSourceName, password, schema)
	if err != nil {
		return nil, err
	}
	p, err := NewPostgres(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	p.ownsDB = true
	return p, nil
}

// NewPostgres creates the tables in the database's schema and returns a store on top of them
func NewPostgres(db *csql.DB) (*Postgres, error) {
	p := &Postgres{
		db:      db,
		strings: db.Table("_kv_"),
		hashes:  db.Table("_kv_hash_"),
		lists:   db.Table("_kv_list_"),
	}
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + p.strings + `
(key varchar NOT NULL,
value text NOT NULL,
expires_at timestamp,
PRIMARY KEY(key)
);
CREATE table IF NOT EXISTS ` + p.hashes + `
(key varchar NOT NULL,
field varchar NOT NULL,
value text NOT NULL,
PRIMARY KEY(key, field)
);
CREATE table IF NOT EXISTS ` + p.lists + `
(key varchar NOT NULL,
position bigint NOT NULL,
value text NOT NULL,
PRIMARY KEY(key, position)
);`)
	if err != nil {
		return nil, fmt.Errorf("cannot create kv tables: %w", err)
	}
	return p, nil
}

const notExpired = `(expires_at IS NULL OR expires_at > now() at time zone 'utc')`

// lock serializes all writers of key within the transaction
func (p *Postgres) lock(ctx context.Context, tx *sql.Tx, key string) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1));`, key)
	return err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (p *Postgres) typeOf(ctx context.Context, q queryer, key string) (Type, error) {
	var t string
	err := q.QueryRowContext(ctx, `SELECT t FROM (
SELECT 'string' AS t FROM `+p.strings+` WHERE key=$1 AND `+notExpired+`
UNION ALL SELECT 'hash' FROM `+p.hashes+` WHERE key=$1
UNION ALL SELECT 'list' FROM `+p.lists+` WHERE key=$1) AS types LIMIT 1;`, key).Scan(&t)
	if err == sql.ErrNoRows {
		return TypeNone, nil
	}
	if err != nil {
		return TypeNone, err
	}
	return Type(t), nil
}

// write runs f in a transaction holding the lock for key, after checking that key is either
// missing or of type t
func (p *Postgres) write(ctx context.Context, key string, t Type, f func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err = p.lock(ctx, tx, key); err != nil {
		return err
	}
	existing, err := p.typeOf(ctx, tx, key)
	if err != nil {
		return err
	}
	if existing != TypeNone && existing != t {
		return ErrWrongType
	}
	if err = f(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Get implements Store
func (p *Postgres) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM `+p.strings+` WHERE key=$1 AND `+notExpired+`;`, key).Scan(&value)
	if err == sql.ErrNoRows {
		if t, _ := p.typeOf(ctx, p.db, key); t != TypeNone {
			return "", ErrWrongType
		}
		return "", ErrNotFound
	}
	return value, err
}

// Set implements Store
func (p *Postgres) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().UTC().Add(ttl)
		expiresAt = &t
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err = p.lock(ctx, tx, key); err != nil {
		return err
	}
	// SET replaces values of any type
	if _, err = tx.ExecContext(ctx, `DELETE FROM `+p.hashes+` WHERE key=$1;`, key); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM `+p.lists+` WHERE key=$1;`, key); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO `+p.strings+`(key,value,expires_at)
VALUES($1,$2,$3)
ON CONFLICT (key) DO UPDATE SET value=$2,expires_at=$3;`, key, value, expiresAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Delete implements Store
func (p *Postgres) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	for _, table := range []string{p.strings, p.hashes, p.lists} {
		if _, err := p.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE key = ANY($1);`, pq.Array(keys)); err != nil {
			return err
		}
	}
	return nil
}

// HGet implements Store
func (p *Postgres) HGet(ctx context.Context, key, field string) (string, error) {
	var value string
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM `+p.hashes+` WHERE key=$1 AND field=$2;`, key, field).Scan(&value)
	if err == sql.ErrNoRows {
		if t, _ := p.typeOf(ctx, p.db, key); t != TypeNone && t != TypeHash {
			return "", ErrWrongType
		}
		return "", ErrNotFound
	}
	return value, err
}

// HSet implements Store
func (p *Postgres) HSet(ctx context.Context, key, field, value string) error {
	return p.write(ctx, key, TypeHash, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO `+p.hashes+`(key,field,value)
VALUES($1,$2,$3)
ON CONFLICT (key,field) DO UPDATE SET value=$3;`, key, field, value)
		return err
	})
}

// HGetAll implements Store
func (p *Postgres) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT field, value FROM `+p.hashes+` WHERE key=$1;`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[string]string)
	for rows.Next() {
		var field, value string
		if err = rows.Scan(&field, &value); err != nil {
			return nil, err
		}
		result[field] = value
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		if t, _ := p.typeOf(ctx, p.db, key); t != TypeNone {
			return nil, ErrWrongType
		}
	}
	return result, nil
}

// HDel implements Store
func (p *Postgres) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM `+p.hashes+` WHERE key=$1 AND field = ANY($2);`, key, pq.Array(fields))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// HIncrBy implements Store
func (p *Postgres) HIncrBy(ctx context.Context, key, field string, increment int64) (int64, error) {
	var value string
	err := p.write(ctx, key, TypeHash, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `INSERT INTO `+p.hashes+` AS h (key,field,value)
VALUES($1,$2,$3::bigint::text)
ON CONFLICT (key,field) DO UPDATE SET value=(h.value::bigint + $3::bigint)::text
RETURNING value;`, key, field, increment).Scan(&value)
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "22P02" { // invalid_text_representation
			return 0, ErrWrongType
		}
		return 0, err
	}
	return strconv.ParseInt(value, 10, 64)
}

// LPush implements Store
func (p *Postgres) LPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	return p.write(ctx, key, TypeList, func(tx *sql.Tx) error {
		var head sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT min(position) FROM `+p.lists+` WHERE key=$1;`, key).Scan(&head)
		if err != nil {
			return err
		}
		position := int64(0)
		if head.Valid {
			position = head.Int64
		}
		for _, value := range values {
			position--
			_, err = tx.ExecContext(ctx, `INSERT INTO `+p.lists+`(key,position,value) VALUES($1,$2,$3);`,
				key, position, value)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) listLength(ctx context.Context, q queryer, key string) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `SELECT count(*) FROM `+p.lists+` WHERE key=$1;`, key).Scan(&n)
	return n, err
}

// LRange implements Store
func (p *Postgres) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	n, err := p.listLength(ctx, p.db, key)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if t, _ := p.typeOf(ctx, p.db, key); t != TypeNone {
			return nil, ErrWrongType
		}
	}
	lo, hi, ok := listRange(n, start, stop)
	if !ok {
		return []string{}, nil
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT value FROM `+p.lists+` WHERE key=$1 ORDER BY position OFFSET $2 LIMIT $3;`, key, lo, hi-lo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []string{}
	for rows.Next() {
		var value string
		if err = rows.Scan(&value); err != nil {
			return nil, err
		}
		result = append(result, value)
	}
	return result, rows.Err()
}

// LTrim implements Store
func (p *Postgres) LTrim(ctx context.Context, key string, start, stop int64) error {
	return p.write(ctx, key, TypeList, func(tx *sql.Tx) error {
		n, err := p.listLength(ctx, tx, key)
		if err != nil {
			return err
		}
		lo, hi, ok := listRange(n, start, stop)
		if !ok {
			_, err = tx.ExecContext(ctx, `DELETE FROM `+p.lists+` WHERE key=$1;`, key)
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM `+p.lists+` WHERE key=$1 AND position NOT IN
(SELECT position FROM `+p.lists+` WHERE key=$1 ORDER BY position OFFSET $2 LIMIT $3);`, key, lo, hi-lo)
		return err
	})
}

// Keys implements Store
func (p *Postgres) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT key FROM `+p.strings+` WHERE left(key, length($1))=$1 AND `+notExpired+`
UNION SELECT key FROM `+p.hashes+` WHERE left(key, length($1))=$1
UNION SELECT key FROM `+p.lists+` WHERE left(key, length($1))=$1
ORDER BY key;`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err = rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Type implements Store
func (p *Postgres) Type(ctx context.Context, key string) (Type, error) {
	return p.typeOf(ctx, p.db, key)
}

// Ping implements Store
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close implements Store. The database is only closed if the store opened it.
func (p *Postgres) Close() error {
	if p.ownsDB {
		return p.db.Close()
	}
	return nil
}
