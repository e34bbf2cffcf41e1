package chatshelf

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresStateTableName   = "chatshelf_state"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresKV persists namespaced values in a single table, one row per
// (namespace, key).
type PostgresKV struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresKV(dsn string) (*PostgresKV, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresKV{
		dsn:       dsn,
		tableName: postgresStateTableName,
		openDB:    sql.Open,
	}, nil
}

func (b *PostgresKV) ensureReady() error {
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
		if err != nil {
			b.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				namespace TEXT NOT NULL,
				state_key TEXT NOT NULL,
				payload TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (namespace, state_key)
			)`, quoteSQLIdentifier(b.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			b.initErr = err
			return
		}
		b.db = db
	})
	return b.initErr
}

func (b *PostgresKV) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(
		"SELECT payload FROM %s WHERE namespace = $1 AND state_key = $2",
		quoteSQLIdentifier(b.tableName))
	var payload string
	err := b.db.QueryRowContext(opCtx, query, namespace, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

func (b *PostgresKV) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := b.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`
		INSERT INTO %s (namespace, state_key, payload, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (namespace, state_key)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`,
		quoteSQLIdentifier(b.tableName))
	_, err := b.db.ExecContext(opCtx, query, namespace, key, string(value))
	return err
}

func (b *PostgresKV) Delete(ctx context.Context, namespace, key string) error {
	if err := b.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE namespace = $1 AND state_key = $2",
		quoteSQLIdentifier(b.tableName))
	_, err := b.db.ExecContext(opCtx, query, namespace, key)
	return err
}

func (b *PostgresKV) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func quoteSQLIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
