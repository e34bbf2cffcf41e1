package chatshelf

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteOperationTimeout = 5 * time.Second

// SQLiteKV is the durable-local backend: same table shape as Postgres, no
// server required.
type SQLiteKV struct {
	path string

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewSQLiteKV(path string) (*SQLiteKV, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteKV{path: absPath}, nil
}

func (b *SQLiteKV) ensureReady() error {
	b.initOnce.Do(func() {
		if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
			b.initErr = err
			return
		}
		db, err := sql.Open("sqlite", b.path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
		if err != nil {
			b.initErr = err
			return
		}
		// modernc's driver is not safe for concurrent writers on one conn
		// pool entry; the store serializes writes anyway.
		db.SetMaxOpenConns(1)
		ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
		defer cancel()
		_, err = db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS chatshelf_state (
				namespace TEXT NOT NULL,
				state_key TEXT NOT NULL,
				payload TEXT NOT NULL,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (namespace, state_key)
			)`)
		if err != nil {
			_ = db.Close()
			b.initErr = err
			return
		}
		b.db = db
	})
	return b.initErr
}

func (b *SQLiteKV) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, sqliteOperationTimeout)
	defer cancel()
	var payload string
	err := b.db.QueryRowContext(opCtx,
		"SELECT payload FROM chatshelf_state WHERE namespace = ? AND state_key = ?",
		namespace, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

func (b *SQLiteKV) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := b.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, sqliteOperationTimeout)
	defer cancel()
	_, err := b.db.ExecContext(opCtx, `
		INSERT INTO chatshelf_state (namespace, state_key, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, state_key)
		DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		namespace, key, string(value), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite set %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (b *SQLiteKV) Delete(ctx context.Context, namespace, key string) error {
	if err := b.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, sqliteOperationTimeout)
	defer cancel()
	_, err := b.db.ExecContext(opCtx,
		"DELETE FROM chatshelf_state WHERE namespace = ? AND state_key = ?",
		namespace, key)
	return err
}

func (b *SQLiteKV) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
