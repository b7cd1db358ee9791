package db

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// NewSQLite opens the local order database. This service is local-first:
// the chain is the system of record and this file only holds the device's
// own payment history.
func NewSQLite(ctx context.Context, path string, log *zap.Logger) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// single writer; sqlite serializes writes anyway
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		conn.Close()
		return nil, err
	}

	log.Info("sqlite opened", zap.String("path", path))
	return conn, nil
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, conn *sql.DB, log *zap.Logger) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id              TEXT PRIMARY KEY,
			order_id        TEXT NOT NULL UNIQUE,
			mode            TEXT NOT NULL,
			buyer           TEXT NOT NULL,
			partner         TEXT NOT NULL,
			amount_units    TEXT NOT NULL,
			token_symbol    TEXT NOT NULL,
			chain_id        INTEGER NOT NULL,
			approve_tx_hash TEXT,
			create_tx_hash  TEXT,
			release_tx_hash TEXT,
			refund_tx_hash  TEXT,
			status          TEXT NOT NULL,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	`)
	if err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}
