package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Transactions, previews and audit log",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					status TEXT NOT NULL,
					lock_key TEXT NOT NULL,
					actor TEXT NOT NULL DEFAULT '',
					payload TEXT NOT NULL,
					backup TEXT,
					external_ref TEXT NOT NULL DEFAULT '',
					last_error TEXT NOT NULL DEFAULT '',
					retry_count INTEGER NOT NULL DEFAULT 0,
					voucher_type TEXT NOT NULL DEFAULT '',
					amount TEXT NOT NULL DEFAULT '0',
					doc_date DATETIME,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_transactions_status ON transactions(status, updated_at)`,
				`CREATE INDEX idx_transactions_turnover ON transactions(voucher_type, status, doc_date)`,

				`CREATE TABLE IF NOT EXISTS previews (
					id TEXT PRIMARY KEY,
					caller_id TEXT NOT NULL DEFAULT '',
					intent TEXT NOT NULL,
					status TEXT NOT NULL,
					risk TEXT NOT NULL,
					confirmation TEXT NOT NULL,
					document TEXT NOT NULL,
					issues TEXT NOT NULL DEFAULT '[]',
					created_at DATETIME NOT NULL,
					expires_at DATETIME NOT NULL
				)`,

				`CREATE TABLE IF NOT EXISTS audit_log (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					timestamp DATETIME NOT NULL,
					entity_type TEXT NOT NULL,
					entity_id TEXT NOT NULL,
					actor TEXT NOT NULL,
					action TEXT NOT NULL,
					old_value TEXT NOT NULL DEFAULT '',
					new_value TEXT NOT NULL DEFAULT '',
					reason TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE INDEX idx_audit_entity ON audit_log(entity_type, entity_id)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Make audit log append-only",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TRIGGER audit_log_no_update
				BEFORE UPDATE ON audit_log
				BEGIN
					SELECT RAISE(ABORT, 'audit log is append-only');
				END`,
				`CREATE TRIGGER audit_log_no_delete
				BEFORE DELETE ON audit_log
				BEGIN
					SELECT RAISE(ABORT, 'audit log is append-only');
				END`,
			)
		},
	},
	{
		Version:     3,
		Description: "Known entities and amount history",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS entities (
					name TEXT PRIMARY KEY COLLATE NOCASE,
					type TEXT NOT NULL,
					gstin TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS entity_history (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					entity TEXT NOT NULL COLLATE NOCASE,
					date DATETIME NOT NULL,
					amount TEXT NOT NULL,
					source TEXT NOT NULL DEFAULT '',
					UNIQUE (entity, date, amount, source)
				)`,
				`CREATE INDEX idx_entity_history_entity ON entity_history(entity)`,
			)
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion reports the applied schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
