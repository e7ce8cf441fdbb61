package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

const transactionColumns = `id, status, lock_key, actor, payload, backup, external_ref,
	last_error, retry_count, created_at, updated_at`

// CreateTransaction inserts a new transaction. The ID doubles as the idempotency
// key, so a second insert with the same ID returns common.ErrDuplicateEntry.
func (s *SQLiteStorage) CreateTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransaction(txn); err != nil {
		return err
	}

	payload, err := json.Marshal(txn.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	backup, err := encodeBackup(txn.Backup)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	if txn.UpdatedAt.IsZero() {
		txn.UpdatedAt = txn.CreatedAt
	}

	var docDate any
	if !txn.Payload.Date.IsZero() {
		docDate = txn.Payload.Date.UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, status, lock_key, actor, payload, backup, external_ref,
			last_error, retry_count, voucher_type, amount, doc_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, txn.ID, string(txn.Status), txn.LockKey, txn.Actor, string(payload), backup, txn.ExternalRef,
		txn.LastError, txn.RetryCount, string(txn.Payload.VoucherType), txn.Payload.Amount.String(),
		docDate, txn.CreatedAt.UTC(), txn.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("transaction %s: %w", txn.ID, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// GetTransaction returns the transaction with id, or common.ErrNotFound.
func (s *SQLiteStorage) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
	}
	return txn, err
}

// TransitionTransaction moves id from one status to another only if it is
// still in from. Losing the race returns common.ErrStaleState.
func (s *SQLiteStorage) TransitionTransaction(ctx context.Context, id string, from, to model.TransactionStatus, update service.TransactionUpdate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	if !model.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(to), time.Now().UTC()}

	if update.Backup != nil {
		backup, err := encodeBackup(update.Backup)
		if err != nil {
			return err
		}
		sets = append(sets, "backup = ?")
		args = append(args, backup)
	}
	if update.ExternalRef != nil {
		sets = append(sets, "external_ref = ?")
		args = append(args, *update.ExternalRef)
	}
	if update.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *update.LastError)
	}
	if update.AddRetries > 0 {
		sets = append(sets, "retry_count = retry_count + ?")
		args = append(args, update.AddRetries)
	}
	args = append(args, id, string(from))

	result, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to transition transaction: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check transition result: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM transactions WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read transaction status: %w", err)
	}
	return fmt.Errorf("transaction %s is %s, not %s: %w", id, current, from, common.ErrStaleState)
}

// ListStaleTransactions returns non-terminal transactions not updated since updatedBefore.
func (s *SQLiteStorage) ListStaleTransactions(ctx context.Context, updatedBefore time.Time) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status NOT IN (?, ?, ?) AND updated_at < ?
		ORDER BY updated_at
	`, string(model.StatusCommitted), string(model.StatusRolledBack), string(model.StatusFailed), updatedBefore.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query stale transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var txns []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}
	return txns, rows.Err()
}

// SalesTurnover sums committed sales vouchers dated on or after since.
func (s *SQLiteStorage) SalesTurnover(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	if err := validateContext(ctx); err != nil {
		return decimal.Zero, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT amount FROM transactions
		WHERE voucher_type = ? AND status = ? AND doc_date >= ?
	`, string(model.VoucherSales), string(model.StatusCommitted), since.UTC())
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query turnover: %w", err)
	}
	defer func() { _ = rows.Close() }()

	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan amount: %w", err)
		}
		total = total.Add(amount)
	}
	return total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var (
		txn     model.Transaction
		status  string
		payload string
		backup  sql.NullString
	)
	err := row.Scan(&txn.ID, &status, &txn.LockKey, &txn.Actor, &payload, &backup,
		&txn.ExternalRef, &txn.LastError, &txn.RetryCount, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	txn.Status = model.TransactionStatus(status)
	if err := json.Unmarshal([]byte(payload), &txn.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload of %s: %w", txn.ID, err)
	}
	if backup.Valid && backup.String != "" {
		txn.Backup = &model.Snapshot{}
		if err := json.Unmarshal([]byte(backup.String), txn.Backup); err != nil {
			return nil, fmt.Errorf("failed to decode backup of %s: %w", txn.ID, err)
		}
	}
	return &txn, nil
}

func encodeBackup(snapshot *model.Snapshot) (any, error) {
	if snapshot == nil {
		return nil, nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup: %w", err)
	}
	return string(data), nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
