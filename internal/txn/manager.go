// Package txn drives approved documents through the guarded write pipeline:
// lock, backup, write, verify, and commit or roll back.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/health"
	"github.com/Veraticus/the-books-must-balance/internal/ledger"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

// Error codes returned by the manager.
const (
	CodeNotFound       = "TRANSACTION_NOT_FOUND"
	CodeLockBusy       = "LOCK_BUSY"
	CodeInProgress     = "IN_PROGRESS"
	CodeFinished       = "TRANSACTION_FINISHED"
	CodeBackupFailed   = "BACKUP_FAILED"
	CodeWriteRejected  = "WRITE_REJECTED"
	CodeWriteTimeout   = "WRITE_TIMEOUT"
	CodeWriteFailed    = "WRITE_FAILED"
	CodeVerifyFailed   = "VERIFY_FAILED"
	CodeRollbackFailed = "ROLLBACK_FAILED"
	CodeStoreFailed    = "STATE_UPDATE_FAILED"
)

// AuditRecorder appends audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry model.AuditEntry) error
}

// Config bounds every step of the pipeline.
type Config struct {
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
	BackupTimeout  time.Duration `mapstructure:"backup_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	VerifyTimeout  time.Duration `mapstructure:"verify_timeout"`
	RestoreTimeout time.Duration `mapstructure:"restore_timeout"`
	WriteBackoff   time.Duration `mapstructure:"write_backoff"`
	WriteAttempts  int           `mapstructure:"write_attempts"`
}

// DefaultConfig returns production timeouts.
func DefaultConfig() Config {
	return Config{
		LockTTL:        60 * time.Second,
		BackupTimeout:  5 * time.Second,
		WriteTimeout:   10 * time.Second,
		VerifyTimeout:  5 * time.Second,
		RestoreTimeout: 20 * time.Second,
		WriteBackoff:   500 * time.Millisecond,
		WriteAttempts:  3,
	}
}

// Manager owns transaction state. Nothing else changes a transaction's status.
type Manager struct {
	store    service.TransactionStore
	ledger   service.Ledger
	locker   Locker
	audit    AuditRecorder
	breakers *health.Breakers
	logger   *slog.Logger
	now      func() time.Time
	cfg      Config
}

// NewManager wires a manager. breakers may be nil.
func NewManager(store service.TransactionStore, l service.Ledger, locker Locker, audit AuditRecorder,
	breakers *health.Breakers, cfg Config, logger *slog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.BackupTimeout <= 0 {
		cfg.BackupTimeout = def.BackupTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = def.VerifyTimeout
	}
	if cfg.RestoreTimeout <= 0 {
		cfg.RestoreTimeout = def.RestoreTimeout
	}
	if cfg.WriteAttempts <= 0 {
		cfg.WriteAttempts = def.WriteAttempts
	}
	if cfg.WriteBackoff <= 0 {
		cfg.WriteBackoff = def.WriteBackoff
	}
	return &Manager{
		store:    store,
		ledger:   l,
		locker:   locker,
		audit:    audit,
		breakers: breakers,
		logger:   common.OrDefault(logger),
		now:      time.Now,
		cfg:      cfg,
	}
}

// LockKey scopes the write lock to one counterparty's ledger state.
func LockKey(counterparty string) string {
	return "ledger:" + strings.ToLower(strings.TrimSpace(counterparty))
}

// Begin records a new transaction in INIT. Beginning an existing id returns
// the stored transaction unchanged.
func (m *Manager) Begin(ctx context.Context, id, actor string, doc model.Document) (*model.Transaction, error) {
	doc.Reference = id
	txn := &model.Transaction{
		ID:      id,
		Status:  model.StatusInit,
		LockKey: LockKey(doc.Counterparty),
		Actor:   actor,
		Payload: doc,
	}

	err := m.store.CreateTransaction(ctx, txn)
	if errors.Is(err, common.ErrDuplicateEntry) {
		return m.store.GetTransaction(ctx, id)
	}
	if err != nil {
		return nil, common.NewSystemError(CodeStoreFailed, "could not record the transaction", err)
	}

	m.record(ctx, txn, "", model.StatusInit, "approved")
	return txn, nil
}

// Execute runs transaction id to a terminal state. Executing a committed
// transaction returns the stored result without touching the ledger again.
// Concurrent calls for the same id: exactly one proceeds, the others get a
// retryable IN_PROGRESS or LOCK_BUSY error.
func (m *Manager) Execute(ctx context.Context, id, actor string) (*model.Transaction, error) {
	txn, err := m.store.GetTransaction(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.NewTransactionError(CodeNotFound, "no approved transaction with that id", false, err)
	}
	if err != nil {
		return nil, common.NewSystemError(CodeStoreFailed, "could not load the transaction", err)
	}
	if actor != "" {
		txn.Actor = actor
	}

	if done, err := m.settled(txn); done {
		return txn, err
	}

	unlock, err := m.locker.TryLock(ctx, txn.LockKey, m.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, ErrLockBusy) {
			busy := common.NewTransactionError(CodeLockBusy, "another write for this account is in progress", true, err)
			busy.RetryAfter = time.Second
			return txn, busy.WithSuggestions("retry in a moment")
		}
		return txn, common.NewSystemError("LOCK_UNAVAILABLE", "could not acquire the write lock", err)
	}
	defer m.release(ctx, txn, unlock)

	if err := m.transition(ctx, txn, model.StatusLocked, service.TransactionUpdate{}, "lock acquired"); err != nil {
		if errors.Is(err, common.ErrStaleState) {
			return m.reloadAfterRace(ctx, id)
		}
		return txn, common.NewSystemError(CodeStoreFailed, "could not update transaction state", err)
	}

	return m.run(ctx, txn)
}

// settled handles transactions that must not be driven from the top.
func (m *Manager) settled(txn *model.Transaction) (bool, error) {
	switch txn.Status {
	case model.StatusInit:
		return false, nil
	case model.StatusCommitted:
		return true, nil
	case model.StatusRolledBack, model.StatusFailed:
		msg := fmt.Sprintf("transaction already finished as %s", txn.Status)
		if txn.LastError != "" {
			msg += ": " + txn.LastError
		}
		return true, common.NewTransactionError(CodeFinished, msg, false, nil).
			WithSuggestions("submit the command again to create a new transaction")
	default:
		return true, common.NewTransactionError(CodeInProgress, "transaction is already being written", true, nil)
	}
}

func (m *Manager) reloadAfterRace(ctx context.Context, id string) (*model.Transaction, error) {
	txn, err := m.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, common.NewSystemError(CodeStoreFailed, "could not load the transaction", err)
	}
	if txn.Status == model.StatusCommitted {
		return txn, nil
	}
	return txn, common.NewTransactionError(CodeInProgress, "transaction is already being written", true, nil)
}

// run drives a LOCKED transaction to a terminal state.
func (m *Manager) run(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	doc := txn.Payload

	snapshot, err := m.backup(ctx, doc.Counterparty)
	if err != nil {
		m.fail(ctx, txn, model.StatusFailed, err)
		return txn, common.NewTransactionError(CodeBackupFailed, "could not read the ledger before writing", false, err).
			WithSuggestions("check the ledger connection and submit the command again")
	}
	if err := m.transition(ctx, txn, model.StatusBackedUp, service.TransactionUpdate{Backup: snapshot}, "backup taken"); err != nil {
		return txn, m.storeError(err)
	}

	ack, attempts, err := m.write(ctx, doc)
	if err != nil {
		return txn, m.writeFailed(ctx, txn, err)
	}
	update := service.TransactionUpdate{ExternalRef: &ack.ExternalRef, AddRetries: attempts - 1}
	if err := m.transition(ctx, txn, model.StatusWritten, update, "ledger accepted write"); err != nil {
		return txn, m.storeError(err)
	}

	if err := m.verify(ctx, &doc); err != nil {
		m.logger.Warn("verification failed, rolling back", "transaction_id", txn.ID, "error", err)
		if rbErr := m.restore(ctx, txn.Backup, doc.Reference); rbErr != nil {
			m.fail(ctx, txn, model.StatusFailed, fmt.Errorf("verify: %w; rollback: %w", err, rbErr))
			return txn, m.rollbackFailed(txn, rbErr)
		}
		m.fail(ctx, txn, model.StatusRolledBack, err)
		return txn, common.NewTransactionError(CodeVerifyFailed, "the ledger did not confirm the write; it was rolled back", false, err).
			WithSuggestions("submit the command again")
	}
	if err := m.transition(ctx, txn, model.StatusVerified, service.TransactionUpdate{}, "write verified"); err != nil {
		return txn, m.storeError(err)
	}

	if err := m.transition(ctx, txn, model.StatusCommitted, service.TransactionUpdate{}, "committed"); err != nil {
		return txn, m.storeError(err)
	}

	m.logger.Info("transaction committed",
		"transaction_id", txn.ID,
		"voucher_type", doc.VoucherType,
		"external_ref", txn.ExternalRef)
	return txn, nil
}

func (m *Manager) backup(ctx context.Context, counterparty string) (*model.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.BackupTimeout)
	defer cancel()

	var state *model.LedgerState
	err := m.breakers.Execute(health.DependencyLedger, func() error {
		var err error
		state, err = m.ledger.Read(ctx, model.LedgerQuery{Counterparty: counterparty})
		return err
	})
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &model.LedgerState{}
	}
	return &model.Snapshot{State: *state, Counterparty: counterparty, Empty: len(state.Vouchers) == 0}, nil
}

// write retries only failures that happened before the ledger saw the request.
func (m *Manager) write(ctx context.Context, doc model.Document) (model.WriteAck, int, error) {
	attempts := 0
	var ack model.WriteAck
	policy := common.RetryPolicy{
		Name:           "ledger write",
		MaxAttempts:    m.cfg.WriteAttempts,
		AttemptTimeout: m.cfg.WriteTimeout,
		Backoff:        common.ExponentialBackoff(m.cfg.WriteBackoff, 5*time.Second),
		Logger:         m.logger,
		IsRetryable: func(err error) bool {
			return errors.Is(err, common.ErrUnavailable) && !errors.Is(err, ledger.ErrUncertain)
		},
	}

	err := policy.Do(ctx, func(ctx context.Context) error {
		attempts++
		return m.breakers.Execute(health.DependencyLedger, func() error {
			var err error
			ack, err = m.ledger.Write(ctx, doc)
			if err == nil && !ack.Accepted {
				err = &ledger.RejectedError{Reason: "write not acknowledged"}
			}
			return err
		})
	})
	return ack, attempts, err
}

// writeFailed undoes anything a failed write may have left behind and marks the transaction FAILED.
func (m *Manager) writeFailed(ctx context.Context, txn *model.Transaction, err error) error {
	if rbErr := m.restore(ctx, txn.Backup, txn.Payload.Reference); rbErr != nil {
		m.fail(ctx, txn, model.StatusFailed, fmt.Errorf("write: %w; rollback: %w", err, rbErr))
		return m.rollbackFailed(txn, rbErr)
	}
	m.fail(ctx, txn, model.StatusFailed, err)

	switch {
	case errors.Is(err, ledger.ErrRejected):
		var rejected *ledger.RejectedError
		msg := "the ledger rejected the voucher"
		if errors.As(err, &rejected) {
			msg += ": " + rejected.Reason
		}
		return common.NewTransactionError(CodeWriteRejected, msg, false, err).
			WithSuggestions("correct the command and submit it again")
	case errors.Is(err, common.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return common.NewTransactionError(CodeWriteTimeout, "the ledger did not answer in time; nothing was written", false, err).
			WithSuggestions("submit the command again")
	default:
		return common.NewTransactionError(CodeWriteFailed, "the ledger write failed; nothing was written", false, err).
			WithSuggestions("submit the command again")
	}
}

// verify reads the voucher back independently of the write acknowledgment.
func (m *Manager) verify(ctx context.Context, doc *model.Document) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.VerifyTimeout)
	defer cancel()

	var state *model.LedgerState
	err := m.breakers.Execute(health.DependencyLedger, func() error {
		var err error
		state, err = m.ledger.Read(ctx, model.LedgerQuery{Reference: doc.Reference})
		return err
	})
	if err != nil {
		return fmt.Errorf("read back: %w", err)
	}
	if state == nil {
		return fmt.Errorf("voucher %s not found after write", doc.Reference)
	}

	found := 0
	for i := range state.Vouchers {
		v := &state.Vouchers[i]
		if v.Document.Reference != doc.Reference {
			continue
		}
		found++
		if !doc.Matches(&v.Document) {
			return fmt.Errorf("stored voucher %s differs from the approved document", doc.Reference)
		}
	}
	switch found {
	case 0:
		return fmt.Errorf("voucher %s not found after write", doc.Reference)
	case 1:
		return nil
	default:
		return fmt.Errorf("voucher %s stored %d times", doc.Reference, found)
	}
}

// restore makes the counterparty's ledger state equal to snapshot again.
// It runs on a fresh context so an expired request cannot strand a partial write.
func (m *Manager) restore(ctx context.Context, snapshot *model.Snapshot, reference string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.RestoreTimeout)
	defer cancel()

	keep := make(map[string]bool)
	if snapshot != nil {
		for _, v := range snapshot.State.Vouchers {
			keep[v.Document.Reference] = true
		}
	}

	if !keep[reference] {
		if err := m.ledger.Delete(ctx, reference); err != nil {
			return fmt.Errorf("delete %s: %w", reference, err)
		}
	}
	if snapshot == nil {
		return nil
	}

	current, err := m.ledger.Read(ctx, model.LedgerQuery{Counterparty: snapshot.Counterparty})
	if err != nil {
		return fmt.Errorf("read for restore: %w", err)
	}

	present := make(map[string]bool)
	for _, v := range current.Vouchers {
		present[v.Document.Reference] = true
		if !keep[v.Document.Reference] {
			if err := m.ledger.Delete(ctx, v.Document.Reference); err != nil {
				return fmt.Errorf("delete %s: %w", v.Document.Reference, err)
			}
		}
	}
	for _, v := range snapshot.State.Vouchers {
		if present[v.Document.Reference] {
			continue
		}
		if _, err := m.ledger.Write(ctx, v.Document); err != nil {
			return fmt.Errorf("restore %s: %w", v.Document.Reference, err)
		}
	}
	return nil
}

// RecoverStale finishes transactions abandoned mid-pipeline, for example by a
// crashed worker. Verified writes are committed; anything earlier is rolled back.
// It returns how many transactions were settled.
func (m *Manager) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan < m.cfg.LockTTL {
		olderThan = m.cfg.LockTTL
	}
	stale, err := m.store.ListStaleTransactions(ctx, m.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("list stale transactions: %w", err)
	}

	recovered := 0
	for i := range stale {
		if err := ctx.Err(); err != nil {
			return recovered, err
		}
		ok, err := m.recoverOne(ctx, &stale[i])
		if err != nil {
			m.logger.Error("recovery failed", "transaction_id", stale[i].ID, "status", stale[i].Status, "error", err)
			continue
		}
		if ok {
			recovered++
		}
	}
	return recovered, nil
}

func (m *Manager) recoverOne(ctx context.Context, stale *model.Transaction) (bool, error) {
	unlock, err := m.locker.TryLock(ctx, stale.LockKey, m.cfg.LockTTL)
	if errors.Is(err, ErrLockBusy) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	txn, err := m.store.GetTransaction(ctx, stale.ID)
	if err != nil {
		_ = unlock.Unlock(context.WithoutCancel(ctx))
		return false, err
	}
	txn.Actor = "recovery"
	defer m.release(ctx, txn, unlock)

	reason := errors.New("abandoned by a previous worker")
	switch txn.Status {
	case model.StatusVerified:
		if err := m.transition(ctx, txn, model.StatusCommitted, service.TransactionUpdate{}, "recovered verified write"); err != nil {
			return false, err
		}
	case model.StatusInit, model.StatusLocked:
		m.fail(ctx, txn, model.StatusFailed, reason)
	case model.StatusBackedUp, model.StatusWritten:
		if err := m.restore(ctx, txn.Backup, txn.Payload.Reference); err != nil {
			m.fail(ctx, txn, model.StatusFailed, fmt.Errorf("%w; rollback: %w", reason, err))
			return false, m.rollbackFailed(txn, err)
		}
		m.fail(ctx, txn, model.StatusRolledBack, reason)
	default:
		return false, nil
	}

	m.logger.Info("recovered stale transaction", "transaction_id", txn.ID, "status", txn.Status)
	return true, nil
}

// transition persists a status change and audits it. txn is updated in place.
func (m *Manager) transition(ctx context.Context, txn *model.Transaction, to model.TransactionStatus,
	update service.TransactionUpdate, reason string) error {
	from := txn.Status
	if err := m.store.TransitionTransaction(context.WithoutCancel(ctx), txn.ID, from, to, update); err != nil {
		return err
	}

	txn.Status = to
	txn.UpdatedAt = m.now()
	if update.Backup != nil {
		txn.Backup = update.Backup
	}
	if update.ExternalRef != nil {
		txn.ExternalRef = *update.ExternalRef
	}
	if update.LastError != nil {
		txn.LastError = *update.LastError
	}
	txn.RetryCount += update.AddRetries

	m.record(ctx, txn, from, to, reason)
	return nil
}

// fail moves txn to a terminal failure state, logging rather than returning store errors.
func (m *Manager) fail(ctx context.Context, txn *model.Transaction, to model.TransactionStatus, cause error) {
	msg := cause.Error()
	if err := m.transition(ctx, txn, to, service.TransactionUpdate{LastError: &msg}, msg); err != nil {
		m.logger.Error("failed to record transaction failure",
			"transaction_id", txn.ID,
			"status", txn.Status,
			"target", to,
			"error", err)
	}
}

func (m *Manager) record(ctx context.Context, txn *model.Transaction, from, to model.TransactionStatus, reason string) {
	if m.audit == nil {
		return
	}
	entry := model.AuditEntry{
		EntityType: model.AuditEntityTransaction,
		EntityID:   txn.ID,
		Actor:      txn.Actor,
		Action:     "status_change",
		OldValue:   string(from),
		NewValue:   string(to),
		Reason:     reason,
	}
	if err := m.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		m.logger.Error("audit write failed", "transaction_id", txn.ID, "to", to, "error", err)
	}
}

func (m *Manager) release(ctx context.Context, txn *model.Transaction, unlock Unlocker) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := unlock.Unlock(ctx); err != nil {
		m.logger.Warn("failed to release lock", "transaction_id", txn.ID, "lock_key", txn.LockKey, "error", err)
	}
}

func (m *Manager) rollbackFailed(txn *model.Transaction, err error) error {
	m.logger.Error("ROLLBACK FAILED: ledger may hold a partial write",
		"transaction_id", txn.ID,
		"reference", txn.Payload.Reference,
		"counterparty", txn.Payload.Counterparty,
		"error", err)
	rbErr := common.NewTransactionError(CodeRollbackFailed,
		"the write could not be undone; the ledger needs manual review", false, err)
	rbErr.Severity = common.SeverityCritical
	return rbErr.WithSuggestions("check voucher " + txn.Payload.Reference + " in the ledger")
}

func (m *Manager) storeError(err error) error {
	return common.NewSystemError(CodeStoreFailed, "could not update transaction state", err)
}
