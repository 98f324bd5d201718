// Package store persists the ledger balances, the rule book, the per-account
// rule history and counts, and the audit log.
//
// Core logic is storage-engine-agnostic: it only sees the Store/Tx contract.
// The one guarantee every driver must honor is that Update runs its function
// inside a single atomic transaction: either every staged write (including
// appended audit records) commits, or none do.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"flowvault/internal/model"
	"flowvault/pkg/logx"
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process backend, state is lost on exit
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Tx is a consistent view of all persisted state. Writes are staged and
// commit only if the surrounding Update function returns nil.
type Tx interface {
	// Balance returns the ledger balance for an account, zero by default.
	// A zero balance is a valid steady state, not an absence.
	Balance(owner model.AccountID) (model.Amount, error)
	SetBalance(owner model.AccountID, v model.Amount) error
	// Accounts lists every account that has ever held a balance entry.
	Accounts() ([]model.AccountID, error)

	// NextRuleID returns the next id to assign; it starts at 1.
	NextRuleID() (uint64, error)
	SetNextRuleID(id uint64) error

	// Rule returns the rule with the given id, or nil when absent.
	Rule(id uint64) (*model.Rule, error)
	PutRule(r *model.Rule) error
	// Rules returns every stored rule ordered by id.
	Rules() ([]*model.Rule, error)

	// RuleIDs is the append-only history of ids ever created by an account,
	// deleted ones included.
	RuleIDs(owner model.AccountID) ([]uint64, error)
	AppendRuleID(owner model.AccountID, id uint64) error

	// RuleCount is the per-account active-rule counter used for tier limits.
	RuleCount(owner model.AccountID) (uint32, error)
	SetRuleCount(owner model.AccountID, n uint32) error

	// AppendAudit stages an immutable audit record; it commits with the
	// transaction, so aborted operations leave no trace.
	AppendAudit(rec model.Record) error
	// AuditLog returns the most recent records, newest first.
	AuditLog(limit int) ([]model.Record, error)
}

// Store is the persistence API shared by the vault and the rule engine.
// Mutating operations on one Store are serialized by the driver.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return newMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
