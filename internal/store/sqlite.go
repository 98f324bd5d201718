package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"flowvault/internal/model"
	"flowvault/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers. A single
	// connection also gives us the single-writer serialization the core
	// relies on.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, fn, false)
}

func (s *sqliteStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, fn, true)
}

func (s *sqliteStore) run(ctx context.Context, fn func(tx Tx) error, readOnly bool) error {
	// Plain transactions for both paths; views roll back instead of
	// committing, so they can never persist anything.
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	tx := &sqlTx{ctx: ctx, tx: dbTx}
	if err := fn(tx); err != nil {
		_ = dbTx.Rollback()
		return err
	}
	if readOnly {
		return dbTx.Rollback()
	}
	return dbTx.Commit()
}

type sqlTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqlTx) Balance(owner model.AccountID) (model.Amount, error) {
	var raw string
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT balance FROM balances WHERE account = ?`, string(owner)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Amount{}, nil
	}
	if err != nil {
		return model.Amount{}, err
	}
	return model.ParseAmount(raw)
}

func (t *sqlTx) SetBalance(owner model.AccountID, v model.Amount) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO balances(account, balance) VALUES(?,?)
		 ON CONFLICT(account) DO UPDATE SET balance=excluded.balance`,
		string(owner), v.String())
	return err
}

func (t *sqlTx) Accounts() ([]model.AccountID, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT account FROM balances ORDER BY account`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AccountID
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, model.AccountID(a))
	}
	return out, rows.Err()
}

func (t *sqlTx) NextRuleID() (uint64, error) {
	var raw string
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT value FROM meta WHERE key = 'next_rule_id'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(raw, 10, 64)
}

func (t *sqlTx) SetNextRuleID(id uint64) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO meta(key, value) VALUES('next_rule_id', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		strconv.FormatUint(id, 10))
	return err
}

const ruleCols = `id, owner, trigger_kind, schedule, action, status, template,
	recipient, amount, last_executed, next_execution, execution_count`

func scanRule(scan func(dest ...any) error) (*model.Rule, error) {
	var (
		r                        model.Rule
		owner, recipient, amount string
		trigger, schedule        int64
		action, status           int64
		lastExec, nextExec       int64
	)
	err := scan(&r.ID, &owner, &trigger, &schedule, &action, &status,
		&r.Template, &recipient, &amount, &lastExec, &nextExec, &r.ExecutionCount)
	if err != nil {
		return nil, err
	}
	r.Owner = model.AccountID(owner)
	r.Trigger = model.TriggerKind(trigger)
	r.Schedule = model.Schedule(schedule)
	r.Action = model.ActionKind(action)
	r.Status = model.RuleStatus(status)
	r.Recipient = model.AccountID(recipient)
	if r.Amount, err = model.ParseAmount(amount); err != nil {
		return nil, err
	}
	r.LastExecuted = fromMilli(lastExec)
	r.NextExecution = fromMilli(nextExec)
	return &r, nil
}

func (t *sqlTx) Rule(id uint64) (*model.Rule, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT `+ruleCols+` FROM rules WHERE id = ?`, id)
	r, err := scanRule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (t *sqlTx) PutRule(r *model.Rule) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO rules(`+ruleCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
			owner=excluded.owner, trigger_kind=excluded.trigger_kind,
			schedule=excluded.schedule, action=excluded.action,
			status=excluded.status, template=excluded.template,
			recipient=excluded.recipient, amount=excluded.amount,
			last_executed=excluded.last_executed,
			next_execution=excluded.next_execution,
			execution_count=excluded.execution_count`,
		r.ID, string(r.Owner), int(r.Trigger), int(r.Schedule), int(r.Action),
		int(r.Status), r.Template, string(r.Recipient), r.Amount.String(),
		toMilli(r.LastExecuted), toMilli(r.NextExecution), r.ExecutionCount)
	return err
}

func (t *sqlTx) Rules() ([]*model.Rule, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT `+ruleCols+` FROM rules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Rule
	for rows.Next() {
		r, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *sqlTx) RuleIDs(owner model.AccountID) ([]uint64, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT rule_id FROM rule_index WHERE owner = ? ORDER BY seq`, string(owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (t *sqlTx) AppendRuleID(owner model.AccountID, id uint64) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO rule_index(owner, rule_id) VALUES(?,?)`, string(owner), id)
	return err
}

func (t *sqlTx) RuleCount(owner model.AccountID) (uint32, error) {
	var n uint32
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT count FROM rule_counts WHERE owner = ?`, string(owner)).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (t *sqlTx) SetRuleCount(owner model.AccountID, n uint32) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO rule_counts(owner, count) VALUES(?,?)
		 ON CONFLICT(owner) DO UPDATE SET count=excluded.count`,
		string(owner), n)
	return err
}

func (t *sqlTx) AppendAudit(rec model.Record) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO audit(at, kind, account, rule_id, recipient, amount, balance, detail)
		 VALUES(?,?,?,?,?,?,?,?)`,
		rec.At.Format(time.RFC3339Nano), string(rec.Kind), string(rec.Account),
		rec.RuleID, string(rec.Recipient), rec.Amount.String(),
		rec.Balance.String(), rec.Detail)
	return err
}

func (t *sqlTx) AuditLog(limit int) ([]model.Record, error) {
	q := `SELECT at, kind, account, rule_id, recipient, amount, balance, detail
	      FROM audit ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := t.tx.QueryContext(t.ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Record
	for rows.Next() {
		var (
			rec                 model.Record
			at, amount, balance string
		)
		err := rows.Scan(&at, (*string)(&rec.Kind), (*string)(&rec.Account),
			&rec.RuleID, (*string)(&rec.Recipient), &amount, &balance, &rec.Detail)
		if err != nil {
			return nil, err
		}
		if rec.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, err
		}
		if rec.Amount, err = model.ParseAmount(amount); err != nil {
			return nil, err
		}
		if rec.Balance, err = model.ParseAmount(balance); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func toMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
