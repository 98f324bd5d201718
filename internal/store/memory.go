package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"flowvault/internal/model"
)

// memStore is the in-process backend. A single mutex serializes every
// transaction, which is exactly the single-writer model the core relies on.
type memStore struct {
	mu sync.Mutex

	balances map[model.AccountID]model.Amount
	rules    map[uint64]model.Rule
	ruleIDs  map[model.AccountID][]uint64
	counts   map[model.AccountID]uint32
	nextID   uint64
	audit    []model.Record
}

func newMemory() *memStore {
	return &memStore{
		balances: map[model.AccountID]model.Amount{},
		rules:    map[uint64]model.Rule{},
		ruleIDs:  map[model.AccountID][]uint64{},
		counts:   map[model.AccountID]uint32{},
		nextID:   1,
	}
}

var errReadOnly = errors.New("store: write inside read-only transaction")

func (s *memStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, fn, false)
}

func (s *memStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, fn, true)
}

func (s *memStore) run(ctx context.Context, fn func(tx Tx) error, readOnly bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s, readOnly: readOnly}
	if err := fn(tx); err != nil {
		return err
	}
	if !readOnly {
		tx.commit()
	}
	return nil
}

func (s *memStore) Close() error { return nil }

// memTx stages writes in overlay maps and applies them on commit, so a
// failed operation leaves the base state untouched.
type memTx struct {
	s        *memStore
	readOnly bool

	balances map[model.AccountID]model.Amount
	rules    map[uint64]model.Rule
	ruleIDs  map[model.AccountID][]uint64
	counts   map[model.AccountID]uint32
	nextID   *uint64
	audit    []model.Record
}

func (tx *memTx) commit() {
	for k, v := range tx.balances {
		tx.s.balances[k] = v
	}
	for k, v := range tx.rules {
		tx.s.rules[k] = v
	}
	for k, v := range tx.ruleIDs {
		tx.s.ruleIDs[k] = v
	}
	for k, v := range tx.counts {
		tx.s.counts[k] = v
	}
	if tx.nextID != nil {
		tx.s.nextID = *tx.nextID
	}
	tx.s.audit = append(tx.s.audit, tx.audit...)
}

func (tx *memTx) Balance(owner model.AccountID) (model.Amount, error) {
	if v, ok := tx.balances[owner]; ok {
		return v, nil
	}
	return tx.s.balances[owner], nil
}

func (tx *memTx) SetBalance(owner model.AccountID, v model.Amount) error {
	if tx.readOnly {
		return errReadOnly
	}
	if tx.balances == nil {
		tx.balances = map[model.AccountID]model.Amount{}
	}
	tx.balances[owner] = v
	return nil
}

func (tx *memTx) Accounts() ([]model.AccountID, error) {
	seen := map[model.AccountID]bool{}
	out := make([]model.AccountID, 0, len(tx.s.balances)+len(tx.balances))
	for id := range tx.s.balances {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for id := range tx.balances {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (tx *memTx) NextRuleID() (uint64, error) {
	if tx.nextID != nil {
		return *tx.nextID, nil
	}
	return tx.s.nextID, nil
}

func (tx *memTx) SetNextRuleID(id uint64) error {
	if tx.readOnly {
		return errReadOnly
	}
	tx.nextID = &id
	return nil
}

func (tx *memTx) Rule(id uint64) (*model.Rule, error) {
	if r, ok := tx.rules[id]; ok {
		cp := r
		return &cp, nil
	}
	if r, ok := tx.s.rules[id]; ok {
		cp := r
		return &cp, nil
	}
	return nil, nil
}

func (tx *memTx) PutRule(r *model.Rule) error {
	if tx.readOnly {
		return errReadOnly
	}
	if tx.rules == nil {
		tx.rules = map[uint64]model.Rule{}
	}
	tx.rules[r.ID] = *r
	return nil
}

func (tx *memTx) Rules() ([]*model.Rule, error) {
	merged := map[uint64]model.Rule{}
	for id, r := range tx.s.rules {
		merged[id] = r
	}
	for id, r := range tx.rules {
		merged[id] = r
	}
	ids := make([]uint64, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*model.Rule, 0, len(ids))
	for _, id := range ids {
		cp := merged[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (tx *memTx) RuleIDs(owner model.AccountID) ([]uint64, error) {
	if ids, ok := tx.ruleIDs[owner]; ok {
		return append([]uint64(nil), ids...), nil
	}
	return append([]uint64(nil), tx.s.ruleIDs[owner]...), nil
}

func (tx *memTx) AppendRuleID(owner model.AccountID, id uint64) error {
	if tx.readOnly {
		return errReadOnly
	}
	cur, _ := tx.RuleIDs(owner)
	if tx.ruleIDs == nil {
		tx.ruleIDs = map[model.AccountID][]uint64{}
	}
	tx.ruleIDs[owner] = append(cur, id)
	return nil
}

func (tx *memTx) RuleCount(owner model.AccountID) (uint32, error) {
	if n, ok := tx.counts[owner]; ok {
		return n, nil
	}
	return tx.s.counts[owner], nil
}

func (tx *memTx) SetRuleCount(owner model.AccountID, n uint32) error {
	if tx.readOnly {
		return errReadOnly
	}
	if tx.counts == nil {
		tx.counts = map[model.AccountID]uint32{}
	}
	tx.counts[owner] = n
	return nil
}

func (tx *memTx) AppendAudit(rec model.Record) error {
	if tx.readOnly {
		return errReadOnly
	}
	tx.audit = append(tx.audit, rec)
	return nil
}

func (tx *memTx) AuditLog(limit int) ([]model.Record, error) {
	all := make([]model.Record, 0, len(tx.s.audit)+len(tx.audit))
	all = append(all, tx.s.audit...)
	all = append(all, tx.audit...)
	// newest first
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
