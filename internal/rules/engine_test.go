package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"flowvault/internal/model"
	"flowvault/internal/store"
	"flowvault/internal/vault"
	"flowvault/pkg/logx"
)

const engineID model.AccountID = "automation-engine"

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time      { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type falseCondition struct{}

func (falseCondition) Evaluate(context.Context, *model.Rule) (bool, error) { return false, nil }

type countingCompounder struct{ calls int }

func (c *countingCompounder) Compound(context.Context, model.AccountID) error {
	c.calls++
	return nil
}

// testHarness wires a real vault behind the engine so execute paths exercise
// the nested-transaction debit end to end.
type testHarness struct {
	st  store.Store
	v   *vault.Vault
	eng *Engine
	clk *fakeClock
}

func newHarness(t *testing.T, opts Options) *testHarness {
	t.Helper()
	st, err := store.Open(store.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	clk := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	v := vault.New(st, nil, logx.Nop(), clk, vault.NopPayout(), "admin")
	if err := v.SetAutomationEngine("admin", engineID); err != nil {
		t.Fatalf("SetAutomationEngine: %v", err)
	}
	eng := NewEngine(st, nil, logx.Nop(), clk, engineID, v, opts)
	return &testHarness{st: st, v: v, eng: eng, clk: clk}
}

func (h *testHarness) deposit(t *testing.T, owner model.AccountID, n uint64) {
	t.Helper()
	if err := h.v.Deposit(context.Background(), owner, model.NewAmount(n)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func (h *testHarness) balance(t *testing.T, owner model.AccountID) model.Amount {
	t.Helper()
	bal, err := h.v.BalanceOf(context.Background(), owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func TestDailyTransferLifecycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.deposit(t, "alice", 100)

	created := h.clk.Now()
	id, err := h.eng.CreateRule(ctx, "alice", RuleSpec{
		Template:  "recurring_payment",
		Trigger:   model.TriggerTime,
		Schedule:  model.ScheduleDaily,
		Action:    model.ActionTransfer,
		Recipient: "bob",
		Amount:    model.NewAmount(30),
	})
	if err != nil {
		t.Fatalf("CreateRule error: %v", err)
	}
	if id != 1 {
		t.Fatalf("first rule id = %d, want 1", id)
	}

	r, err := h.eng.Rule(ctx, id)
	if err != nil {
		t.Fatalf("Rule error: %v", err)
	}
	if want := created.Add(24 * time.Hour); !r.NextExecution.Equal(want) {
		t.Fatalf("next execution = %v, want %v", r.NextExecution, want)
	}

	// Not due yet: the attempt fails and leaves every balance untouched.
	if err := h.eng.ExecuteRule(ctx, "keeper", id); !errors.Is(err, ErrTriggerTimeNotReached) {
		t.Fatalf("early execute = %v, want ErrTriggerTimeNotReached", err)
	}
	if bal := h.balance(t, "alice"); bal.Cmp(model.NewAmount(100)) != 0 {
		t.Fatalf("balance after early execute = %s, want 100", bal)
	}

	h.clk.Advance(24 * time.Hour)
	execAt := h.clk.Now()
	if err := h.eng.ExecuteRule(ctx, "keeper", id); err != nil {
		t.Fatalf("due execute error: %v", err)
	}

	if bal := h.balance(t, "alice"); bal.Cmp(model.NewAmount(70)) != 0 {
		t.Fatalf("balance after execute = %s, want 70", bal)
	}
	r, _ = h.eng.Rule(ctx, id)
	if !r.LastExecuted.Equal(execAt) {
		t.Fatalf("last executed = %v, want %v", r.LastExecuted, execAt)
	}
	if want := execAt.Add(24 * time.Hour); !r.NextExecution.Equal(want) {
		t.Fatalf("rescheduled next execution = %v, want %v", r.NextExecution, want)
	}
	if r.ExecutionCount != 1 {
		t.Fatalf("execution count = %d, want 1", r.ExecutionCount)
	}
}

func TestTierLimitAndIDHistory(t *testing.T) {
	t.Parallel()
	// Zero holdings: starter tier, at most two live rules.
	h := newHarness(t, Options{Tiers: FixedHoldings(model.Amount{})})
	ctx := context.Background()

	spec := RuleSpec{
		Trigger:   model.TriggerManual,
		Schedule:  model.ScheduleDaily,
		Action:    model.ActionTransfer,
		Recipient: "bob",
		Amount:    model.NewAmount(1),
	}
	for want := uint64(1); want <= 2; want++ {
		id, err := h.eng.CreateRule(ctx, "alice", spec)
		if err != nil {
			t.Fatalf("CreateRule #%d error: %v", want, err)
		}
		if id != want {
			t.Fatalf("rule id = %d, want %d", id, want)
		}
	}

	// Third create hits the tier cap and must not consume an id.
	if _, err := h.eng.CreateRule(ctx, "alice", spec); !errors.Is(err, ErrMaxRulesReached) {
		t.Fatalf("over-cap create = %v, want ErrMaxRulesReached", err)
	}

	if err := h.eng.DeleteRule(ctx, "alice", 1); err != nil {
		t.Fatalf("DeleteRule error: %v", err)
	}

	// Ids are never reused: the freed slot gets a fresh id.
	id, err := h.eng.CreateRule(ctx, "alice", spec)
	if err != nil {
		t.Fatalf("CreateRule after delete error: %v", err)
	}
	if id != 3 {
		t.Fatalf("rule id after delete = %d, want 3", id)
	}

	ids, err := h.eng.RuleIDs(ctx, "alice")
	if err != nil {
		t.Fatalf("RuleIDs error: %v", err)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("rule id history = %v, want [1 2 3]", ids)
	}

	count, err := h.eng.ActiveRuleCount(ctx, "alice")
	if err != nil {
		t.Fatalf("ActiveRuleCount error: %v", err)
	}
	if count != 2 {
		t.Fatalf("active rule count = %d, want 2", count)
	}
}

func TestTierForHoldingsRaisesCap(t *testing.T) {
	t.Parallel()
	// Bronze holdings: up to five live rules.
	h := newHarness(t, Options{Tiers: FixedHoldings(model.NewAmount(100_000_000_000))})
	ctx := context.Background()

	tier, err := h.eng.TierOf(ctx, "alice")
	if err != nil {
		t.Fatalf("TierOf error: %v", err)
	}
	if tier != model.TierBronze {
		t.Fatalf("tier = %v, want bronze", tier)
	}

	spec := RuleSpec{
		Trigger:   model.TriggerManual,
		Schedule:  model.ScheduleDaily,
		Action:    model.ActionTransfer,
		Recipient: "bob",
		Amount:    model.NewAmount(1),
	}
	for i := 0; i < 5; i++ {
		if _, err := h.eng.CreateRule(ctx, "alice", spec); err != nil {
			t.Fatalf("CreateRule #%d error: %v", i+1, err)
		}
	}
	if _, err := h.eng.CreateRule(ctx, "alice", spec); !errors.Is(err, ErrMaxRulesReached) {
		t.Fatalf("sixth create = %v, want ErrMaxRulesReached", err)
	}
}

func TestStatusMachine(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.deposit(t, "alice", 100)

	id, err := h.eng.CreateRule(ctx, "alice", RuleSpec{
		Trigger:   model.TriggerManual,
		Schedule:  model.ScheduleWeekly,
		Action:    model.ActionTransfer,
		Recipient: "bob",
		Amount:    model.NewAmount(10),
	})
	if err != nil {
		t.Fatalf("CreateRule error: %v", err)
	}

	if err := h.eng.ResumeRule(ctx, "alice", id); !errors.Is(err, ErrRuleNotPaused) {
		t.Fatalf("resume active = %v, want ErrRuleNotPaused", err)
	}
	if err := h.eng.PauseRule(ctx, "alice", id); err != nil {
		t.Fatalf("PauseRule error: %v", err)
	}
	if err := h.eng.PauseRule(ctx, "alice", id); !errors.Is(err, ErrRuleAlreadyPaused) {
		t.Fatalf("double pause = %v, want ErrRuleAlreadyPaused", err)
	}

	// Paused rules never execute.
	if err := h.eng.ExecuteRule(ctx, "alice", id); !errors.Is(err, ErrRuleNotActive) {
		t.Fatalf("execute paused = %v, want ErrRuleNotActive", err)
	}

	resumeAt := h.clk.Now()
	if err := h.eng.ResumeRule(ctx, "alice", id); err != nil {
		t.Fatalf("ResumeRule error: %v", err)
	}
	r, _ := h.eng.Rule(ctx, id)
	if want := resumeAt.Add(7 * 24 * time.Hour); !r.NextExecution.Equal(want) {
		t.Fatalf("next execution after resume = %v, want %v", r.NextExecution, want)
	}

	if err := h.eng.DeleteRule(ctx, "alice", id); err != nil {
		t.Fatalf("DeleteRule error: %v", err)
	}
	// Deleted is terminal and the rule is gone for lifecycle purposes.
	if err := h.eng.DeleteRule(ctx, "alice", id); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("double delete = %v, want ErrRuleNotFound", err)
	}
	if err := h.eng.PauseRule(ctx, "alice", id); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("pause deleted = %v, want ErrRuleNotFound", err)
	}
	if err := h.eng.ExecuteRule(ctx, "alice", id); !errors.Is(err, ErrRuleNotActive) {
		t.Fatalf("execute deleted = %v, want ErrRuleNotActive", err)
	}

	// History survives logical deletion.
	r, err = h.eng.Rule(ctx, id)
	if err != nil {
		t.Fatalf("Rule after delete error: %v", err)
	}
	if r.Status != model.StatusDeleted {
		t.Fatalf("status = %v, want deleted", r.Status)
	}
}

func TestOwnershipGates(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.deposit(t, "alice", 100)

	id, err := h.eng.CreateRule(ctx, "alice", RuleSpec{
		Trigger:   model.TriggerManual,
		Schedule:  model.ScheduleDaily,
		Action:    model.ActionTransfer,
		Recipient: "bob",
		Amount:    model.NewAmount(10),
	})
	if err != nil {
		t.Fatalf("CreateRule error: %v", err)
	}

	if err := h.eng.PauseRule(ctx, "mallory", id); !errors.Is(err, ErrNotRuleOwner) {
		t.Fatalf("pause by stranger = %v, want ErrNotRuleOwner", err)
	}
	if err := h.eng.DeleteRule(ctx, "mallory", id); !errors.Is(err, ErrNotRuleOwner) {
		t.Fatalf("delete by stranger = %v, want ErrNotRuleOwner", err)
	}
	if err := h.eng.ExecuteRule(ctx, "mallory", id); !errors.Is(err, ErrNotRuleOwner) {
		t.Fatalf("manual execute by stranger = %v, want ErrNotRuleOwner", err)
	}
	if err := h.eng.ExecuteRule(ctx, "alice", id); err != nil {
		t.Fatalf("manual execute by owner error: %v", err)
	}
	if bal := h.balance(t, "alice"); bal.Cmp(model.NewAmount(90)) != 0 {
		t.Fatalf("balance = %s, want 90", bal)
	}
}

func TestExecuteAbortsAtomically(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.deposit(t, "alice", 20)

	id, err := h.eng.CreateRule(ctx, "alice", RuleSpec{
		Trigger:   model.TriggerManual,
		Schedule:  model.ScheduleDaily,
		Action:    model.ActionTransfer,
		Recipient: "bob",
		Amount:    model.NewAmount(30),
	})
	if err != nil {
		t.Fatalf("CreateRule error: %v", err)
	}

	if err := h.eng.ExecuteRule(ctx, "alice", id); !errors.Is(err, vault.ErrInsufficientBalance) {
		t.Fatalf("underfunded execute = %v, want ErrInsufficientBalance", err)
	}

	// The failed execute must leave no trace: no debit, no reschedule,
	// no execution count.
	if bal := h.balance(t, "alice"); bal.Cmp(model.NewAmount(20)) != 0 {
		t.Fatalf("balance after failed execute = %s, want 20", bal)
	}
	r, _ := h.eng.Rule(ctx, id)
	if r.ExecutionCount != 0 || !r.LastExecuted.IsZero() {
		t.Fatalf("bookkeeping leaked on failed execute: %+v", r)
	}
}

func TestConditionTrigger(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{Condition: falseCondition{}})
	ctx := context.Background()
	h.deposit(t, "alice", 100)

	id, err := h.eng.CreateRule(ctx, "alice", RuleSpec{
		Trigger:   model.TriggerCondition,
		Schedule:  model.ScheduleDaily,
		Action:    model.ActionTransfer,
		Recipient: "bob",
		Amount:    model.NewAmount(10),
	})
	if err != nil {
		t.Fatalf("CreateRule error: %v", err)
	}
	if err := h.eng.ExecuteRule(ctx, "anyone", id); !errors.Is(err, ErrConditionNotMet) {
		t.Fatalf("execute with false condition = %v, want ErrConditionNotMet", err)
	}
	if bal := h.balance(t, "alice"); bal.Cmp(model.NewAmount(100)) != 0 {
		t.Fatalf("balance = %s, want 100", bal)
	}
}

func TestCompoundAction(t *testing.T) {
	t.Parallel()
	comp := &countingCompounder{}
	h := newHarness(t, Options{Compounder: comp})
	ctx := context.Background()

	id, err := h.eng.CreateRule(ctx, "alice", RuleSpec{
		Trigger:  model.TriggerManual,
		Schedule: model.ScheduleMonthly,
		Action:   model.ActionCompound,
	})
	if err != nil {
		t.Fatalf("CreateRule error: %v", err)
	}
	if err := h.eng.ExecuteRule(ctx, "alice", id); err != nil {
		t.Fatalf("ExecuteRule error: %v", err)
	}
	if comp.calls != 1 {
		t.Fatalf("compound calls = %d, want 1", comp.calls)
	}
}

func TestCreateRuleValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	ctx := context.Background()

	// Transfer without a recipient is rejected before any state changes.
	_, err := h.eng.CreateRule(ctx, "alice", RuleSpec{
		Trigger:  model.TriggerManual,
		Schedule: model.ScheduleDaily,
		Action:   model.ActionTransfer,
		Amount:   model.NewAmount(10),
	})
	if !errors.Is(err, ErrInvalidRuleConfig) {
		t.Fatalf("recipientless transfer = %v, want ErrInvalidRuleConfig", err)
	}
	ids, _ := h.eng.RuleIDs(ctx, "alice")
	if len(ids) != 0 {
		t.Fatalf("id history after rejected create = %v", ids)
	}
}

func TestDueRules(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.deposit(t, "alice", 100)

	timeSpec := RuleSpec{
		Trigger:   model.TriggerTime,
		Schedule:  model.ScheduleDaily,
		Action:    model.ActionTransfer,
		Recipient: "bob",
		Amount:    model.NewAmount(1),
	}
	dailyID, err := h.eng.CreateRule(ctx, "alice", timeSpec)
	if err != nil {
		t.Fatalf("CreateRule daily error: %v", err)
	}
	manualSpec := timeSpec
	manualSpec.Trigger = model.TriggerManual
	if _, err := h.eng.CreateRule(ctx, "alice", manualSpec); err != nil {
		t.Fatalf("CreateRule manual error: %v", err)
	}

	if due, _ := h.eng.DueRules(ctx, h.clk.Now()); len(due) != 0 {
		t.Fatalf("due before interval = %v", due)
	}

	h.clk.Advance(24 * time.Hour)
	due, err := h.eng.DueRules(ctx, h.clk.Now())
	if err != nil {
		t.Fatalf("DueRules error: %v", err)
	}
	// Manual rules are never scanned, no matter how old.
	if len(due) != 1 || due[0] != dailyID {
		t.Fatalf("due = %v, want [%d]", due, dailyID)
	}

	if err := h.eng.PauseRule(ctx, "alice", dailyID); err != nil {
		t.Fatalf("PauseRule error: %v", err)
	}
	if due, _ := h.eng.DueRules(ctx, h.clk.Now()); len(due) != 0 {
		t.Fatalf("paused rule still due: %v", due)
	}
}
