// Package rules implements the automation rule engine: rule lifecycle,
// due-date scheduling, and execution dispatch. Fund movement is delegated to
// the vault's authorized-execute entry point; the engine never touches
// balances directly.
package rules

import (
	"context"
	"time"

	"flowvault/internal/clock"
	"flowvault/internal/eventbus"
	"flowvault/internal/model"
	"flowvault/internal/store"
	"flowvault/pkg/logx"
)

// TransferExecutor is the vault's authorized-execute entry point plus the
// post-commit payout step. ExecuteTransferTx stages the debit inside the
// engine's own transaction, so a vault failure unwinds the whole execute.
type TransferExecutor interface {
	ExecuteTransferTx(tx store.Tx, caller, owner, recipient model.AccountID, amount model.Amount, ruleID uint64) (model.Record, error)
	PayOut(ctx context.Context, to model.AccountID, amount model.Amount) error
}

// Compounder is the staking adapter capability behind the compound action.
type Compounder interface {
	Compound(ctx context.Context, owner model.AccountID) error
}

// RuleSpec is the caller-supplied part of a new rule.
type RuleSpec struct {
	Template  string
	Trigger   model.TriggerKind
	Schedule  model.Schedule
	Action    model.ActionKind
	Recipient model.AccountID // required for transfer/split
	Amount    model.Amount
}

// Engine owns the rule store and is the sole initiator of automated fund
// movement.
type Engine struct {
	st  store.Store
	bus eventbus.Bus
	log logx.Logger
	clk clock.Clock

	// self is the identity the engine presents to the vault; it must match
	// the vault's authorized caller once bootstrap wiring completes.
	self model.AccountID

	executor   TransferExecutor
	tiers      TierSource
	cond       ConditionEvaluator
	compounder Compounder // optional; compound is a no-op without it
}

// Options carries the engine's optional collaborators.
type Options struct {
	Tiers      TierSource
	Condition  ConditionEvaluator
	Compounder Compounder
}

func NewEngine(st store.Store, bus eventbus.Bus, log logx.Logger, clk clock.Clock, self model.AccountID, executor TransferExecutor, opts Options) *Engine {
	if clk == nil {
		clk = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Tiers == nil {
		opts.Tiers = FixedHoldings(model.Amount{})
	}
	if opts.Condition == nil {
		opts.Condition = AlwaysTrue()
	}
	return &Engine{
		st:         st,
		bus:        bus,
		log:        log,
		clk:        clk,
		self:       self,
		executor:   executor,
		tiers:      opts.Tiers,
		cond:       opts.Condition,
		compounder: opts.Compounder,
	}
}

// CreateRule stores a new active rule owned by the caller and returns its id.
func (e *Engine) CreateRule(ctx context.Context, caller model.AccountID, spec RuleSpec) (uint64, error) {
	if spec.Action.NeedsRecipient() && spec.Recipient.IsZero() {
		return 0, ErrInvalidRuleConfig
	}

	tier, err := e.TierOf(ctx, caller)
	if err != nil {
		return 0, err
	}

	now := e.clk.Now()
	var (
		rec model.Record
		id  uint64
	)
	err = e.st.Update(ctx, func(tx store.Tx) error {
		count, err := tx.RuleCount(caller)
		if err != nil {
			return err
		}
		if count >= tier.MaxRules() {
			return ErrMaxRulesReached
		}

		if id, err = tx.NextRuleID(); err != nil {
			return err
		}
		if err := tx.SetNextRuleID(id + 1); err != nil {
			return err
		}

		r := model.Rule{
			ID:            id,
			Owner:         caller,
			Trigger:       spec.Trigger,
			Schedule:      spec.Schedule,
			Action:        spec.Action,
			Status:        model.StatusActive,
			Template:      spec.Template,
			Recipient:     spec.Recipient,
			Amount:        spec.Amount,
			NextExecution: now.Add(spec.Schedule.Interval()),
		}
		if err := tx.PutRule(&r); err != nil {
			return err
		}
		if err := tx.AppendRuleID(caller, id); err != nil {
			return err
		}
		if err := tx.SetRuleCount(caller, count+1); err != nil {
			return err
		}

		rec = model.Record{
			At:      now,
			Kind:    model.RecordRuleCreated,
			Account: caller,
			RuleID:  id,
			Detail:  spec.Template,
		}
		return tx.AppendAudit(rec)
	})
	if err != nil {
		return 0, err
	}
	e.publish(rec)
	return id, nil
}

// PauseRule flips an active rule to paused. NextExecution is left untouched;
// it is recomputed on resume.
func (e *Engine) PauseRule(ctx context.Context, caller model.AccountID, id uint64) error {
	now := e.clk.Now()
	var rec model.Record
	err := e.st.Update(ctx, func(tx store.Tx) error {
		r, err := e.ownedRule(tx, caller, id)
		if err != nil {
			return err
		}
		if r.Status == model.StatusPaused {
			return ErrRuleAlreadyPaused
		}
		r.Status = model.StatusPaused
		if err := tx.PutRule(r); err != nil {
			return err
		}
		rec = model.Record{At: now, Kind: model.RecordRulePaused, Account: caller, RuleID: id}
		return tx.AppendAudit(rec)
	})
	if err != nil {
		return err
	}
	e.publish(rec)
	return nil
}

// ResumeRule flips a paused rule back to active and reschedules it from now.
func (e *Engine) ResumeRule(ctx context.Context, caller model.AccountID, id uint64) error {
	now := e.clk.Now()
	var rec model.Record
	err := e.st.Update(ctx, func(tx store.Tx) error {
		r, err := e.ownedRule(tx, caller, id)
		if err != nil {
			return err
		}
		if r.Status == model.StatusActive {
			return ErrRuleNotPaused
		}
		r.Status = model.StatusActive
		r.NextExecution = now.Add(r.Schedule.Interval())
		if err := tx.PutRule(r); err != nil {
			return err
		}
		rec = model.Record{At: now, Kind: model.RecordRuleResumed, Account: caller, RuleID: id}
		return tx.AppendAudit(rec)
	})
	if err != nil {
		return err
	}
	e.publish(rec)
	return nil
}

// DeleteRule marks a rule deleted. The rule must currently be active or
// paused, so deleting twice fails with ErrRuleNotFound. Deletion is logical:
// the record and its execution history stay in the store.
func (e *Engine) DeleteRule(ctx context.Context, caller model.AccountID, id uint64) error {
	now := e.clk.Now()
	var rec model.Record
	err := e.st.Update(ctx, func(tx store.Tx) error {
		r, err := e.ownedRule(tx, caller, id)
		if err != nil {
			return err
		}
		r.Status = model.StatusDeleted
		if err := tx.PutRule(r); err != nil {
			return err
		}
		// Floor at zero: only active/paused rules should ever be counted.
		count, err := tx.RuleCount(caller)
		if err != nil {
			return err
		}
		if count > 0 {
			if err := tx.SetRuleCount(caller, count-1); err != nil {
				return err
			}
		}
		rec = model.Record{At: now, Kind: model.RecordRuleDeleted, Account: caller, RuleID: id}
		return tx.AppendAudit(rec)
	})
	if err != nil {
		return err
	}
	e.publish(rec)
	return nil
}

// ExecuteRule runs a rule on behalf of a trigger source. Any caller may
// attempt it; the due-ness and ownership gates below are the entire
// access-control surface. The whole operation is one transaction: if the
// dispatched action fails, no bookkeeping commits and no record is emitted.
func (e *Engine) ExecuteRule(ctx context.Context, caller model.AccountID, id uint64) error {
	now := e.clk.Now()
	var (
		recs      []model.Record
		payoutTo  model.AccountID
		payoutAmt model.Amount
		doPayout  bool
	)
	err := e.st.Update(ctx, func(tx store.Tx) error {
		r, err := tx.Rule(id)
		if err != nil {
			return err
		}
		if r == nil {
			return ErrRuleNotFound
		}
		if r.Status != model.StatusActive {
			return ErrRuleNotActive
		}

		switch r.Trigger {
		case model.TriggerTime:
			if now.Before(r.NextExecution) {
				return ErrTriggerTimeNotReached
			}
		case model.TriggerManual:
			if caller != r.Owner {
				return ErrNotRuleOwner
			}
		case model.TriggerCondition:
			ok, err := e.cond.Evaluate(ctx, r)
			if err != nil {
				return err
			}
			if !ok {
				return ErrConditionNotMet
			}
		}

		switch r.Action {
		case model.ActionTransfer, model.ActionSplit:
			// Split resolves to a single-recipient transfer for now.
			if e.executor == nil || r.Recipient.IsZero() {
				return ErrInvalidRuleConfig
			}
			rec, err := e.executor.ExecuteTransferTx(tx, e.self, r.Owner, r.Recipient, r.Amount, r.ID)
			if err != nil {
				return err
			}
			recs = append(recs, rec)
			payoutTo, payoutAmt, doPayout = r.Recipient, r.Amount, true
		case model.ActionCompound:
			if e.compounder != nil {
				if err := e.compounder.Compound(ctx, r.Owner); err != nil {
					return err
				}
			}
		}

		// Reschedule relative to actual execution time, not the ideal
		// schedule time, so late execution never causes catch-up bursts.
		r.LastExecuted = now
		r.NextExecution = now.Add(r.Schedule.Interval())
		r.ExecutionCount++
		if err := tx.PutRule(r); err != nil {
			return err
		}

		rec := model.Record{
			At:      now,
			Kind:    model.RecordRuleExecuted,
			Account: r.Owner,
			RuleID:  id,
			Detail:  r.Action.String(),
		}
		recs = append(recs, rec)
		return tx.AppendAudit(rec)
	})
	if err != nil {
		return err
	}
	for _, rec := range recs {
		e.publish(rec)
	}
	if doPayout {
		return e.executor.PayOut(ctx, payoutTo, payoutAmt)
	}
	return nil
}

// ownedRule loads a live (active or paused) rule and checks ownership.
// Deleted rules are reported as not found.
func (e *Engine) ownedRule(tx store.Tx, caller model.AccountID, id uint64) (*model.Rule, error) {
	r, err := tx.Rule(id)
	if err != nil {
		return nil, err
	}
	if r == nil || r.Status == model.StatusDeleted {
		return nil, ErrRuleNotFound
	}
	if r.Owner != caller {
		return nil, ErrNotRuleOwner
	}
	return r, nil
}

// ---- Read-only queries ----

// Rule returns a rule by id (deleted rules included, for history).
func (e *Engine) Rule(ctx context.Context, id uint64) (*model.Rule, error) {
	var r *model.Rule
	err := e.st.View(ctx, func(tx store.Tx) error {
		var err error
		r, err = tx.Rule(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrRuleNotFound
	}
	return r, nil
}

// RuleIDs returns the append-only history of ids ever created by an account.
func (e *Engine) RuleIDs(ctx context.Context, owner model.AccountID) ([]uint64, error) {
	var ids []uint64
	err := e.st.View(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.RuleIDs(owner)
		return err
	})
	return ids, err
}

// ActiveRuleCount returns the tier-limit counter for an account.
func (e *Engine) ActiveRuleCount(ctx context.Context, owner model.AccountID) (uint32, error) {
	var n uint32
	err := e.st.View(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.RuleCount(owner)
		return err
	})
	return n, err
}

// TierOf derives an account's tier from its external holdings.
func (e *Engine) TierOf(ctx context.Context, owner model.AccountID) (model.Tier, error) {
	h, err := e.tiers.Holdings(ctx, owner)
	if err != nil {
		return model.TierStarter, err
	}
	return model.TierForHoldings(h), nil
}

// DueRules returns the ids of active time-triggered rules whose next
// execution is at or before now. This is the keeper's scan.
func (e *Engine) DueRules(ctx context.Context, now time.Time) ([]uint64, error) {
	var due []uint64
	err := e.st.View(ctx, func(tx store.Tx) error {
		all, err := tx.Rules()
		if err != nil {
			return err
		}
		for _, r := range all {
			if r.Status != model.StatusActive || r.Trigger != model.TriggerTime {
				continue
			}
			if !now.Before(r.NextExecution) {
				due = append(due, r.ID)
			}
		}
		return nil
	})
	return due, err
}

// Executor exposes the configured vault entry point (nil if unwired).
func (e *Engine) Executor() TransferExecutor { return e.executor }

func (e *Engine) publish(rec model.Record) {
	if e.bus != nil {
		e.bus.Publish(rec)
	}
	e.log.Debug("rule operation committed",
		logx.String("kind", string(rec.Kind)),
		logx.String("owner", string(rec.Account)),
		logx.Uint64("rule_id", rec.RuleID))
}
