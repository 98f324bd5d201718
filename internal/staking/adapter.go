// Package staking adapts an external staking protocol for automation rules:
// delegate, undelegate, and reward compounding. It is a collaborator of the
// rule engine, not part of the custodial core: tracked stakes live in
// memory, not in the vault's ledger.
package staking

import (
	"context"
	"errors"
	"sync"

	"flowvault/internal/clock"
	"flowvault/internal/eventbus"
	"flowvault/internal/model"
	"flowvault/pkg/logx"
)

var (
	ErrZeroAmount                 = errors.New("zero amount is not allowed")
	ErrInvalidValidator           = errors.New("invalid or unset validator")
	ErrInsufficientStakingBalance = errors.New("insufficient staking balance")
	ErrMinimumStakeNotMet         = errors.New("minimum stake amount not met")
)

// ValidatorKey identifies a validator on the external staking protocol.
type ValidatorKey string

// Delegator is the external protocol surface the adapter drives.
type Delegator interface {
	Delegate(ctx context.Context, validator ValidatorKey, amount model.Amount) error
	Undelegate(ctx context.Context, validator ValidatorKey, amount model.Amount) error
	DelegatedAmount(ctx context.Context, validator ValidatorKey) (model.Amount, error)
}

// NopDelegator accepts every delegation and reports nothing delegated.
// Useful when no staking rail is wired.
func NopDelegator() Delegator { return nopDelegator{} }

type nopDelegator struct{}

func (nopDelegator) Delegate(context.Context, ValidatorKey, model.Amount) error   { return nil }
func (nopDelegator) Undelegate(context.Context, ValidatorKey, model.Amount) error { return nil }
func (nopDelegator) DelegatedAmount(context.Context, ValidatorKey) (model.Amount, error) {
	return model.Amount{}, nil
}

// minStake is the protocol's minimum delegation (500 whole tokens in base
// units).
var minStake = model.NewAmount(500_000_000_000)

// Adapter tracks per-user stakes and forwards operations to the Delegator.
type Adapter struct {
	del Delegator
	bus eventbus.Bus
	log logx.Logger
	clk clock.Clock

	mu               sync.Mutex
	defaultValidator ValidatorKey
	engine           model.AccountID
	stakes           map[model.AccountID]model.Amount
}

func New(del Delegator, bus eventbus.Bus, log logx.Logger, clk clock.Clock, defaultValidator ValidatorKey) *Adapter {
	if del == nil {
		del = NopDelegator()
	}
	if clk == nil {
		clk = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{
		del:              del,
		bus:              bus,
		log:              log,
		clk:              clk,
		defaultValidator: defaultValidator,
		stakes:           map[model.AccountID]model.Amount{},
	}
}

// Stake delegates the attached amount to the default validator.
func (a *Adapter) Stake(ctx context.Context, caller model.AccountID, amount model.Amount) error {
	a.mu.Lock()
	v := a.defaultValidator
	a.mu.Unlock()
	if v == "" {
		return ErrInvalidValidator
	}
	return a.StakeToValidator(ctx, caller, v, amount)
}

// StakeToValidator delegates the attached amount to a specific validator.
func (a *Adapter) StakeToValidator(ctx context.Context, caller model.AccountID, validator ValidatorKey, amount model.Amount) error {
	if amount.IsZero() {
		return ErrZeroAmount
	}
	if validator == "" {
		return ErrInvalidValidator
	}
	if amount.Cmp(minStake) < 0 {
		return ErrMinimumStakeNotMet
	}
	if err := a.del.Delegate(ctx, validator, amount); err != nil {
		return err
	}
	a.mu.Lock()
	a.stakes[caller] = a.stakes[caller].Add(amount)
	a.mu.Unlock()
	return nil
}

// Unstake undelegates from the default validator.
func (a *Adapter) Unstake(ctx context.Context, caller model.AccountID, amount model.Amount) error {
	if amount.IsZero() {
		return ErrZeroAmount
	}
	a.mu.Lock()
	v := a.defaultValidator
	a.mu.Unlock()
	if v == "" {
		return ErrInvalidValidator
	}

	a.mu.Lock()
	remaining, ok := a.stakes[caller].Sub(amount)
	if !ok {
		a.mu.Unlock()
		return ErrInsufficientStakingBalance
	}
	// Hold the lock across the undelegate so the tracked stake can never be
	// spent twice by interleaved unstakes.
	if err := a.del.Undelegate(ctx, v, amount); err != nil {
		a.mu.Unlock()
		return err
	}
	a.stakes[caller] = remaining
	a.mu.Unlock()

	a.publish(model.Record{
		At:      a.clk.Now(),
		Kind:    model.RecordUnstaked,
		Account: caller,
		Amount:  amount,
		Balance: remaining,
	})
	return nil
}

// Compound compounds rewards for owner against the default validator. This
// is the hook the rule engine's compound action calls.
func (a *Adapter) Compound(ctx context.Context, owner model.AccountID) error {
	a.mu.Lock()
	v := a.defaultValidator
	a.mu.Unlock()
	if v == "" {
		return ErrInvalidValidator
	}
	return a.CompoundRewards(ctx, owner, v)
}

// CompoundRewards folds any accrued rewards (delegated minus tracked) back
// into the tracked stake. No rewards is not an error.
func (a *Adapter) CompoundRewards(ctx context.Context, owner model.AccountID, validator ValidatorKey) error {
	if validator == "" {
		return ErrInvalidValidator
	}
	delegated, err := a.del.DelegatedAmount(ctx, validator)
	if err != nil {
		return err
	}

	a.mu.Lock()
	tracked := a.stakes[owner]
	rewards, ok := delegated.Sub(tracked)
	if !ok || rewards.IsZero() {
		a.mu.Unlock()
		return nil
	}
	a.stakes[owner] = delegated
	a.mu.Unlock()

	a.publish(model.Record{
		At:      a.clk.Now(),
		Kind:    model.RecordRewardsCompounded,
		Account: owner,
		Amount:  rewards,
		Balance: delegated,
	})
	return nil
}

// SetAutomationEngine records the engine identity allowed to drive
// compounding.
func (a *Adapter) SetAutomationEngine(engine model.AccountID) {
	a.mu.Lock()
	a.engine = engine
	a.mu.Unlock()
}

// AutomationEngine returns the recorded engine identity (empty if unset).
func (a *Adapter) AutomationEngine() model.AccountID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine
}

// SetDefaultValidator replaces the default validator.
func (a *Adapter) SetDefaultValidator(v ValidatorKey) {
	a.mu.Lock()
	a.defaultValidator = v
	a.mu.Unlock()
}

// UserStake returns the tracked stake for an account.
func (a *Adapter) UserStake(owner model.AccountID) model.Amount {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stakes[owner]
}

// DefaultValidator returns the configured default validator (may be empty).
func (a *Adapter) DefaultValidator() ValidatorKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.defaultValidator
}

// DelegatedAmount queries the external protocol for the amount delegated to
// a validator.
func (a *Adapter) DelegatedAmount(ctx context.Context, validator ValidatorKey) (model.Amount, error) {
	return a.del.DelegatedAmount(ctx, validator)
}

func (a *Adapter) publish(rec model.Record) {
	if a.bus != nil {
		a.bus.Publish(rec)
	}
	a.log.Debug("staking operation",
		logx.String("kind", string(rec.Kind)),
		logx.String("account", string(rec.Account)),
		logx.Stringer("amount", rec.Amount))
}
