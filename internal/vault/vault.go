// Package vault implements custody of per-account balances. It is the only
// component permitted to move value out of custody, and third-party debits
// go through a single authorized caller (the automation engine).
package vault

import (
	"context"
	"sync"

	"flowvault/internal/clock"
	"flowvault/internal/eventbus"
	"flowvault/internal/model"
	"flowvault/internal/store"
	"flowvault/pkg/logx"
)

// Payout moves funds out of custody to an external destination. The ledger
// debit always commits before Pay is issued, so a retried payout can never
// double-spend.
type Payout interface {
	Pay(ctx context.Context, to model.AccountID, amount model.Amount) error
}

// PayoutFunc adapts a function to the Payout interface.
type PayoutFunc func(ctx context.Context, to model.AccountID, amount model.Amount) error

func (f PayoutFunc) Pay(ctx context.Context, to model.AccountID, amount model.Amount) error {
	return f(ctx, to, amount)
}

// NopPayout discards payouts. Useful when the external settlement rail is
// not wired (tests, dry runs).
func NopPayout() Payout {
	return PayoutFunc(func(context.Context, model.AccountID, model.Amount) error { return nil })
}

// Vault holds per-account balances in the shared store.
//
// The admin identity is fixed at construction and is the only caller allowed
// to change the authorized engine.
type Vault struct {
	st  store.Store
	bus eventbus.Bus
	log logx.Logger
	clk clock.Clock

	payout Payout
	admin  model.AccountID

	mu     sync.Mutex
	engine model.AccountID // empty until bootstrap wiring completes
}

func New(st store.Store, bus eventbus.Bus, log logx.Logger, clk clock.Clock, payout Payout, admin model.AccountID) *Vault {
	if clk == nil {
		clk = clock.System()
	}
	if payout == nil {
		payout = NopPayout()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Vault{st: st, bus: bus, log: log, clk: clk, payout: payout, admin: admin}
}

// SetAutomationEngine replaces the authorized caller. Only the vault admin
// may do this; until it happens, every ExecuteTransfer fails.
func (v *Vault) SetAutomationEngine(caller, engine model.AccountID) error {
	if caller != v.admin {
		return ErrNotVaultOwner
	}
	v.mu.Lock()
	v.engine = engine
	v.mu.Unlock()
	v.log.Info("automation engine authorized", logx.String("engine", string(engine)))
	return nil
}

// AutomationEngine returns the currently authorized caller (empty if unset).
func (v *Vault) AutomationEngine() model.AccountID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.engine
}

// Deposit credits the caller's balance with the attached amount.
func (v *Vault) Deposit(ctx context.Context, caller model.AccountID, amount model.Amount) error {
	if amount.IsZero() {
		return ErrZeroAmount
	}
	var rec model.Record
	err := v.st.Update(ctx, func(tx store.Tx) error {
		bal, err := tx.Balance(caller)
		if err != nil {
			return err
		}
		nb := bal.Add(amount)
		if err := tx.SetBalance(caller, nb); err != nil {
			return err
		}
		rec = model.Record{
			At:      v.clk.Now(),
			Kind:    model.RecordDeposit,
			Account: caller,
			Amount:  amount,
			Balance: nb,
		}
		return tx.AppendAudit(rec)
	})
	if err != nil {
		return err
	}
	v.publish(rec)
	return nil
}

// Withdraw debits the caller's own balance and pays the funds out to them.
// The debit commits before the payout is issued.
func (v *Vault) Withdraw(ctx context.Context, caller model.AccountID, amount model.Amount) error {
	if amount.IsZero() {
		return ErrZeroAmount
	}
	var rec model.Record
	err := v.st.Update(ctx, func(tx store.Tx) error {
		bal, err := tx.Balance(caller)
		if err != nil {
			return err
		}
		nb, ok := bal.Sub(amount)
		if !ok {
			return ErrInsufficientBalance
		}
		if err := tx.SetBalance(caller, nb); err != nil {
			return err
		}
		rec = model.Record{
			At:      v.clk.Now(),
			Kind:    model.RecordWithdraw,
			Account: caller,
			Amount:  amount,
			Balance: nb,
		}
		return tx.AppendAudit(rec)
	})
	if err != nil {
		return err
	}
	v.publish(rec)
	return v.PayOut(ctx, caller, amount)
}

// ExecuteTransfer debits owner and pays recipient on behalf of a rule.
// Callable only by the configured automation engine; it does not validate
// the rule id; that is entirely the engine's responsibility.
func (v *Vault) ExecuteTransfer(ctx context.Context, caller, owner, recipient model.AccountID, amount model.Amount, ruleID uint64) error {
	var rec model.Record
	err := v.st.Update(ctx, func(tx store.Tx) error {
		var err error
		rec, err = v.ExecuteTransferTx(tx, caller, owner, recipient, amount, ruleID)
		return err
	})
	if err != nil {
		return err
	}
	v.publish(rec)
	return v.PayOut(ctx, recipient, amount)
}

// ExecuteTransferTx is the transfer debit staged inside an existing
// transaction. The engine nests this in its execute path so a failure here
// unwinds the engine's whole operation. The caller is responsible for
// publishing the returned record and issuing the payout after commit.
func (v *Vault) ExecuteTransferTx(tx store.Tx, caller, owner, recipient model.AccountID, amount model.Amount, ruleID uint64) (model.Record, error) {
	v.mu.Lock()
	authorized := v.engine
	v.mu.Unlock()
	if authorized.IsZero() || caller != authorized {
		return model.Record{}, ErrUnauthorizedExecutor
	}

	bal, err := tx.Balance(owner)
	if err != nil {
		return model.Record{}, err
	}
	nb, ok := bal.Sub(amount)
	if !ok {
		return model.Record{}, ErrInsufficientBalance
	}
	if err := tx.SetBalance(owner, nb); err != nil {
		return model.Record{}, err
	}
	rec := model.Record{
		At:        v.clk.Now(),
		Kind:      model.RecordTransferExecuted,
		Account:   owner,
		RuleID:    ruleID,
		Recipient: recipient,
		Amount:    amount,
		Balance:   nb,
	}
	if err := tx.AppendAudit(rec); err != nil {
		return model.Record{}, err
	}
	return rec, nil
}

// PayOut issues the external funds transfer for an already committed debit.
func (v *Vault) PayOut(ctx context.Context, to model.AccountID, amount model.Amount) error {
	if err := v.payout.Pay(ctx, to, amount); err != nil {
		v.log.Error("external payout failed",
			logx.String("to", string(to)),
			logx.Stringer("amount", amount),
			logx.Err(err))
		return err
	}
	return nil
}

// BalanceOf returns the ledger balance for an account (zero by default).
func (v *Vault) BalanceOf(ctx context.Context, owner model.AccountID) (model.Amount, error) {
	var bal model.Amount
	err := v.st.View(ctx, func(tx store.Tx) error {
		var err error
		bal, err = tx.Balance(owner)
		return err
	})
	return bal, err
}

// TotalCustody returns the sum of all balances, the vault's externally
// observable holdings.
func (v *Vault) TotalCustody(ctx context.Context) (model.Amount, error) {
	var total model.Amount
	err := v.st.View(ctx, func(tx store.Tx) error {
		accounts, err := tx.Accounts()
		if err != nil {
			return err
		}
		for _, a := range accounts {
			bal, err := tx.Balance(a)
			if err != nil {
				return err
			}
			total = total.Add(bal)
		}
		return nil
	})
	return total, err
}

func (v *Vault) publish(rec model.Record) {
	if v.bus != nil {
		v.bus.Publish(rec)
	}
	v.log.Debug("vault operation committed",
		logx.String("kind", string(rec.Kind)),
		logx.String("account", string(rec.Account)),
		logx.Stringer("amount", rec.Amount),
		logx.Stringer("balance", rec.Balance))
}
