package model

import "time"

// RecordKind tags an audit record with the operation that produced it.
type RecordKind string

const (
	RecordDeposit          RecordKind = "deposit"
	RecordWithdraw         RecordKind = "withdraw"
	RecordTransferExecuted RecordKind = "transfer_executed"
	RecordRuleCreated      RecordKind = "rule_created"
	RecordRulePaused       RecordKind = "rule_paused"
	RecordRuleResumed      RecordKind = "rule_resumed"
	RecordRuleDeleted      RecordKind = "rule_deleted"
	RecordRuleExecuted     RecordKind = "rule_executed"
	RecordRewardsCompounded RecordKind = "rewards_compounded"
	RecordUnstaked         RecordKind = "unstaked"
)

// Record is one immutable, append-only audit log entry. Every state-changing
// operation emits exactly one; an aborted operation emits none.
//
// Keep it compact and schema-stable: not every field applies to every kind,
// unused fields stay at their zero value.
type Record struct {
	At        time.Time
	Kind      RecordKind
	Account   AccountID // depositor, withdrawer, or rule owner
	RuleID    uint64    // zero unless the operation concerns a rule
	Recipient AccountID // transfer target, if any
	Amount    Amount    // amount moved, if any
	Balance   Amount    // resulting balance, where meaningful
	Detail    string    // free-text, e.g. template label
}
