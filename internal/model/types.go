// Package model defines the shared data model: accounts, amounts, automation
// rules and their enums, the tier policy, and audit records.
//
// It has no dependencies on storage or services; everything here is plain
// data plus a few pure functions.
package model

import (
	"time"
)

// AccountID is an opaque, globally unique handle for a holder of funds
// and/or owner of rules. Equality-comparable, used as a map key.
type AccountID string

// IsZero reports whether the id is unset.
func (a AccountID) IsZero() bool { return a == "" }

// TriggerKind classifies what makes a rule eligible for execution.
type TriggerKind uint8

const (
	TriggerTime TriggerKind = iota
	TriggerCondition
	TriggerManual
)

func (t TriggerKind) String() string {
	switch t {
	case TriggerTime:
		return "time"
	case TriggerCondition:
		return "condition"
	case TriggerManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Schedule is the frequency of scheduled executions. It is meaningful only
// for time-triggered rules but is always present on a rule.
type Schedule uint8

const (
	ScheduleDaily Schedule = iota
	ScheduleWeekly
	ScheduleMonthly
)

const (
	dayInterval   = 24 * time.Hour
	weekInterval  = 7 * dayInterval
	monthInterval = 30 * dayInterval // approximate month
)

// Interval returns the spacing between executions for this schedule.
func (s Schedule) Interval() time.Duration {
	switch s {
	case ScheduleWeekly:
		return weekInterval
	case ScheduleMonthly:
		return monthInterval
	default:
		return dayInterval
	}
}

func (s Schedule) String() string {
	switch s {
	case ScheduleDaily:
		return "daily"
	case ScheduleWeekly:
		return "weekly"
	case ScheduleMonthly:
		return "monthly"
	default:
		return "unknown"
	}
}

// ActionKind is the closed set of actions a rule can perform.
type ActionKind uint8

const (
	ActionTransfer ActionKind = iota
	ActionSplit
	ActionCompound
)

// NeedsRecipient reports whether the action requires a configured recipient.
func (a ActionKind) NeedsRecipient() bool {
	return a == ActionTransfer || a == ActionSplit
}

func (a ActionKind) String() string {
	switch a {
	case ActionTransfer:
		return "transfer"
	case ActionSplit:
		return "split"
	case ActionCompound:
		return "compound"
	default:
		return "unknown"
	}
}

// RuleStatus is the rule lifecycle state. Valid transitions are
// Active<->Paused and (Active|Paused)->Deleted; Deleted is terminal.
type RuleStatus uint8

const (
	StatusActive RuleStatus = iota
	StatusPaused
	StatusDeleted
)

func (s RuleStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Rule is a persisted automation instruction owned by an account.
//
// IDs are assigned in strictly increasing order starting at 1 and are never
// reused, even across deletions. Deletion is logical (status flag), never
// physical removal, preserving history and execution-count provenance.
type Rule struct {
	ID       uint64
	Owner    AccountID
	Trigger  TriggerKind
	Schedule Schedule
	Action   ActionKind
	Status   RuleStatus

	// Template is a free-text label for display only.
	Template string

	// Recipient is required for transfer and split actions; empty otherwise.
	Recipient AccountID

	// Amount is the transfer amount for transfer/split actions and reserved
	// for future use otherwise.
	Amount Amount

	// LastExecuted is zero until the first execution.
	LastExecuted time.Time

	// NextExecution is meaningful only while Active. It is recomputed every
	// time the rule transitions into Active and after every execution.
	NextExecution time.Time

	ExecutionCount uint32
}
