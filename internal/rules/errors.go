package rules

import "errors"

var (
	ErrRuleNotFound          = errors.New("rule not found")
	ErrNotRuleOwner          = errors.New("caller is not the rule owner")
	ErrRuleNotActive         = errors.New("rule is not active")
	ErrRuleAlreadyPaused     = errors.New("rule is already paused")
	ErrRuleNotPaused         = errors.New("rule is not paused")
	ErrConditionNotMet       = errors.New("rule condition not met")
	ErrInvalidRuleConfig     = errors.New("invalid rule configuration")
	ErrMaxRulesReached       = errors.New("maximum rules reached for tier")
	ErrTriggerTimeNotReached = errors.New("trigger time not yet reached")
)
