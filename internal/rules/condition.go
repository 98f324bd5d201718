package rules

import (
	"context"

	"flowvault/internal/model"
)

// ConditionEvaluator decides whether a condition-triggered rule may fire.
//
// There is no ownership gate on condition rules: any caller may attempt
// them, and the evaluator is the entire guard. With the default AlwaysTrue
// evaluator a condition rule is therefore effectively an unauthenticated
// manual rule; wire a real evaluator before exposing condition triggers.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, r *model.Rule) (bool, error)
}

// AlwaysTrue approves every condition rule. Placeholder pending a real
// condition oracle.
func AlwaysTrue() ConditionEvaluator { return alwaysTrue{} }

type alwaysTrue struct{}

func (alwaysTrue) Evaluate(context.Context, *model.Rule) (bool, error) { return true, nil }
