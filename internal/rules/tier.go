package rules

import (
	"context"

	"flowvault/internal/model"
)

// TierSource reports an account's external token holdings, from which the
// tier (and so the active-rule limit) is derived. The production tiering
// oracle lives outside this process.
type TierSource interface {
	Holdings(ctx context.Context, owner model.AccountID) (model.Amount, error)
}

// FixedHoldings returns the same holdings for every account. The default
// zero value puts everyone at the starter tier.
func FixedHoldings(v model.Amount) TierSource {
	return fixedHoldings{v: v}
}

type fixedHoldings struct{ v model.Amount }

func (f fixedHoldings) Holdings(context.Context, model.AccountID) (model.Amount, error) {
	return f.v, nil
}
