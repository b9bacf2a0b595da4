package model

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Plan is a purchasable credit pack.
type Plan struct {
	ID      string          `json:"id"`
	Credits int64           `json:"credits"`
	Amount  decimal.Decimal `json:"amount"`
}

// MinorUnits returns the amount in the currency's minor unit (e.g. paise).
func (p Plan) MinorUnits() int64 {
	return p.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// PlanCatalog maps plan identifiers to plans. It is fixed at startup.
type PlanCatalog map[string]Plan

// DefaultPlanCatalog returns the built-in credit packs.
func DefaultPlanCatalog() PlanCatalog {
	return PlanCatalog{
		"Basic":    {ID: "Basic", Credits: 100, Amount: decimal.NewFromInt(10)},
		"Advanced": {ID: "Advanced", Credits: 500, Amount: decimal.NewFromInt(50)},
		"Business": {ID: "Business", Credits: 5000, Amount: decimal.NewFromInt(250)},
	}
}

// Lookup returns the plan with the given id.
func (c PlanCatalog) Lookup(id string) (Plan, bool) {
	p, ok := c[id]
	return p, ok
}

// List returns all plans ordered by price.
func (c PlanCatalog) List() []Plan {
	plans := make([]Plan, 0, len(c))
	for _, p := range c {
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool {
		return plans[i].Amount.LessThan(plans[j].Amount)
	})
	return plans
}
