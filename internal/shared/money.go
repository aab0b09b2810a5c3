package shared

import "github.com/shopspring/decimal"

// Fixed-point scales used across the ledger.
const (
	MoneyScale = 2
	CostScale  = 4
	QtyScale   = 4
)

// RoundMoney rounds to the currency minor unit.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// RoundCost rounds unit and average costs.
func RoundCost(d decimal.Decimal) decimal.Decimal {
	return d.Round(CostScale)
}

// RoundQty rounds quantities.
func RoundQty(d decimal.Decimal) decimal.Decimal {
	return d.Round(QtyScale)
}

// Float converts a decimal for wire output in the major unit.
func Float(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}
