package inventory

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// ZeroStockPolicy decides what happens to the average cost once an OUT
// empties the stock of a product.
type ZeroStockPolicy string

const (
	// RetainCost keeps the last average cost and flags the product for recalculation.
	RetainCost ZeroStockPolicy = "retain"
	// ResetCost sets the average cost to zero.
	ResetCost ZeroStockPolicy = "reset"
)

// ParseZeroStockPolicy validates a configured policy name.
func ParseZeroStockPolicy(raw string) (ZeroStockPolicy, error) {
	switch ZeroStockPolicy(raw) {
	case "", RetainCost:
		return RetainCost, nil
	case ResetCost:
		return ResetCost, nil
	}
	return "", fmt.Errorf("inventory: unknown zero stock policy %q", raw)
}

// Position is the running valuation state of one product.
type Position struct {
	Stock       decimal.Decimal
	AverageCost decimal.Decimal
}

// Movement is the valuation outcome of applying one entry to a Position.
type Movement struct {
	After     Position
	CostBasis decimal.Decimal
	COGS      decimal.Decimal
	Flag      bool
}

// Receive applies an IN of qty units bought for amount in total.
func (p Position) Receive(qty, amount decimal.Decimal) (Movement, error) {
	if !qty.IsPositive() {
		return Movement{}, shared.ErrInvalidQuantity
	}
	if amount.IsNegative() {
		return Movement{}, fmt.Errorf("%w: negative purchase amount", shared.ErrValidation)
	}
	stock := p.Stock
	if stock.IsNegative() {
		stock = decimal.Zero
	}
	newStock := stock.Add(qty)
	value := stock.Mul(p.AverageCost).Add(amount)
	return Movement{
		After: Position{
			Stock:       newStock,
			AverageCost: shared.RoundCost(value.Div(newStock)),
		},
		CostBasis: shared.RoundCost(amount.Div(qty)),
	}, nil
}

// Issue applies an OUT of qty units. The cost basis is the current average
// cost, which an OUT never changes apart from the zero-stock policy.
func (p Position) Issue(qty decimal.Decimal, policy ZeroStockPolicy) (Movement, error) {
	if !qty.IsPositive() {
		return Movement{}, shared.ErrInvalidQuantity
	}
	if qty.GreaterThan(p.Stock) {
		return Movement{}, shared.ErrInsufficientStock
	}
	after := Position{Stock: p.Stock.Sub(qty), AverageCost: p.AverageCost}
	mv := Movement{
		After:     after,
		CostBasis: p.AverageCost,
		COGS:      shared.RoundMoney(qty.Mul(p.AverageCost)),
	}
	if after.Stock.IsZero() {
		if policy == ResetCost {
			mv.After.AverageCost = decimal.Zero
		} else {
			mv.Flag = true
		}
	}
	return mv, nil
}

// Revalue restates the average cost of the stock on hand.
func (p Position) Revalue(cost decimal.Decimal) (Movement, error) {
	if !p.Stock.IsPositive() {
		return Movement{}, fmt.Errorf("%w: nothing on hand to revalue", shared.ErrValidation)
	}
	if cost.IsNegative() {
		return Movement{}, fmt.Errorf("%w: negative average cost", shared.ErrValidation)
	}
	cost = shared.RoundCost(cost)
	return Movement{
		After:     Position{Stock: p.Stock, AverageCost: cost},
		CostBasis: cost,
	}, nil
}

// Apply dispatches on direction.
func (p Position) Apply(dir Direction, qty, amount decimal.Decimal, policy ZeroStockPolicy) (Movement, error) {
	switch dir {
	case DirectionIn:
		return p.Receive(qty, amount)
	case DirectionOut:
		return p.Issue(qty, policy)
	}
	return Movement{}, fmt.Errorf("%w: unknown direction %q", shared.ErrValidation, dir)
}
