package rebalancer

import (
	"math"

	"github.com/KotFed0t/basket_rebalancer/internal/model"
	"github.com/shopspring/decimal"
)

// Rebalance computes the allocation that brings the portfolio to its target
// weights once additionalCapital is invested. The capital is spread pro rata
// by target weight. Target weights are not renormalized, so the target values
// may not add up to the new total.
//
// Holdings without a price get no target: their target and actual values are
// null, target shares are 0 and the action is Hold.
func Rebalance(portfolio model.Portfolio, additionalCapital decimal.Decimal) model.Allocation {
	currentValues := make([]decimal.NullDecimal, len(portfolio.Holdings))
	for i, h := range portfolio.Holdings {
		currentValues[i] = h.CurrentValue
	}

	totalCurrent := sumValid(currentValues)
	newTotal := totalCurrent.Add(additionalCapital)

	allocation := model.Allocation{
		ExtraColumns:      append([]string(nil), portfolio.ExtraColumns...),
		Rows:              make([]model.AllocationRow, 0, len(portfolio.Holdings)),
		AdditionalCapital: additionalCapital,
		TotalCurrentValue: totalCurrent,
		NewTotalValue:     newTotal,
	}

	prices := make([]decimal.NullDecimal, 0, len(portfolio.Holdings))
	targetValues := make([]decimal.NullDecimal, 0, len(portfolio.Holdings))

	for _, h := range portfolio.Holdings {
		h.Holding = h.Holding.Clone()
		row := model.AllocationRow{PricedHolding: h}
		if h.Price.Valid {
			row.TargetValue = decimal.NewNullDecimal(h.TargetWeight.Div(hundred).Mul(newTotal))
		}

		prices = append(prices, h.Price)
		targetValues = append(targetValues, row.TargetValue)
		allocation.Rows = append(allocation.Rows, row)
	}

	shares := OptimizeShares(prices, targetValues)

	for i := range allocation.Rows {
		row := &allocation.Rows[i]
		row.TargetShares = shares[i]

		if row.Price.Valid {
			actual := row.Price.Decimal.Mul(decimal.NewFromInt(row.TargetShares))
			row.TargetValueActual = decimal.NewNullDecimal(actual)
			allocation.TotalTargetValueActual = allocation.TotalTargetValueActual.Add(actual)

			if row.CurrentValue.Valid {
				row.Difference = decimal.NewNullDecimal(actual.Sub(row.CurrentValue.Decimal))
			}
		}

		row.Action = actionOf(row.Difference)
		row.SharesDelta = row.TargetShares - row.SharesHeld
	}

	for i := range allocation.Rows {
		row := &allocation.Rows[i]
		row.RealWeight = weightOf(row.TargetValueActual, allocation.TotalTargetValueActual)
	}

	return allocation
}

// OptimizeShares picks, for each holding on its own, the whole number of
// shares whose value is nearest to the target value. Halves go to the even
// count (125 at 50 per share is 2 shares). An unpriced or non positive price
// always gives 0 shares, and so does a missing target. Counts beyond int64
// saturate at math.MaxInt64.
//
// Rounding is per holding, so the invested total can miss the target total
// by up to half a share of every holding.
func OptimizeShares(prices, targetValues []decimal.NullDecimal) []int64 {
	shares := make([]int64, len(prices))
	for i, price := range prices {
		if i >= len(targetValues) {
			break
		}
		shares[i] = optimizeShare(price, targetValues[i])
	}
	return shares
}

func optimizeShare(price, targetValue decimal.NullDecimal) int64 {
	if !price.Valid || !price.Decimal.IsPositive() || !targetValue.Valid {
		return 0
	}

	q := targetValue.Decimal.Div(price.Decimal).RoundBank(0)
	switch {
	case !q.IsPositive():
		return 0
	case q.GreaterThan(maxShares):
		return math.MaxInt64
	default:
		return q.IntPart()
	}
}

var maxShares = decimal.NewFromInt(math.MaxInt64)

func actionOf(difference decimal.NullDecimal) model.Action {
	switch {
	case !difference.Valid:
		return model.ActionHold
	case difference.Decimal.IsPositive():
		return model.ActionBuy
	case difference.Decimal.IsNegative():
		return model.ActionSell
	default:
		return model.ActionHold
	}
}
