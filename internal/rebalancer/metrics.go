// Package rebalancer holds the allocation arithmetic of a basket: current
// metrics, target allocation under whole shares and input validation.
//
// Every function is pure. Inputs are never modified, results are new values.
// Amounts are shopspring decimals and all rounding is half to even.
package rebalancer

import (
	"github.com/KotFed0t/basket_rebalancer/internal/model"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ComputeMetrics prices every holding from the snapshot and derives its current
// value and weight. A ticker absent from the snapshot keeps the price of the
// holding itself, if any. Holdings without a price have a null value and do
// not count in the total.
func ComputeMetrics(table model.HoldingsTable, prices model.PriceSnapshot) model.Portfolio {
	src := table.Clone()

	portfolio := model.Portfolio{
		ExtraColumns: src.ExtraColumns(),
		Holdings:     make([]model.PricedHolding, 0, len(src.Holdings)),
	}

	for _, h := range src.Holdings {
		if price, ok := prices.Lookup(h.Ticker); ok {
			h.Price = decimal.NewNullDecimal(price)
		}

		priced := model.PricedHolding{Holding: h}
		if h.Price.Valid {
			value := h.Price.Decimal.Mul(decimal.NewFromInt(h.SharesHeld))
			priced.CurrentValue = decimal.NewNullDecimal(value)
			portfolio.TotalValue = portfolio.TotalValue.Add(value)
		}

		portfolio.Holdings = append(portfolio.Holdings, priced)
	}

	for i := range portfolio.Holdings {
		h := &portfolio.Holdings[i]
		h.CurrentWeight = weightOf(h.CurrentValue, portfolio.TotalValue)

		portfolio.TotalCurrentWeight = portfolio.TotalCurrentWeight.Add(h.CurrentWeight)
		portfolio.TotalTargetWeight = portfolio.TotalTargetWeight.Add(h.TargetWeight)
	}

	portfolio.TotalCurrentWeight = portfolio.TotalCurrentWeight.RoundBank(2)
	portfolio.TotalTargetWeight = portfolio.TotalTargetWeight.RoundBank(2)

	return portfolio
}

// weightOf is value/total in percent with 2 decimals, or 0 when total is not positive.
func weightOf(value decimal.NullDecimal, total decimal.Decimal) decimal.Decimal {
	if !value.Valid || !total.IsPositive() {
		return decimal.Zero
	}
	return value.Decimal.Div(total).Mul(hundred).RoundBank(2)
}

func sumValid(values []decimal.NullDecimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values {
		if v.Valid {
			sum = sum.Add(v.Decimal)
		}
	}
	return sum
}
