package model

import (
	"strconv"

	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionBuy  Action = "Buy"
	ActionSell Action = "Sell"
	ActionHold Action = "Hold"
)

type AllocationRow struct {
	PricedHolding
	TargetValue       decimal.NullDecimal
	TargetShares      int64
	TargetValueActual decimal.NullDecimal
	Difference        decimal.NullDecimal
	Action            Action
	SharesDelta       int64
	RealWeight        decimal.Decimal // percent
}

// Allocation is the result of a rebalance: one row per holding, in input order.
type Allocation struct {
	ExtraColumns           []string
	Rows                   []AllocationRow
	AdditionalCapital      decimal.Decimal
	TotalCurrentValue      decimal.Decimal
	NewTotalValue          decimal.Decimal // current value plus additional capital
	TotalTargetValueActual decimal.Decimal
}

// Header returns the canonical columns followed by the extra ones.
func (a Allocation) Header() []string {
	header := make([]string, 0, len(AllocationColumns)+len(a.ExtraColumns))
	header = append(header, AllocationColumns...)
	return append(header, a.ExtraColumns...)
}

// Records renders the rows in Header order. Missing values are empty strings.
func (a Allocation) Records() [][]string {
	records := make([][]string, 0, len(a.Rows))
	for _, row := range a.Rows {
		rec := []string{
			row.Ticker,
			strconv.FormatInt(row.SharesHeld, 10),
			nullString(row.Price),
			row.CurrentWeight.StringFixed(2),
			nullString(row.CurrentValue),
			row.TargetWeight.String(),
			nullString(row.TargetValue),
			strconv.FormatInt(row.TargetShares, 10),
			nullString(row.TargetValueActual),
			nullString(row.Difference),
			string(row.Action),
			strconv.FormatInt(row.SharesDelta, 10),
			row.RealWeight.StringFixed(2),
		}
		for _, col := range a.ExtraColumns {
			rec = append(rec, row.Extra[col])
		}
		records = append(records, rec)
	}
	return records
}

// NextState is the basket after the trades: target shares become the held shares.
func (a Allocation) NextState() HoldingsTable {
	holdings := make([]Holding, 0, len(a.Rows))
	for _, row := range a.Rows {
		holdings = append(holdings, Holding{
			Ticker:       row.Ticker,
			SharesHeld:   row.TargetShares,
			TargetWeight: row.TargetWeight,
		})
	}
	return NewHoldingsTable(holdings)
}

// SuggestedAdditionalAmount is the cash needed to buy the whole target allocation.
func (a Allocation) SuggestedAdditionalAmount() decimal.Decimal {
	return a.TotalTargetValueActual.Sub(a.TotalCurrentValue)
}

// Trades returns the rows that need a buy or a sell.
func (a Allocation) Trades() []AllocationRow {
	res := make([]AllocationRow, 0, len(a.Rows))
	for _, row := range a.Rows {
		if row.Action != ActionHold {
			res = append(res, row)
		}
	}
	return res
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(2)
}
