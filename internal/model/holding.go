package model

import (
	"github.com/shopspring/decimal"
)

// Persisted columns of a basket, in file order.
const (
	ColTicker       = "Ticker"
	ColSharesHeld   = "Shares Held"
	ColTargetWeight = "Target Weight (%)"
)

// Derived columns.
const (
	ColCurrentPrice      = "Current Price (per share)"
	ColCurrentWeight     = "Current Weight (%)"
	ColCurrentValue      = "Current Value"
	ColTargetValue       = "Target Value"
	ColTargetShares      = "Target Shares"
	ColTargetValueActual = "Target Value (Actual)"
	ColDifference        = "Difference"
	ColAction            = "Action"
	ColSharesDelta       = "Shares to Buy/Sell"
	ColRealWeight        = "Real Weight (%)"
)

// PersistedColumns is the exact header of a basket file.
var PersistedColumns = []string{ColTicker, ColSharesHeld, ColTargetWeight}

// AllocationColumns is the canonical column order of a rebalanced table.
var AllocationColumns = []string{
	ColTicker,
	ColSharesHeld,
	ColCurrentPrice,
	ColCurrentWeight,
	ColCurrentValue,
	ColTargetWeight,
	ColTargetValue,
	ColTargetShares,
	ColTargetValueActual,
	ColDifference,
	ColAction,
	ColSharesDelta,
	ColRealWeight,
}

type Holding struct {
	Ticker       string
	SharesHeld   int64
	TargetWeight decimal.Decimal     // percent
	Price        decimal.NullDecimal // unknown until priced
	Extra        map[string]string   // values of non canonical columns
}

// HoldingsTable is a basket as it came from its source. Columns keeps the
// source header so that absent required columns and extra columns survive.
type HoldingsTable struct {
	Columns  []string
	Holdings []Holding
}

func NewHoldingsTable(holdings []Holding) HoldingsTable {
	return HoldingsTable{
		Columns:  append([]string(nil), PersistedColumns...),
		Holdings: holdings,
	}
}

func (t HoldingsTable) HasColumn(name string) bool {
	for _, col := range t.Columns {
		if col == name {
			return true
		}
	}
	return false
}

// ExtraColumns returns the source columns that are not canonical, in source order.
func (t HoldingsTable) ExtraColumns() []string {
	extra := make([]string, 0)
	for _, col := range t.Columns {
		if !isCanonical(col) {
			extra = append(extra, col)
		}
	}
	return extra
}

func (t HoldingsTable) Tickers() []string {
	tickers := make([]string, 0, len(t.Holdings))
	for _, h := range t.Holdings {
		tickers = append(tickers, h.Ticker)
	}
	return tickers
}

// Clone returns a deep copy, so the callers can enrich it without touching the source.
func (t HoldingsTable) Clone() HoldingsTable {
	res := HoldingsTable{
		Columns:  append([]string(nil), t.Columns...),
		Holdings: make([]Holding, len(t.Holdings)),
	}
	for i, h := range t.Holdings {
		res.Holdings[i] = h.Clone()
	}
	return res
}

// Clone copies the holding together with its extra values.
func (h Holding) Clone() Holding {
	if h.Extra != nil {
		extra := make(map[string]string, len(h.Extra))
		for k, v := range h.Extra {
			extra[k] = v
		}
		h.Extra = extra
	}
	return h
}

func isCanonical(col string) bool {
	for _, c := range AllocationColumns {
		if c == col {
			return true
		}
	}
	return false
}
