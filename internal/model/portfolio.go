package model

import (
	"github.com/shopspring/decimal"
)

type PricedHolding struct {
	Holding
	CurrentValue  decimal.NullDecimal // null when the holding has no price
	CurrentWeight decimal.Decimal     // percent
}

// Portfolio is a holdings table enriched with current values and weights.
type Portfolio struct {
	ExtraColumns       []string
	Holdings           []PricedHolding
	TotalValue         decimal.Decimal
	TotalCurrentWeight decimal.Decimal
	TotalTargetWeight  decimal.Decimal
}

// Unpriced returns the tickers of holdings without a price.
func (p Portfolio) Unpriced() []string {
	res := make([]string, 0)
	for _, h := range p.Holdings {
		if !h.Price.Valid {
			res = append(res, h.Ticker)
		}
	}
	return res
}
