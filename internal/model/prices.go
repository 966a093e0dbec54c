package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSnapshot is the set of prices used during one rebalancing session.
// A ticker that is absent has no resolvable price.
type PriceSnapshot struct {
	Prices  map[string]decimal.Decimal `json:"prices"`
	TakenAt time.Time                  `json:"taken_at"`
}

func NewPriceSnapshot(prices map[string]decimal.Decimal, takenAt time.Time) PriceSnapshot {
	if prices == nil {
		prices = make(map[string]decimal.Decimal)
	}
	return PriceSnapshot{Prices: prices, TakenAt: takenAt}
}

func (s PriceSnapshot) Lookup(ticker string) (decimal.Decimal, bool) {
	price, ok := s.Prices[ticker]
	return price, ok
}

func (s PriceSnapshot) IsEmpty() bool {
	return len(s.Prices) == 0
}

// Missing returns the tickers that have no price in the snapshot.
func (s PriceSnapshot) Missing(tickers []string) []string {
	missing := make([]string, 0)
	for _, ticker := range tickers {
		if _, ok := s.Prices[ticker]; !ok {
			missing = append(missing, ticker)
		}
	}
	return missing
}

// With returns a new snapshot holding the current prices plus the added ones.
// Prices that are already present are kept as is.
func (s PriceSnapshot) With(added map[string]decimal.Decimal) PriceSnapshot {
	prices := make(map[string]decimal.Decimal, len(s.Prices)+len(added))
	for ticker, price := range added {
		prices[ticker] = price
	}
	for ticker, price := range s.Prices {
		prices[ticker] = price
	}
	return NewPriceSnapshot(prices, s.TakenAt)
}
