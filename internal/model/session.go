package model

import "github.com/shopspring/decimal"

type State int

const (
	DefaultState State = iota
	ExpectingCapital
	ExpectingBasketFile
)

// Session is the per chat state. Prices is the snapshot the chat works with
// until it is reset.
type Session struct {
	State             State           `json:"state"`
	AdditionalCapital decimal.Decimal `json:"additional_capital"`
	Prices            PriceSnapshot   `json:"prices"`
}
