package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RebalanceOperation is one computed trade kept in the basket history.
type RebalanceOperation struct {
	Ticker            string
	Action            Action
	SharesHeld        int64
	TargetShares      int64
	SharesDelta       int64
	Price             decimal.NullDecimal
	Difference        decimal.NullDecimal
	AdditionalCapital decimal.Decimal
	DtCreate          time.Time
}

func OperationsFromAllocation(a Allocation) []RebalanceOperation {
	ops := make([]RebalanceOperation, 0, len(a.Rows))
	for _, row := range a.Rows {
		ops = append(ops, RebalanceOperation{
			Ticker:            row.Ticker,
			Action:            row.Action,
			SharesHeld:        row.SharesHeld,
			TargetShares:      row.TargetShares,
			SharesDelta:       row.SharesDelta,
			Price:             row.Price,
			Difference:        row.Difference,
			AdditionalCapital: a.AdditionalCapital,
		})
	}
	return ops
}
