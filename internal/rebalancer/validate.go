package rebalancer

import (
	"fmt"
	"strings"

	"github.com/KotFed0t/basket_rebalancer/internal/model"
)

const (
	MsgNegativeShares  = "Shares held cannot be negative"
	MsgNegativeWeights = "Target weights cannot be negative"
	MsgEmptyTicker     = "Ticker symbols cannot be empty"
)

// Validate returns every problem found in the table, or nothing when it is valid.
// All checks run; each one reports at most one message.
func Validate(table model.HoldingsTable) []string {
	errs := make([]string, 0)

	missing := make([]string, 0)
	for _, col := range model.PersistedColumns {
		if !table.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		errs = append(errs, fmt.Sprintf("Missing required columns: [%s]", strings.Join(missing, ", ")))
	}

	if table.HasColumn(model.ColSharesHeld) && anyHolding(table.Holdings, func(h model.Holding) bool { return h.SharesHeld < 0 }) {
		errs = append(errs, MsgNegativeShares)
	}

	if table.HasColumn(model.ColTargetWeight) && anyHolding(table.Holdings, func(h model.Holding) bool { return h.TargetWeight.IsNegative() }) {
		errs = append(errs, MsgNegativeWeights)
	}

	if table.HasColumn(model.ColTicker) && anyHolding(table.Holdings, func(h model.Holding) bool { return strings.TrimSpace(h.Ticker) == "" }) {
		errs = append(errs, MsgEmptyTicker)
	}

	return errs
}

// CheckPrices reports the holdings that could not be priced.
func CheckPrices(portfolio model.Portfolio) []string {
	errs := make([]string, 0)
	for _, ticker := range portfolio.Unpriced() {
		errs = append(errs, fmt.Sprintf("No price found for %s", ticker))
	}
	return errs
}

func anyHolding(holdings []model.Holding, pred func(model.Holding) bool) bool {
	for _, h := range holdings {
		if pred(h) {
			return true
		}
	}
	return false
}
