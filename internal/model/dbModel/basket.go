package dbModel

import (
	"time"

	"github.com/shopspring/decimal"
)

type Basket struct {
	BasketID int64  `db:"basket_id"`
	UserID   int64  `db:"user_id"`
	Name     string `db:"name"`
}

type Holding struct {
	BasketID     int64           `db:"basket_id"`
	Position     int             `db:"position"`
	Ticker       string          `db:"ticker"`
	SharesHeld   int64           `db:"shares_held"`
	TargetWeight decimal.Decimal `db:"target_weight"`
}

type RebalanceOperation struct {
	BasketID          int64               `db:"basket_id"`
	Ticker            string              `db:"ticker"`
	Action            string              `db:"action"`
	SharesHeld        int64               `db:"shares_held"`
	TargetShares      int64               `db:"target_shares"`
	SharesDelta       int64               `db:"shares_delta"`
	Price             decimal.NullDecimal `db:"price"`
	Difference        decimal.NullDecimal `db:"difference"`
	AdditionalCapital decimal.Decimal     `db:"additional_capital"`
	DtCreate          time.Time           `db:"dt_create"`
}
