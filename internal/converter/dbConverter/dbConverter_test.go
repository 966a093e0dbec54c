package dbConverter

import (
	"testing"
	"time"

	"github.com/KotFed0t/basket_rebalancer/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertHoldings_KeepsOrderAndPrecision(t *testing.T) {
	table := model.NewHoldingsTable([]model.Holding{
		{Ticker: "SBER", SharesHeld: 10, TargetWeight: decimal.RequireFromString("33.33333")},
		{Ticker: "GAZP", SharesHeld: 3, TargetWeight: decimal.RequireFromString("123456789.5"), Extra: map[string]string{"Sector": "Oil"}},
	})

	dbHoldings := ConvertHoldingsToDb(7, table)
	require.Len(t, dbHoldings, 2)
	assert.Equal(t, int64(7), dbHoldings[1].BasketID)
	assert.Equal(t, 1, dbHoldings[1].Position)

	back := ConvertHoldings(dbHoldings)
	assert.Equal(t, model.PersistedColumns, back.Columns)
	assert.Equal(t, []string{"SBER", "GAZP"}, back.Tickers())
	assert.Equal(t, "33.33333", back.Holdings[0].TargetWeight.String())
	assert.Equal(t, "123456789.5", back.Holdings[1].TargetWeight.String())
	assert.Nil(t, back.Holdings[1].Extra, "extra columns are not stored")
}

func TestConvertRebalanceOperation(t *testing.T) {
	operation := model.RebalanceOperation{
		Ticker:            "LKOH",
		Action:            model.ActionSell,
		SharesHeld:        12,
		TargetShares:      4,
		SharesDelta:       -8,
		Price:             decimal.NewNullDecimal(decimal.RequireFromString("7000.125")),
		AdditionalCapital: decimal.NewFromInt(10000),
		DtCreate:          time.Date(2025, 5, 1, 10, 30, 0, 0, time.UTC),
	}

	dbOperation := ConvertRebalanceOperationToDb(3, operation)
	assert.Equal(t, int64(3), dbOperation.BasketID)
	assert.Equal(t, "Sell", dbOperation.Action)

	assert.Equal(t, operation, ConvertRebalanceOperation(dbOperation))
}
