package xslsxGenerator

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/KotFed0t/basket_rebalancer/internal/model"
	"github.com/KotFed0t/basket_rebalancer/internal/rebalancer"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func testReport(t *testing.T) model.RebalanceReport {
	t.Helper()

	table := model.NewHoldingsTable([]model.Holding{
		{Ticker: "SBER", SharesHeld: 10, TargetWeight: decimal.NewFromInt(50)},
		{Ticker: "GAZP", SharesHeld: 20, TargetWeight: decimal.NewFromInt(50)},
		{Ticker: "NOPE", SharesHeld: 3, TargetWeight: decimal.Zero},
	})
	prices := model.NewPriceSnapshot(map[string]decimal.Decimal{
		"SBER": decimal.NewFromInt(300),
		"GAZP": decimal.NewFromInt(150),
	}, time.Now())

	allocation := rebalancer.Rebalance(rebalancer.ComputeMetrics(table, prices), decimal.NewFromInt(3000))

	return model.RebalanceReport{
		BasketName: "default",
		Allocation: allocation,
		CreatedAt:  time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestGenerate(t *testing.T) {
	report := testReport(t)
	report.Operations = model.OperationsFromAllocation(report.Allocation)

	fileBytes, ext, err := New().Generate(context.Background(), report)
	require.NoError(t, err)
	assert.Equal(t, ".xlsx", ext)

	f, err := excelize.OpenReader(bytes.NewReader(fileBytes))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{allocationSheet, historySheet}, f.GetSheetList())

	rows, err := f.GetRows(allocationSheet)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 5)

	assert.Equal(t, "default, rebalance of 2025-05-01 10:00", rows[0][0])
	assert.Equal(t, model.AllocationColumns, rows[1])

	// SBER: 3000+3000+3000 total, 50% of 9000 is 4500, 15 shares
	assert.Equal(t, "SBER", rows[2][0])
	assert.Equal(t, "10", rows[2][1])
	assert.Equal(t, "15", rows[2][7])
	assert.Equal(t, "Buy", rows[2][10])
	assert.Equal(t, "5", rows[2][11])

	assert.Equal(t, "NOPE", rows[4][0])
	assert.Equal(t, "", rows[4][2])
	assert.Equal(t, "Hold", rows[4][10])

	history, err := f.GetRows(historySheet)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "Ticker", history[0][1])
	assert.Equal(t, "GAZP", history[2][1])
}

func TestGenerate_WithoutHistory(t *testing.T) {
	fileBytes, _, err := New().Generate(context.Background(), testReport(t))
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(fileBytes))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{allocationSheet}, f.GetSheetList())
}

func TestGenerate_EmptyAllocation(t *testing.T) {
	_, _, err := New().Generate(context.Background(), model.RebalanceReport{})
	assert.Error(t, err)
}
