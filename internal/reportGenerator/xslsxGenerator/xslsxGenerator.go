package xslsxGenerator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/KotFed0t/basket_rebalancer/internal/model"
	"github.com/KotFed0t/basket_rebalancer/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	allocationSheet = "Allocation"
	historySheet    = "History"
	dateLayout      = "2006-01-02 15:04"
)

type XSLSXGenerator struct{}

func New() *XSLSXGenerator {
	return &XSLSXGenerator{}
}

func (g *XSLSXGenerator) Generate(ctx context.Context, report model.RebalanceReport) (fileBytes []byte, fileExtension string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "XSLSXGenerator.Generate"

	if len(report.Allocation.Rows) == 0 {
		return nil, "", errors.New("empty allocation")
	}

	slog.Debug("Generate start", slog.String("rqID", rqID), slog.String("op", op))

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("got error while closing file", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		}
	}()

	if err = g.fillAllocationSheet(ctx, f, report); err != nil {
		return nil, "", err
	}

	if len(report.Operations) > 0 {
		if err = g.fillHistorySheet(ctx, f, report.Operations); err != nil {
			return nil, "", err
		}
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		slog.Error("got error while deleting Sheet1", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		slog.Error("got error while Saving file to bytes buffer", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, "", err
	}

	slog.Debug("Generate completed", slog.String("rqID", rqID), slog.String("op", op))

	return buf.Bytes(), ".xlsx", nil
}

func (g *XSLSXGenerator) fillAllocationSheet(ctx context.Context, f *excelize.File, report model.RebalanceReport) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "XSLSXGenerator.fillAllocationSheet"

	allocation := report.Allocation
	header := allocation.Header()

	_, err := f.NewSheet(allocationSheet)
	if err != nil {
		slog.Error("got error while creating NewSheet", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return err
	}

	err = f.MergeCell(allocationSheet, "A1", lastCol+"1")
	if err != nil {
		return err
	}

	title := fmt.Sprintf("%s, rebalance of %s", report.BasketName, report.CreatedAt.Format(dateLayout))
	_ = f.SetCellStr(allocationSheet, "A1", title)

	if err = g.styleCells(f, allocationSheet, "A1", "A1", "#cfe2f3"); err != nil {
		return err
	}

	for i, col := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellStr(allocationSheet, cell, col)
	}

	if err = g.styleCells(f, allocationSheet, "A2", lastCol+"2", "#d9ead3"); err != nil {
		return err
	}

	for i, row := range allocation.Rows {
		rowNum := i + 3
		values := []any{
			row.Ticker,
			row.SharesHeld,
			nullFloat(row.Price),
			row.CurrentWeight.InexactFloat64(),
			nullFloat(row.CurrentValue),
			row.TargetWeight.InexactFloat64(),
			nullFloat(row.TargetValue),
			row.TargetShares,
			nullFloat(row.TargetValueActual),
			nullFloat(row.Difference),
			string(row.Action),
			row.SharesDelta,
			row.RealWeight.InexactFloat64(),
		}
		for _, col := range allocation.ExtraColumns {
			values = append(values, row.Extra[col])
		}

		cell, _ := excelize.CoordinatesToCellName(1, rowNum)
		if err = f.SetSheetRow(allocationSheet, cell, &values); err != nil {
			slog.Error("got error while SetSheetRow", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
			return err
		}
	}

	// totals
	rowNum := len(allocation.Rows) + 4
	totals := [][2]any{
		{"Current value", allocation.TotalCurrentValue.InexactFloat64()},
		{"Additional capital", allocation.AdditionalCapital.InexactFloat64()},
		{"New total value", allocation.NewTotalValue.InexactFloat64()},
		{"Target value (actual)", allocation.TotalTargetValueActual.InexactFloat64()},
	}
	if allocation.AdditionalCapital.IsZero() && allocation.SuggestedAdditionalAmount().IsPositive() {
		totals = append(totals, [2]any{"Suggested additional amount", allocation.SuggestedAdditionalAmount().InexactFloat64()})
	}

	for i, total := range totals {
		_ = f.SetCellValue(allocationSheet, fmt.Sprintf("A%d", rowNum+i), total[0])
		_ = f.SetCellValue(allocationSheet, fmt.Sprintf("B%d", rowNum+i), total[1])
	}

	if err = g.styleCells(f, allocationSheet, fmt.Sprintf("A%d", rowNum), fmt.Sprintf("A%d", rowNum+len(totals)-1), "#f9cb9c"); err != nil {
		return err
	}

	return nil
}

func (g *XSLSXGenerator) fillHistorySheet(ctx context.Context, f *excelize.File, operations []model.RebalanceOperation) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "XSLSXGenerator.fillHistorySheet"

	_, err := f.NewSheet(historySheet)
	if err != nil {
		slog.Error("got error while creating NewSheet", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	header := []any{"Date", "Ticker", "Action", "Shares Held", "Target Shares", "Shares to Buy/Sell", "Price", "Difference", "Additional capital"}
	if err = f.SetSheetRow(historySheet, "A1", &header); err != nil {
		return err
	}

	if err = g.styleCells(f, historySheet, "A1", "I1", "#cccccc"); err != nil {
		return err
	}

	for i, operation := range operations {
		values := []any{
			operation.DtCreate.Format(dateLayout),
			operation.Ticker,
			string(operation.Action),
			operation.SharesHeld,
			operation.TargetShares,
			operation.SharesDelta,
			nullFloat(operation.Price),
			nullFloat(operation.Difference),
			operation.AdditionalCapital.InexactFloat64(),
		}
		if err = f.SetSheetRow(historySheet, fmt.Sprintf("A%d", i+2), &values); err != nil {
			slog.Error("got error while SetSheetRow", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
			return err
		}
	}

	return nil
}

func (g *XSLSXGenerator) styleCells(f *excelize.File, sheet, from, to, color string) error {
	styleID, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Font: &excelize.Font{
			Bold: true,
			Size: 11,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Pattern: 1,
			Color:   []string{color},
		},
	})
	if err != nil {
		return err
	}

	if err := f.SetCellStyle(sheet, from, to, styleID); err != nil {
		return fmt.Errorf("apply style: %w", err)
	}
	return nil
}

// nullFloat leaves the cell empty for a missing value.
func nullFloat(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.InexactFloat64()
}
