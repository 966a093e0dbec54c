// Package basketfile reads and writes baskets as CSV files with the columns
// Ticker, Shares Held, Target Weight (%). Derived values are never stored.
package basketfile

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/KotFed0t/basket_rebalancer/internal/model"
	"github.com/KotFed0t/basket_rebalancer/internal/rebalancer"
	"github.com/shopspring/decimal"
)

const utf8BOM = "\ufeff"

var ErrEmptyFile = errors.New("empty basket file")

// SchemaError is returned when the header of a basket file is not exactly the expected one.
type SchemaError struct {
	Expected []string
	Actual   []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf(
		"CSV schema mismatch. Expected columns exactly: [%s] but got [%s]",
		strings.Join(e.Expected, ", "),
		strings.Join(e.Actual, ", "),
	)
}

// LineError is a value of a record that can't be parsed.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Read reads a basket file. The header must be exactly the persisted columns in order.
func Read(r io.Reader) (model.HoldingsTable, error) {
	return read(r, true)
}

// ReadTable reads a basket table with any header. Absent required columns are
// left for the validation, unknown columns are kept as extra values.
func ReadTable(r io.Reader) (model.HoldingsTable, error) {
	return read(r, false)
}

func read(r io.Reader, strict bool) (model.HoldingsTable, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return model.HoldingsTable{}, ErrEmptyFile
		}
		return model.HoldingsTable{}, fmt.Errorf("read header: %w", err)
	}

	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], utf8BOM))
	}

	if strict && !slices.Equal(header, model.PersistedColumns) {
		return model.HoldingsTable{}, &SchemaError{Expected: model.PersistedColumns, Actual: header}
	}

	table := model.HoldingsTable{Columns: header, Holdings: make([]model.Holding, 0)}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return model.HoldingsTable{}, fmt.Errorf("read record: %w", err)
		}

		line, _ := reader.FieldPos(0)
		holding, err := parseHolding(header, record)
		if err != nil {
			return model.HoldingsTable{}, &LineError{Line: line, Err: err}
		}
		table.Holdings = append(table.Holdings, holding)
	}

	return table, nil
}

func parseHolding(header, record []string) (holding model.Holding, err error) {
	for i, col := range header {
		value := strings.TrimSpace(record[i])

		switch col {
		case model.ColTicker:
			holding.Ticker = value
		case model.ColSharesHeld:
			holding.SharesHeld, err = parseShares(value)
			if err != nil {
				return model.Holding{}, fmt.Errorf("invalid %s %q: %w", col, value, err)
			}
		case model.ColTargetWeight:
			holding.TargetWeight, err = decimal.NewFromString(value)
			if err != nil {
				return model.Holding{}, fmt.Errorf("invalid %s %q: %w", col, value, err)
			}
		default:
			if holding.Extra == nil {
				holding.Extra = make(map[string]string)
			}
			holding.Extra[col] = value
		}
	}
	return holding, nil
}

// parseShares accepts whole numbers, also written with a zero fraction (e.g. 10.0).
func parseShares(value string) (int64, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err == nil {
		return n, nil
	}

	d, decErr := decimal.NewFromString(value)
	if decErr != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, errors.New("shares must be a whole number")
	}
	return d.IntPart(), nil
}

// Write writes the persisted columns of the table.
func Write(w io.Writer, table model.HoldingsTable) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(model.PersistedColumns); err != nil {
		return err
	}

	for _, h := range table.Holdings {
		record := []string{h.Ticker, strconv.FormatInt(h.SharesHeld, 10), h.TargetWeight.String()}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// Encode returns the basket file content of the table.
func Encode(table model.HoldingsTable) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, table); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeAllocation returns the whole allocation table as CSV.
func EncodeAllocation(a model.Allocation) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(a.Header()); err != nil {
		return nil, err
	}
	if err := writer.WriteAll(a.Records()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Load reads the basket file at path. Any header is accepted and extra columns
// are kept. When the file does not exist, cannot be read or holds an invalid
// basket the fallback basket is returned.
func Load(path string, fallback model.HoldingsTable) model.HoldingsTable {
	op := "basketfile.Load"

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Info("no saved basket found, using default basket", slog.String("op", op), slog.String("path", path))
		} else {
			slog.Error("can't open basket file", slog.String("op", op), slog.String("path", path), slog.String("err", err.Error()))
		}
		return fallback
	}
	defer f.Close()

	table, err := ReadTable(f)
	if err != nil {
		slog.Error("can't read basket file, using default basket", slog.String("op", op), slog.String("path", path), slog.String("err", err.Error()))
		return fallback
	}

	if msgs := rebalancer.Validate(table); len(msgs) > 0 {
		slog.Error("invalid basket file, using default basket", slog.String("op", op), slog.String("path", path), slog.Any("messages", msgs))
		return fallback
	}

	slog.Info("loaded basket file", slog.String("op", op), slog.String("path", path), slog.Int("holdings", len(table.Holdings)))

	return table
}
