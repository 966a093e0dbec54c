package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/KotFed0t/basket_rebalancer/data/repository"
	"github.com/KotFed0t/basket_rebalancer/internal/converter/dbConverter"
	"github.com/KotFed0t/basket_rebalancer/internal/model"
	"github.com/KotFed0t/basket_rebalancer/internal/model/dbModel"
	"github.com/KotFed0t/basket_rebalancer/utils"
	"github.com/jackc/pgx/v5/pgconn"
)

const defaultBasketName = "default"

func (r *Postgres) InsertUser(ctx context.Context, chatID int64) (userID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertUser"
	query := `INSERT INTO users(chat_id) VALUES($1) RETURNING user_id`

	slog.Debug("InsertUser start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
			slog.Error("InsertUser failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertUser completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, query, chatID).Scan(&userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" { // unique_violation
				return 0, repository.ErrAlreadyExists
			}
		}
		return 0, err
	}

	return userID, nil
}

func (r *Postgres) GetUserID(ctx context.Context, chatID int64) (userID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetUserID"
	query := `SELECT user_id FROM users WHERE chat_id = $1`

	slog.Debug("GetUserID start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			slog.Error("GetUserID failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetUserID completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, query, chatID).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, err
	}

	return userID, nil
}

// GetOrCreateBasket returns the id of the default basket of the user, creating it on first use.
func (r *Postgres) GetOrCreateBasket(ctx context.Context, userID int64) (basketID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetOrCreateBasket"
	query := `
		INSERT INTO baskets(user_id, name) VALUES($1, $2)
		ON CONFLICT (user_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING basket_id
		`

	slog.Debug("GetOrCreateBasket start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("userID", userID))
	defer func() {
		if err != nil {
			slog.Error("GetOrCreateBasket failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetOrCreateBasket completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("basketID", basketID))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, query, userID, defaultBasketName).Scan(&basketID)
	if err != nil {
		return 0, err
	}

	return basketID, nil
}

// GetBasketHoldings returns the stored holdings in their original order.
// A basket without holdings gives an empty table.
func (r *Postgres) GetBasketHoldings(ctx context.Context, basketID int64) (table model.HoldingsTable, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetBasketHoldings"
	query := `
		SELECT basket_id, position, ticker, shares_held, target_weight
		FROM basket_holdings
		WHERE basket_id = $1
		ORDER BY position
		`

	slog.Debug("GetBasketHoldings start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("basketID", basketID))
	defer func() {
		if err != nil {
			slog.Error("GetBasketHoldings failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetBasketHoldings completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int("holdings", len(table.Holdings)))
		}
	}()

	dbHoldings := make([]dbModel.Holding, 0)
	err = r.txOrDb(ctx).SelectContext(ctx, &dbHoldings, query, basketID)
	if err != nil {
		return model.HoldingsTable{}, err
	}

	return dbConverter.ConvertHoldings(dbHoldings), nil
}

// ReplaceBasketHoldings stores the table as the new content of the basket in one transaction.
func (r *Postgres) ReplaceBasketHoldings(ctx context.Context, basketID int64, table model.HoldingsTable) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.ReplaceBasketHoldings"
	deleteQuery := `DELETE FROM basket_holdings WHERE basket_id = $1`
	insertQuery := `
		INSERT INTO basket_holdings(basket_id, position, ticker, shares_held, target_weight)
		VALUES (:basket_id, :position, :ticker, :shares_held, :target_weight)
		`

	slog.Debug("ReplaceBasketHoldings start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("basketID", basketID))
	defer func() {
		if err != nil {
			slog.Error("ReplaceBasketHoldings failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("ReplaceBasketHoldings completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	return r.WithinTransaction(ctx, func(ctx context.Context) error {
		_, err := r.txOrDb(ctx).ExecContext(ctx, deleteQuery, basketID)
		if err != nil {
			return err
		}

		dbHoldings := dbConverter.ConvertHoldingsToDb(basketID, table)
		if len(dbHoldings) == 0 {
			return nil
		}

		_, err = r.txOrDb(ctx).NamedExecContext(ctx, insertQuery, dbHoldings)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				if pgErr.Code == "23505" { // unique_violation
					return repository.ErrAlreadyExists
				}
			}
			return err
		}
		return nil
	})
}

func (r *Postgres) InsertRebalanceOperations(ctx context.Context, basketID int64, operations []model.RebalanceOperation) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertRebalanceOperations"
	query := `
		INSERT INTO rebalance_operations(basket_id, ticker, action, shares_held, target_shares, shares_delta, price, difference, additional_capital, dt_create)
		VALUES (:basket_id, :ticker, :action, :shares_held, :target_shares, :shares_delta, :price, :difference, :additional_capital, :dt_create)
		`

	slog.Debug(
		"InsertRebalanceOperations start",
		slog.String("rqID", rqID),
		slog.String("op", op),
		slog.Int64("basketID", basketID),
		slog.Int("operations", len(operations)),
	)
	defer func() {
		if err != nil {
			slog.Error("InsertRebalanceOperations failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertRebalanceOperations completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	if len(operations) == 0 {
		return nil
	}

	now := time.Now()
	dbOperations := make([]dbModel.RebalanceOperation, 0, len(operations))
	for _, operation := range operations {
		if operation.DtCreate.IsZero() {
			operation.DtCreate = now
		}
		dbOperations = append(dbOperations, dbConverter.ConvertRebalanceOperationToDb(basketID, operation))
	}

	_, err = r.txOrDb(ctx).NamedExecContext(ctx, query, dbOperations)
	if err != nil {
		return err
	}
	return nil
}

// GetRebalanceOperations returns the latest operations of the basket, newest first.
func (r *Postgres) GetRebalanceOperations(ctx context.Context, basketID int64, limit int) (operations []model.RebalanceOperation, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetRebalanceOperations"
	params := map[string]any{
		"basketID": basketID,
		"limit":    limit,
	}
	query := `
		SELECT basket_id, ticker, action, shares_held, target_shares, shares_delta, price, difference, additional_capital, dt_create
		FROM rebalance_operations
		WHERE basket_id = $1
		ORDER BY dt_create DESC, operation_id DESC
		LIMIT $2
		`

	slog.Debug("GetRebalanceOperations start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Any("params", params))
	defer func() {
		if err != nil {
			slog.Error("GetRebalanceOperations failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetRebalanceOperations completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, basketID, limit)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	operations = make([]model.RebalanceOperation, 0, limit)
	for rows.Next() {
		var dbOperation dbModel.RebalanceOperation
		err = rows.StructScan(&dbOperation)
		if err != nil {
			return nil, err
		}
		operations = append(operations, dbConverter.ConvertRebalanceOperation(dbOperation))
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return operations, nil
}
