package dbConverter

import (
	"github.com/KotFed0t/basket_rebalancer/internal/model"
	"github.com/KotFed0t/basket_rebalancer/internal/model/dbModel"
)

func ConvertHoldings(dbHoldings []dbModel.Holding) model.HoldingsTable {
	holdings := make([]model.Holding, 0, len(dbHoldings))
	for _, h := range dbHoldings {
		holdings = append(holdings, model.Holding{
			Ticker:       h.Ticker,
			SharesHeld:   h.SharesHeld,
			TargetWeight: h.TargetWeight,
		})
	}
	return model.NewHoldingsTable(holdings)
}

// ConvertHoldingsToDb keeps the table order in Position. Extra columns are not stored.
func ConvertHoldingsToDb(basketID int64, table model.HoldingsTable) []dbModel.Holding {
	dbHoldings := make([]dbModel.Holding, 0, len(table.Holdings))
	for i, h := range table.Holdings {
		dbHoldings = append(dbHoldings, dbModel.Holding{
			BasketID:     basketID,
			Position:     i,
			Ticker:       h.Ticker,
			SharesHeld:   h.SharesHeld,
			TargetWeight: h.TargetWeight,
		})
	}
	return dbHoldings
}

func ConvertRebalanceOperation(dbOperation dbModel.RebalanceOperation) model.RebalanceOperation {
	return model.RebalanceOperation{
		Ticker:            dbOperation.Ticker,
		Action:            model.Action(dbOperation.Action),
		SharesHeld:        dbOperation.SharesHeld,
		TargetShares:      dbOperation.TargetShares,
		SharesDelta:       dbOperation.SharesDelta,
		Price:             dbOperation.Price,
		Difference:        dbOperation.Difference,
		AdditionalCapital: dbOperation.AdditionalCapital,
		DtCreate:          dbOperation.DtCreate,
	}
}

func ConvertRebalanceOperationToDb(basketID int64, operation model.RebalanceOperation) dbModel.RebalanceOperation {
	return dbModel.RebalanceOperation{
		BasketID:          basketID,
		Ticker:            operation.Ticker,
		Action:            string(operation.Action),
		SharesHeld:        operation.SharesHeld,
		TargetShares:      operation.TargetShares,
		SharesDelta:       operation.SharesDelta,
		Price:             operation.Price,
		Difference:        operation.Difference,
		AdditionalCapital: operation.AdditionalCapital,
		DtCreate:          operation.DtCreate,
	}
}
