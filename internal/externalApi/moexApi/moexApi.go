package moexApi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KotFed0t/basket_rebalancer/config"
	"github.com/KotFed0t/basket_rebalancer/internal/model/moexModel"
	"github.com/KotFed0t/basket_rebalancer/utils"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const securitiesURL = "/iss/engines/stock/markets/shares/boards/%s/securities.json"

type MoexApi struct {
	client *resty.Client
	board  string
}

func New(cfg *config.Config) *MoexApi {
	client := resty.New().
		SetDebug(cfg.API.Debug).
		SetTimeout(cfg.API.Timeout).
		SetBaseURL(cfg.API.MoexApi.Url)
	return &MoexApi{client: client, board: cfg.API.MoexApi.Board}
}

// GetStocksInfo returns every security of the board.
func (a *MoexApi) GetStocksInfo(ctx context.Context) ([]moexModel.StockInfo, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "MoexApi.GetStocksInfo"

	slog.Debug("start request", slog.String("rqID", rqID), slog.String("op", op))

	rawStocksInfo, err := a.getSecurities(ctx, nil)
	if err != nil {
		return nil, err
	}

	res, err := a.parseRawStocksInfoToSlice(rawStocksInfo)
	if err != nil {
		slog.Error("can't parse raw data", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	slog.Debug("request complete", slog.String("rqID", rqID), slog.String("op", op), slog.Int("stocks", len(res)))

	return res, nil
}

// GetStocksInfoByTickers returns the securities found for the tickers, keyed by ticker.
// Unknown tickers are absent from the result.
func (a *MoexApi) GetStocksInfoByTickers(ctx context.Context, tickers []string) (map[string]moexModel.StockInfo, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "MoexApi.GetStocksInfoByTickers"

	if len(tickers) == 0 {
		return map[string]moexModel.StockInfo{}, nil
	}

	slog.Debug("start request", slog.String("rqID", rqID), slog.String("op", op), slog.Any("tickers", tickers))

	rawStocksInfo, err := a.getSecurities(ctx, tickers)
	if err != nil {
		return nil, err
	}

	res, err := a.parseRawStocksInfoToMap(rawStocksInfo)
	if err != nil {
		slog.Error("can't parse raw data", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	slog.Debug("request complete", slog.String("rqID", rqID), slog.String("op", op), slog.Int("found", len(res)))

	return res, nil
}

func (a *MoexApi) getSecurities(ctx context.Context, tickers []string) (moexModel.RawStocksInfo, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "MoexApi.getSecurities"

	params := map[string]string{
		"iss.meta":           "off",
		"securities.columns": "SECID,SHORTNAME,LOTSIZE,CURRENCYID,STATUS",
		"marketdata.columns": "SECID,MARKETPRICE",
	}
	if len(tickers) > 0 {
		params["securities"] = strings.Join(tickers, ",")
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParams(params).
		Get(fmt.Sprintf(securitiesURL, a.board))
	if err != nil {
		slog.Error("error while dialing MoexApi", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return moexModel.RawStocksInfo{}, err
	}

	if resp.IsError() {
		slog.Error("unexpected MoexApi status", slog.String("rqID", rqID), slog.String("op", op), slog.Int("status", resp.StatusCode()))
		return moexModel.RawStocksInfo{}, fmt.Errorf("moex api responded with status %d", resp.StatusCode())
	}

	rawStocksInfo := moexModel.RawStocksInfo{}
	err = json.Unmarshal(resp.Body(), &rawStocksInfo)
	if err != nil {
		slog.Error("can't unmarshall response into moexModel.RawStocksInfo", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return moexModel.RawStocksInfo{}, err
	}

	return rawStocksInfo, nil
}

func (a *MoexApi) parseRawStocksInfoToSlice(rawStocksInfo moexModel.RawStocksInfo) ([]moexModel.StockInfo, error) {
	res := make([]moexModel.StockInfo, 0, len(rawStocksInfo.Marketdata.Data))

	err := a.handleRawStocksInfo(rawStocksInfo, func(stock moexModel.StockInfo) {
		res = append(res, stock)
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (a *MoexApi) parseRawStocksInfoToMap(rawStocksInfo moexModel.RawStocksInfo) (map[string]moexModel.StockInfo, error) {
	res := make(map[string]moexModel.StockInfo, len(rawStocksInfo.Marketdata.Data))

	err := a.handleRawStocksInfo(rawStocksInfo, func(stock moexModel.StockInfo) {
		res[stock.Ticker] = stock
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (a *MoexApi) handleRawStocksInfo(rawStocksInfo moexModel.RawStocksInfo, handleFn func(stock moexModel.StockInfo)) error {
	if len(rawStocksInfo.Marketdata.Data) != len(rawStocksInfo.Securities.Data) {
		return errors.New("lengths Marketdata != Securities")
	}

	for i := 0; i < len(rawStocksInfo.Marketdata.Data); i++ {
		if len(rawStocksInfo.Marketdata.Data[i]) != len(rawStocksInfo.Marketdata.Columns) {
			return errors.New("invalid Marketdata")
		}

		if len(rawStocksInfo.Securities.Data[i]) != len(rawStocksInfo.Securities.Columns) {
			return errors.New("invalid Securities")
		}

		stockInfo := moexModel.StockInfo{}

		for j, col := range rawStocksInfo.Marketdata.Columns {
			value := rawStocksInfo.Marketdata.Data[i][j]
			ok := true
			switch col {
			case "SECID":
				stockInfo.Ticker, ok = value.(string)
			case "MARKETPRICE":
				// null until the security has traded, the price stays unknown
				if value != nil {
					var price float64
					price, ok = value.(float64)
					if ok {
						stockInfo.Price = decimal.NewNullDecimal(decimal.NewFromFloat(price))
					}
				}
			default:
				return fmt.Errorf("unknown column %s", col)
			}

			if !ok {
				return fmt.Errorf("invalid type %s = %v", col, value)
			}
		}

		for j, col := range rawStocksInfo.Securities.Columns {
			value := rawStocksInfo.Securities.Data[i][j]
			ok := true
			switch col {
			case "SECID":
				if value != stockInfo.Ticker {
					return fmt.Errorf("secID in securities and market data is not equal %v and %s", value, stockInfo.Ticker)
				}
			case "SHORTNAME":
				stockInfo.Shortname, ok = value.(string)
			case "LOTSIZE":
				var f float64
				f, ok = value.(float64)
				if ok {
					stockInfo.Lotsize = int(f)
				}
			case "CURRENCYID":
				stockInfo.CurrencyID, ok = value.(string)
				if ok && stockInfo.CurrencyID == "SUR" {
					stockInfo.CurrencyID = "RUB"
				}
			case "STATUS":
				var status string
				status, ok = value.(string)
				if ok && status == "A" {
					stockInfo.Status = true
				}
			default:
				return fmt.Errorf("unknown column %s", col)
			}

			if !ok {
				return fmt.Errorf("invalid type %s = %v", col, value)
			}
		}
		handleFn(stockInfo)
	}
	return nil
}
