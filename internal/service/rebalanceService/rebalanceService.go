package rebalanceService

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/KotFed0t/basket_rebalancer/config"
	"github.com/KotFed0t/basket_rebalancer/data/repository"
	"github.com/KotFed0t/basket_rebalancer/data/session"
	"github.com/KotFed0t/basket_rebalancer/internal/basketfile"
	"github.com/KotFed0t/basket_rebalancer/internal/model"
	"github.com/KotFed0t/basket_rebalancer/internal/model/moexModel"
	"github.com/KotFed0t/basket_rebalancer/internal/rebalancer"
	"github.com/KotFed0t/basket_rebalancer/internal/service"
	"github.com/KotFed0t/basket_rebalancer/utils"
	"github.com/shopspring/decimal"
)

type MoexApi interface {
	GetStocksInfo(ctx context.Context) ([]moexModel.StockInfo, error)
	GetStocksInfoByTickers(ctx context.Context, tickers []string) (map[string]moexModel.StockInfo, error)
}

type Cache interface {
	GetStocksInfo(ctx context.Context, tickers []string) (map[string]moexModel.StockInfo, error)
	SetStocks(ctx context.Context, stocks []moexModel.StockInfo) error
}

type Session interface {
	GetSession(ctx context.Context, chatID int64) (model.Session, error)
	SetSession(ctx context.Context, chatID int64, session model.Session) error
	DeleteSession(ctx context.Context, chatID int64) error
}

type Repository interface {
	InsertUser(ctx context.Context, chatID int64) (userID int64, err error)
	GetUserID(ctx context.Context, chatID int64) (userID int64, err error)
	GetOrCreateBasket(ctx context.Context, userID int64) (basketID int64, err error)
	GetBasketHoldings(ctx context.Context, basketID int64) (model.HoldingsTable, error)
	ReplaceBasketHoldings(ctx context.Context, basketID int64, table model.HoldingsTable) error
	InsertRebalanceOperations(ctx context.Context, basketID int64, operations []model.RebalanceOperation) error
	GetRebalanceOperations(ctx context.Context, basketID int64, limit int) ([]model.RebalanceOperation, error)
}

type ReportGenerator interface {
	Generate(ctx context.Context, report model.RebalanceReport) (fileBytes []byte, fileExtension string, err error)
}

type CloudStorage interface {
	UploadFile(ctx context.Context, reader io.Reader, filename string) (downloadLink string, err error)
	DeleteOldFiles(ctx context.Context) error
}

type RebalanceService struct {
	cfg             *config.Config
	repo            Repository
	cache           Cache
	session         Session
	moexApi         MoexApi
	reportGenerator ReportGenerator
	cloudStorage    CloudStorage
}

// New builds the service. cloudStorage may be nil, reports are then returned without a link.
func New(
	cfg *config.Config,
	repo Repository,
	cache Cache,
	session Session,
	moexApi MoexApi,
	reportGenerator ReportGenerator,
	cloudStorage CloudStorage,
) *RebalanceService {
	return &RebalanceService{
		cfg:             cfg,
		repo:            repo,
		cache:           cache,
		session:         session,
		moexApi:         moexApi,
		reportGenerator: reportGenerator,
		cloudStorage:    cloudStorage,
	}
}

func (s *RebalanceService) RegUser(ctx context.Context, chatID int64) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RebalanceService.RegUser"

	slog.Debug("RegUser start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID))
	defer func() {
		slog.Debug("RegUser finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID))
	}()

	userID, err := s.repo.InsertUser(ctx, chatID)
	if err != nil {
		if !errors.Is(err, repository.ErrAlreadyExists) {
			slog.Error("got error from repo.InsertUser", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
			return err
		}

		userID, err = s.repo.GetUserID(ctx, chatID)
		if err != nil {
			slog.Error("got error from repo.GetUserID", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
			return err
		}
	}

	_, err = s.repo.GetOrCreateBasket(ctx, userID)
	if err != nil {
		slog.Error("got error from repo.GetOrCreateBasket", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	return nil
}

// basketID resolves the basket of the chat, registering the user when needed.
func (s *RebalanceService) basketID(ctx context.Context, chatID int64) (int64, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RebalanceService.basketID"

	userID, err := s.repo.GetUserID(ctx, chatID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return 0, err
		}

		slog.Info("user is not registered yet", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID))

		userID, err = s.repo.InsertUser(ctx, chatID)
		if errors.Is(err, repository.ErrAlreadyExists) {
			userID, err = s.repo.GetUserID(ctx, chatID)
		}
		if err != nil {
			return 0, err
		}
	}

	return s.repo.GetOrCreateBasket(ctx, userID)
}

// GetBasket returns the stored basket of the chat. An empty basket is seeded
// from the seed file, or from the configured default basket, and stored.
func (s *RebalanceService) GetBasket(ctx context.Context, chatID int64) (model.HoldingsTable, error) {
	_, table, err := s.getBasket(ctx, chatID)
	return table, err
}

func (s *RebalanceService) getBasket(ctx context.Context, chatID int64) (basketID int64, table model.HoldingsTable, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RebalanceService.getBasket"

	slog.Debug("getBasket start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID))
	defer func() {
		if err != nil {
			slog.Error("getBasket failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("getBasket finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("basketID", basketID))
		}
	}()

	basketID, err = s.basketID(ctx, chatID)
	if err != nil {
		return 0, model.HoldingsTable{}, err
	}

	table, err = s.repo.GetBasketHoldings(ctx, basketID)
	if err != nil {
		return 0, model.HoldingsTable{}, err
	}

	if len(table.Holdings) > 0 {
		return basketID, table, nil
	}

	table = basketfile.Load(s.cfg.Basket.SeedFile, DefaultBasket(s.cfg))

	slog.Info("seeding empty basket", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("basketID", basketID), slog.Any("tickers", table.Tickers()))

	err = s.repo.ReplaceBasketHoldings(ctx, basketID, table)
	if err != nil {
		return 0, model.HoldingsTable{}, err
	}

	return basketID, table, nil
}

// ImportBasket replaces the basket of the chat with the one read from the CSV.
// The header must be exactly the basket file header, otherwise a
// *basketfile.SchemaError is returned. An invalid basket gives a *service.ValidationError
// and nothing is stored.
func (s *RebalanceService) ImportBasket(ctx context.Context, chatID int64, r io.Reader) (model.HoldingsTable, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RebalanceService.ImportBasket"

	slog.Debug("ImportBasket start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID))
	defer func() {
		slog.Debug("ImportBasket finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID))
	}()

	table, err := basketfile.Read(r)
	if err != nil {
		slog.Warn("can't read basket file", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.HoldingsTable{}, err
	}

	if msgs := rebalancer.Validate(table); len(msgs) > 0 {
		return model.HoldingsTable{}, &service.ValidationError{Messages: msgs}
	}

	basketID, err := s.basketID(ctx, chatID)
	if err != nil {
		slog.Error("can't resolve basket", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.HoldingsTable{}, err
	}

	err = s.repo.ReplaceBasketHoldings(ctx, basketID, table)
	if err != nil {
		slog.Error("got error from repo.ReplaceBasketHoldings", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.HoldingsTable{}, err
	}

	return table, nil
}

// Template is the default basket encoded as a basket file.
func (s *RebalanceService) Template() ([]byte, error) {
	return basketfile.Encode(DefaultBasket(s.cfg))
}

func (s *RebalanceService) getSession(ctx context.Context, chatID int64) (model.Session, error) {
	chatSession, err := s.session.GetSession(ctx, chatID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return model.Session{}, nil
		}
		return model.Session{}, err
	}
	return chatSession, nil
}

// PriceSnapshot returns the prices of the session for the tickers. Prices are
// fetched once per session: only tickers the snapshot has not priced yet are
// looked up, in the quotes cache first and then on the exchange. Tickers that
// can't be priced stay absent from the snapshot.
func (s *RebalanceService) PriceSnapshot(ctx context.Context, chatID int64, tickers []string) (model.PriceSnapshot, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RebalanceService.PriceSnapshot"

	slog.Debug("PriceSnapshot start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID))
	defer func() {
		slog.Debug("PriceSnapshot finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID))
	}()

	chatSession, err := s.getSession(ctx, chatID)
	if err != nil {
		slog.Error("got error from getSession", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.PriceSnapshot{}, err
	}

	missing := chatSession.Prices.Missing(tickers)
	if len(missing) == 0 {
		return chatSession.Prices, nil
	}

	snapshot := chatSession.Prices.With(s.fetchPrices(ctx, missing))
	if chatSession.Prices.IsEmpty() {
		snapshot.TakenAt = time.Now()
	}

	chatSession.Prices = snapshot
	if err = s.session.SetSession(ctx, chatID, chatSession); err != nil {
		slog.Error("got error from session.SetSession", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.PriceSnapshot{}, err
	}

	return snapshot, nil
}

// fetchPrices never fails: a ticker that can't be priced is just absent.
func (s *RebalanceService) fetchPrices(ctx context.Context, tickers []string) map[string]decimal.Decimal {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RebalanceService.fetchPrices"

	prices := make(map[string]decimal.Decimal, len(tickers))

	cached, err := s.cache.GetStocksInfo(ctx, tickers)
	if err != nil {
		slog.Warn("can't get stocks info from cache", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}
	for ticker, stock := range cached {
		if stock.Price.Valid {
			prices[ticker] = stock.Price.Decimal
		}
	}

	notCached := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		if _, ok := prices[ticker]; !ok {
			notCached = append(notCached, ticker)
		}
	}

	if len(notCached) == 0 {
		return prices
	}

	fetched, err := s.moexApi.GetStocksInfoByTickers(ctx, notCached)
	if err != nil {
		slog.Error("can't get stocks info from moexApi", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return prices
	}

	toCache := make([]moexModel.StockInfo, 0, len(fetched))
	for ticker, stock := range fetched {
		if !stock.Price.Valid {
			continue
		}
		prices[ticker] = stock.Price.Decimal
		toCache = append(toCache, stock)
	}

	if len(toCache) > 0 {
		go s.cache.SetStocks(context.WithoutCancel(ctx), toCache)
	}

	if len(prices) < len(tickers) {
		slog.Warn("some tickers have no price", slog.String("rqID", rqID), slog.String("op", op), slog.Int("requested", len(tickers)), slog.Int("priced", len(prices)))
	}

	return prices
}

// ResetSession starts the chat over: state, additional capital and prices are dropped.
func (s *RebalanceService) ResetSession(ctx context.Context, chatID int64) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RebalanceService.ResetSession"

	if err := s.session.DeleteSession(ctx, chatID); err != nil {
		slog.Error("got error from session.DeleteSession", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}
	return nil
}

// ResetPrices drops the price snapshot of the session, the next request fetches fresh prices.
func (s *RebalanceService) ResetPrices(ctx context.Context, chatID int64) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RebalanceService.ResetPrices"

	chatSession, err := s.getSession(ctx, chatID)
	if err != nil {
		slog.Error("got error from getSession", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	chatSession.Prices = model.PriceSnapshot{}
	if err = s.session.SetSession(ctx, chatID, chatSession); err != nil {
		slog.Error("got error from session.SetSession", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	slog.Info("prices reset", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID))

	return nil
}

// SetAdditionalCapital keeps the amount to invest for the next rebalances of the chat.
func (s *RebalanceService) SetAdditionalCapital(ctx context.Context, chatID int64, amount decimal.Decimal) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RebalanceService.SetAdditionalCapital"

	if amount.IsNegative() {
		return service.ErrNegativeCapital
	}

	chatSession, err := s.getSession(ctx, chatID)
	if err != nil {
		slog.Error("got error from getSession", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	chatSession.AdditionalCapital = amount
	chatSession.State = model.DefaultState
	if err = s.session.SetSession(ctx, chatID, chatSession); err != nil {
		slog.Error("got error from session.SetSession", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	return nil
}

// Overview prices the basket of the chat and returns its current metrics.
func (s *RebalanceService) Overview(ctx context.Context, chatID int64) (model.Portfolio, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RebalanceService.Overview"

	slog.Debug("Overview start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID))
	defer func() {
		slog.Debug("Overview finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID))
	}()

	table, err := s.GetBasket(ctx, chatID)
	if err != nil {
		return model.Portfolio{}, err
	}

	prices, err := s.PriceSnapshot(ctx, chatID, table.Tickers())
	if err != nil {
		return model.Portfolio{}, err
	}

	return rebalancer.ComputeMetrics(table, prices), nil
}

// Rebalance computes the allocation of the basket of the chat with the
// additional capital of its session. The computed trades are kept in the
// basket history; a failed write is logged and does not fail the rebalance.
func (s *RebalanceService) Rebalance(ctx context.Context, chatID int64) (allocation model.Allocation, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RebalanceService.Rebalance"

	slog.Debug("Rebalance start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID))
	defer func() {
		slog.Debug("Rebalance finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID))
	}()

	basketID, table, err := s.getBasket(ctx, chatID)
	if err != nil {
		return model.Allocation{}, err
	}

	if msgs := rebalancer.Validate(table); len(msgs) > 0 {
		slog.Warn("invalid basket", slog.String("rqID", rqID), slog.String("op", op), slog.Any("messages", msgs))
		return model.Allocation{}, &service.ValidationError{Messages: msgs}
	}

	prices, err := s.PriceSnapshot(ctx, chatID, table.Tickers())
	if err != nil {
		return model.Allocation{}, err
	}

	chatSession, err := s.getSession(ctx, chatID)
	if err != nil {
		return model.Allocation{}, err
	}

	portfolio := rebalancer.ComputeMetrics(table, prices)

	if s.cfg.Basket.StrictPrices {
		if msgs := rebalancer.CheckPrices(portfolio); len(msgs) > 0 {
			slog.Warn("basket has unpriced holdings", slog.String("rqID", rqID), slog.String("op", op), slog.Any("messages", msgs))
			return model.Allocation{}, fmt.Errorf("%w: %s", service.ErrMissingPrice, strings.Join(msgs, "; "))
		}
	}

	allocation = rebalancer.Rebalance(portfolio, chatSession.AdditionalCapital)

	// the report built right after reads this history
	s.saveOperationsToHistory(ctx, basketID, allocation)

	return allocation, nil
}

func (s *RebalanceService) saveOperationsToHistory(ctx context.Context, basketID int64, allocation model.Allocation) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RebalanceService.saveOperationsToHistory"

	operations := model.OperationsFromAllocation(allocation)
	now := time.Now()
	for i := range operations {
		operations[i].DtCreate = now
	}

	err := s.repo.InsertRebalanceOperations(ctx, basketID, operations)
	if err != nil {
		slog.Error("got error from repo.InsertRebalanceOperations", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}
}

// History returns the latest computed operations of the basket of the chat.
func (s *RebalanceService) History(ctx context.Context, chatID int64) ([]model.RebalanceOperation, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RebalanceService.History"

	basketID, err := s.basketID(ctx, chatID)
	if err != nil {
		slog.Error("can't resolve basket", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	operations, err := s.repo.GetRebalanceOperations(ctx, basketID, s.cfg.HistoryLimit)
	if err != nil {
		slog.Error("got error from repo.GetRebalanceOperations", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	return operations, nil
}

// Report builds the spreadsheet of the allocation together with the basket history
// and uploads it when a cloud storage is configured. An upload failure still returns
// the file, without a link.
func (s *RebalanceService) Report(ctx context.Context, chatID int64, allocation model.Allocation) (model.ReportFile, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RebalanceService.Report"

	slog.Debug("Report start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID))
	defer func() {
		slog.Debug("Report finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID))
	}()

	operations, err := s.History(ctx, chatID)
	if err != nil {
		slog.Warn("report without history", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		operations = nil
	}

	now := time.Now()
	fileBytes, ext, err := s.reportGenerator.Generate(ctx, model.RebalanceReport{
		BasketName: "Basket",
		Allocation: allocation,
		Operations: operations,
		CreatedAt:  now,
	})
	if err != nil {
		slog.Error("got error from reportGenerator.Generate", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.ReportFile{}, err
	}

	report := model.ReportFile{
		Name:    fmt.Sprintf("rebalance_%d_%s%s", chatID, now.Format("20060102_150405"), ext),
		Content: fileBytes,
	}

	if s.cloudStorage == nil {
		return report, nil
	}

	report.Link, err = s.cloudStorage.UploadFile(ctx, bytes.NewReader(fileBytes), report.Name)
	if err != nil {
		slog.Error("got error from cloudStorage.UploadFile", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		report.Link = ""
	}

	return report, nil
}

// FillQuotesCache loads every quote of the board into the cache.
func (s *RebalanceService) FillQuotesCache(ctx context.Context) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RebalanceService.FillQuotesCache"

	stocks, err := s.moexApi.GetStocksInfo(ctx)
	if err != nil {
		slog.Error("got error from moexApi.GetStocksInfo", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	priced := make([]moexModel.StockInfo, 0, len(stocks))
	for _, stock := range stocks {
		if stock.Price.Valid {
			priced = append(priced, stock)
		}
	}

	err = s.cache.SetStocks(ctx, priced)
	if err != nil {
		slog.Error("got error from cache.SetStocks", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	slog.Info("quotes cache filled", slog.String("rqID", rqID), slog.String("op", op), slog.Int("stocks", len(priced)))

	return nil
}

// DeleteOldReports removes the expired uploaded reports.
func (s *RebalanceService) DeleteOldReports(ctx context.Context) error {
	if s.cloudStorage == nil {
		return nil
	}
	return s.cloudStorage.DeleteOldFiles(ctx)
}

// DefaultBasket is the basket built from the configured defaults.
func DefaultBasket(cfg *config.Config) model.HoldingsTable {
	n := min(len(cfg.Basket.DefaultTickers), len(cfg.Basket.DefaultShares), len(cfg.Basket.DefaultWeights))

	holdings := make([]model.Holding, 0, n)
	for i := 0; i < n; i++ {
		holdings = append(holdings, model.Holding{
			Ticker:       cfg.Basket.DefaultTickers[i],
			SharesHeld:   cfg.Basket.DefaultShares[i],
			TargetWeight: decimal.NewFromFloat(cfg.Basket.DefaultWeights[i]),
		})
	}

	return model.NewHoldingsTable(holdings)
}
