package rebalanceService

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KotFed0t/basket_rebalancer/config"
	"github.com/KotFed0t/basket_rebalancer/data/repository"
	"github.com/KotFed0t/basket_rebalancer/data/session"
	"github.com/KotFed0t/basket_rebalancer/internal/basketfile"
	"github.com/KotFed0t/basket_rebalancer/internal/model"
	"github.com/KotFed0t/basket_rebalancer/internal/model/moexModel"
	"github.com/KotFed0t/basket_rebalancer/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatID int64 = 42

type fakeRepo struct {
	mu         sync.Mutex
	users      map[int64]int64
	holdings   map[int64]model.HoldingsTable
	operations map[int64][]model.RebalanceOperation
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:      make(map[int64]int64),
		holdings:   make(map[int64]model.HoldingsTable),
		operations: make(map[int64][]model.RebalanceOperation),
	}
}

func (r *fakeRepo) InsertUser(_ context.Context, chatID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[chatID]; ok {
		return 0, repository.ErrAlreadyExists
	}
	r.users[chatID] = int64(len(r.users) + 1)
	return r.users[chatID], nil
}

func (r *fakeRepo) GetUserID(_ context.Context, chatID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.users[chatID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return userID, nil
}

func (r *fakeRepo) GetOrCreateBasket(_ context.Context, userID int64) (int64, error) {
	return userID * 10, nil
}

func (r *fakeRepo) GetBasketHoldings(_ context.Context, basketID int64) (model.HoldingsTable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	table, ok := r.holdings[basketID]
	if !ok {
		return model.NewHoldingsTable(nil), nil
	}
	return table.Clone(), nil
}

func (r *fakeRepo) ReplaceBasketHoldings(_ context.Context, basketID int64, table model.HoldingsTable) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.holdings[basketID] = table.Clone()
	return nil
}

func (r *fakeRepo) InsertRebalanceOperations(_ context.Context, basketID int64, operations []model.RebalanceOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations[basketID] = append(r.operations[basketID], operations...)
	return nil
}

func (r *fakeRepo) GetRebalanceOperations(_ context.Context, basketID int64, limit int) ([]model.RebalanceOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := r.operations[basketID]
	if len(ops) > limit {
		ops = ops[:limit]
	}
	return append([]model.RebalanceOperation(nil), ops...), nil
}

func (r *fakeRepo) operationsCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ops := range r.operations {
		n += len(ops)
	}
	return n
}

type fakeCache struct {
	mu     sync.Mutex
	stocks map[string]moexModel.StockInfo
	err    error
}

func newFakeCache() *fakeCache {
	return &fakeCache{stocks: make(map[string]moexModel.StockInfo)}
}

func (c *fakeCache) GetStocksInfo(_ context.Context, tickers []string) (map[string]moexModel.StockInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	res := make(map[string]moexModel.StockInfo)
	for _, ticker := range tickers {
		if stock, ok := c.stocks[ticker]; ok {
			res[ticker] = stock
		}
	}
	return res, nil
}

func (c *fakeCache) SetStocks(_ context.Context, stocks []moexModel.StockInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, stock := range stocks {
		c.stocks[stock.Ticker] = stock
	}
	return nil
}

func (c *fakeCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stocks)
}

type fakeSession struct {
	mu       sync.Mutex
	sessions map[int64]model.Session
}

func newFakeSession() *fakeSession {
	return &fakeSession{sessions: make(map[int64]model.Session)}
}

func (s *fakeSession) GetSession(_ context.Context, chatID int64) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chatSession, ok := s.sessions[chatID]
	if !ok {
		return model.Session{}, session.ErrNotFound
	}
	return chatSession, nil
}

func (s *fakeSession) SetSession(_ context.Context, chatID int64, chatSession model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[chatID] = chatSession
	return nil
}

func (s *fakeSession) DeleteSession(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, chatID)
	return nil
}

type fakeMoex struct {
	mu     sync.Mutex
	prices map[string]string
	calls  [][]string
	err    error
}

func (m *fakeMoex) setPrice(ticker, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[ticker] = price
}

func (m *fakeMoex) stock(ticker string) moexModel.StockInfo {
	stock := moexModel.StockInfo{Ticker: ticker, Status: true, Lotsize: 1}
	if price := m.prices[ticker]; price != "" {
		stock.Price = decimal.NewNullDecimal(decimal.RequireFromString(price))
	}
	return stock
}

func (m *fakeMoex) GetStocksInfo(_ context.Context) ([]moexModel.StockInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	res := make([]moexModel.StockInfo, 0, len(m.prices))
	for ticker := range m.prices {
		res = append(res, m.stock(ticker))
	}
	return res, nil
}

func (m *fakeMoex) GetStocksInfoByTickers(_ context.Context, tickers []string) (map[string]moexModel.StockInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]string(nil), tickers...))
	if m.err != nil {
		return nil, m.err
	}
	res := make(map[string]moexModel.StockInfo)
	for _, ticker := range tickers {
		if _, ok := m.prices[ticker]; ok {
			res[ticker] = m.stock(ticker)
		}
	}
	return res, nil
}

func (m *fakeMoex) callsCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type fakeGenerator struct {
	report model.RebalanceReport
}

func (g *fakeGenerator) Generate(_ context.Context, report model.RebalanceReport) ([]byte, string, error) {
	g.report = report
	return []byte("xlsx"), ".xlsx", nil
}

type fakeStorage struct {
	uploaded []string
	err      error
}

func (s *fakeStorage) UploadFile(_ context.Context, reader io.Reader, filename string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	_, _ = io.ReadAll(reader)
	s.uploaded = append(s.uploaded, filename)
	return "https://drive.example/" + filename, nil
}

func (s *fakeStorage) DeleteOldFiles(_ context.Context) error {
	return nil
}

type deps struct {
	cfg       *config.Config
	repo      *fakeRepo
	cache     *fakeCache
	session   *fakeSession
	moex      *fakeMoex
	generator *fakeGenerator
	storage   *fakeStorage
}

func testConfig() *config.Config {
	return &config.Config{
		HistoryLimit: 20,
		Basket: config.Basket{
			SeedFile:       "testdata/does_not_exist.csv",
			DefaultTickers: []string{"SBER", "GAZP", "LKOH"},
			DefaultShares:  []int64{10, 20, 12},
			DefaultWeights: []float64{25, 50, 25},
			CurrencySymbol: "₽",
		},
	}
}

func newTestService(t *testing.T) (*RebalanceService, *deps) {
	t.Helper()

	d := &deps{
		cfg:     testConfig(),
		repo:    newFakeRepo(),
		cache:   newFakeCache(),
		session: newFakeSession(),
		moex: &fakeMoex{prices: map[string]string{
			"SBER": "300",
			"GAZP": "150",
			"LKOH": "7000",
		}},
		generator: &fakeGenerator{},
		storage:   &fakeStorage{},
	}

	srv := New(d.cfg, d.repo, d.cache, d.session, d.moex, d.generator, d.storage)
	return srv, d
}

func TestRegUser_Twice(t *testing.T) {
	srv, d := newTestService(t)

	require.NoError(t, srv.RegUser(context.Background(), chatID))
	require.NoError(t, srv.RegUser(context.Background(), chatID))
	assert.Len(t, d.repo.users, 1)
}

func TestGetBasket_SeedsDefaultBasket(t *testing.T) {
	srv, d := newTestService(t)
	ctx := context.Background()

	table, err := srv.GetBasket(ctx, chatID)
	require.NoError(t, err)

	assert.Equal(t, []string{"SBER", "GAZP", "LKOH"}, table.Tickers())
	assert.Equal(t, model.PersistedColumns, table.Columns)
	assert.Equal(t, int64(20), table.Holdings[1].SharesHeld)
	assert.True(t, decimal.NewFromInt(50).Equal(table.Holdings[1].TargetWeight))

	stored, err := d.repo.GetBasketHoldings(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, table.Tickers(), stored.Tickers())
}

func TestImportBasket(t *testing.T) {
	t.Run("stored", func(t *testing.T) {
		srv, _ := newTestService(t)
		ctx := context.Background()

		_, err := srv.ImportBasket(ctx, chatID, strings.NewReader("Ticker,Shares Held,Target Weight (%)\nYDEX,5,100\n"))
		require.NoError(t, err)

		table, err := srv.GetBasket(ctx, chatID)
		require.NoError(t, err)
		assert.Equal(t, []string{"YDEX"}, table.Tickers())
	})

	t.Run("schema mismatch", func(t *testing.T) {
		srv, _ := newTestService(t)

		_, err := srv.ImportBasket(context.Background(), chatID, strings.NewReader("Ticker,Shares\nYDEX,5\n"))

		var schemaErr *basketfile.SchemaError
		require.ErrorAs(t, err, &schemaErr)
		assert.Equal(t, []string{"Ticker", "Shares"}, schemaErr.Actual)
	})

	t.Run("invalid values are not stored", func(t *testing.T) {
		srv, d := newTestService(t)

		_, err := srv.ImportBasket(context.Background(), chatID, strings.NewReader("Ticker,Shares Held,Target Weight (%)\nYDEX,-5,100\n"))

		var validationErr *service.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, []string{"Shares held cannot be negative"}, validationErr.Messages)
		assert.Empty(t, d.repo.holdings)
	})
}

func TestTemplate(t *testing.T) {
	srv, _ := newTestService(t)

	template, err := srv.Template()
	require.NoError(t, err)
	assert.Equal(t, "Ticker,Shares Held,Target Weight (%)\nSBER,10,25\nGAZP,20,50\nLKOH,12,25\n", string(template))
}

func TestPriceSnapshot_PopulatedOnce(t *testing.T) {
	srv, d := newTestService(t)
	ctx := context.Background()

	prices, err := srv.PriceSnapshot(ctx, chatID, []string{"SBER", "GAZP"})
	require.NoError(t, err)
	assert.Equal(t, "300", prices.Prices["SBER"].String())
	assert.Equal(t, 1, d.moex.callsCount())
	assert.False(t, prices.TakenAt.IsZero())
	takenAt := prices.TakenAt

	d.moex.setPrice("SBER", "310")

	prices, err = srv.PriceSnapshot(ctx, chatID, []string{"SBER", "GAZP"})
	require.NoError(t, err)
	assert.Equal(t, "300", prices.Prices["SBER"].String(), "already priced tickers keep their price")
	assert.Equal(t, 1, d.moex.callsCount())

	prices, err = srv.PriceSnapshot(ctx, chatID, []string{"SBER", "GAZP", "LKOH"})
	require.NoError(t, err)
	assert.Equal(t, "7000", prices.Prices["LKOH"].String())
	assert.Equal(t, "300", prices.Prices["SBER"].String())
	assert.True(t, takenAt.Equal(prices.TakenAt), "adding tickers keeps the snapshot time")

	d.moex.mu.Lock()
	lastCall := d.moex.calls[len(d.moex.calls)-1]
	d.moex.mu.Unlock()
	assert.Equal(t, []string{"LKOH"}, lastCall, "only the new ticker is fetched")

	require.NoError(t, srv.ResetPrices(ctx, chatID))

	// the quotes cache holds the old price, drop it to see the fresh one
	assert.Eventually(t, func() bool { return d.cache.len() == 3 }, time.Second, 10*time.Millisecond)
	d.cache.mu.Lock()
	d.cache.stocks = make(map[string]moexModel.StockInfo)
	d.cache.mu.Unlock()

	prices, err = srv.PriceSnapshot(ctx, chatID, []string{"SBER"})
	require.NoError(t, err)
	assert.Equal(t, "310", prices.Prices["SBER"].String())
}

func TestPriceSnapshot_CacheFirst(t *testing.T) {
	srv, d := newTestService(t)
	d.cache.stocks["SBER"] = moexModel.StockInfo{Ticker: "SBER", Price: decimal.NewNullDecimal(decimal.NewFromInt(299))}

	prices, err := srv.PriceSnapshot(context.Background(), chatID, []string{"SBER", "GAZP"})
	require.NoError(t, err)

	assert.Equal(t, "299", prices.Prices["SBER"].String())
	assert.Equal(t, "150", prices.Prices["GAZP"].String())
	require.Equal(t, 1, d.moex.callsCount())
	assert.Equal(t, []string{"GAZP"}, d.moex.calls[0])

	assert.Eventually(t, func() bool { return d.cache.len() == 2 }, time.Second, 10*time.Millisecond)
}

func TestPriceSnapshot_UnpricedTickers(t *testing.T) {
	t.Run("unknown ticker", func(t *testing.T) {
		srv, _ := newTestService(t)

		prices, err := srv.PriceSnapshot(context.Background(), chatID, []string{"SBER", "NOPE"})
		require.NoError(t, err)

		_, ok := prices.Lookup("NOPE")
		assert.False(t, ok)
	})

	t.Run("null market price", func(t *testing.T) {
		srv, d := newTestService(t)
		d.moex.setPrice("NEW", "")

		prices, err := srv.PriceSnapshot(context.Background(), chatID, []string{"NEW"})
		require.NoError(t, err)

		_, ok := prices.Lookup("NEW")
		assert.False(t, ok)
	})

	t.Run("exchange is down", func(t *testing.T) {
		srv, d := newTestService(t)
		d.moex.err = errors.New("timeout")
		d.cache.err = errors.New("connection refused")

		prices, err := srv.PriceSnapshot(context.Background(), chatID, []string{"SBER"})
		require.NoError(t, err)
		assert.True(t, prices.IsEmpty())
	})
}

func TestResetSession(t *testing.T) {
	srv, d := newTestService(t)
	ctx := context.Background()

	require.NoError(t, srv.SetAdditionalCapital(ctx, chatID, decimal.NewFromInt(500)))
	_, err := srv.PriceSnapshot(ctx, chatID, []string{"SBER"})
	require.NoError(t, err)

	require.NoError(t, srv.ResetSession(ctx, chatID))

	_, err = d.session.GetSession(ctx, chatID)
	assert.ErrorIs(t, err, session.ErrNotFound)

	portfolio, err := srv.Overview(ctx, chatID)
	require.NoError(t, err)
	assert.Empty(t, portfolio.Unpriced())
	assert.Equal(t, 2, d.moex.callsCount(), "prices are fetched again")

	require.NoError(t, srv.ResetSession(ctx, 777), "resetting an absent session is fine")
}

func TestSetAdditionalCapital(t *testing.T) {
	srv, d := newTestService(t)
	ctx := context.Background()

	err := srv.SetAdditionalCapital(ctx, chatID, decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, service.ErrNegativeCapital)

	require.NoError(t, srv.SetAdditionalCapital(ctx, chatID, decimal.NewFromInt(10000)))

	chatSession, err := d.session.GetSession(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, "10000", chatSession.AdditionalCapital.String())
	assert.Equal(t, model.DefaultState, chatSession.State)
}

func TestOverview(t *testing.T) {
	srv, _ := newTestService(t)

	portfolio, err := srv.Overview(context.Background(), chatID)
	require.NoError(t, err)

	// 3000 + 3000 + 84000
	assert.Equal(t, "90000", portfolio.TotalValue.String())
	assert.Equal(t, "3.33", portfolio.Holdings[0].CurrentWeight.String())
	assert.Equal(t, "93.33", portfolio.Holdings[2].CurrentWeight.String())
}

func TestRebalance(t *testing.T) {
	srv, d := newTestService(t)
	ctx := context.Background()

	require.NoError(t, srv.SetAdditionalCapital(ctx, chatID, decimal.NewFromInt(10000)))

	allocation, err := srv.Rebalance(ctx, chatID)
	require.NoError(t, err)

	require.Len(t, allocation.Rows, 3)
	assert.Equal(t, "100000", allocation.NewTotalValue.String())

	// 25000/300, 50000/150, 25000/7000
	assert.Equal(t, int64(83), allocation.Rows[0].TargetShares)
	assert.Equal(t, int64(333), allocation.Rows[1].TargetShares)
	assert.Equal(t, int64(4), allocation.Rows[2].TargetShares)

	assert.Equal(t, model.ActionBuy, allocation.Rows[0].Action)
	assert.Equal(t, model.ActionBuy, allocation.Rows[1].Action)
	assert.Equal(t, model.ActionSell, allocation.Rows[2].Action)
	assert.Equal(t, int64(-8), allocation.Rows[2].SharesDelta)

	assert.Equal(t, 3, d.repo.operationsCount(), "history is written before Rebalance returns")

	operations, err := srv.History(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, operations, 3)
	assert.Equal(t, "10000", operations[0].AdditionalCapital.String())
	assert.False(t, operations[0].DtCreate.IsZero())
}

func TestRebalance_MissingPrice(t *testing.T) {
	importBasket := func(t *testing.T, srv *RebalanceService) {
		t.Helper()
		_, err := srv.ImportBasket(context.Background(), chatID, strings.NewReader("Ticker,Shares Held,Target Weight (%)\nSBER,10,50\nNOPE,5,50\n"))
		require.NoError(t, err)
	}

	t.Run("soft", func(t *testing.T) {
		srv, _ := newTestService(t)
		importBasket(t, srv)

		allocation, err := srv.Rebalance(context.Background(), chatID)
		require.NoError(t, err)

		row := allocation.Rows[1]
		assert.Equal(t, "NOPE", row.Ticker)
		assert.False(t, row.TargetValue.Valid)
		assert.Equal(t, int64(0), row.TargetShares)
		assert.Equal(t, model.ActionHold, row.Action)
	})

	t.Run("strict", func(t *testing.T) {
		srv, d := newTestService(t)
		d.cfg.Basket.StrictPrices = true
		importBasket(t, srv)

		_, err := srv.Rebalance(context.Background(), chatID)
		require.ErrorIs(t, err, service.ErrMissingPrice)
		assert.Equal(t, "error missing price: No price found for NOPE", err.Error())
		assert.Equal(t, 0, d.repo.operationsCount())
	})
}

func TestRebalance_InvalidStoredBasket(t *testing.T) {
	srv, d := newTestService(t)
	ctx := context.Background()

	require.NoError(t, srv.RegUser(ctx, chatID))
	require.NoError(t, d.repo.ReplaceBasketHoldings(ctx, 10, model.NewHoldingsTable([]model.Holding{
		{Ticker: "", SharesHeld: 1, TargetWeight: decimal.NewFromInt(100)},
	})))

	_, err := srv.Rebalance(ctx, chatID)

	var validationErr *service.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, []string{"Ticker symbols cannot be empty"}, validationErr.Messages)
}

func TestReport(t *testing.T) {
	t.Run("uploaded", func(t *testing.T) {
		srv, d := newTestService(t)
		ctx := context.Background()

		allocation, err := srv.Rebalance(ctx, chatID)
		require.NoError(t, err)

		report, err := srv.Report(ctx, chatID, allocation)
		require.NoError(t, err)

		assert.Equal(t, []byte("xlsx"), report.Content)
		assert.True(t, strings.HasSuffix(report.Name, ".xlsx"))
		require.Len(t, d.storage.uploaded, 1)
		assert.Equal(t, "https://drive.example/"+report.Name, report.Link)
		assert.Len(t, d.generator.report.Allocation.Rows, 3)

		operations := d.generator.report.Operations
		require.Len(t, operations, 3, "the report includes the rebalance it was built for")
		assert.Equal(t, []string{"SBER", "GAZP", "LKOH"}, []string{operations[0].Ticker, operations[1].Ticker, operations[2].Ticker})
	})

	t.Run("upload failed", func(t *testing.T) {
		srv, d := newTestService(t)
		d.storage.err = errors.New("quota exceeded")

		allocation, err := srv.Rebalance(context.Background(), chatID)
		require.NoError(t, err)

		report, err := srv.Report(context.Background(), chatID, allocation)
		require.NoError(t, err)
		assert.Empty(t, report.Link)
		assert.NotEmpty(t, report.Content)
	})

	t.Run("no cloud storage", func(t *testing.T) {
		d := &deps{cfg: testConfig(), repo: newFakeRepo(), cache: newFakeCache(), session: newFakeSession(), moex: &fakeMoex{prices: map[string]string{"SBER": "300"}}}
		srv := New(d.cfg, d.repo, d.cache, d.session, d.moex, &fakeGenerator{}, nil)

		allocation, err := srv.Rebalance(context.Background(), chatID)
		require.NoError(t, err)

		report, err := srv.Report(context.Background(), chatID, allocation)
		require.NoError(t, err)
		assert.Empty(t, report.Link)
		assert.NoError(t, srv.DeleteOldReports(context.Background()))
	})
}

func TestFillQuotesCache(t *testing.T) {
	srv, d := newTestService(t)
	d.moex.setPrice("NEW", "")

	require.NoError(t, srv.FillQuotesCache(context.Background()))
	assert.Equal(t, 3, d.cache.len())

	cached, err := d.cache.GetStocksInfo(context.Background(), []string{"NEW"})
	require.NoError(t, err)
	assert.Empty(t, cached)
}

func TestFillQuotesCache_Error(t *testing.T) {
	srv, d := newTestService(t)
	d.moex.err = errors.New("bad gateway")

	assert.Error(t, srv.FillQuotesCache(context.Background()))
	assert.Equal(t, 0, d.cache.len())
}

func TestDefaultBasket_UnevenDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.Basket.DefaultWeights = []float64{100}

	table := DefaultBasket(cfg)
	assert.Equal(t, []string{"SBER"}, table.Tickers())

	var buf bytes.Buffer
	require.NoError(t, basketfile.Write(&buf, table))
	assert.Equal(t, "Ticker,Shares Held,Target Weight (%)\nSBER,10,100\n", buf.String())
}
