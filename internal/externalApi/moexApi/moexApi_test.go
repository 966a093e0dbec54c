package moexApi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KotFed0t/basket_rebalancer/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const securitiesResponse = `{
	"securities": {
		"columns": ["SECID", "SHORTNAME", "LOTSIZE", "CURRENCYID", "STATUS"],
		"data": [
			["SBER", "Сбербанк", 10, "SUR", "A"],
			["NEWCO", "Новая", 1, "SUR", "N"]
		]
	},
	"marketdata": {
		"columns": ["SECID", "MARKETPRICE"],
		"data": [
			["SBER", 301.25],
			["NEWCO", null]
		]
	}
}`

func newTestApi(t *testing.T, handler http.HandlerFunc) *MoexApi {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.API.Timeout = 5 * time.Second
	cfg.API.MoexApi.Url = srv.URL
	cfg.API.MoexApi.Board = "TQBR"

	return New(cfg)
}

func TestGetStocksInfoByTickers(t *testing.T) {
	var query map[string][]string
	var path string
	api := newTestApi(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		query = r.URL.Query()
		_, _ = w.Write([]byte(securitiesResponse))
	})

	stocks, err := api.GetStocksInfoByTickers(context.Background(), []string{"SBER", "NEWCO", "NOPE"})
	require.NoError(t, err)

	assert.Equal(t, "/iss/engines/stock/markets/shares/boards/TQBR/securities.json", path)
	assert.Equal(t, []string{"SBER,NEWCO,NOPE"}, query["securities"])
	assert.Equal(t, []string{"off"}, query["iss.meta"])

	require.Len(t, stocks, 2)

	sber := stocks["SBER"]
	assert.Equal(t, "Сбербанк", sber.Shortname)
	assert.Equal(t, 10, sber.Lotsize)
	assert.Equal(t, "RUB", sber.CurrencyID)
	assert.True(t, sber.Status)
	require.True(t, sber.Price.Valid)
	assert.Equal(t, "301.25", sber.Price.Decimal.String())

	newco := stocks["NEWCO"]
	assert.False(t, newco.Status)
	assert.False(t, newco.Price.Valid, "null market price is not a zero price")

	_, ok := stocks["NOPE"]
	assert.False(t, ok)
}

func TestGetStocksInfoByTickers_NoTickers(t *testing.T) {
	api := newTestApi(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	stocks, err := api.GetStocksInfoByTickers(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, stocks)
}

func TestGetStocksInfo(t *testing.T) {
	api := newTestApi(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("securities"))
		_, _ = w.Write([]byte(securitiesResponse))
	})

	stocks, err := api.GetStocksInfo(context.Background())
	require.NoError(t, err)
	require.Len(t, stocks, 2)
	assert.Equal(t, "SBER", stocks[0].Ticker)
	assert.Equal(t, "NEWCO", stocks[1].Ticker)
}

func TestGetStocksInfoByTickers_UnknownTicker(t *testing.T) {
	api := newTestApi(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"securities": {"columns": ["SECID"], "data": []}, "marketdata": {"columns": ["SECID"], "data": []}}`))
	})

	stocks, err := api.GetStocksInfoByTickers(context.Background(), []string{"NOPE"})
	require.NoError(t, err)
	assert.Empty(t, stocks)
}

func TestGetStocksInfo_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
		},
		{
			name: "broken json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"securities":`))
			},
		},
		{
			name: "lengths differ",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"securities": {"columns": ["SECID"], "data": [["SBER"]]}, "marketdata": {"columns": ["SECID"], "data": []}}`))
			},
		},
		{
			name: "unknown column",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"securities": {"columns": ["SECID"], "data": [["SBER"]]}, "marketdata": {"columns": ["SECID", "VOLUME"], "data": [["SBER", 1]]}}`))
			},
		},
		{
			name: "invalid price type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"securities": {"columns": ["SECID"], "data": [["SBER"]]}, "marketdata": {"columns": ["SECID", "MARKETPRICE"], "data": [["SBER", "301"]]}}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestApi(t, tt.handler)

			_, err := api.GetStocksInfo(context.Background())
			assert.Error(t, err)
		})
	}
}
