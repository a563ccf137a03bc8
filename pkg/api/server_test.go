package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/papermarket/engine/params"
	"github.com/papermarket/engine/pkg/engine"
	"github.com/papermarket/engine/pkg/engine/instrument"
	"github.com/papermarket/engine/pkg/engine/ledger"
	"github.com/papermarket/engine/pkg/util"
)

const (
	aliceHex = "0xAA00000000000000000000000000000000000000"
	bobHex   = "0xBB00000000000000000000000000000000000000"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := params.Default()
	reg := instrument.NewRegistry()
	require.NoError(t, reg.Register(&instrument.Instrument{
		TokenID:       "UP",
		PairedTokenID: "DOWN",
		TickSize:      decimal.RequireFromString("0.001"),
		Expiry:        time.Now().Add(15 * time.Minute),
	}))

	led := ledger.New(cfg.Engine.StartingBalance, zap.NewNop())
	eng := engine.New(cfg.Engine, reg, led, nil, util.RealClock{}, zap.NewNop())
	return NewServer(eng, cfg.API, zap.NewNop())
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func placeOrder(t *testing.T, s *Server, owner, side, price, size, typ string) PlaceOrderResponse {
	t.Helper()

	rec := doJSON(t, s, http.MethodPost, "/api/v1/orders", PlaceOrderRequest{
		Owner:     owner,
		TokenID:   "UP",
		Side:      side,
		Price:     price,
		Size:      size,
		OrderType: typ,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res PlaceOrderResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	return res
}

func TestPlaceAndBookSnapshot(t *testing.T) {
	s := newTestServer(t)

	res := placeOrder(t, s, aliceHex, "BUY", "0.400", "10", "GTC")
	require.True(t, res.Success, res.ErrorMsg)
	require.Equal(t, "LIVE", res.Status)
	require.NotEmpty(t, res.OrderID)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/book/UP", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var book BookResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&book))
	require.Equal(t, "UP", book.TokenID)
	require.Len(t, book.Bids, 1)
	require.True(t, book.Bids[0].Price.Equal(decimal.RequireFromString("0.400")))
	require.Empty(t, book.Asks)
}

func TestPlaceOrderValidationSurface(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name     string
		req      PlaceOrderRequest
		wantCode int
	}{
		{
			"bad owner",
			PlaceOrderRequest{Owner: "nope", TokenID: "UP", Side: "BUY", Price: "0.4", Size: "1", OrderType: "GTC"},
			http.StatusBadRequest,
		},
		{
			"bad side",
			PlaceOrderRequest{Owner: aliceHex, TokenID: "UP", Side: "HOLD", Price: "0.4", Size: "1", OrderType: "GTC"},
			http.StatusBadRequest,
		},
		{
			"bad type",
			PlaceOrderRequest{Owner: aliceHex, TokenID: "UP", Side: "BUY", Price: "0.4", Size: "1", OrderType: "LIMIT"},
			http.StatusBadRequest,
		},
		{
			"bad price",
			PlaceOrderRequest{Owner: aliceHex, TokenID: "UP", Side: "BUY", Price: "cheap", Size: "1", OrderType: "GTC"},
			http.StatusBadRequest,
		},
		{
			"unknown instrument",
			PlaceOrderRequest{Owner: aliceHex, TokenID: "NOPE", Side: "BUY", Price: "0.4", Size: "1", OrderType: "GTC"},
			http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/api/v1/orders", tt.req)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}

func TestEngineValidationReturnsSuccessFalse(t *testing.T) {
	s := newTestServer(t)

	// Off-tick price passes HTTP parsing but fails engine validation.
	res := placeOrder(t, s, aliceHex, "BUY", "0.4005", "1", "GTC")
	require.False(t, res.Success)
	require.Contains(t, res.ErrorMsg, "tick")
}

func TestOrderLookupAndCancel(t *testing.T) {
	s := newTestServer(t)

	placed := placeOrder(t, s, aliceHex, "BUY", "0.400", "10", "GTC")

	rec := doJSON(t, s, http.MethodGet, "/api/v1/orders/"+placed.OrderID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail OrderDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&detail))
	require.Equal(t, "LIVE", detail.Status)
	require.Equal(t, "BUY", detail.Side)

	// Open orders listing.
	rec = doJSON(t, s, http.MethodGet, "/api/v1/orders?owner="+aliceHex, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var open []OrderDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&open))
	require.Len(t, open, 1)

	// Cancel by a different owner is reported, not executed.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/orders/cancel", CancelRequest{Owner: bobHex, OrderID: placed.OrderID})
	require.Equal(t, http.StatusOK, rec.Code)
	var cr CancelResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cr))
	require.Empty(t, cr.Canceled)
	require.Contains(t, cr.NotCanceled[placed.OrderID], "not owned")

	// Owner cancel succeeds.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/orders/cancel", CancelRequest{Owner: aliceHex, OrderID: placed.OrderID})
	require.Equal(t, http.StatusOK, rec.Code)
	cr = CancelResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cr))
	require.Equal(t, []string{placed.OrderID}, cr.Canceled)

	// Unknown order is a 404.
	rec = doJSON(t, s, http.MethodGet, "/api/v1/orders/11111111-1111-1111-1111-111111111111", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelAllEndpoint(t *testing.T) {
	s := newTestServer(t)

	placeOrder(t, s, aliceHex, "BUY", "0.400", "5", "GTC")
	placeOrder(t, s, aliceHex, "BUY", "0.350", "5", "GTC")
	placeOrder(t, s, bobHex, "BUY", "0.300", "5", "GTC")

	rec := doJSON(t, s, http.MethodPost, "/api/v1/orders/cancel-all", CancelAllRequest{Owner: aliceHex})
	require.Equal(t, http.StatusOK, rec.Code)
	var cr CancelResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cr))
	require.Len(t, cr.Canceled, 2)
}

func TestAccountEndpoint(t *testing.T) {
	s := newTestServer(t)

	placeOrder(t, s, aliceHex, "BUY", "0.400", "10", "GTC")

	rec := doJSON(t, s, http.MethodGet, "/api/v1/accounts/"+aliceHex, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var acc AccountResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&acc))
	require.True(t, acc.Cash.Equal(decimal.RequireFromString("10000")))
	require.True(t, acc.HeldCash.Equal(decimal.RequireFromString("4.008")))
	require.True(t, acc.Available.Equal(decimal.RequireFromString("9995.992")))

	rec = doJSON(t, s, http.MethodGet, "/api/v1/accounts/not-an-address", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarketMetadataEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/fee-rate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fees FeeRateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&fees))
	require.Equal(t, int64(20), fees.TakerFeeBps)
	require.Equal(t, int64(0), fees.MakerFeeBps)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/tick-size/UP", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tick TickSizeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tick))
	require.True(t, tick.TickSize.Equal(decimal.RequireFromString("0.001")))

	rec = doJSON(t, s, http.MethodGet, "/api/v1/neg-risk/UP", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var nr NegRiskResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&nr))
	require.False(t, nr.NegRisk)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/tick-size/NOPE", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTradesEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/trades/UP", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trades []TradeInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&trades))
	require.Empty(t, trades)
}
