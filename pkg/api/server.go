// Package api serves the engine over REST and WebSocket. Signature
// verification and authentication live in front of this server; handlers
// treat the owner address on each request as already verified.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/papermarket/engine/params"
	"github.com/papermarket/engine/pkg/engine"
	"github.com/papermarket/engine/pkg/engine/order"
)

// Server handles REST API and WebSocket connections
type Server struct {
	eng    *engine.Engine
	cfg    params.API
	router *mux.Router
	hub    *Hub
	log    *zap.Logger
}

// NewServer creates a new API server
func NewServer(eng *engine.Engine, cfg params.API, log *zap.Logger) *Server {
	s := &Server{
		eng:    eng,
		cfg:    cfg,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market data endpoints
	api.HandleFunc("/book/{tokenID}", s.handleGetBook).Methods("GET")
	api.HandleFunc("/tick-size/{tokenID}", s.handleGetTickSize).Methods("GET")
	api.HandleFunc("/neg-risk/{tokenID}", s.handleGetNegRisk).Methods("GET")
	api.HandleFunc("/fee-rate", s.handleGetFeeRate).Methods("GET")
	api.HandleFunc("/trades/{tokenID}", s.handleGetTrades).Methods("GET")

	// Order endpoints
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/cancel-all", s.handleCancelAll).Methods("POST")
	api.HandleFunc("/orders/{orderID}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders", s.handleGetOpenOrders).Methods("GET").Queries("owner", "{owner}")

	// Account endpoint
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server
func (s *Server) Start() error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handler := c.Handler(s.router)

	s.log.Info("api_server_starting", zap.String("addr", s.cfg.Addr))
	return http.ListenAndServe(s.cfg.Addr, handler)
}

// Router exposes the handler for tests and custom servers.
func (s *Server) Router() http.Handler {
	return s.router
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	tokenID := mux.Vars(r)["tokenID"]

	snap, err := s.eng.Snapshot(r.Context(), tokenID)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	respondJSON(w, BookResponse{
		TokenID:   snap.TokenID,
		Bids:      snap.Bids,
		Asks:      snap.Asks,
		TickSize:  snap.TickSize,
		Timestamp: snap.Timestamp,
	})
}

func (s *Server) handleGetTickSize(w http.ResponseWriter, r *http.Request) {
	tokenID := mux.Vars(r)["tokenID"]

	tick, err := s.eng.TickSize(tokenID)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, TickSizeResponse{TokenID: tokenID, TickSize: tick})
}

func (s *Server) handleGetNegRisk(w http.ResponseWriter, r *http.Request) {
	tokenID := mux.Vars(r)["tokenID"]

	negRisk, err := s.eng.NegRisk(tokenID)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, NegRiskResponse{TokenID: tokenID, NegRisk: negRisk})
}

func (s *Server) handleGetFeeRate(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, FeeRateResponse{
		TakerFeeBps: s.eng.FeeRateBps(),
		MakerFeeBps: 0,
	})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if !common.IsHexAddress(req.Owner) {
		respondError(w, http.StatusBadRequest, "invalid owner address", "")
		return
	}
	side, err := order.ParseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	otype, err := order.ParseType(req.OrderType)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order type", err.Error())
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid price", err.Error())
		return
	}
	size, err := decimal.NewFromString(req.Size)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid size", err.Error())
		return
	}

	placeReq := engine.PlaceRequest{
		Owner:   common.HexToAddress(req.Owner),
		TokenID: req.TokenID,
		Side:    side,
		Price:   price,
		Size:    size,
		Type:    otype,
	}

	var res *engine.PlaceResult
	err = engine.WithRetry(r.Context(), func() error {
		var placeErr error
		res, placeErr = s.eng.PlaceOrder(r.Context(), placeReq)
		return placeErr
	})
	if err != nil {
		if engine.IsValidation(err) {
			respondJSON(w, PlaceOrderResponse{Success: false, ErrorMsg: err.Error()})
			return
		}
		s.respondEngineError(w, err)
		return
	}

	s.broadcastBook(r.Context(), req.TokenID)
	s.broadcastTrades(req.TokenID, res.Trades)

	tradeIDs := make([]string, 0, len(res.Trades))
	for _, t := range res.Trades {
		tradeIDs = append(tradeIDs, t.ID.String())
	}
	respondJSON(w, PlaceOrderResponse{
		Success:  res.ErrorMsg == "",
		OrderID:  res.OrderID.String(),
		Status:   res.Status.String(),
		TradeIDs: tradeIDs,
		ErrorMsg: res.ErrorMsg,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(mux.Vars(r)["orderID"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	view, err := s.eng.GetOrder(r.Context(), orderID)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, orderDetailOf(view))
}

func (s *Server) handleGetOpenOrders(w http.ResponseWriter, r *http.Request) {
	ownerStr := r.URL.Query().Get("owner")
	if !common.IsHexAddress(ownerStr) {
		respondError(w, http.StatusBadRequest, "invalid owner address", "")
		return
	}
	tokenID := r.URL.Query().Get("tokenId")

	views, err := s.eng.OpenOrders(r.Context(), common.HexToAddress(ownerStr), tokenID)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	out := make([]OrderDetail, 0, len(views))
	for i := range views {
		out = append(out, orderDetailOf(&views[i]))
	}
	respondJSON(w, out)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Owner) {
		respondError(w, http.StatusBadRequest, "invalid owner address", "")
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	var res *engine.CancelResult
	err = engine.WithRetry(r.Context(), func() error {
		var cancelErr error
		res, cancelErr = s.eng.Cancel(r.Context(), common.HexToAddress(req.Owner), orderID)
		return cancelErr
	})
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	if view, err := s.eng.GetOrder(r.Context(), orderID); err == nil {
		s.broadcastBook(r.Context(), view.TokenID)
	}
	respondJSON(w, cancelResponseOf(res))
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	var req CancelAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Owner) {
		respondError(w, http.StatusBadRequest, "invalid owner address", "")
		return
	}

	res, err := s.eng.CancelAll(r.Context(), common.HexToAddress(req.Owner), req.TokenID)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	if req.TokenID != "" {
		s.broadcastBook(r.Context(), req.TokenID)
	}
	respondJSON(w, cancelResponseOf(res))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	tokenID := mux.Vars(r)["tokenID"]
	from := queryInt64(r, "from")
	to := queryInt64(r, "to")

	trades, err := s.eng.Trades(r.Context(), tokenID, from, to)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	out := make([]TradeInfo, 0, len(trades))
	for _, t := range trades {
		out = append(out, TradeInfo{
			ID:           t.ID.String(),
			TokenID:      t.TokenID,
			MakerOrderID: t.MakerOrderID.String(),
			TakerOrderID: t.TakerOrderID.String(),
			TakerSide:    t.TakerSide.String(),
			Price:        t.Price,
			Size:         t.Size,
			Timestamp:    t.Timestamp,
		})
	}
	respondJSON(w, out)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}

	view := s.eng.Ledger().Snapshot(common.HexToAddress(addressStr))

	positions := make(map[string]PositionInfo, len(view.Positions))
	for token, pos := range view.Positions {
		positions[token] = PositionInfo{Size: pos.Size, Held: pos.Held}
	}
	respondJSON(w, AccountResponse{
		Owner:      view.Owner.Hex(),
		Cash:       view.Cash,
		HeldCash:   view.HeldCash,
		Available:  view.Cash.Sub(view.HeldCash),
		Positions:  positions,
		FeesPaid:   view.FeesPaid,
		TradeCount: view.TradeCount,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcasts
// ==============================

func (s *Server) broadcastBook(ctx context.Context, tokenID string) {
	snap, err := s.eng.Snapshot(ctx, tokenID)
	if err != nil {
		return
	}
	s.hub.BroadcastToChannel("book:"+tokenID, BookUpdate{
		Type:      "book",
		TokenID:   snap.TokenID,
		Bids:      snap.Bids,
		Asks:      snap.Asks,
		TickSize:  snap.TickSize,
		Timestamp: snap.Timestamp,
	})
}

func (s *Server) broadcastTrades(tokenID string, trades []order.Trade) {
	for _, t := range trades {
		s.hub.BroadcastToChannel("trades:"+tokenID, TradeUpdate{
			Type:      "trade",
			TokenID:   t.TokenID,
			Price:     t.Price,
			Size:      t.Size,
			TakerSide: t.TakerSide.String(),
			Timestamp: t.Timestamp,
		})
	}
}

// ==============================
// Helpers
// ==============================

func orderDetailOf(v *engine.OrderView) OrderDetail {
	tradeIDs := make([]string, 0, len(v.TradeIDs))
	for _, id := range v.TradeIDs {
		tradeIDs = append(tradeIDs, id.String())
	}
	return OrderDetail{
		ID:        v.ID.String(),
		Owner:     v.Owner.Hex(),
		TokenID:   v.TokenID,
		Side:      v.Side.String(),
		Price:     v.Price,
		Size:      v.Size,
		Filled:    v.Filled,
		OrderType: v.Type.String(),
		Status:    v.State.String(),
		CreatedAt: v.CreatedAt,
		TradeIDs:  tradeIDs,
	}
}

func cancelResponseOf(res *engine.CancelResult) CancelResponse {
	out := CancelResponse{
		Canceled:   make([]string, 0, len(res.Canceled)),
		BusyTokens: res.BusyTokens,
	}
	for _, id := range res.Canceled {
		out.Canceled = append(out.Canceled, id.String())
	}
	if len(res.NotCanceled) > 0 {
		out.NotCanceled = make(map[string]string, len(res.NotCanceled))
		for id, reason := range res.NotCanceled {
			out.NotCanceled[id.String()] = reason
		}
	}
	return out
}

func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInstrumentNotFound):
		respondError(w, http.StatusNotFound, "instrument not found", err.Error())
	case errors.Is(err, engine.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order not found", err.Error())
	case errors.Is(err, engine.ErrBusy):
		respondError(w, http.StatusTooManyRequests, "instrument busy, retry", err.Error())
	case engine.IsValidation(err):
		respondError(w, http.StatusBadRequest, "validation failed", err.Error())
	default:
		s.log.Error("request_failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func queryInt64(r *http.Request, key string) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}

func respondError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Message: detail})
}
