package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/ordergate/pkg/oms"
	"github.com/uhyunpark/ordergate/pkg/util"
)

// OrderService is the part of the provider the API drives.
type OrderService interface {
	PostSend(order oms.Order) error
	PostCancel(order oms.Order) error
	Snapshot(ctx context.Context) ([]oms.OrderRecord, error)
	NextClOrdID() string
}

// Server handles REST API and WebSocket connections
type Server struct {
	orders  OrderService
	router  *mux.Router
	hub     *Hub
	origins []string
	log     *zap.SugaredLogger
	httpSrv *http.Server
}

// NewServer creates a new API server. The hub is shared with the provider's
// sink chain so reports reach WebSocket subscribers.
func NewServer(orders OrderService, hub *Hub, allowedOrigins []string, logger *zap.SugaredLogger) *Server {
	s := &Server{
		orders:  orders,
		router:  mux.NewRouter(),
		hub:     hub,
		origins: allowedOrigins,
		log:     util.OrNop(logger),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{clOrdId}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	recs, err := s.orders.Snapshot(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "snapshot failed", err.Error())
		return
	}
	symbol := r.URL.Query().Get("symbol")

	response := make([]OrderInfo, 0, len(recs))
	for _, rec := range recs {
		if symbol != "" && rec.Order.Symbol != symbol {
			continue
		}
		response = append(response, orderInfo(rec))
	}
	sort.Slice(response, func(i, j int) bool { return response[i].ClOrdID < response[j].ClOrdID })

	respondJSON(w, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["clOrdId"]

	recs, err := s.orders.Snapshot(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "snapshot failed", err.Error())
		return
	}
	for _, rec := range recs {
		if rec.Order.ClOrdID == id {
			respondJSON(w, orderInfo(rec))
			return
		}
	}
	respondError(w, http.StatusNotFound, "order not found", id)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	order, err := s.toOrder(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	if err := s.orders.PostSend(order); err != nil {
		respondError(w, http.StatusServiceUnavailable, "order not accepted", err.Error())
		return
	}

	s.log.Infow("api_order_submitted", "cl_ord_id", order.ClOrdID, "symbol", order.Symbol, "qty", order.Qty)
	respondStatus(w, http.StatusAccepted, SubmitOrderResponse{Status: "submitted", ClOrdID: order.ClOrdID})
}

func (s *Server) toOrder(req SubmitOrderRequest) (oms.Order, error) {
	if req.Symbol == "" {
		return oms.Order{}, errors.New("missing symbol")
	}
	if req.Qty <= 0 {
		return oms.Order{}, errors.New("qty must be positive")
	}
	side := oms.Side(req.Side)
	if side != oms.SideBuy && side != oms.SideSell {
		return oms.Order{}, errors.New("side must be buy or sell")
	}
	typ := oms.OrderType(req.Type)
	switch typ {
	case "":
		typ = oms.OrderTypeLimit
	case oms.OrderTypeLimit, oms.OrderTypeMarket:
	default:
		return oms.Order{}, errors.New("type must be limit or market")
	}
	if typ == oms.OrderTypeLimit && !req.Price.IsPositive() {
		return oms.Order{}, errors.New("limit price must be positive")
	}

	id := req.ClOrdID
	if id == "" {
		id = s.orders.NextClOrdID()
	}
	return oms.Order{
		ClOrdID:      id,
		Account:      req.Account,
		Symbol:       req.Symbol,
		Exchange:     req.Exchange,
		Side:         side,
		Type:         typ,
		Price:        req.Price,
		Qty:          req.Qty,
		TransactTime: time.Now(),
	}, nil
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.ClOrdID == "" {
		respondError(w, http.StatusBadRequest, "missing clOrdId", "")
		return
	}

	// unknown ids are answered by a cancel reject report, not here
	if err := s.orders.PostCancel(oms.Order{ClOrdID: req.ClOrdID}); err != nil {
		respondError(w, http.StatusServiceUnavailable, "cancel not accepted", err.Error())
		return
	}

	s.log.Infow("api_cancel_submitted", "cl_ord_id", req.ClOrdID)
	respondStatus(w, http.StatusAccepted, SubmitOrderResponse{Status: "submitted", ClOrdID: req.ClOrdID})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{"status": "ok", "wsClients": s.hub.ClientCount()})
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data any) {
	respondStatus(w, http.StatusOK, data)
}

func respondStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondStatus(w, status, ErrorResponse{
		Error:   error,
		Message: message,
	})
}
