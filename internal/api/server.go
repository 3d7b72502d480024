// Package api serves read-only HTTP endpoints and the event stream.
// Writes go through the engine package directly.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"comptoir/internal/domain"
	"comptoir/internal/event"
	"comptoir/internal/infra"
	"comptoir/internal/service"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
	readTimeout    = 60 * time.Second
	streamBuffer   = 256
	defaultPage    = 100
	maxPage        = 1000
	backlogPageMax = 500
)

// Subscriber is the live event source of the stream endpoint.
type Subscriber interface {
	Subscribe(buffer int) (<-chan event.Event, func())
}

// Server exposes read endpoints and the event stream over HTTP.
type Server struct {
	svc      *service.MarketService
	events   Subscriber
	metrics  *infra.Metrics
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewServer(svc *service.MarketService, events Subscriber, metrics *infra.Metrics) *Server {
	return &Server{
		svc:     svc,
		events:  events,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: slog.Default().With("module", "api"),
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/marketplaces", s.handleMarketplaces).Methods("GET")
	v1.HandleFunc("/marketplaces/{id}", s.handleMarketplace).Methods("GET")
	v1.HandleFunc("/marketplaces/{id}/collections", s.handleCollections).Methods("GET")
	v1.HandleFunc("/marketplaces/{id}/assets/{mint}/sell-orders", s.handleOrderBook).Methods("GET")
	v1.HandleFunc("/marketplaces/{id}/assets/{mint}/buy-offers", s.handleOffers).Methods("GET")
	v1.HandleFunc("/collections/{id}", s.handleCollection).Methods("GET")
	v1.HandleFunc("/sell-orders/{id}", s.handleSellOrder).Methods("GET")
	v1.HandleFunc("/buy-offers/{id}", s.handleBuyOffer).Methods("GET")
	v1.HandleFunc("/accounts/{owner}", s.handleAccounts).Methods("GET")
	v1.HandleFunc("/activity", s.handleAllActivity).Methods("GET")
	v1.HandleFunc("/activity/{mint}", s.handleActivity).Methods("GET")
	v1.HandleFunc("/events", s.handleEvents).Methods("GET")
	v1.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	v1.HandleFunc("/stream", s.handleStream).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
	return r
}

// ======================================================================================
// Records
// ======================================================================================

func (s *Server) handleMarketplaces(w http.ResponseWriter, r *http.Request) {
	respond(w, r, s.svc.Marketplaces)
}

func (s *Server) handleMarketplace(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	respond(w, r, func(ctx context.Context) (*domain.Marketplace, error) {
		return s.svc.Marketplace(ctx, id)
	})
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	respond(w, r, func(ctx context.Context) ([]domain.Collection, error) {
		return s.svc.Collections(ctx, id)
	})
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	respond(w, r, func(ctx context.Context) (*domain.Collection, error) {
		return s.svc.Collection(ctx, id)
	})
}

func (s *Server) handleSellOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	respond(w, r, func(ctx context.Context) (*domain.SellOrder, error) {
		return s.svc.SellOrder(ctx, id)
	})
}

func (s *Server) handleBuyOffer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	respond(w, r, func(ctx context.Context) (*domain.BuyOffer, error) {
		return s.svc.BuyOffer(ctx, id)
	})
}

// handleOrderBook lists live sell orders cheapest first, the order a buyer
// assembles fill entries in.
func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	respond(w, r, func(ctx context.Context) ([]domain.SellOrder, error) {
		return s.svc.OrderBook(ctx, vars["id"], vars["mint"])
	})
}

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	respond(w, r, func(ctx context.Context) ([]domain.BuyOffer, error) {
		return s.svc.Offers(ctx, vars["id"], vars["mint"])
	})
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	respond(w, r, func(ctx context.Context) ([]domain.Account, error) {
		return s.svc.Accounts(ctx, owner)
	})
}

// ======================================================================================
// Activity, events, metrics
// ======================================================================================

func (s *Server) handleAllActivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.GetAllActivity())
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	a := s.svc.GetActivity(mux.Vars(r)["mint"])
	if a == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no activity"})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	after, err := queryUint(r, "after", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid after"})
		return
	}
	limit, err := queryUint(r, "limit", defaultPage)
	if err != nil || limit == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid limit"})
		return
	}
	limit = min(limit, maxPage)

	respond(w, r, func(ctx context.Context) ([]event.Event, error) {
		return s.svc.Events(ctx, after, int(limit))
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// ======================================================================================
// Stream
// ======================================================================================

// handleStream upgrades to a websocket and pushes committed events.
// With ?after=N the persisted log after N is sent first; live events that
// overlap the backlog are skipped by Seq.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	after, err := queryUint(r, "after", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid after"})
		return
	}
	replay := r.URL.Query().Has("after")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	// Subscribe before reading the backlog so nothing committed in between is lost
	live, unsubscribe := s.events.Subscribe(streamBuffer)
	defer unsubscribe()

	s.metrics.IncrementSubscribers()
	defer s.metrics.DecrementSubscribers()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.drain(conn, cancel)

	last := after
	if replay {
		for {
			backlog, err := s.svc.Events(ctx, last, backlogPageMax)
			if err != nil {
				s.logger.Error("Failed to read backlog", slog.Any("error", err))
				return
			}
			for _, ev := range backlog {
				if err := writeEvent(conn, ev); err != nil {
					return
				}
				last = ev.Seq
			}
			if len(backlog) < backlogPageMax {
				break
			}
		}
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if ev.Seq <= last {
				continue
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
			last = ev.Seq
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drain consumes client frames so control messages are processed, and
// cancels the stream once the client goes away.
func (s *Server) drain(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev event.Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(ev)
}

// ======================================================================================
// Helpers
// ======================================================================================

type errorBody struct {
	Error string `json:"error"`
}

func respond[T any](w http.ResponseWriter, r *http.Request, fetch func(context.Context) (T, error)) {
	v, err := fetch(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, domain.ErrNotInitialized) {
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", slog.Any("error", err))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryUint(r *http.Request, key string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
