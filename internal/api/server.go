// Package api exposes market data, trading and the leaderboard over HTTP.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"finclash/internal/game"
	"finclash/internal/logger"
	"finclash/internal/marketdata"
	"finclash/internal/stream"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// DefaultRequestTimeout bounds the upstream work of a single request.
const DefaultRequestTimeout = 8 * time.Second

// Config configures a Server.
type Config struct {
	Market         *marketdata.Client
	Game           *game.Game
	Hub            *stream.Hub // nil disables /ws and /api/stream/missed
	AdminTOTP      string      // base32 secret; empty leaves admin routes open
	AllowedOrigins []string    // empty means "*"
	AccessLog      io.Writer   // nil means os.Stdout
	RequestTimeout time.Duration
	Logger         *slog.Logger
	Clock          func() time.Time
}

// Server holds the HTTP handlers.
type Server struct {
	market    *marketdata.Client
	game      *game.Game
	hub       *stream.Hub
	adminTOTP string
	origins   []string
	accessLog io.Writer
	timeout   time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// NewServer builds a Server from cfg.
func NewServer(cfg Config) *Server {
	s := &Server{
		market:    cfg.Market,
		game:      cfg.Game,
		hub:       cfg.Hub,
		adminTOTP: cfg.AdminTOTP,
		origins:   cfg.AllowedOrigins,
		accessLog: cfg.AccessLog,
		timeout:   cfg.RequestTimeout,
		log:       cfg.Logger,
		now:       cfg.Clock,
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	if s.accessLog == nil {
		s.accessLog = os.Stdout
	}
	if s.timeout <= 0 {
		s.timeout = DefaultRequestTimeout
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Router returns the bare route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.traceMiddleware)

	// market data
	r.HandleFunc("/api/quote/{symbol}", s.handleQuote).Methods(http.MethodGet)
	r.HandleFunc("/api/candles/{symbol}", s.handleCandles).Methods(http.MethodGet)
	r.HandleFunc("/api/news/{symbol}", s.handleNews).Methods(http.MethodGet)
	r.HandleFunc("/api/profile/{symbol}", s.handleProfile).Methods(http.MethodGet)
	r.HandleFunc("/api/financials/{symbol}", s.handleFinancials).Methods(http.MethodGet)
	r.HandleFunc("/api/sentiment/{symbol}", s.handleSentiment).Methods(http.MethodGet)
	r.HandleFunc("/api/search", s.handleSearch).Methods(http.MethodGet)
	r.HandleFunc("/api/market/status", s.handleMarketStatus).Methods(http.MethodGet)

	// game
	r.HandleFunc("/api/accounts", s.handleCreateAccount).Methods(http.MethodPost)
	r.HandleFunc("/api/accounts/{id}", s.handleGetAccount).Methods(http.MethodGet)
	r.HandleFunc("/api/accounts/{id}/trades", s.handleTrade).Methods(http.MethodPost)
	r.HandleFunc("/api/accounts/{id}/trades", s.handleListTrades).Methods(http.MethodGet)
	r.HandleFunc("/api/accounts/{id}/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/api/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)

	// admin
	admin := r.PathPrefix("/api/cache").Subrouter()
	admin.Use(s.adminMiddleware)
	admin.HandleFunc("/stats", s.handleCacheStats).Methods(http.MethodGet)
	admin.HandleFunc("/type/{type}", s.handleInvalidateType).Methods(http.MethodDelete)
	admin.HandleFunc("/{key}", s.handleInvalidateKey).Methods(http.MethodDelete)
	admin.HandleFunc("", s.handleClearCache).Methods(http.MethodDelete)

	if s.hub != nil {
		r.HandleFunc("/api/stream/missed", s.handleMissed).Methods(http.MethodGet)
		r.Handle("/ws", s.hub)
	}

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	return r
}

// Handler returns the router wrapped in CORS, panic recovery and access logs.
func (s *Server) Handler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins(s.origins),
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID", adminHeader}),
	)
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
		handlers.LoggingHandler(s.accessLog, cors(s.Router())),
	)
}

// NewHTTPServer wraps the handler with the timeouts used in production.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

const requestIDHeader = "X-Request-ID"

func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = logger.NewTraceID()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithTraceID(r.Context(), id)))
	})
}

func (s *Server) reqCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}
