// Package web implements the read-only operational status dashboard: a
// JSON status/positions/stats API plus a minimal HTML view and a
// Prometheus /metrics endpoint. It never accepts a mutating request —
// every route is a snapshot read.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/oiunwind/engine/internal/ledger"
	"github.com/oiunwind/engine/internal/models"
)

// Config configures the dashboard's listen port and optional auth token.
type Config struct {
	Port      int
	AuthToken string
}

// Server serves a snapshot view of one ledger's state. It takes no write
// path — positions and portfolio are read straight off the ledger on
// every request.
type Server struct {
	router *chi.Mux
	server *http.Server
	ledger *ledger.Ledger
	logger *logrus.Logger
	port   int
	token  string
}

// PositionView is the JSON-facing projection of an open or closed position.
type PositionView struct {
	OrderID    string  `json:"order_id"`
	Strike     float64 `json:"strike"`
	OptionType string  `json:"option_type"`
	EntryPrice float64 `json:"entry_price"`
	PeakPrice  float64 `json:"peak_price"`
	PnL        float64 `json:"pnl"`
	PnLPct     float64 `json:"pnl_pct"`
	State      string  `json:"state"`
	ExitReason string  `json:"exit_reason,omitempty"`
}

// Stats summarizes today's trading activity.
type Stats struct {
	OpenPositions int     `json:"open_positions"`
	TradesToday   int     `json:"trades_today"`
	RealizedPnL   float64 `json:"realized_pnl"`
	WinRate       float64 `json:"win_rate"`
	Cash          float64 `json:"cash"`
	TotalValue    float64 `json:"total_value"`
}

// New builds a dashboard server over led, registering its routes on a
// fresh chi router. reg may be nil to skip exposing /metrics.
func New(cfg Config, led *ledger.Ledger, logger *logrus.Logger, reg prometheus.Gatherer) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router: chi.NewRouter(),
		ledger: led,
		logger: logger,
		port:   cfg.Port,
		token:  cfg.AuthToken,
	}
	s.setupRoutes(reg)
	return s
}

func (s *Server) setupRoutes(reg prometheus.Gatherer) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLoggerMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(15 * time.Second))

	s.router.Get("/health", s.handleHealth)

	if reg != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	protected := func(r chi.Router) {
		r.Get("/", s.handleDashboard)
		r.Get("/api/positions", s.handleGetPositions)
		r.Get("/api/stats", s.handleGetStats)
	}
	if s.token != "" {
		s.router.Route("/", func(r chi.Router) {
			r.Use(s.authMiddleware)
			protected(r)
		})
	} else {
		s.router.Group(protected)
	}
}

func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.Status(),
			"duration": time.Since(start),
		}).Info("dashboard request")
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if !s.isValidToken(token) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isValidToken(token string) bool {
	if len(token) != len(s.token) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) == 1
}

// Start blocks, serving until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Infof("status dashboard listening on :%d", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"status": "healthy", "timestamp": time.Now().Unix()})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.positionViews())
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.stats())
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	stats := s.stats()
	positions := s.positionViews()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><head><title>engine status</title></head><body>")
	fmt.Fprintf(w, "<h1>Engine status</h1>")
	fmt.Fprintf(w, "<p>cash=%.2f total_value=%.2f open=%d trades_today=%d realized_pnl=%.2f win_rate=%.2f%%</p>",
		stats.Cash, stats.TotalValue, stats.OpenPositions, stats.TradesToday, stats.RealizedPnL, stats.WinRate*100)
	fmt.Fprintf(w, "<table border=1><tr><th>order_id</th><th>strike</th><th>type</th><th>entry</th><th>pnl</th><th>state</th></tr>")
	for _, p := range positions {
		fmt.Fprintf(w, "<tr><td>%s</td><td>%.2f</td><td>%s</td><td>%.2f</td><td>%.2f</td><td>%s</td></tr>",
			p.OrderID, p.Strike, p.OptionType, p.EntryPrice, p.PnL, p.State)
	}
	fmt.Fprintf(w, "</table></body></html>")
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}

func (s *Server) positionViews() []PositionView {
	active := s.ledger.Active()
	closed := s.ledger.Closed()
	out := make([]PositionView, 0, len(active)+len(closed))
	for _, p := range active {
		out = append(out, toView(p))
	}
	for _, p := range closed {
		out = append(out, toView(p))
	}
	return out
}

func toView(p *models.Position) PositionView {
	return PositionView{
		OrderID:    p.OrderID,
		Strike:     p.Strike,
		OptionType: string(p.OptionType),
		EntryPrice: p.EntryPrice,
		PeakPrice:  p.PeakPrice,
		PnL:        p.PnL,
		PnLPct:     p.PnLPct,
		State:      string(p.State),
		ExitReason: string(p.ExitReason),
	}
}

func (s *Server) stats() Stats {
	portfolio := s.ledger.Portfolio()
	return Stats{
		OpenPositions: s.ledger.ActiveCount(),
		TradesToday:   s.ledger.TradesToday(),
		RealizedPnL:   portfolio.RealizedPnL,
		WinRate:       portfolio.WinRate(),
		Cash:          portfolio.Cash,
		TotalValue:    portfolio.TotalValue,
	}
}
