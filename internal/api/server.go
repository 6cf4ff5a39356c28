// Package api exposes the bot's control surface over HTTP: start/stop,
// balances, trades, runtime configuration, stored equity and backtest
// reports, a prometheus endpoint and a websocket event stream. Every
// JSON body is wrapped in the {"status": ..., "data"/"message": ...}
// envelope the dashboard expects.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ahmedhalloub17/tradingbot/internal/engine"
	"github.com/ahmedhalloub17/tradingbot/internal/events"
	"github.com/ahmedhalloub17/tradingbot/internal/monitor"
	"github.com/ahmedhalloub17/tradingbot/pkg/config"
	"github.com/ahmedhalloub17/tradingbot/pkg/db"
)

// ReportStore serves the read side of the trade store: the equity curve
// the recorder writes and persisted backtest reports.
type ReportStore interface {
	ListEquitySnapshots(ctx context.Context, limit int) ([]db.EquitySnapshot, error)
	ListBacktestRuns(ctx context.Context, limit int) ([]db.BacktestRun, error)
	GetBacktestRun(ctx context.Context, id string) (db.BacktestRun, error)
}

// Server wires HTTP endpoints around the engine service.
type Server struct {
	Router *gin.Engine

	bot     engine.Service
	runtime *config.Store
	bus     *events.Bus
	reports ReportStore
	promh   http.Handler
	log     *zap.Logger
}

// NewServer builds the router with the full middleware stack. runtime,
// metrics, bus and reports may be nil; the endpoints they back then
// answer 503.
func NewServer(bot engine.Service, runtime *config.Store, metrics *monitor.Metrics, bus *events.Bus, reports ReportStore, cfg config.Server, log *zap.Logger) (*Server, error) {
	if bot == nil {
		return nil, errors.New("api server requires the engine service")
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "api"))

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())        // Panic recovery (first)
	r.Use(RequestIDMiddleware()) // Request ID tracking
	r.Use(RequestLogger(log))    // Request logging (after ID is set)
	if cfg.RateLimitRPS > 0 {
		r.Use(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst, log))
	}
	if cfg.RequestTimeout > 0 {
		r.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	r.Use(CORSMiddleware()) // CORS (last before routes)

	s := &Server{
		Router:  r,
		bot:     bot,
		runtime: runtime,
		bus:     bus,
		reports: reports,
		log:     log,
	}
	if metrics != nil {
		s.promh = metrics.Handler()
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.Router.GET("/healthz", s.health)
	s.Router.GET("/metrics", s.prometheus)
	s.Router.GET("/ws", s.websocket)

	s.Router.POST("/bot/start", s.startBot)
	s.Router.POST("/bot/stop", s.stopBot)
	s.Router.GET("/status", s.getStatus)
	s.Router.GET("/balance", s.getBalance)

	trades := s.Router.Group("/trades")
	{
		trades.GET("/active", s.getActiveTrades)
		trades.GET("/history", s.getTradeHistory)
		trades.POST("/:id/close", s.closeTrade)
	}

	s.Router.GET("/equity/history", s.getEquityHistory)
	s.Router.GET("/backtests", s.listBacktests)
	s.Router.GET("/backtests/:id", s.getBacktestRun)

	cfg := s.Router.Group("/config")
	{
		cfg.GET("/binance", s.getCredentials)
		cfg.POST("/binance", s.setCredentials)
		cfg.GET("/risk", s.getRiskConfig)
		cfg.POST("/risk", s.setRiskConfig)
	}

	s.Router.GET("/trading-pairs", s.getPairs)
	s.Router.POST("/trading-pairs", s.setPairs)

	s.Router.POST("/risk/reset", s.resetRisk)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) prometheus(c *gin.Context) {
	if s.promh == nil {
		respondError(c, http.StatusServiceUnavailable, "metrics not available")
		return
	}
	s.promh.ServeHTTP(c.Writer, c.Request)
}

// Handler returns the root handler for mounting on an http.Server.
func (s *Server) Handler() http.Handler {
	return s.Router
}

func respondOK(c *gin.Context, data gin.H) {
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": data})
}

func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"status": "error", "message": msg})
}
