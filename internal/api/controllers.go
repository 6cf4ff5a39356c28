package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ahmedhalloub17/tradingbot/internal/lifecycle"
	"github.com/ahmedhalloub17/tradingbot/pkg/config"
	"github.com/ahmedhalloub17/tradingbot/pkg/db"
)

type credentialsRequest struct {
	APIKey    string `json:"api_key" binding:"required,min=1"`
	APISecret string `json:"api_secret" binding:"required,min=1"`
	Testnet   bool   `json:"testnet"`
}

// pairSelection mirrors the dashboard payload: the posted list carries every
// known pair and the enabled flags select the traded subset.
type pairSelection struct {
	Symbol  string `json:"symbol" binding:"required,min=1"`
	Enabled bool   `json:"enabled"`
}

type historyQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

func (q *historyQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 200 {
		q.Limit = 200
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}

type limitQuery struct {
	Limit int `form:"limit"`
}

func (q *limitQuery) normalize(def, max int) {
	if q.Limit <= 0 {
		q.Limit = def
	}
	if q.Limit > max {
		q.Limit = max
	}
}

func (s *Server) startBot(c *gin.Context) {
	if err := s.bot.Start(c.Request.Context()); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(c, gin.H{"message": "Bot started successfully"})
}

func (s *Server) stopBot(c *gin.Context) {
	if err := s.bot.Stop(c.Request.Context()); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(c, gin.H{"message": "Bot stopped successfully"})
}

func (s *Server) getStatus(c *gin.Context) {
	respondOK(c, gin.H{"bot": s.bot.Status(c.Request.Context())})
}

func (s *Server) getBalance(c *gin.Context) {
	info, err := s.bot.Balance(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(c, gin.H{"balance": info})
}

func (s *Server) getActiveTrades(c *gin.Context) {
	trades := s.bot.ActiveTrades(c.Request.Context())
	if trades == nil {
		trades = []lifecycle.Trade{}
	}
	respondOK(c, gin.H{"trades": trades})
}

func (s *Server) getTradeHistory(c *gin.Context) {
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "invalid paging parameters")
		return
	}
	q.normalize()

	trades, err := s.bot.TradeHistory(c.Request.Context(), q.Limit, q.Offset)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if trades == nil {
		trades = []lifecycle.Trade{}
	}
	respondOK(c, gin.H{"history": trades, "limit": q.Limit, "offset": q.Offset})
}

func (s *Server) closeTrade(c *gin.Context) {
	err := s.bot.CloseTrade(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		respondOK(c, gin.H{"message": "Trade closed successfully"})
	case errors.Is(err, lifecycle.ErrTradeNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, lifecycle.ErrStuck):
		// Close attempts exhausted; the trade stays live for operator retry.
		respondError(c, http.StatusBadGateway, err.Error())
	default:
		respondError(c, http.StatusConflict, err.Error())
	}
}

func (s *Server) getEquityHistory(c *gin.Context) {
	if s.reports == nil {
		respondError(c, http.StatusServiceUnavailable, "trade store not available")
		return
	}
	var q limitQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "invalid paging parameters")
		return
	}
	q.normalize(200, 1000)

	snaps, err := s.reports.ListEquitySnapshots(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if snaps == nil {
		snaps = []db.EquitySnapshot{}
	}
	respondOK(c, gin.H{"equity": snaps, "limit": q.Limit})
}

func (s *Server) listBacktests(c *gin.Context) {
	if s.reports == nil {
		respondError(c, http.StatusServiceUnavailable, "trade store not available")
		return
	}
	var q limitQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "invalid paging parameters")
		return
	}
	q.normalize(20, 100)

	runs, err := s.reports.ListBacktestRuns(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []db.BacktestRun{}
	}
	respondOK(c, gin.H{"runs": runs, "limit": q.Limit})
}

func (s *Server) getBacktestRun(c *gin.Context) {
	if s.reports == nil {
		respondError(c, http.StatusServiceUnavailable, "trade store not available")
		return
	}

	run, err := s.reports.GetBacktestRun(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
	case errors.Is(err, db.ErrNotFound):
		respondError(c, http.StatusNotFound, err.Error())
		return
	default:
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	report, err := run.Result()
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	// The decoded report replaces the raw JSON column in the response.
	run.Report = ""
	respondOK(c, gin.H{"run": run, "report": report})
}

func (s *Server) getCredentials(c *gin.Context) {
	if s.runtime == nil {
		respondError(c, http.StatusServiceUnavailable, "runtime configuration store not available")
		return
	}
	respondOK(c, gin.H{"config": s.runtime.CredentialStatus()})
}

func (s *Server) setCredentials(c *gin.Context) {
	if s.runtime == nil {
		respondError(c, http.StatusServiceUnavailable, "runtime configuration store not available")
		return
	}

	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "api_key and api_secret are required")
		return
	}

	err := s.runtime.SetCredentials(req.APIKey, req.APISecret, req.Testnet)
	switch {
	case err == nil:
		// The response never echoes the submitted secret, only the mask.
		respondOK(c, gin.H{"config": s.runtime.CredentialStatus()})
	case errors.Is(err, config.ErrNoEncryptionKey):
		respondError(c, http.StatusServiceUnavailable, "MASTER_ENCRYPTION_KEY is not configured")
	case errors.Is(err, config.ErrInvalid):
		respondError(c, http.StatusBadRequest, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) getPairs(c *gin.Context) {
	respondOK(c, gin.H{"pairs": s.bot.Pairs(c.Request.Context())})
}

func (s *Server) setPairs(c *gin.Context) {
	var req []pairSelection
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid trading pair payload")
		return
	}

	enabled := make([]string, 0, len(req))
	for _, p := range req {
		if p.Enabled {
			enabled = append(enabled, strings.ToUpper(strings.TrimSpace(p.Symbol)))
		}
	}
	if len(enabled) == 0 {
		respondError(c, http.StatusBadRequest, "at least one enabled trading pair is required")
		return
	}

	ctx := c.Request.Context()
	if err := s.bot.SetPairs(ctx, enabled); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	pairs := s.bot.Pairs(ctx)
	if s.runtime != nil {
		if err := s.runtime.SetPairs(pairs); err != nil {
			s.log.Warn("persisting pair list failed", zap.Error(err))
		}
	}
	respondOK(c, gin.H{"pairs": pairs})
}

func (s *Server) getRiskConfig(c *gin.Context) {
	respondOK(c, gin.H{"risk": s.bot.RiskConfig(c.Request.Context())})
}

func (s *Server) setRiskConfig(c *gin.Context) {
	ctx := c.Request.Context()

	// Bind over the live parameters: fields absent from the payload keep
	// their current values.
	cfg := s.bot.RiskConfig(ctx)
	if err := c.ShouldBindJSON(&cfg); err != nil {
		respondError(c, http.StatusBadRequest, "invalid risk configuration payload")
		return
	}

	if err := s.bot.SetRiskConfig(ctx, cfg); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	applied := s.bot.RiskConfig(ctx)
	if s.runtime != nil {
		if err := s.runtime.SetRiskOverride(applied); err != nil {
			s.log.Warn("persisting risk override failed", zap.Error(err))
		}
	}
	respondOK(c, gin.H{"risk": applied})
}

func (s *Server) resetRisk(c *gin.Context) {
	snap, err := s.bot.ResetRisk(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(c, gin.H{"portfolio": snap})
}
