package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"straddle-core/internal/data"
	"straddle-core/internal/rms"
	"straddle-core/internal/strategy"
	exchange "straddle-core/pkg/exchanges/common"
	"straddle-core/pkg/exchanges/noren"
)

type executeRequest struct {
	StrategyName string `json:"strategyName"`
	Token        string `json:"token"`
	Exchange     string `json:"exchange"`
	Side         string `json:"side"`
}

type squareOffRequest struct {
	Token    string `json:"token"`
	Exchange string `json:"exchange"`
}

type highLowQuery struct {
	Exchange string `form:"exchange"`
	Token    string `form:"token"`
	From     string `form:"from"`
	To       string `form:"to"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// parseWindowBound accepts RFC3339 or an IST wall-clock "2006-01-02 15:04:05". Empty means unset.
func parseWindowBound(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02 15:04:05", v, noren.IST)
}

// executeSignal starts entry convergence for every config matching the signal.
func (s *Server) executeSignal(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	req.StrategyName = strings.TrimSpace(req.StrategyName)
	req.Token = strings.TrimSpace(req.Token)
	req.Exchange = strings.TrimSpace(req.Exchange)
	if req.StrategyName == "" || req.Token == "" || req.Exchange == "" {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "strategyName, token and exchange are required")
		return
	}
	side, ok := exchange.ParseSide(req.Side)
	if !ok {
		respondError(c, http.StatusBadRequest, "INVALID_SIDE", "side must be BUY or SELL")
		return
	}
	if !s.Meta.ExecutionEnabled {
		respondError(c, http.StatusServiceUnavailable, "EXECUTION_DISABLED", "straddle execution is not activated")
		return
	}
	if s.Execution == nil {
		respondError(c, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", "execution engine not ready")
		return
	}

	started, err := s.Execution.ExecuteSignal(c.Request.Context(), req.StrategyName, req.Token, req.Exchange, side)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"started":  started,
		"operator": CurrentOperator(c),
	})
}

// squareOff exits every open config on an underlying.
func (s *Server) squareOff(c *gin.Context) {
	var req squareOffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	req.Exchange = strings.TrimSpace(req.Exchange)
	if req.Token == "" || req.Exchange == "" {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "token and exchange are required")
		return
	}
	if s.RMS == nil {
		respondError(c, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", "rms engine not ready")
		return
	}

	triggered, err := s.RMS.ManualSquareOff(c.Request.Context(), req.Token, req.Exchange)
	switch {
	case errors.Is(err, rms.ErrNoConfigs):
		respondError(c, http.StatusNotFound, "NO_CONFIGS", err.Error())
		return
	case err != nil:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"triggered": triggered})
}

// forceSync refreshes venue books before answering.
func (s *Server) forceSync(c *gin.Context) {
	if s.Positions == nil {
		respondError(c, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", "position source not ready")
		return
	}
	if err := s.Positions.ForceSync(c.Request.Context()); err != nil {
		respondError(c, http.StatusBadGateway, "SYNC_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "synced",
		"positions": len(s.Positions.NetPositions()),
	})
}

// getPositions returns the last synced net positions.
func (s *Server) getPositions(c *gin.Context) {
	if s.Positions == nil {
		respondError(c, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", "position source not ready")
		return
	}
	positions := s.Positions.NetPositions()
	if positions == nil {
		positions = []exchange.Position{}
	}
	c.JSON(http.StatusOK, positions)
}

// getConfigs returns the RMS view of tracked configs, optionally filtered by ?status=.
func (s *Server) getConfigs(c *gin.Context) {
	if s.RMS == nil {
		respondError(c, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", "rms engine not ready")
		return
	}
	status := strategy.ExitStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	out := make([]strategy.Config, 0)
	for _, cfg := range s.RMS.Configs() {
		if status != "" && cfg.ExitStatus != status {
			continue
		}
		out = append(out, cfg)
	}
	c.JSON(http.StatusOK, out)
}

// getHighLow answers a time-series high/low query.
func (s *Server) getHighLow(c *gin.Context) {
	var q highLowQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if strings.TrimSpace(q.Exchange) == "" || strings.TrimSpace(q.Token) == "" {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "exchange and token are required")
		return
	}
	start, err := parseWindowBound(q.From)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_FROM", err.Error())
		return
	}
	end, err := parseWindowBound(q.To)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_TO", err.Error())
		return
	}
	if s.History == nil {
		respondError(c, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", "historical data not ready")
		return
	}

	hl, err := s.History.GetHighLowFromTimeSeries(c.Request.Context(), q.Exchange, q.Token, start, end)
	switch {
	case errors.Is(err, data.ErrNoCandles):
		respondError(c, http.StatusNotFound, "NO_CANDLES", err.Error())
		return
	case err != nil:
		respondError(c, http.StatusBadGateway, "SERIES_UNAVAILABLE", err.Error())
		return
	}
	c.JSON(http.StatusOK, hl)
}

// getMetrics returns the current metrics snapshot and quote cache stats.
func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not initialized")
		return
	}
	resp := gin.H{"system": s.Metrics.GetSnapshot()}
	if s.Quotes != nil {
		stats := s.Quotes.Stats()
		resp["quotes"] = gin.H{
			"total_items":   stats.TotalItems,
			"shard_counts":  stats.ShardCounts,
			"oldest_age_ms": stats.OldestAge.Milliseconds(),
		}
	}
	c.JSON(http.StatusOK, resp)
}

// getSystemStatus exposes runtime mode and venue.
func (s *Server) getSystemStatus(c *gin.Context) {
	mode := "LIVE"
	if s.Meta.DryRun {
		mode = "DRY_RUN"
	}
	c.JSON(http.StatusOK, gin.H{
		"mode":              mode,
		"dry_run":           s.Meta.DryRun,
		"execution_enabled": s.Meta.ExecutionEnabled,
		"venue":             s.Meta.Venue,
		"use_mock_feed":     s.Meta.UseMockFeed,
		"version":           s.Meta.Version,
		"server_time":       time.Now().UTC(),
	})
}
