package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"signal-trading-bot/internal/auth"
	"signal-trading-bot/internal/market"
	"signal-trading-bot/internal/signal"
)

const maxJournalLimit = 500

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":          "healthy",
		"uptime_seconds":  int(time.Since(s.started).Seconds()),
		"trading_enabled": s.deps.Operator.Stats().Session.TradingEnabled,
		"ws_clients":      s.hub.GetClientCount(),
	}

	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health.HealthCheck(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["database"] = "unhealthy"
		} else {
			body["database"] = "healthy"
		}
	}
	c.JSON(status, body)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	if s.jwt == nil || s.config.OperatorPassHash == "" {
		errorResponse(c, http.StatusServiceUnavailable, "authentication is not configured")
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "username and password are required")
		return
	}
	if req.Username != s.config.OperatorUser || !auth.VerifyPassword(req.Password, s.config.OperatorPassHash) {
		s.logger.Warn().Str("username", req.Username).Str("ip", c.ClientIP()).Msg("Failed login")
		errorResponse(c, http.StatusUnauthorized, auth.ErrInvalidCredentials.Message)
		return
	}

	token, expires, err := s.jwt.GenerateAccessToken(req.Username)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to issue token")
		errorResponse(c, http.StatusInternalServerError, "failed to issue token")
		return
	}
	successResponse(c, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   expires,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	successResponse(c, s.deps.Operator.Stats())
}

func (s *Server) handleSetTrading(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		source := "api"
		if op := auth.GetOperator(c); op != "" {
			source = "api:" + op
		}
		if err := s.deps.Operator.SetTradingEnabled(c.Request.Context(), enabled, source); err != nil {
			// the in-memory flag changed; only persistence failed
			c.JSON(http.StatusOK, gin.H{
				"success":         true,
				"trading_enabled": enabled,
				"persisted":       false,
				"message":         err.Error(),
			})
			return
		}
		successResponse(c, gin.H{"trading_enabled": enabled, "persisted": true})
	}
}

func (s *Server) handleAnalyze(c *gin.Context) {
	a, err := s.deps.Operator.AnalyzeSymbol(c.Request.Context(), c.Param("symbol"))
	switch {
	case errors.Is(err, signal.ErrNoSymbol):
		errorResponse(c, http.StatusNotFound, "symbol not found")
	case errors.Is(err, market.ErrDataUnavailable):
		errorResponse(c, http.StatusBadGateway, err.Error())
	case err != nil:
		errorResponse(c, http.StatusInternalServerError, err.Error())
	default:
		successResponse(c, a)
	}
}

type submitSignalRequest struct {
	Text           string `json:"text"`
	AttachmentText string `json:"attachment_text"`
}

// handleSubmitSignal queues text for the pipeline as if it had arrived from a source chat
func (s *Server) handleSubmitSignal(c *gin.Context) {
	var req submitSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" && strings.TrimSpace(req.AttachmentText) == "" {
		errorResponse(c, http.StatusBadRequest, "text is required")
		return
	}
	if s.deps.Inbox == nil {
		errorResponse(c, http.StatusServiceUnavailable, "pipeline is not running")
		return
	}

	msg := signal.Message{ID: "api:" + uuid.NewString(), Text: req.Text, AttachmentText: req.AttachmentText}
	select {
	case s.deps.Inbox <- msg:
		c.JSON(http.StatusAccepted, gin.H{"success": true, "id": msg.ID})
	default:
		errorResponse(c, http.StatusServiceUnavailable, "pipeline queue is full")
	}
}

func (s *Server) handleReconcile(c *gin.Context) {
	report, err := s.deps.Operator.Reconcile(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}
	successResponse(c, report)
}

func (s *Server) handleClearDedup(c *gin.Context) {
	successResponse(c, gin.H{"cleared": s.deps.Operator.ClearDedup()})
}

func (s *Server) handleJournal(c *gin.Context) {
	if s.deps.Journal == nil {
		errorResponse(c, http.StatusServiceUnavailable, "journal is not configured")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		errorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	limit = min(limit, maxJournalLimit)

	entries, err := s.deps.Journal.RecentEvents(c.Request.Context(), strings.ToUpper(c.Query("type")), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read journal")
		errorResponse(c, http.StatusInternalServerError, "failed to read journal")
		return
	}
	successResponse(c, entries)
}
