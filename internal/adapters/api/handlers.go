package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/deadletter"
	"go.uber.org/zap"
)

// ReviewRequest is the body of a review call
type ReviewRequest struct {
	Action       string `json:"action"`
	ReviewedBy   string `json:"reviewed_by"`
	Notes        string `json:"notes"`
	ReplyContent string `json:"reply_content"`
}

// ErrorResponse is the body returned for failed requests
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatsResponse is the body of the stats endpoint
type StatsResponse struct {
	UserID string                        `json:"user_id"`
	Counts map[core.DeadLetterStatus]int `json:"counts"`
	Total  int                           `json:"total"`
}

// PendingResponse is the body of the pending endpoint
type PendingResponse struct {
	UserID  string                  `json:"user_id"`
	Entries []*core.DeadLetterEntry `json:"entries"`
}

// HealthResponse is the body of the provider health endpoint
type HealthResponse struct {
	UserID    string                `json:"user_id"`
	Healthy   bool                  `json:"healthy"`
	Providers []core.ProviderHealth `json:"providers"`
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, ErrorResponse{Error: msg})
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleReview(c echo.Context) error {
	var body ReviewRequest
	if err := c.Bind(&body); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	action, err := deadletter.ParseAction(body.Action)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	if body.ReviewedBy == "" {
		return errorJSON(c, http.StatusBadRequest, "reviewed_by is required")
	}

	result, err := s.reviewer.Review(c.Request().Context(), deadletter.ReviewRequest{
		DeadLetterID: c.Param("id"),
		Action:       action,
		ReviewedBy:   body.ReviewedBy,
		Notes:        body.Notes,
		ReplyContent: body.ReplyContent,
	})
	switch {
	case errors.Is(err, core.ErrNotFound):
		return errorJSON(c, http.StatusNotFound, "dead letter entry not found")
	case errors.Is(err, deadletter.ErrInvalidAction), errors.Is(err, deadletter.ErrReplyContentRequired):
		return errorJSON(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, deadletter.ErrNoDispatcher):
		return errorJSON(c, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.logger.Error("Review failed", zap.String("dead_letter_id", c.Param("id")), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "review failed")
	}

	switch {
	case result.RequeuedID != "":
		return c.JSON(http.StatusServiceUnavailable, result)
	case !result.Success:
		return c.JSON(http.StatusConflict, result)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleStats(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return errorJSON(c, http.StatusBadRequest, "user_id is required")
	}

	counts, err := s.reviewer.Stats(c.Request().Context(), userID)
	if err != nil {
		s.logger.Error("Stats failed", zap.String("user_id", userID), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "failed to load stats")
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	return c.JSON(http.StatusOK, StatsResponse{UserID: userID, Counts: counts, Total: total})
}

func (s *Server) handlePending(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return errorJSON(c, http.StatusBadRequest, "user_id is required")
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return errorJSON(c, http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	entries, err := s.reviewer.Pending(c.Request().Context(), userID, limit)
	if err != nil {
		s.logger.Error("Pending failed", zap.String("user_id", userID), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "failed to list pending entries")
	}
	if entries == nil {
		entries = []*core.DeadLetterEntry{}
	}
	return c.JSON(http.StatusOK, PendingResponse{UserID: userID, Entries: entries})
}

func (s *Server) handleCheck(c echo.Context) error {
	id := c.Param("sent_email_id")
	out, err := s.checker.Check(c.Request().Context(), id)
	if errors.Is(err, core.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "sent message not found")
	}
	if err != nil {
		s.logger.Error("Check failed", zap.String("sent_email_id", id), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "check failed")
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleProviderHealth(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return errorJSON(c, http.StatusBadRequest, "user_id is required")
	}

	providers := s.checker.CheckHealth(c.Request().Context(), userID)
	healthy := len(providers) > 0
	for _, p := range providers {
		healthy = healthy && p.Healthy
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, HealthResponse{UserID: userID, Healthy: healthy, Providers: providers})
}
