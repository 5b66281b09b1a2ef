package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"chatpoll-backend/ledger"
	"chatpoll-backend/service"

	"github.com/gin-gonic/gin"
)

// UserHeader carries the chat identity of the caller. Authentication happens
// upstream; the backend trusts the value.
const UserHeader = "X-User-ID"

// AdminHeader carries the shared admin secret.
const AdminHeader = "X-Admin-Token"

const userKey = "user_id"

// PollHandler exposes PollService over HTTP.
type PollHandler struct {
	svc    *service.PollService
	logger *slog.Logger
}

func NewPollHandler(svc *service.PollService, logger *slog.Logger) *PollHandler {
	return &PollHandler{svc: svc, logger: logger}
}

// RequireUser rejects requests that do not identify a user.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserHeader))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": UserHeader + " header is required"})
			return
		}
		if !ledger.ValidVoterID(userID) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":  "invalid request",
				"fields": gin.H{"user_id": UserHeader + " must not contain ',' or '|'"},
			})
			return
		}
		c.Set(userKey, userID)
		c.Next()
	}
}

// RequireAdminToken guards admin routes with a shared secret sent in
// AdminHeader. An empty token rejects every request.
func RequireAdminToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin endpoints are disabled"})
			return
		}
		given := c.GetHeader(AdminHeader)
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid " + AdminHeader})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	if v := c.GetString(userKey); v != "" {
		return v
	}
	return strings.TrimSpace(c.GetHeader(UserHeader))
}

// CreatePoll handles POST /api/polls.
func (h *PollHandler) CreatePoll(c *gin.Context) {
	var input service.CreatePollInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	input.CreatorID = currentUser(c)

	poll, err := h.svc.CreatePoll(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}

	view, err := h.svc.ViewPoll(c.Request.Context(), poll.ID, input.CreatorID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// GetPoll handles GET /api/polls/:id. Anonymous viewers get the public view.
func (h *PollHandler) GetPoll(c *gin.Context) {
	view, err := h.svc.ViewPoll(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ToggleVote handles POST /api/polls/:id/options/:option/toggle.
func (h *PollHandler) ToggleVote(c *gin.Context) {
	h.vote(c, h.svc.ToggleVote)
}

// CastVote handles PUT /api/polls/:id/options/:option/vote.
func (h *PollHandler) CastVote(c *gin.Context) {
	h.vote(c, h.svc.CastVote)
}

// RetractVote handles DELETE /api/polls/:id/options/:option/vote.
func (h *PollHandler) RetractVote(c *gin.Context) {
	h.vote(c, h.svc.RetractVote)
}

type voteFunc func(ctx context.Context, pollID, voterID string, optionIndex int) (*service.VoteResult, error)

func (h *PollHandler) vote(c *gin.Context, fn voteFunc) {
	option, err := strconv.Atoi(c.Param("option"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "option must be an integer"})
		return
	}

	result, err := fn(c.Request.Context(), c.Param("id"), currentUser(c), option)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// MyVotes handles GET /api/polls/:id/votes/me.
func (h *PollHandler) MyVotes(c *gin.Context) {
	pollID := c.Param("id")
	votes, err := h.svc.MyVotes(c.Request.Context(), pollID, currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"poll_id": pollID, "options": votes})
}

// ClosePoll handles POST /api/polls/:id/close.
func (h *PollHandler) ClosePoll(c *gin.Context) {
	view, err := h.svc.ClosePoll(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// DeletePoll handles DELETE /api/polls/:id.
func (h *PollHandler) DeletePoll(c *gin.Context) {
	if err := h.svc.DeletePoll(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Sweep handles POST /api/admin/sweep and runs a cleanup pass immediately.
func (h *PollHandler) Sweep(c *gin.Context) {
	report, err := h.svc.Sweep(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *PollHandler) respondError(c *gin.Context, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": verr.Fields})
	case errors.Is(err, service.ErrPollNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidOption):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotCreator):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrPollClosed):
		body := gin.H{"error": err.Error()}
		// refresh the stale control with the closed rendering
		if view, viewErr := h.svc.ViewPoll(c.Request.Context(), c.Param("id"), currentUser(c)); viewErr == nil {
			body["poll"] = view
		}
		c.JSON(http.StatusConflict, body)
	case errors.Is(err, service.ErrVoteLimitReached):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
