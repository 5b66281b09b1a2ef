package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatpoll-backend/mq"
	"chatpoll-backend/repository"
	"chatpoll-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const (
	testCreator    = "UCREATOR"
	testAdminToken = "admin-secret"
)

type testEnv struct {
	router *gin.Engine
	store  *repository.MemoryStore
	svc    *service.PollService
}

// setupTestEnvironment wires the handlers to an in-memory store and an
// in-process scheduler.
func setupTestEnvironment(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryStore()
	scheduler := mq.NewTimerScheduler(logger)
	svc := service.NewPollService(store, scheduler, mq.NewLogNotifier(logger), logger)
	require.NoError(t, scheduler.Start(context.Background(), svc.HandleJob))
	t.Cleanup(scheduler.Stop)

	polls := NewPollHandler(svc, logger)
	health := NewHealthHandler("test", nil)

	router := gin.New()
	api := router.Group("/api")
	{
		api.GET("/health", health.HealthCheck)
		api.GET("/polls/:id", polls.GetPoll)

		authed := api.Group("/polls", RequireUser())
		authed.POST("", polls.CreatePoll)
		authed.DELETE("/:id", polls.DeletePoll)
		authed.POST("/:id/close", polls.ClosePoll)
		authed.GET("/:id/votes/me", polls.MyVotes)
		authed.POST("/:id/options/:option/toggle", polls.ToggleVote)
		authed.PUT("/:id/options/:option/vote", polls.CastVote)
		authed.DELETE("/:id/options/:option/vote", polls.RetractVote)

		api.POST("/admin/sweep", RequireAdminToken(testAdminToken), polls.Sweep)
	}

	return &testEnv{router: router, store: store, svc: svc}
}

// do sends a request as userID (no header when empty) and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.doWithHeaders(t, method, path, userID, body, nil)
}

func (e *testEnv) doWithHeaders(t *testing.T, method, path, userID string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// createPoll creates an open Red/Blue poll owned by testCreator.
func (e *testEnv) createPoll(t *testing.T, extra gin.H) service.PollView {
	t.Helper()

	body := gin.H{
		"title":    "Favourite colour?",
		"options":  []string{"Red", "Blue"},
		"close_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		body[k] = v
	}

	w := e.do(t, http.MethodPost, "/api/polls", testCreator, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var view service.PollView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	return view
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
