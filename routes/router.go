package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"time"

	"chatpoll-backend/config"
	"chatpoll-backend/handlers"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Server wraps the HTTP server.
type Server struct {
	*http.Server
}

// SetupRouter builds the gin engine with CORS, per-user rate limiting and the
// poll API.
func SetupRouter(cfg *config.Config, polls *handlers.PollHandler, health *handlers.HealthHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.GinMode != gin.TestMode {
		router.Use(gin.Logger())
	}

	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", handlers.UserHeader, handlers.AdminHeader},
		ExposeHeaders: []string{"Content-Length", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || slices.Contains(cfg.AllowedOrigins, "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	limiter := handlers.NewUserRateLimiter(cfg.RateLimit, cfg.RateBurst)

	api := router.Group("/api")
	{
		api.GET("/health", health.HealthCheck)
		api.GET("/status", health.SystemStatus)

		pollsGroup := api.Group("/polls")
		pollsGroup.Use(handlers.RateLimitMiddleware(limiter))
		{
			pollsGroup.GET("/:id", polls.GetPoll)

			authed := pollsGroup.Group("", handlers.RequireUser())
			authed.POST("", polls.CreatePoll)
			authed.DELETE("/:id", polls.DeletePoll)
			authed.POST("/:id/close", polls.ClosePoll)
			authed.GET("/:id/votes/me", polls.MyVotes)
			authed.POST("/:id/options/:option/toggle", polls.ToggleVote)
			authed.PUT("/:id/options/:option/vote", polls.CastVote)
			authed.DELETE("/:id/options/:option/vote", polls.RetractVote)
		}

		admin := api.Group("/admin", handlers.RequireAdminToken(cfg.AdminToken))
		{
			admin.POST("/sweep", polls.Sweep)
		}
	}

	return router
}

// StartServer starts listening in the background. A listen failure exits the
// process.
func StartServer(router *gin.Engine, port uint, logger *slog.Logger) *Server {
	addr := fmt.Sprintf(":%d", port)

	srv := &Server{
		&http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	return srv
}
