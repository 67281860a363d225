// Package server exposes the signup and poll engines over a JSON API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tabletop-signup/internal/config"
	"tabletop-signup/internal/notify"
	"tabletop-signup/internal/polls"
	"tabletop-signup/internal/signup"
)

type Server struct {
	db      *gorm.DB
	queues  *signup.Manager
	polls   *polls.Arbiter
	hub     *notify.Hub
	cfg     config.Config
	logger  *zap.Logger
	joining signup.Policy
	voting  polls.Policy
	started time.Time
}

func New(conn *gorm.DB, queues *signup.Manager, arbiter *polls.Arbiter, hub *notify.Hub, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	registerValidators()
	return &Server{
		db:     conn,
		queues: queues,
		polls:  arbiter,
		hub:    hub,
		cfg:    cfg,
		logger: logger,
		joining: signup.Policy{
			AllowWaitlist: cfg.AllowWaitlist,
			RequireEmail:  cfg.RequireEmail,
		},
		voting:  polls.Policy{SingleChoice: cfg.SingleVotePerPoll},
		started: time.Now(),
	}
}

func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), s.requestTimeout())

	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api")
	api.POST("/activities", s.handleCreateActivity)
	api.GET("/activities/:id/queue", s.handleGetQueue)
	api.POST("/activities/:id/join", s.handleJoin)
	api.DELETE("/activities/:id/entries/:entryID", s.handleResign)
	api.POST("/activities/:id/deactivate", s.handleSetActive(false))
	api.POST("/activities/:id/reactivate", s.handleSetActive(true))
	api.PUT("/activities/:id/capacity", s.handleSetCapacity)
	api.DELETE("/activities/:id", s.handleDeleteActivity)

	api.POST("/polls", s.handleCreatePoll)
	api.GET("/polls/:id", s.handleGetPoll)
	api.POST("/polls/:id/options", s.handleAddOption)
	api.PATCH("/polls/:id", s.handleEditPoll)
	api.DELETE("/polls/:id/options/:optionID", s.handleRemoveOption)
	api.POST("/polls/:id/votes", s.handleCastVote)
	api.POST("/polls/:id/close", s.handleClosePoll)

	router.GET("/ws/events", s.handleEvents)
	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", c.ClientIP()))
	}
}

// requestTimeout bounds every engine call by REQUEST_TIMEOUT_SECONDS. The
// websocket stream is long-lived and is left alone.
func (s *Server) requestTimeout() gin.HandlerFunc {
	timeout := s.cfg.RequestTimeout()
	return func(c *gin.Context) {
		if timeout <= 0 || c.Request.URL.Path == "/ws/events" {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{"status": "ok", "uptime_seconds": int(time.Since(s.started).Seconds())}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			s.logger.Error("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, status)
}
