package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"gas/internal/accounts"
	"gas/internal/logging"
	"gas/internal/pipeline"
)

// Server is the HTTP API.
type Server struct {
	deps         pipeline.Deps
	entitlements accounts.Entitlements
	submitter    *pipeline.Submitter
	logger       *slog.Logger
	engine       *gin.Engine
}

// New builds the API on the pipeline's collaborators. entitlements changes a
// user's tier; deps.Accounts reads it.
func New(deps pipeline.Deps, entitlements accounts.Entitlements) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		deps:         deps,
		entitlements: entitlements,
		submitter:    pipeline.NewSubmitter(deps),
		logger:       logging.NewComponentLogger(logger, "api"),
	}
	s.engine = s.routes()
	return s
}

// Handler returns the routed gin engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.health)

	v1 := r.Group("/v1")
	v1.Use(bearerAuth(s.deps.Config.API.Token))
	{
		v1.POST("/uploads", s.createUpload)
		v1.GET("/jobs/:id", s.getJob)

		users := v1.Group("/users/:user")
		{
			users.GET("/jobs", s.listUserJobs)
			users.POST("/upgrade", s.upgradeUser)
		}
	}
	return r
}

// Serve listens on api.bind until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	bind := strings.TrimSpace(s.deps.Config.API.Bind)
	if bind == "" {
		return errors.New("api.bind is empty")
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	s.logger.Info("api listening", logging.String("bind", listener.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debug("api request",
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("elapsed", time.Since(started)),
		)
	}
}

// bearerAuth requires "Authorization: Bearer <token>" when token is set.
func bearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}
