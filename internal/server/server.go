// Package server exposes the items and processing APIs over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opensciencecatalog/osc-backend/internal/items"
	"github.com/opensciencecatalog/osc-backend/internal/logging"
	"github.com/opensciencecatalog/osc-backend/internal/processing"
	"go.uber.org/zap"
)

// shutdownTimeout bounds how long in-flight requests get after ctx ends.
const shutdownTimeout = 10 * time.Second

// Opts holds configuration for the API server.
type Opts struct {
	Host       string
	Port       int
	Items      *items.Service
	Processing *processing.Proxy
	// DefaultUser is used when a request carries no X-User-Id header.
	DefaultUser string
	Logger      *zap.Logger
}

// NewRouter builds the gin engine with all API routes.
func NewRouter(opts Opts) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery(), logging.Middleware(opts.Logger))
	registerRoutes(router, &handlers{
		items:       opts.Items,
		processing:  opts.Processing,
		defaultUser: opts.DefaultUser,
		logger:      opts.Logger,
	})
	return router
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts Opts) error {
	if opts.Items == nil || opts.Processing == nil {
		return fmt.Errorf("server: items and processing services are required")
	}
	if opts.Port <= 0 {
		opts.Port = 5000
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Handler:           NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	opts.Logger.Info("api server listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
