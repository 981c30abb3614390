// Package server exposes the execution engine over HTTP for the xecd
// daemon.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/xec/internal/config"
	"github.com/danmuck/xec/internal/engine"
	"github.com/danmuck/xec/internal/inventory"
	"github.com/danmuck/xec/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

type Server struct {
	engine    *engine.Engine
	inventory *inventory.Inventory
	router    *gin.Engine
	addr      string
	started   time.Time
}

// New assembles the daemon router. inv may be nil when no inventory file
// is configured; named-target requests then fail with 400.
func New(cfg config.DaemonConfig, eng *engine.Engine, inv *inventory.Inventory) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	if len(cfg.CorsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CorsOrigins,
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		engine:    eng,
		inventory: inv,
		router:    r,
		addr:      cfg.Addr,
		started:   time.Now(),
	}
	s.registerRoutes()
	return s
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", s.addr).Msg("daemon listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
