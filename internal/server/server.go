// Package server exposes the memory store over HTTP: ranked retrieval,
// compaction, topic history, and a websocket event feed.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/keepsakehq/keepsake/internal/engine"
	"github.com/keepsakehq/keepsake/internal/gateway"
	"github.com/keepsakehq/keepsake/internal/storage"
)

// Options configures the HTTP surface. The zero value disables auth and uses
// a permissive rate limit, which suits local development.
type Options struct {
	// APIToken enables bearer-token auth when non-empty.
	APIToken string

	// RateLimitPerSec and RateLimitBurst bound request admission across all
	// endpoints. Zero values fall back to 10 req/s with a burst of 20.
	RateLimitPerSec float64
	RateLimitBurst  int

	// Version is reported by the health endpoint.
	Version string
}

// Server is the Keepsake HTTP API server.
type Server struct {
	store     storage.Store
	gw        *gateway.Gateway
	compactor *engine.Compactor
	hub       *EventHub
	log       zerolog.Logger

	router  chi.Router
	limiter *rate.Limiter
	opts    Options
	started time.Time
}

// New creates a Server over the given store, gateway, and compactor. The
// returned server owns an event hub; callers must Close it on shutdown.
func New(store storage.Store, gw *gateway.Gateway, compactor *engine.Compactor, opts Options, log zerolog.Logger) *Server {
	if opts.RateLimitPerSec <= 0 {
		opts.RateLimitPerSec = 10.0
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 20
	}

	s := &Server{
		store:     store,
		gw:        gw,
		compactor: compactor,
		hub:       NewEventHub(log),
		log:       log,
		limiter:   rate.NewLimiter(rate.Limit(opts.RateLimitPerSec), opts.RateLimitBurst),
		opts:      opts,
		started:   time.Now(),
	}
	s.routes()
	go s.hub.Run()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close shuts down the event hub and disconnects all websocket clients.
func (s *Server) Close() {
	s.hub.Stop()
}

// StartCompactionLoop runs background compaction every interval until ctx is
// cancelled. Reports are broadcast to websocket clients like manually
// triggered runs.
func (s *Server) StartCompactionLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				report, err := s.compactor.Compact(ctx, "")
				if err != nil {
					s.log.Error().Err(err).Msg("background compaction failed")
					continue
				}
				if report.ClustersCompacted > 0 || len(report.Failures) > 0 {
					s.hub.Broadcast(report)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(s.securityHeaders)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Use(s.requireAuth)

		r.Post("/retrieve", s.handleRetrieve)
		r.Post("/compact", s.handleCompact)
		r.Get("/topics/{topicID}/records", s.handleTopicRecords)
		r.Get("/events", s.hub.ServeHTTP)
	})

	s.router = r
}
