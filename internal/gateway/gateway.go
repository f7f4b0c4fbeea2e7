// Package gateway implements the retrieval gateway: the sole entry point
// external callers use to obtain ranked, status-filtered memory records.
// It owns all concurrency and fairness policy — admission, rate limiting,
// and backend protection — so the scorer and selector stay pure.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/keepsakehq/keepsake/internal/engine"
	"github.com/keepsakehq/keepsake/internal/storage"
)

const (
	// MaxConcurrentCeiling is the hard upper bound on concurrent in-flight
	// backend calls, regardless of configuration. Protects the shared
	// backend process from fan-out.
	MaxConcurrentCeiling = 5

	// RateLimitCeiling is the hard upper bound on requests per minute.
	RateLimitCeiling = 30

	// MaxResultsCap is the hard upper bound on results per request.
	MaxResultsCap = 10

	// DefaultMaxConcurrent is the default concurrency ceiling.
	DefaultMaxConcurrent = 2

	// DefaultRateLimitPerMinute is the default per-minute request budget.
	DefaultRateLimitPerMinute = 10

	// DefaultMaxResults is the default result count per request.
	DefaultMaxResults = 3

	// DefaultMaxTokenBudget is the default per-request token budget.
	DefaultMaxTokenBudget = 3000

	// DefaultBackendTimeout bounds one backend search call.
	DefaultBackendTimeout = 10 * time.Second

	// defaultBackendCandidates caps the raw candidate set requested from the
	// backend before ranking and truncation.
	defaultBackendCandidates = 50
)

// Config holds the gateway policy knobs. Out-of-range values are clamped,
// not rejected, so one workspace's bad config cannot disable serving.
type Config struct {
	// Alpha is the semantic/recency blend weight (clamped to [0.6, 0.95]).
	Alpha float64

	// HalfLifeDays is the recency half-life (clamped to [7, 90]).
	HalfLifeDays float64

	// MaxConcurrent is the admission ceiling (default 2, hard cap 5).
	MaxConcurrent int

	// RateLimitPerMinute is the per-workspace request budget (default 10,
	// hard cap 30).
	RateLimitPerMinute int

	// MaxResultsDefault applies when a request leaves MaxResults unset
	// (default 3; both are capped at 10).
	MaxResultsDefault int

	// MaxTokenBudgetDefault applies when a request leaves MaxTokenBudget
	// unset (default 3000).
	MaxTokenBudgetDefault int

	// IncludeSupersededDefault applies when a request does not ask for
	// history mode. Default false.
	IncludeSupersededDefault bool

	// BackendTimeout bounds one backend search call (default 10s).
	BackendTimeout time.Duration

	// CacheTTL bounds how long an identical request may be served from the
	// response cache. Zero disables the cache.
	CacheTTL time.Duration

	// CacheSize is the response cache capacity (default 128 when caching is
	// enabled).
	CacheSize int
}

func (c *Config) normalize() {
	if c.Alpha == 0 {
		c.Alpha = engine.DefaultAlpha
	}
	c.Alpha = engine.ClampAlpha(c.Alpha)
	if c.HalfLifeDays == 0 {
		c.HalfLifeDays = engine.DefaultHalfLifeDays
	}
	c.HalfLifeDays = engine.ClampHalfLife(c.HalfLifeDays)
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.MaxConcurrent > MaxConcurrentCeiling {
		c.MaxConcurrent = MaxConcurrentCeiling
	}
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if c.RateLimitPerMinute > RateLimitCeiling {
		c.RateLimitPerMinute = RateLimitCeiling
	}
	if c.MaxResultsDefault <= 0 {
		c.MaxResultsDefault = DefaultMaxResults
	}
	if c.MaxResultsDefault > MaxResultsCap {
		c.MaxResultsDefault = MaxResultsCap
	}
	if c.MaxTokenBudgetDefault <= 0 {
		c.MaxTokenBudgetDefault = DefaultMaxTokenBudget
	}
	if c.BackendTimeout <= 0 {
		c.BackendTimeout = DefaultBackendTimeout
	}
	if c.CacheTTL > 0 && c.CacheSize <= 0 {
		c.CacheSize = 128
	}
}

// Request is one retrieval request.
type Request struct {
	// Query is the free-text search query. Required.
	Query string `json:"query"`

	// MaxResults caps the returned entries (0 = configured default; hard
	// cap 10). Negative values are INVALID_REQUEST.
	MaxResults int `json:"max_results,omitempty"`

	// MaxTokenBudget caps the estimated token cost of the returned entries
	// (0 = configured default). Negative values are INVALID_REQUEST.
	MaxTokenBudget int `json:"max_token_budget,omitempty"`

	// IncludeSuperseded enables history mode: superseded records become
	// visible and rank below equally-scored active ones.
	IncludeSuperseded bool `json:"include_superseded,omitempty"`
}

// Response is one retrieval result. An empty match set is a valid response,
// never an error, and the gateway never synthesizes entries: absence of a
// match is communicated as an empty Entries slice.
type Response struct {
	// Entries is the ranked, status-filtered, truncated result.
	Entries []engine.RankedEntry `json:"entries"`

	// TotalResults counts matches that survived status filtering, before
	// result-count and token-budget truncation.
	TotalResults int `json:"total_results"`

	// TokensUsed is the summed estimated token cost of Entries.
	TokensUsed int `json:"tokens_used"`
}

// Gateway is the concurrency-bounded serving front of the ranking engine.
// All mutable shared state (admission counters, rate-limit window, breaker,
// cache) is owned here and scoped to one instance, so multiple workspaces
// can coexist in one process without interference.
type Gateway struct {
	backend storage.SearchBackend
	store   storage.Store
	cfg     Config
	log     zerolog.Logger

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	cache   *expirable.LRU[string, *Response]

	// sem bounds concurrent in-flight backend calls; waiting is the number
	// of callers queued for a slot, bounded by queueCap (2× the ceiling).
	sem      chan struct{}
	mu       sync.Mutex
	waiting  int
	queueCap int

	now func() time.Time
}

// New creates a Gateway over the given search backend and record store.
func New(backend storage.SearchBackend, store storage.Store, cfg Config, log zerolog.Logger) *Gateway {
	cfg.normalize()

	g := &Gateway{
		backend:  backend,
		store:    store,
		cfg:      cfg,
		log:      log,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		queueCap: 2 * cfg.MaxConcurrent,
		now:      time.Now,
	}

	// Token-bucket limiter refilled at one token per minute/limit with a
	// burst of the full per-minute budget: requests beyond the budget are
	// rejected immediately rather than queued.
	g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimitPerMinute)), cfg.RateLimitPerMinute)

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "search-backend",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			// A caller hanging up mid-flight says nothing about backend
			// health; don't let cancellations trip the breaker.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("circuit breaker state change")
		},
	})

	if cfg.CacheTTL > 0 {
		g.cache = expirable.NewLRU[string, *Response](cfg.CacheSize, nil, cfg.CacheTTL)
	}

	return g
}

// Retrieve serves one ranked retrieval request. The caller's context governs
// both queue wait and the backend call: cancelling while queued removes the
// request without a backend call; cancelling in flight discards the result.
func (g *Gateway) Retrieve(ctx context.Context, req Request) (*Response, error) {
	req, err := g.validate(req)
	if err != nil {
		return nil, err
	}

	if !g.limiter.Allow() {
		g.log.Debug().Str("query", req.Query).Msg("retrieve rejected: rate limit")
		return nil, newError(KindRateLimited, "request budget of %d/minute exhausted", g.cfg.RateLimitPerMinute)
	}

	cacheKey := fmt.Sprintf("%s|%d|%d|%t", req.Query, req.MaxResults, req.MaxTokenBudget, req.IncludeSuperseded)
	if g.cache != nil {
		if resp, ok := g.cache.Get(cacheKey); ok {
			return resp, nil
		}
	}

	release, err := g.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	matches, err := g.search(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	resp, err := g.assemble(ctx, req, matches)
	if err != nil {
		return nil, err
	}

	if g.cache != nil {
		g.cache.Add(cacheKey, resp)
	}
	return resp, nil
}

// validate normalizes a request, applying configured defaults and hard caps.
// Malformed input is a caller error, reported as INVALID_REQUEST.
func (g *Gateway) validate(req Request) (Request, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return req, newError(KindInvalidRequest, "query must not be empty")
	}
	if req.MaxResults < 0 {
		return req, newError(KindInvalidRequest, "max_results must not be negative, got %d", req.MaxResults)
	}
	if req.MaxTokenBudget < 0 {
		return req, newError(KindInvalidRequest, "max_token_budget must not be negative, got %d", req.MaxTokenBudget)
	}

	if req.MaxResults == 0 {
		req.MaxResults = g.cfg.MaxResultsDefault
	}
	if req.MaxResults > MaxResultsCap {
		req.MaxResults = MaxResultsCap
	}
	if req.MaxTokenBudget == 0 {
		req.MaxTokenBudget = g.cfg.MaxTokenBudgetDefault
	}
	if !req.IncludeSuperseded {
		req.IncludeSuperseded = g.cfg.IncludeSupersededDefault
	}
	return req, nil
}

// admit waits for a concurrency slot. Callers beyond the ceiling wait in a
// bounded queue; once the queue is full new requests fail fast rather than
// growing it unboundedly.
func (g *Gateway) admit(ctx context.Context) (func(), error) {
	release := func() { <-g.sem }

	// Fast path: a slot is free.
	select {
	case g.sem <- struct{}{}:
		return release, nil
	default:
	}

	g.mu.Lock()
	if g.waiting >= g.queueCap {
		g.mu.Unlock()
		g.log.Debug().Int("queue_cap", g.queueCap).Msg("retrieve rejected: queue full")
		return nil, newError(KindQueueFull, "admission queue full (%d waiting)", g.queueCap)
	}
	g.waiting++
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.waiting--
		g.mu.Unlock()
	}()

	select {
	case g.sem <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		// Cancelled while queued: no backend call is made.
		return nil, ctx.Err()
	}
}

// search performs one backend call under the configured deadline, behind the
// circuit breaker.
func (g *Gateway) search(ctx context.Context, query string) ([]storage.RawMatch, error) {
	searchCtx, cancel := context.WithTimeout(ctx, g.cfg.BackendTimeout)
	defer cancel()

	result, err := g.breaker.Execute(func() (any, error) {
		return g.backend.Search(searchCtx, query, defaultBackendCandidates)
	})
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			// Caller cancelled in flight; the result (if any) is discarded.
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			g.log.Warn().Str("query", query).Dur("timeout", g.cfg.BackendTimeout).Msg("backend search timed out")
			return nil, wrapError(KindBackendTimeout, err, "backend did not respond within %s", g.cfg.BackendTimeout)
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, wrapError(KindBackendError, err, "backend unavailable")
		default:
			g.log.Error().Err(err).Str("query", query).Msg("backend search failed")
			return nil, wrapError(KindBackendError, err, "backend search failed")
		}
	}

	matches, _ := result.([]storage.RawMatch)
	return matches, nil
}

// assemble hydrates, scores, selects, and truncates one result set.
func (g *Gateway) assemble(ctx context.Context, req Request, matches []storage.RawMatch) (*Response, error) {
	now := g.now()

	entries := make([]engine.RankedEntry, 0, len(matches))
	for _, m := range matches {
		rec, err := g.store.Get(ctx, m.RecordID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// Index and store drifted; skip rather than serve a record
				// whose status is unknown.
				g.log.Debug().Str("record_id", m.RecordID).Msg("match not present in store, skipping")
				continue
			}
			return nil, wrapError(KindBackendError, err, "loading record %s", m.RecordID)
		}
		entries = append(entries, engine.NewRankedEntry(rec, m.SemanticScore, g.cfg.Alpha, g.cfg.HalfLifeDays, now))
	}

	selected := engine.Select(entries, req.IncludeSuperseded)

	resp := &Response{
		Entries:      make([]engine.RankedEntry, 0, req.MaxResults),
		TotalResults: len(selected),
	}
	for _, e := range selected {
		if len(resp.Entries) >= req.MaxResults {
			break
		}
		cost := EstimateTokens(e.Record)
		// Stop before the budget is exceeded; an entry is never split.
		if resp.TokensUsed+cost > req.MaxTokenBudget {
			break
		}
		resp.Entries = append(resp.Entries, e)
		resp.TokensUsed += cost
	}
	return resp, nil
}
