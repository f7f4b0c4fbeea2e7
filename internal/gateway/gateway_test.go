package gateway_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepsakehq/keepsake/internal/gateway"
	"github.com/keepsakehq/keepsake/internal/storage"
	"github.com/keepsakehq/keepsake/pkg/types"
)

// fakeBackend is a scriptable storage.SearchBackend that tracks in-flight
// concurrency.
type fakeBackend struct {
	mu        sync.Mutex
	matches   []storage.RawMatch
	err       error
	delay     time.Duration
	blockCh   chan struct{} // when set, Search blocks until the channel closes
	calls     atomic.Int64
	inFlight  atomic.Int64
	maxSeen   atomic.Int64
}

func (b *fakeBackend) Search(ctx context.Context, query string, limit int) ([]storage.RawMatch, error) {
	b.calls.Add(1)
	cur := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		max := b.maxSeen.Load()
		if cur <= max || b.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}

	if b.blockCh != nil {
		select {
		case <-b.blockCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return b.matches, nil
}

// fakeStore is a minimal storage.Store serving Get for hydration.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*types.MemoryRecord
}

func newFakeStore(records ...*types.MemoryRecord) *fakeStore {
	s := &fakeStore{records: make(map[string]*types.MemoryRecord)}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

func (s *fakeStore) Append(ctx context.Context, record *types.MemoryRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return record.ID, nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (s *fakeStore) SetStatus(ctx context.Context, id string, status types.RecordStatus, supersededBy string) error {
	return nil
}

func (s *fakeStore) ListActiveByTopic(ctx context.Context, topicID string) ([]types.MemoryRecord, error) {
	return nil, nil
}

func (s *fakeStore) ListActiveTopics(ctx context.Context) ([]string, error) { return nil, nil }

func (s *fakeStore) ListByTopic(ctx context.Context, topicID string, includeSuperseded bool) ([]types.MemoryRecord, error) {
	return nil, nil
}

func (s *fakeStore) Close() error { return nil }

func record(id string, status types.RecordStatus, summary string) *types.MemoryRecord {
	return &types.MemoryRecord{
		ID:          id,
		TopicID:     "topic",
		Status:      status,
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
		UpdatedAt:   time.Now().UTC(),
		SummaryText: summary,
	}
}

func match(id string, score float64) storage.RawMatch {
	return storage.RawMatch{RecordID: id, TopicID: "topic", SemanticScore: score}
}

func newGateway(backend storage.SearchBackend, store storage.Store, cfg gateway.Config) *gateway.Gateway {
	return gateway.New(backend, store, cfg, zerolog.Nop())
}

func TestRetrieveEmptyMatchSetIsNotAnError(t *testing.T) {
	backend := &fakeBackend{}
	gw := newGateway(backend, newFakeStore(), gateway.Config{})

	resp, err := gw.Retrieve(context.Background(), gateway.Request{Query: "anything"})
	require.NoError(t, err)

	assert.NotNil(t, resp.Entries)
	assert.Empty(t, resp.Entries)
	assert.Equal(t, 0, resp.TotalResults)
	assert.Equal(t, 0, resp.TokensUsed)
}

func TestRetrieveValidation(t *testing.T) {
	gw := newGateway(&fakeBackend{}, newFakeStore(), gateway.Config{})

	cases := []struct {
		name string
		req  gateway.Request
	}{
		{"empty_query", gateway.Request{Query: "   "}},
		{"negative_max_results", gateway.Request{Query: "q", MaxResults: -1}},
		{"negative_budget", gateway.Request{Query: "q", MaxTokenBudget: -5}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := gw.Retrieve(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, gateway.KindInvalidRequest, gateway.KindOf(err))
		})
	}
}

func TestRetrieveRanksAndFilters(t *testing.T) {
	store := newFakeStore(
		record("fresh", types.StatusActive, "fresh summary"),
		record("hidden", types.StatusSuperseded, "old summary"),
		record("merged", types.StatusConsolidated, "merged summary"),
	)
	backend := &fakeBackend{matches: []storage.RawMatch{
		match("fresh", 0.9),
		match("hidden", 0.99),
		match("merged", 0.8),
	}}
	gw := newGateway(backend, store, gateway.Config{})

	resp, err := gw.Retrieve(context.Background(), gateway.Request{Query: "summary"})
	require.NoError(t, err)

	require.Equal(t, 2, resp.TotalResults)
	for _, e := range resp.Entries {
		assert.NotEqual(t, types.StatusSuperseded, e.Record.Status)
	}

	// History mode surfaces the superseded record too.
	resp, err = gw.Retrieve(context.Background(), gateway.Request{Query: "summary", IncludeSuperseded: true})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.TotalResults)
}

func TestRetrieveSkipsMatchesMissingFromStore(t *testing.T) {
	store := newFakeStore(record("present", types.StatusActive, "here"))
	backend := &fakeBackend{matches: []storage.RawMatch{
		match("present", 0.5),
		match("ghost", 0.9),
	}}
	gw := newGateway(backend, store, gateway.Config{})

	resp, err := gw.Retrieve(context.Background(), gateway.Request{Query: "q"})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "present", resp.Entries[0].Record.ID)
}

func TestRetrieveMaxResultsTruncation(t *testing.T) {
	store := newFakeStore()
	var matches []storage.RawMatch
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		rec := record(id, types.StatusActive, "summary "+id)
		store.records[id] = rec
		matches = append(matches, match(id, 0.5))
	}
	backend := &fakeBackend{matches: matches}
	gw := newGateway(backend, store, gateway.Config{})

	resp, err := gw.Retrieve(context.Background(), gateway.Request{Query: "q", MaxResults: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Entries, 2)
	assert.Equal(t, 5, resp.TotalResults)
}

// TestRetrieveTokenBudget verifies the budget walk stops before exceeding the
// budget and never truncates mid-entry.
func TestRetrieveTokenBudget(t *testing.T) {
	long := strings.Repeat("x", 400) // ~116 tokens with overhead
	store := newFakeStore(
		record("one", types.StatusActive, long),
		record("two", types.StatusActive, long),
		record("three", types.StatusActive, long),
	)
	backend := &fakeBackend{matches: []storage.RawMatch{
		match("one", 0.9), match("two", 0.8), match("three", 0.7),
	}}
	gw := newGateway(backend, store, gateway.Config{})

	perEntry := gateway.EstimateTokens(record("one", types.StatusActive, long))
	budget := perEntry*2 + 5 // room for two entries, not three

	resp, err := gw.Retrieve(context.Background(), gateway.Request{Query: "q", MaxTokenBudget: budget})
	require.NoError(t, err)

	assert.Len(t, resp.Entries, 2)
	assert.Equal(t, perEntry*2, resp.TokensUsed)
	assert.LessOrEqual(t, resp.TokensUsed, budget)
	assert.Equal(t, 3, resp.TotalResults)
}

func TestRetrieveRateLimit(t *testing.T) {
	backend := &fakeBackend{}
	gw := newGateway(backend, newFakeStore(), gateway.Config{RateLimitPerMinute: 5})

	var limited int
	for i := 0; i < 8; i++ {
		_, err := gw.Retrieve(context.Background(), gateway.Request{Query: "q"})
		if err != nil {
			assert.Equal(t, gateway.KindRateLimited, gateway.KindOf(err))
			limited++
		}
	}
	assert.Equal(t, 3, limited, "requests beyond the per-minute budget are rejected immediately")
}

// TestRetrieveConcurrencyBound verifies that under many simultaneous callers
// the number of concurrent backend calls never exceeds the configured
// ceiling, and overload is surfaced as QUEUE_FULL rather than unbounded
// queuing.
func TestRetrieveConcurrencyBound(t *testing.T) {
	backend := &fakeBackend{delay: 30 * time.Millisecond}
	gw := newGateway(backend, newFakeStore(), gateway.Config{
		MaxConcurrent:      2,
		RateLimitPerMinute: 30,
	})

	const callers = 20
	var wg sync.WaitGroup
	var succeeded, queueFull, rateLimited atomic.Int64

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gw.Retrieve(context.Background(), gateway.Request{Query: "q"})
			switch gateway.KindOf(err) {
			case "":
				if err == nil {
					succeeded.Add(1)
				}
			case gateway.KindQueueFull:
				queueFull.Add(1)
			case gateway.KindRateLimited:
				rateLimited.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, backend.maxSeen.Load(), int64(2), "in-flight backend calls must never exceed the ceiling")
	assert.Positive(t, succeeded.Load())
	assert.Equal(t, int64(callers), succeeded.Load()+queueFull.Load()+rateLimited.Load())
}

// TestRetrieveConcurrencyCeilingClamped verifies the hard clamp: even when
// configured above 5, at most 5 backend calls run concurrently.
func TestRetrieveConcurrencyCeilingClamped(t *testing.T) {
	backend := &fakeBackend{delay: 30 * time.Millisecond}
	gw := newGateway(backend, newFakeStore(), gateway.Config{
		MaxConcurrent:      50,
		RateLimitPerMinute: 30,
	})

	var wg sync.WaitGroup
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = gw.Retrieve(context.Background(), gateway.Request{Query: "q"})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, backend.maxSeen.Load(), int64(5))
}

func TestRetrieveQueueFull(t *testing.T) {
	blockCh := make(chan struct{})
	backend := &fakeBackend{blockCh: blockCh}
	gw := newGateway(backend, newFakeStore(), gateway.Config{
		MaxConcurrent:      1,
		RateLimitPerMinute: 30,
	})

	// Fill the slot and the queue (capacity 2× ceiling = 2).
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = gw.Retrieve(context.Background(), gateway.Request{Query: "q"})
		}()
	}

	// Wait until one call is in flight and the queue is saturated.
	require.Eventually(t, func() bool {
		return backend.inFlight.Load() == 1
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, err := gw.Retrieve(context.Background(), gateway.Request{Query: "q"})
	assert.Equal(t, gateway.KindQueueFull, gateway.KindOf(err))

	close(blockCh)
	wg.Wait()
}

// TestRetrieveCancelWhileQueued verifies a queued caller can cancel: the
// request is removed from the queue and no backend call is made for it.
func TestRetrieveCancelWhileQueued(t *testing.T) {
	blockCh := make(chan struct{})
	backend := &fakeBackend{blockCh: blockCh}
	gw := newGateway(backend, newFakeStore(), gateway.Config{
		MaxConcurrent:      1,
		RateLimitPerMinute: 30,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = gw.Retrieve(context.Background(), gateway.Request{Query: "occupier"})
	}()
	require.Eventually(t, func() bool {
		return backend.inFlight.Load() == 1
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := gw.Retrieve(ctx, gateway.Request{Query: "queued"})
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), backend.calls.Load(), "cancelled queued request must not reach the backend")

	close(blockCh)
	<-done
}

func TestRetrieveBackendTimeout(t *testing.T) {
	backend := &fakeBackend{delay: 200 * time.Millisecond}
	gw := newGateway(backend, newFakeStore(), gateway.Config{BackendTimeout: 20 * time.Millisecond})

	_, err := gw.Retrieve(context.Background(), gateway.Request{Query: "slow"})
	require.Error(t, err)
	assert.Equal(t, gateway.KindBackendTimeout, gateway.KindOf(err))
}

func TestRetrieveBackendError(t *testing.T) {
	backend := &fakeBackend{err: errors.New("index corrupted")}
	gw := newGateway(backend, newFakeStore(), gateway.Config{})

	_, err := gw.Retrieve(context.Background(), gateway.Request{Query: "q"})
	require.Error(t, err)
	assert.Equal(t, gateway.KindBackendError, gateway.KindOf(err))
	assert.Contains(t, err.Error(), "index corrupted")
}

func TestRetrieveCachesIdenticalRequests(t *testing.T) {
	store := newFakeStore(record("a", types.StatusActive, "cached"))
	backend := &fakeBackend{matches: []storage.RawMatch{match("a", 0.9)}}
	gw := newGateway(backend, store, gateway.Config{CacheTTL: time.Minute})

	first, err := gw.Retrieve(context.Background(), gateway.Request{Query: "q"})
	require.NoError(t, err)
	second, err := gw.Retrieve(context.Background(), gateway.Request{Query: "q"})
	require.NoError(t, err)

	assert.Equal(t, first.TotalResults, second.TotalResults)
	assert.Equal(t, int64(1), backend.calls.Load(), "identical request within TTL should be served from cache")

	// A different request misses the cache.
	_, err = gw.Retrieve(context.Background(), gateway.Request{Query: "q", IncludeSuperseded: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), backend.calls.Load())
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, gateway.EstimateTokens(nil))

	rec := &types.MemoryRecord{SummaryText: strings.Repeat("a", 40)}
	withLists := &types.MemoryRecord{
		SummaryText: strings.Repeat("a", 40),
		Decisions:   []string{strings.Repeat("b", 20)},
	}
	assert.Greater(t, gateway.EstimateTokens(withLists), gateway.EstimateTokens(rec))
}
