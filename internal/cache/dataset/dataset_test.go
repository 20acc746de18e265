package dataset

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/brewery-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/brewery-cache/internal/core/model"
	"github.com/mohammed-shakir/brewery-cache/internal/mapper"
)

const testKey = "brewery:dataset:pp=100:src=test"

type fakeFetcher struct {
	calls     atomic.Int32
	cancelled atomic.Bool
	started   chan struct{}
	release   chan struct{}
	err       error
	recs      []model.UpstreamRecord
}

func (f *fakeFetcher) Fetch(ctx context.Context, _ int) ([]model.UpstreamRecord, error) {
	f.calls.Add(1)
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			f.cancelled.Store(true)
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.recs, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func str(s string) *string { return &s }

func sampleUpstream() []model.UpstreamRecord {
	return []model.UpstreamRecord{
		{ID: str("a"), Name: str("Alpha"), City: str("X")},
		{ID: str("b"), Name: str("Beta"), City: str("Y")},
	}
}

func newTestCache(t *testing.T, f *fakeFetcher, clk *fakeClock) *Cache {
	t.Helper()
	c, err := New(Options{
		Key:     testKey,
		TTL:     10 * time.Minute,
		Fetcher: f,
		Mapper:  mapper.New(mapper.WithH3Res(-1)),
		Now:     clk.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (c *Cache) waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flight == nil {
		return 0
	}
	return c.flight.waiters
}

func TestGetOrFetch_HitServesWithoutRefetch(t *testing.T) {
	f := &fakeFetcher{recs: sampleUpstream()}
	c := newTestCache(t, f, &fakeClock{t: time.Unix(1_700_000_000, 0)})
	ctx := context.Background()

	recs, out, err := c.GetOrFetch(ctx)
	if err != nil || out != OutcomeMiss || len(recs) != 2 {
		t.Fatalf("first: recs=%d out=%s err=%v", len(recs), out, err)
	}
	recs, out, err = c.GetOrFetch(ctx)
	if err != nil || out != OutcomeHit || len(recs) != 2 {
		t.Fatalf("second: recs=%d out=%s err=%v", len(recs), out, err)
	}
	if got := f.calls.Load(); got != 1 {
		t.Fatalf("fetch calls=%d want 1", got)
	}
}

func TestGetOrFetch_ExpiredEntryIsRefetched(t *testing.T) {
	f := &fakeFetcher{recs: sampleUpstream()}
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := newTestCache(t, f, clk)
	ctx := context.Background()

	if _, _, err := c.GetOrFetch(ctx); err != nil {
		t.Fatal(err)
	}
	clk.Advance(9 * time.Minute)
	if _, out, _ := c.GetOrFetch(ctx); out != OutcomeHit {
		t.Fatalf("outcome=%s want hit before expiry", out)
	}
	clk.Advance(time.Minute)
	if _, out, _ := c.GetOrFetch(ctx); out != OutcomeMiss {
		t.Fatalf("outcome=%s want miss at expiry", out)
	}
	if got := f.calls.Load(); got != 2 {
		t.Fatalf("fetch calls=%d want 2", got)
	}
}

func TestGetOrFetch_ConcurrentMissFetchesOnce(t *testing.T) {
	f := &fakeFetcher{
		recs:    sampleUpstream(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c := newTestCache(t, f, &fakeClock{t: time.Unix(1_700_000_000, 0)})

	const n = 20
	var wg sync.WaitGroup
	results := make([][]model.BreweryRecord, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _, errs[i] = c.GetOrFetch(context.Background())
		}()
	}

	<-f.started
	waitFor(t, "all waiters to join", func() bool { return c.waiters() == n })
	close(f.release)
	wg.Wait()

	if got := f.calls.Load(); got != 1 {
		t.Fatalf("fetch calls=%d want 1", got)
	}
	for i := range n {
		if errs[i] != nil {
			t.Fatalf("waiter %d: %v", i, errs[i])
		}
		if len(results[i]) != 2 || &results[i][0] != &results[0][0] {
			t.Fatalf("waiter %d did not share the fill result", i)
		}
	}
}

func TestGetOrFetch_FailureIsNotCached(t *testing.T) {
	boom := errors.New("upstream status 503")
	f := &fakeFetcher{recs: sampleUpstream(), err: boom}
	c := newTestCache(t, f, &fakeClock{t: time.Unix(1_700_000_000, 0)})
	ctx := context.Background()

	_, _, err := c.GetOrFetch(ctx)
	if !errors.Is(err, ErrUpstream) || !errors.Is(err, boom) {
		t.Fatalf("err=%v want ErrUpstream wrapping cause", err)
	}

	f.err = nil
	recs, out, err := c.GetOrFetch(ctx)
	if err != nil || out != OutcomeMiss || len(recs) != 2 {
		t.Fatalf("retry: recs=%d out=%s err=%v", len(recs), out, err)
	}
	if got := f.calls.Load(); got != 2 {
		t.Fatalf("fetch calls=%d want 2", got)
	}
}

func TestGetOrFetch_LastWaiterLeavingCancelsFill(t *testing.T) {
	f := &fakeFetcher{
		recs:    sampleUpstream(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c := newTestCache(t, f, &fakeClock{t: time.Unix(1_700_000_000, 0)})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrFetch(ctx)
		errc <- err
	}()

	<-f.started
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not return after cancel")
	}
	waitFor(t, "upstream call to observe cancellation", f.cancelled.Load)

	c.mu.Lock()
	cached := c.entry != nil
	c.mu.Unlock()
	if cached {
		t.Fatal("cancelled fill populated the cache")
	}

	close(f.release)
	recs, out, err := c.GetOrFetch(context.Background())
	if err != nil || out != OutcomeMiss || len(recs) != 2 {
		t.Fatalf("after cancel: recs=%d out=%s err=%v", len(recs), out, err)
	}
}

func TestGetOrFetch_RemainingWaiterKeepsFillAlive(t *testing.T) {
	f := &fakeFetcher{
		recs:    sampleUpstream(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c := newTestCache(t, f, &fakeClock{t: time.Unix(1_700_000_000, 0)})

	leaving, cancel := context.WithCancel(context.Background())
	leftc := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrFetch(leaving)
		leftc <- err
	}()
	<-f.started

	stayc := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrFetch(context.Background())
		stayc <- err
	}()
	waitFor(t, "second waiter", func() bool { return c.waiters() == 2 })

	cancel()
	if err := <-leftc; !errors.Is(err, context.Canceled) {
		t.Fatalf("leaving waiter err=%v", err)
	}
	close(f.release)
	if err := <-stayc; err != nil {
		t.Fatalf("remaining waiter err=%v", err)
	}
	if f.cancelled.Load() {
		t.Fatal("fill cancelled while a waiter remained")
	}
}

func TestGetOrFetch_CancelledContextUpFront(t *testing.T) {
	f := &fakeFetcher{recs: sampleUpstream()}
	c := newTestCache(t, f, &fakeClock{t: time.Unix(1_700_000_000, 0)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := c.GetOrFetch(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if got := f.calls.Load(); got != 0 {
		t.Fatalf("fetch calls=%d want 0", got)
	}
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	f := &fakeFetcher{recs: sampleUpstream()}
	c := newTestCache(t, f, &fakeClock{t: time.Unix(1_700_000_000, 0)})
	ctx := context.Background()

	if _, _, err := c.GetOrFetch(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, out, _ := c.GetOrFetch(ctx); out != OutcomeMiss {
		t.Fatalf("outcome=%s want miss after invalidate", out)
	}
	if got := f.calls.Load(); got != 2 {
		t.Fatalf("fetch calls=%d want 2", got)
	}
}

func newShared(t *testing.T) (*redisstore.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestSharedTier_SecondReplicaSkipsUpstream(t *testing.T) {
	rc, mr := newShared(t)
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	ctx := context.Background()

	fa := &fakeFetcher{recs: sampleUpstream()}
	a, _ := New(Options{Key: testKey, TTL: 10 * time.Minute, Fetcher: fa, Shared: rc, OpTimeout: time.Second, Now: clk.Now})
	if _, out, err := a.GetOrFetch(ctx); err != nil || out != OutcomeMiss {
		t.Fatalf("replica a: out=%s err=%v", out, err)
	}
	if !mr.Exists(testKey) {
		t.Fatal("fill was not written to the shared tier")
	}

	fb := &fakeFetcher{}
	b, _ := New(Options{Key: testKey, TTL: 10 * time.Minute, Fetcher: fb, Shared: rc, OpTimeout: time.Second, Now: clk.Now})
	recs, out, err := b.GetOrFetch(ctx)
	if err != nil || out != OutcomeSharedHit {
		t.Fatalf("replica b: out=%s err=%v", out, err)
	}
	if len(recs) != 2 || recs[0].Name != "Alpha" || recs[1].Name != "Beta" {
		t.Fatalf("replica b records: %+v", recs)
	}
	if got := fb.calls.Load(); got != 0 {
		t.Fatalf("replica b fetched upstream %d times", got)
	}
}

func TestSharedTier_LocalExpiryCappedByRemainingTTL(t *testing.T) {
	rc, _ := newShared(t)
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	ctx := context.Background()

	if err := rc.Set(ctx, testKey, []byte(`[{"id":"a","name":"Alpha","city":"X"}]`), time.Minute); err != nil {
		t.Fatal(err)
	}

	f := &fakeFetcher{}
	c, _ := New(Options{Key: testKey, TTL: 10 * time.Minute, Fetcher: f, Shared: rc, Now: clk.Now})
	if _, out, _ := c.GetOrFetch(ctx); out != OutcomeSharedHit {
		t.Fatalf("outcome=%s want shared_hit", out)
	}
	clk.Advance(2 * time.Minute)
	// local copy expired with the shared key's remaining ttl; miniredis time
	// has not moved so the shared tier still answers
	if _, out, _ := c.GetOrFetch(ctx); out != OutcomeSharedHit {
		t.Fatalf("outcome=%s want shared_hit after capped expiry", out)
	}
	if got := f.calls.Load(); got != 0 {
		t.Fatalf("fetch calls=%d want 0", got)
	}
}

type brokenShared struct{}

func (brokenShared) Get(context.Context, string) ([]byte, time.Duration, bool, error) {
	return nil, 0, false, errors.New("connection refused")
}

func (brokenShared) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (brokenShared) Del(context.Context, ...string) error { return errors.New("connection refused") }

func TestSharedTier_ErrorsDegradeToUpstream(t *testing.T) {
	f := &fakeFetcher{recs: sampleUpstream()}
	c, _ := New(Options{Key: testKey, Fetcher: f, Shared: brokenShared{}})

	recs, out, err := c.GetOrFetch(context.Background())
	if err != nil || out != OutcomeMiss || len(recs) != 2 {
		t.Fatalf("recs=%d out=%s err=%v", len(recs), out, err)
	}
	if err := c.Invalidate(context.Background()); err == nil {
		t.Fatal("expected shared del error to surface from Invalidate")
	}
}

func TestInvalidate_DeletesSharedKey(t *testing.T) {
	rc, mr := newShared(t)
	f := &fakeFetcher{recs: sampleUpstream()}
	c, _ := New(Options{Key: testKey, Fetcher: f, Shared: rc})
	ctx := context.Background()

	if _, _, err := c.GetOrFetch(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if mr.Exists(testKey) {
		t.Fatal("shared key survived invalidation")
	}
}

func TestNew_RequiresFetcherAndKey(t *testing.T) {
	if _, err := New(Options{Key: testKey}); err == nil {
		t.Fatal("expected error without fetcher")
	}
	if _, err := New(Options{Fetcher: &fakeFetcher{}}); err == nil {
		t.Fatal("expected error without key")
	}
}
