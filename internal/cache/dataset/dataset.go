// Package dataset holds the mapped brewery set behind a single key with a
// TTL and one in-flight fill at a time.
package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammed-shakir/brewery-cache/internal/cache"
	"github.com/mohammed-shakir/brewery-cache/internal/core/model"
	"github.com/mohammed-shakir/brewery-cache/internal/core/observability"
	"github.com/mohammed-shakir/brewery-cache/internal/core/upstream"
	"github.com/mohammed-shakir/brewery-cache/internal/logger"
	"github.com/mohammed-shakir/brewery-cache/internal/mapper"
)

// ErrUpstream marks fills that failed because the fetcher failed.
var ErrUpstream = errors.New("upstream fetch failed")

type Outcome string

const (
	OutcomeHit       Outcome = "hit"
	OutcomeMiss      Outcome = "miss"
	OutcomeSharedHit Outcome = "shared_hit"
)

const DefaultTTL = 10 * time.Minute

type Options struct {
	// Key names the dataset in the shared tier; see keys.DatasetKey.
	Key     string
	TTL     time.Duration
	PerPage int

	Fetcher upstream.Fetcher
	Mapper  mapper.Interface

	// optional; nil keeps everything process-local
	Shared    cache.Shared
	OpTimeout time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

type entry struct {
	records []model.BreweryRecord
	expires time.Time
}

// pending result shared by every caller that missed while a fill was running
type flight struct {
	done    chan struct{}
	records []model.BreweryRecord
	outcome Outcome
	err     error

	waiters int
	cancel  context.CancelFunc
}

type Cache struct {
	key       string
	ttl       time.Duration
	perPage   int
	fetcher   upstream.Fetcher
	mapper    mapper.Interface
	shared    cache.Shared
	opTimeout time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	entry  *entry
	flight *flight
	gen    uint64 // bumped by Invalidate
}

func New(o Options) (*Cache, error) {
	if o.Fetcher == nil {
		return nil, errors.New("dataset: fetcher is required")
	}
	if o.Key == "" {
		return nil, errors.New("dataset: key is required")
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.PerPage <= 0 {
		o.PerPage = 100
	}
	if o.Mapper == nil {
		o.Mapper = mapper.New()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Cache{
		key:       o.Key,
		ttl:       o.TTL,
		perPage:   o.PerPage,
		fetcher:   o.Fetcher,
		mapper:    o.Mapper,
		shared:    o.Shared,
		opTimeout: o.OpTimeout,
		logger:    o.Logger,
		now:       o.Now,
	}, nil
}

func (c *Cache) Key() string { return c.key }

// GetOrFetch returns the cached records, filling the entry on a miss. The
// returned slice is shared and must not be modified.
func (c *Cache) GetOrFetch(ctx context.Context) ([]model.BreweryRecord, Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	c.mu.Lock()
	if e := c.entry; e != nil && c.now().Before(e.expires) {
		recs := e.records
		c.mu.Unlock()
		observability.IncDatasetResult(string(OutcomeHit))
		return recs, OutcomeHit, nil
	}

	f := c.flight
	if f == nil {
		// the fill outlives whichever caller started it; it is cancelled
		// only when every waiter has gone
		fctx, cancel := context.WithCancel(logger.WithDataset(context.WithoutCancel(ctx), c.key))
		f = &flight{done: make(chan struct{}), cancel: cancel}
		c.flight = f
		go c.fill(fctx, f, c.gen)
	}
	f.waiters++
	c.mu.Unlock()

	select {
	case <-f.done:
		c.leave(f)
		if f.err != nil {
			return nil, "", f.err
		}
		return f.records, f.outcome, nil
	case <-ctx.Done():
		c.leave(f)
		return nil, "", ctx.Err()
	}
}

func (c *Cache) leave(f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flight == f {
		c.flight = nil
	}
}

func (c *Cache) fill(ctx context.Context, f *flight, gen uint64) {
	var (
		recs    []model.BreweryRecord
		outcome Outcome
		ttlCap  time.Duration
		err     error
	)
	defer func() {
		if r := recover(); r != nil {
			recs, err = nil, fmt.Errorf("dataset fill panic: %v", r)
			c.logger.ErrorContext(ctx, "dataset fill panicked", "panic", r)
		}
		c.finish(ctx, f, gen, recs, outcome, ttlCap, err)
	}()

	recs, outcome, ttlCap, err = c.load(ctx)
}

func (c *Cache) finish(ctx context.Context, f *flight, gen uint64,
	recs []model.BreweryRecord, outcome Outcome, ttlCap time.Duration, err error,
) {
	defer f.cancel()

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	c.mu.Lock()
	if err == nil && gen == c.gen {
		ttl := c.ttl
		if ttlCap > 0 && ttlCap < ttl {
			ttl = ttlCap
		}
		c.entry = &entry{records: recs, expires: c.now().Add(ttl)}
	}
	if c.flight == f {
		c.flight = nil
	}
	f.records, f.outcome, f.err = recs, outcome, err
	close(f.done)
	c.mu.Unlock()

	switch {
	case err == nil:
		observability.IncDatasetResult(string(outcome))
		observability.SetDatasetRecords(len(recs))
	case errors.Is(err, context.Canceled):
		c.logger.DebugContext(ctx, "dataset fill abandoned by all waiters")
	default:
		observability.IncDatasetResult("error")
		c.logger.ErrorContext(ctx, "dataset fill failed", "err", err)
	}
}

// load consults the shared tier first, then the upstream.
func (c *Cache) load(ctx context.Context) ([]model.BreweryRecord, Outcome, time.Duration, error) {
	if c.shared != nil {
		if recs, ttl, ok := c.loadShared(ctx); ok {
			return recs, OutcomeSharedHit, ttl, nil
		}
	}

	c.logger.InfoContext(ctx, "cache miss; fetching upstream breweries", "per_page", c.perPage)
	start := time.Now()
	raw, err := c.fetcher.Fetch(ctx, c.perPage)
	if err != nil {
		observability.ObserveDatasetFill("upstream", err, time.Since(start).Seconds())
		if ctx.Err() != nil {
			return nil, "", 0, ctx.Err()
		}
		return nil, "", 0, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	recs := mapper.MapAll(c.mapper, raw)
	observability.ObserveDatasetFill("upstream", nil, time.Since(start).Seconds())
	c.logger.InfoContext(ctx, "dataset filled from upstream",
		"records", len(recs),
		"dur", time.Since(start).String())

	if c.shared != nil && ctx.Err() == nil {
		c.storeShared(ctx, recs)
	}
	return recs, OutcomeMiss, 0, nil
}

// shared tier failures degrade to the upstream path
func (c *Cache) loadShared(ctx context.Context) ([]model.BreweryRecord, time.Duration, bool) {
	start := time.Now()
	opCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	b, ttl, found, err := c.shared.Get(opCtx, c.key)
	if err != nil {
		c.logger.WarnContext(ctx, "shared cache get failed, continuing with fetch path", "err", err)
		return nil, 0, false
	}
	if !found {
		return nil, 0, false
	}

	var recs []model.BreweryRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		c.logger.WarnContext(ctx, "shared cache value undecodable; refetching", "err", err)
		return nil, 0, false
	}
	for i := range recs {
		recs[i].DistanceKm = nil
	}
	observability.ObserveDatasetFill("shared", nil, time.Since(start).Seconds())
	c.logger.DebugContext(ctx, "dataset loaded from shared cache", "records", len(recs), "ttl", ttl.String())
	return recs, ttl, true
}

func (c *Cache) storeShared(ctx context.Context, recs []model.BreweryRecord) {
	b, err := json.Marshal(recs)
	if err != nil {
		c.logger.WarnContext(ctx, "encode dataset for shared cache", "err", err)
		return
	}
	opCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := c.shared.Set(opCtx, c.key, b, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "shared cache set failed", "err", err)
	}
}

// Invalidate drops the entry wholesale, locally and in the shared tier. A
// fill already running still answers its waiters but is not stored.
func (c *Cache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	c.entry = nil
	c.gen++
	c.mu.Unlock()

	observability.IncDatasetResult("invalidated")
	observability.SetDatasetRecords(0)
	ctx = logger.WithDataset(ctx, c.key)
	c.logger.InfoContext(ctx, "dataset invalidated")

	if c.shared == nil {
		return nil
	}
	opCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := c.shared.Del(opCtx, c.key); err != nil {
		return fmt.Errorf("invalidate shared dataset: %w", err)
	}
	return nil
}

func (c *Cache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opTimeout)
}
