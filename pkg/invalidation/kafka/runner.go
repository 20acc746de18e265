// Package kafka consumes dataset invalidation events from a Kafka consumer
// group and applies them to the local dataset cache.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/brewery-cache/internal/invalidation"
	"github.com/mohammed-shakir/brewery-cache/internal/logger"
)

// Target is the dataset an event applies to.
type Target interface {
	Key() string
	Invalidate(ctx context.Context) error
}

type Runner struct {
	log      *slog.Logger
	cfg      InvalidationConfig
	target   Target
	warm     func(ctx context.Context) error
	ms       *metricSet
	ver      *versionDedupe
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
	// Warm refills the dataset after a refresh event; optional.
	Warm func(ctx context.Context) error
}

func New(cfg InvalidationConfig, t Target, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		log:    opts.Logger,
		cfg:    cfg,
		target: t,
		warm:   opts.Warm,
		ms:     newMetricSet(opts.Register),
		ver:    newVersionDedupe(1024),
		assign: map[int32]struct{}{},
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if r.cfg.Driver != DriverKafka || !r.cfg.Enabled {
		r.log.Info("invalidation runner disabled", "driver", r.cfg.Driver, "enabled", r.cfg.Enabled)
		return nil
	}
	if r.target == nil {
		return errors.New("kafka runner: dataset target is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = r.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = r.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = r.cfg.RebalanceTimeout
	if r.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("consumer group: %w", err)
	}

	h := &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(true)
			r.assign = map[int32]struct{}{}
			for _, parts := range sess.Claims() {
				for _, p := range parts {
					r.assign[p] = struct{}{}
				}
			}
			r.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(false)
			r.assign = map[int32]struct{}{}
			r.assignMu.Unlock()
		},
		process: r.handleMessage,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("kafka invalidation runner started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("kafka invalidation runner stopped")
}

func (r *Runner) Readiness() (ready bool, partitions []int32) {
	if !r.assigned.Load() {
		return false, nil
	}
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	for p := range r.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

// handleMessage applies one event. Malformed events are counted and skipped
// so they cannot wedge the partition; only a failed apply is returned.
func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	ev, err := invalidation.Decode(msg.Value)
	if err != nil {
		r.ms.msgs.WithLabelValues("invalid").Inc()
		r.log.WarnContext(ctx, "skipping invalid invalidation event",
			"partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}

	err = r.apply(logger.WithDataset(ctx, r.target.Key()), ev)
	r.observe(ev.Op, err, time.Since(start))
	if err == nil {
		// clock skew between publisher and consumer can make this negative
		r.ms.lag.WithLabelValues(ev.Op).Observe(max(time.Since(ev.TS).Seconds(), 0))
	}
	return err
}

func (r *Runner) apply(ctx context.Context, ev invalidation.Event) error {
	key := r.target.Key()
	if ev.Key != "" && ev.Key != key {
		r.ms.apply.WithLabelValues("skip_key").Inc()
		r.log.DebugContext(ctx, "invalidation event for another dataset", "event_key", ev.Key)
		return nil
	}
	if r.ver.stale(key, ev.Version) {
		r.ms.apply.WithLabelValues("skip_version").Inc()
		return nil
	}

	if err := r.target.Invalidate(ctx); err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	r.ver.record(key, ev.Version)
	r.ms.apply.WithLabelValues(ev.Op).Inc()
	r.log.InfoContext(ctx, "dataset invalidated by event",
		"op", ev.Op, "version", ev.Version, "source", ev.Source, "event_ts", ev.TS)

	if ev.Op == invalidation.OpRefresh && r.warm != nil {
		if err := r.warm(ctx); err != nil {
			// the next request refills instead
			r.log.WarnContext(ctx, "dataset refresh after invalidation failed", "err", err)
		}
	}
	return nil
}

func (r *Runner) observe(op string, err error, dur time.Duration) {
	if op == "" {
		op = "unknown"
	}
	if err != nil {
		r.ms.msgs.WithLabelValues("error").Inc()
	} else {
		r.ms.msgs.WithLabelValues("ok").Inc()
	}
	r.ms.proc.WithLabelValues(op).Observe(dur.Seconds())
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.process(ctx, msg); err != nil {
				return fmt.Errorf("process failed (topic=%s, part=%d, off=%d): %w",
					msg.Topic, msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
		}
	}
}
