package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mtlprog/taskreview/internal/domain"
	"github.com/mtlprog/taskreview/internal/metrics"
	"github.com/mtlprog/taskreview/internal/tracing"
)

// Sweeper periodically removes leases abandoned past their TTL, returning
// the resources to the eligible pool. Several sweepers may run against the
// same database; every deletion is guarded.
type Sweeper struct {
	engine    *ClaimEngine
	ttls      LeaseTTLs
	interval  time.Duration
	batchSize int
	hooks     map[domain.ResourceType]ExpireHook
	tracer    trace.Tracer

	sweepType func(ctx context.Context, rt domain.ResourceType, ttl time.Duration) (int, error)
}

// NewSweeper creates a new Sweeper. hooks may be nil.
func NewSweeper(engine *ClaimEngine, ttls LeaseTTLs, interval time.Duration, batchSize int, hooks map[domain.ResourceType]ExpireHook) *Sweeper {
	if batchSize <= 0 {
		batchSize = 500
	}
	s := &Sweeper{
		engine:    engine,
		ttls:      ttls,
		interval:  interval,
		batchSize: batchSize,
		hooks:     hooks,
		tracer:    tracing.Tracer(),
	}
	s.sweepType = s.sweepExpired
	return s
}

func (s *Sweeper) sweepExpired(ctx context.Context, rt domain.ResourceType, ttl time.Duration) (int, error) {
	return s.engine.SweepExpired(ctx, rt, ttl, s.batchSize, s.hooks[rt])
}

// Sweep runs one pass over every lease type concurrently and returns the
// number of leases freed per type. A type without a positive TTL is skipped.
// A failing type does not stop the others; the first error is returned.
func (s *Sweeper) Sweep(ctx context.Context) (map[domain.ResourceType]int, error) {
	runID := uuid.New().String()
	ctx, span := s.tracer.Start(ctx, "Sweeper.Sweep", trace.WithAttributes(
		attribute.String("taskreview.sweep_id", runID),
	))
	defer span.End()

	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	var mu sync.Mutex
	counts := make(map[domain.ResourceType]int, len(domain.ResourceTypes))

	var g errgroup.Group
	for _, rt := range domain.ResourceTypes {
		ttl := s.ttls.For(rt)
		if ttl <= 0 {
			continue
		}
		g.Go(func() error {
			n, err := s.sweepType(ctx, rt, ttl)
			if err != nil {
				slog.Error("sweep of lease type failed", "sweep_id", runID, "resource_type", rt, "error", err)
			}
			mu.Lock()
			counts[rt] = n
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()

	total := 0
	for rt, n := range counts {
		total += n
		span.SetAttributes(attribute.Int("taskreview.swept."+string(rt), n))
	}

	if err != nil {
		span.RecordError(err)
		slog.Error("sweep failed", "sweep_id", runID, "swept", total, "error", err)
		return counts, err
	}

	if total > 0 {
		slog.Info("sweep completed",
			"sweep_id", runID,
			"swept", total,
			"duration", time.Since(start),
		)
	} else {
		slog.Debug("sweep completed, nothing expired", "sweep_id", runID)
	}

	return counts, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("sweeper started", "interval", s.interval, "batch_size", s.batchSize)

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopped")
			return
		case <-ticker.C:
			// Failures are logged by Sweep; the next tick retries.
			_, _ = s.Sweep(ctx)
		}
	}
}
