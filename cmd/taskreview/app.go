package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/mtlprog/taskreview/internal/cache"
	"github.com/mtlprog/taskreview/internal/config"
	"github.com/mtlprog/taskreview/internal/database"
	"github.com/mtlprog/taskreview/internal/domain"
	"github.com/mtlprog/taskreview/internal/events"
	"github.com/mtlprog/taskreview/internal/handler"
	"github.com/mtlprog/taskreview/internal/metrics"
	"github.com/mtlprog/taskreview/internal/repository"
	"github.com/mtlprog/taskreview/internal/service"
	"github.com/mtlprog/taskreview/internal/tracing"
)

// app is the wired service graph shared by the serve and sweep commands.
type app struct {
	db       *database.DB
	engine   *service.ClaimEngine
	reviews  *service.ReviewService
	tasks    *service.TaskService
	selector *service.Selector
	sweeper  *service.Sweeper
	ttls     service.LeaseTTLs

	users   *repository.UserRepository
	history *repository.ReviewHistoryRepository
	records *repository.ReviewRepository
	auth    service.Authorizer

	registry *prometheus.Registry
	closers  []func()
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Setup(os.Stdout)
		if err != nil {
			return nil, fmt.Errorf("failed to set up tracing: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Error("tracer shutdown failed", "error", err)
			}
		})
	}

	a.db, err = database.New(ctx, cfg.Database.URL, database.Options{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.closers = append(a.closers, a.db.Close)

	var (
		reviewCache     *cache.Store[*domain.ReviewRecord]
		visibilityCache *cache.Store[bool]
	)
	if cfg.Cache.Enabled {
		if reviewCache, err = cache.New[*domain.ReviewRecord](cfg.Cache.MaxItems, cfg.Cache.ReviewTTL); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, reviewCache.Close)
		if visibilityCache, err = cache.New[bool](cfg.Cache.MaxItems, cfg.Cache.VisibilityTTL); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, visibilityCache.Close)
	}

	emitter, err := a.newEmitter(ctx, cfg.Events)
	if err != nil {
		return nil, err
	}

	pool := a.db.Pool()
	leases := repository.NewLeaseRepository(pool)
	tasks := repository.NewTaskRepository(pool)
	challenges := repository.NewChallengeRepository(pool)
	a.users = repository.NewUserRepository(pool)
	a.history = repository.NewReviewHistoryRepository(pool)
	a.records = repository.NewReviewRepository(pool)

	a.ttls = service.LeaseTTLs{
		Task:       cfg.Lease.TaskTTL,
		Review:     cfg.Lease.ReviewTTL,
		MetaReview: cfg.Lease.MetaReviewTTL,
	}

	statuses := service.NewTaskStatusRepository(tasks)
	a.auth = service.NewUserAuthorizer(a.users)
	a.engine = service.NewClaimEngine(a.db, leases)
	a.reviews = service.NewReviewService(
		a.engine,
		a.records,
		a.history,
		tasks,
		statuses,
		a.auth,
		emitter,
		reviewCache,
	)
	a.tasks = service.NewTaskService(a.engine, statuses, a.reviews)
	a.selector = service.NewSelector(
		a.db,
		tasks,
		a.tasks,
		a.reviews,
		service.NewChallengeVisibility(challenges, visibilityCache),
		service.SelectorOptions{
			MaxAttempts: cfg.Selector.MaxAttempts,
			BatchSize:   cfg.Selector.BatchSize,
			NearbyLimit: cfg.Selector.NearbyLimit,
		},
	)
	a.sweeper = service.NewSweeper(a.engine, a.ttls, cfg.Sweeper.Interval, cfg.Sweeper.BatchSize,
		map[domain.ResourceType]service.ExpireHook{
			domain.ResourceReview: a.reviews.ExpireReviewClaim,
		})

	a.registry = metrics.NewRegistry()
	metrics.Register(a.registry)
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return a, nil
}

// newEmitter publishes history to Redis when configured, otherwise to the log.
func (a *app) newEmitter(ctx context.Context, cfg config.EventsConfig) (events.Emitter, error) {
	if cfg.RedisURL == "" {
		return events.LogEmitter{}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			slog.Error("redis close failed", "error", err)
		}
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("publishing review history to redis", "channel", cfg.Channel)
	return events.NewRedisEmitter(client, cfg.Channel), nil
}

func (a *app) handler() *handler.Handler {
	return handler.New(handler.Deps{
		DB:       a.db,
		Engine:   a.engine,
		Reviews:  a.reviews,
		Tasks:    a.tasks,
		Selector: a.selector,
		Sweeper:  a.sweeper,
		TTLs:     a.ttls,
		Users:    a.users,
		History:  a.history,
		Records:  a.records,
		Auth:     a.auth,
		Gatherer: a.registry,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
