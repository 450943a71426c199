// Command server runs the carecore resilience and compliance service: the
// per-backend admission bulkheads, the session expiry manager, and the
// integrity-hashed audit trail behind a thin HTTP surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"carecore/internal/audit"
	auditkafka "carecore/internal/audit/sink/kafka"
	auditmem "carecore/internal/audit/sink/memory"
	auditpg "carecore/internal/audit/sink/postgres"
	"carecore/internal/bulkhead"
	"carecore/internal/platform/config"
	"carecore/internal/platform/httpserver"
	"carecore/internal/platform/logger"
	platformredis "carecore/internal/platform/redis"
	"carecore/internal/profiles"
	"carecore/internal/session"
	httptransport "carecore/internal/transport/http"
	"carecore/pkg/platform/schedule"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "carecore",
	})
	defer logger.Close(log)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One deadline authority for bulkhead wait timeouts and session expiry.
	sched := schedule.New()
	defer sched.Stop()

	sink, reader, closeSink, err := buildSink(cfg, log)
	if err != nil {
		return err
	}
	defer closeSink()

	auditLog, err := audit.New([]byte(cfg.Audit.HMACKey), sink, audit.Config{
		BufferCapacity: cfg.Audit.BufferCapacity,
		FlushInterval:  cfg.Audit.FlushInterval,
		HighWater:      cfg.Audit.HighWater,
	}, audit.WithLogger(log), audit.WithMetrics(audit.NewMetrics()))
	if err != nil {
		return fmt.Errorf("build audit logger: %w", err)
	}

	sessionOpts := []session.Option{
		session.WithLogger(log),
		session.WithMetrics(session.NewMetrics()),
		session.WithScheduler(sched),
	}
	redisClient, err := platformredis.New(ctx, platformredis.Options{
		URL:          cfg.Redis.URL,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		sessionOpts = append(sessionOpts, session.WithStore(session.NewRedisStore(redisClient.Client)))
		log.Info("session mirror enabled", "backend", "redis")
	}

	sessions, err := session.NewManager(session.Config{
		Duration:    cfg.Session.Duration,
		WarningLead: cfg.Session.WarningLead,
	}, sessionOpts...)
	if err != nil {
		return fmt.Errorf("build session manager: %w", err)
	}
	defer sessions.Close()

	bulkheads := bulkhead.NewRegistry(func(service string) bulkhead.Config {
		return profiles.ForService(service).Bulkhead
	},
		bulkhead.WithLogger(log),
		bulkhead.WithMetrics(bulkhead.NewMetrics()),
		bulkhead.WithScheduler(sched),
	)
	defer bulkheads.Close()

	tokens := session.NewTokenService([]byte(cfg.Session.SigningKey), cfg.Session.Issuer)

	handlerOpts := []httptransport.Option{}
	if reader != nil {
		handlerOpts = append(handlerOpts, httptransport.WithAuditReader(reader))
	}
	handler := httptransport.NewHandler(sessions, tokens, bulkheads, auditLog, log, handlerOpts...)
	srv := httpserver.New(cfg.HTTP.Addr, httptransport.NewRouter(handler))

	jobs := cron.New()
	if _, err := jobs.AddFunc(cfg.SweepSchedule, func() {
		if removed := sessions.Sweep(context.Background()); removed > 0 {
			log.Info("session sweep", "removed", removed)
		}
	}); err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	jobs.Start()
	defer jobs.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return auditLog.Run(gctx)
	})

	g.Go(func() error {
		drainSessionEvents(gctx, sessions, log)
		return nil
	})

	g.Go(func() error {
		drainBulkheadEvents(gctx, bulkheads, log)
		return nil
	})

	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		bulkheads.DrainAll("server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// buildSink selects the audit backend from configuration. The memory sink
// doubles as the reader behind GET /audit/recent; remote sinks have their own
// query paths.
func buildSink(cfg config.Config, log *slog.Logger) (audit.Sink, httptransport.AuditReader, func(), error) {
	noop := func() {}
	switch cfg.Audit.Sink {
	case "postgres":
		store, err := auditpg.Open(cfg.Audit.PostgresDSN)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("open audit store: %w", err)
		}
		if err := store.EnsureSchema(context.Background()); err != nil {
			store.Close()
			return nil, nil, noop, fmt.Errorf("ensure audit schema: %w", err)
		}
		log.Info("audit sink ready", "backend", "postgres")
		return store, nil, func() { store.Close() }, nil
	case "kafka":
		pub, err := auditkafka.New(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("open audit publisher: %w", err)
		}
		log.Info("audit sink ready", "backend", "kafka", "topic", cfg.Audit.KafkaTopic)
		return pub, nil, func() { pub.Close() }, nil
	default:
		sink := auditmem.New()
		log.Info("audit sink ready", "backend", "memory")
		return sink, sink, noop, nil
	}
}

func drainSessionEvents(ctx context.Context, sessions *session.Manager, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-sessions.Events():
			switch e.Kind {
			case session.EventWarning:
				log.Info("session expiry warning", "session_id", e.SessionID, "actor_id", e.ActorID)
			case session.EventExpired:
				log.Info("session expired", "session_id", e.SessionID, "actor_id", e.ActorID)
			case session.EventTornDown:
				log.Info("session torn down", "session_id", e.SessionID, "actor_id", e.ActorID)
			}
		}
	}
}

func drainBulkheadEvents(ctx context.Context, bulkheads *bulkhead.Registry, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-bulkheads.Events():
			switch e.Kind {
			case bulkhead.EventQueueFull:
				log.Warn("bulkhead queue full", "service", e.Service)
			case bulkhead.EventAdmissionTimeout:
				log.Warn("bulkhead admission timeout", "service", e.Service)
			case bulkhead.EventDrained:
				log.Warn("bulkhead drained", "service", e.Service, "reason", e.Reason)
			}
		}
	}
}
