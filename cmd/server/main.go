// quell serves a demo API gateway fronted by in-process admission control:
// anonymous traffic shares a per-IP sliding window, authenticated tiers get
// per-subject token buckets, and an admin listener exposes limiter state,
// health probes, and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"quell/internal/config"
	"quell/internal/limiter/alert"
	"quell/internal/limiter/bucket"
	"quell/internal/limiter/handler"
	"quell/internal/limiter/metrics"
	"quell/internal/limiter/middleware"
	"quell/internal/limiter/models"
	"quell/internal/limiter/policy"
	"quell/internal/limiter/reaper"
	"quell/internal/limiter/window"
	"quell/internal/platform/health"
	"quell/internal/platform/httpserver"
	"quell/internal/platform/logger"
	"quell/pkg/httputil"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

// run wires high-level dependencies and keeps the server lifecycle small.
// Admission logic lives in the internal/limiter packages.
func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	log.Info("initializing quell",
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"admin_addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.AdminPort),
		"tiers", len(cfg.Limits.Tiers),
	)

	m := metrics.New()

	sink := alert.NewAsync(alert.NewSlogSink(log),
		alert.WithBuffer(cfg.Abuse.AlertBuffer),
		alert.WithAsyncLogger(log),
	)
	defer sink.Close()

	anonymous, err := window.New(window.Config{
		Window:      cfg.Limits.Anonymous.Window,
		MaxRequests: cfg.Limits.Anonymous.MaxRequests,
		AbuseFactor: cfg.Abuse.WindowFactor,
	}, window.WithSink(sink), window.WithMetrics(m), window.WithLogger(log))
	if err != nil {
		return fmt.Errorf("building anonymous limiter: %w", err)
	}

	admin := handler.New(log)
	admin.Add("anonymous", windowTarget{anonymous})

	tiers := make(map[models.Tier]policy.Limiter, len(cfg.Limits.Tiers))
	targets := []reaper.Target{anonymous}
	for tier, limit := range cfg.Limits.Tiers {
		b, err := bucket.New(bucket.Config{
			Capacity:          limit.Capacity,
			RefillRate:        limit.RefillRate,
			AbuseCostFraction: cfg.Abuse.BucketCostFraction,
		}, bucket.WithSink(sink), bucket.WithMetrics(m), bucket.WithLogger(log))
		if err != nil {
			return fmt.Errorf("building %s tier limiter: %w", tier, err)
		}
		tiers[tier] = b
		targets = append(targets, b)
		admin.Add("tier:"+string(tier), bucketTarget{b})
	}

	resolver, err := policy.NewTierResolver(anonymous, tiers,
		policy.WithClassWeights(cfg.Limits.ClassWeights),
		policy.WithBotFactor(cfg.Limits.BotFactor),
		policy.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("building policy resolver: %w", err)
	}

	limitOpts := []middleware.Option{
		middleware.WithLogger(log),
		middleware.WithTrustedProxy(cfg.Auth.TrustProxy),
		middleware.WithAPIKeyTier(cfg.Auth.APIKeyTier),
	}
	if cfg.Auth.JWTSecret != "" {
		limitOpts = append(limitOpts, middleware.WithJWTSecret([]byte(cfg.Auth.JWTSecret)))
	}
	limit := middleware.New(resolver, limitOpts...)

	rp := reaper.New(targets,
		reaper.WithInterval(cfg.Reaper.Interval),
		reaper.WithLogger(log),
		reaper.WithMetrics(m),
	)

	timeouts := httpserver.Timeouts{
		Read:  cfg.Server.ReadTimeout,
		Write: cfg.Server.WriteTimeout,
		Idle:  cfg.Server.IdleTimeout,
	}
	public := httpserver.New(
		fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		newPublicRouter(limit),
		timeouts,
	)
	adminSrv := httpserver.New(
		fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.AdminPort),
		newAdminRouter(admin, rp, cfg.Reaper.Interval),
		timeouts,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rp.Start(gctx)
	})
	g.Go(func() error {
		log.Info("starting http server", "addr", public.Addr())
		return public.Run(gctx, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		log.Info("starting admin server", "addr", adminSrv.Addr())
		return adminSrv.Run(gctx, cfg.Server.ShutdownTimeout)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("server stopped", "dropped_alerts", sink.Dropped())
	return nil
}

// newPublicRouter exposes the demo API, one route per endpoint class.
func newPublicRouter(limit *middleware.Middleware) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.With(limit.Limit(models.ClassAuth)).Post("/v1/login", okHandler)
	r.With(limit.Limit(models.ClassRead)).Get("/v1/resources", okHandler)
	r.With(limit.Limit(models.ClassWrite)).Post("/v1/resources", okHandler)
	r.With(limit.Limit(models.ClassSensitive)).Get("/v1/export", okHandler)
	return r
}

// newAdminRouter serves limiter administration, health probes, and metrics.
// It binds to a separate port so the public listener never exposes it.
func newAdminRouter(admin *handler.Handler, rp *reaper.Reaper, interval time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	admin.RegisterAdmin(r)
	r.Handle("/metrics", promhttp.Handler())

	h := health.New()
	h.RegisterCheck("reaper", func() error {
		last := rp.LastSweep()
		if last.IsZero() {
			// Loop has not completed its first interval yet.
			return nil
		}
		if stale := time.Since(last); stale > 3*interval {
			return fmt.Errorf("no sweep for %s", stale.Truncate(time.Second))
		}
		return nil
	})
	h.Register(r)
	return r
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
