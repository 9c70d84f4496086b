package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/n0remac/confsfu/internal/ack"
	"github.com/n0remac/confsfu/internal/config"
	"github.com/n0remac/confsfu/internal/engine"
	"github.com/n0remac/confsfu/internal/fingerprint"
	"github.com/n0remac/confsfu/internal/forwarder"
	"github.com/n0remac/confsfu/internal/meeting"
	confsfumetrics "github.com/n0remac/confsfu/internal/metrics"
	"github.com/n0remac/confsfu/internal/quality"
	"github.com/n0remac/confsfu/internal/scheduler"
	"github.com/n0remac/confsfu/internal/signaling"
	"github.com/n0remac/confsfu/internal/telemetry"
)

// shutdownTimeout bounds how long graceful shutdown waits for the HTTP
// servers to drain.
const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the signaling and metrics servers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration", "err", err)
		return err
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLogger(cfg.Log, logLevel)

	logger.Info("confsfud starting", "version", Version, "http_addr", cfg.HTTP.Addr, "metrics_addr", cfg.Metrics.Addr)

	reg := prometheus.NewRegistry()
	collector := confsfumetrics.NewCollector(reg)

	registry := meeting.New(logger)
	members := membershipAdapter{registry: registry}

	telemetryCollector := telemetry.New(members)
	acks := ack.New(members)
	verifier := fingerprint.New(logger,
		func(meetingID, senderUserID, receiverUserID, frameID string) {
			collector.ObserveFingerprintMatch(meetingID)
			acks.OnDecodeAck(meetingID, senderUserID, receiverUserID, true)
		},
		func(meetingID, senderUserID, receiverUserID, frameID string) {
			collector.ObserveFingerprintMismatch(meetingID)
			acks.OnDecodeAck(meetingID, senderUserID, receiverUserID, false)
		},
	)

	var onICE func(userID string, c engine.ICECandidate)
	pionEngine, err := engine.NewPionEngine(logger, func(userID string, c engine.ICECandidate) {
		if onICE != nil {
			onICE(userID, c)
		}
	})
	if err != nil {
		return fmt.Errorf("create media engine: %w", err)
	}

	fwd := forwarder.New(logger, pionEngine, registry)

	hub := signaling.New(logger, signaling.Config{
		AllowedOrigin: cfg.Signaling.AllowedOrigin,
		Production:    cfg.Signaling.Production,
		JoinRateLimit: rate.Limit(cfg.Signaling.JoinRatePerSec),
		JoinRateBurst: cfg.Signaling.JoinRateBurst,
	}, registry, telemetryCollector, verifier, acks, pionEngine, collector, nil)
	onICE = hub.SendICECandidate

	qc := quality.New(logger, quality.Thresholds{
		LowThresh:  cfg.Quality.LowThresh,
		MedThresh:  cfg.Quality.MedThresh,
		Hysteresis: cfg.Quality.Hysteresis,
	}, telemetryCollector, registry, fwd, hub, collector)

	sched := scheduler.New(logger, registry, qc, acks, func(summaries []ack.Summary) {
		for _, s := range summaries {
			hub.BroadcastAckSummary(s)
			collector.IncAckSummary(s.MeetingID)
		}
	}, verifier)

	registry.OnMeetingEmpty(func(meetingID string) {
		acks.Reset(meetingID)
		fwd.Reset(meetingID)
	})

	mux := http.NewServeMux()
	mux.Handle(cfg.HTTP.SignalingPath, hub)

	metricsMux := http.NewServeMux()
	metricsMux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	signalingSrv := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}
	metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return listenAndServe(gCtx, signalingSrv, logger, "signaling") })
	g.Go(func() error { return listenAndServe(gCtx, metricsSrv, logger, "metrics") })
	g.Go(func() error {
		sched.Run(gCtx)
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(logger, signalingSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("run servers: %w", err)
	}
	logger.Info("confsfud stopped")
	return nil
}

func newLogger(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func listenAndServe(ctx context.Context, srv *http.Server, logger *slog.Logger, name string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", name, err)
	}
	logger.Info("server listening", "server", name, "addr", srv.Addr)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", name, err)
	}
	return nil
}

// gracefulShutdown shuts every server down, waiting at most shutdownTimeout.
// http.Server.Shutdown does not wait for hijacked WebSocket connections.
func gracefulShutdown(logger *slog.Logger, servers ...*http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var firstErr error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	logger.Info("graceful shutdown complete")
	return firstErr
}
