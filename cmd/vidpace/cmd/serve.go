package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vidpace/internal/config"
	"github.com/jmylchreest/vidpace/internal/ffmpeg"
	internalhttp "github.com/jmylchreest/vidpace/internal/http"
	"github.com/jmylchreest/vidpace/internal/http/handlers"
	"github.com/jmylchreest/vidpace/internal/metrics"
	"github.com/jmylchreest/vidpace/internal/models"
	"github.com/jmylchreest/vidpace/internal/observability"
	"github.com/jmylchreest/vidpace/internal/report"
	"github.com/jmylchreest/vidpace/internal/scheduler"
	"github.com/jmylchreest/vidpace/internal/service"
	"github.com/jmylchreest/vidpace/internal/stream"
	"github.com/jmylchreest/vidpace/internal/sysstats"
	"github.com/jmylchreest/vidpace/internal/transport"
	"github.com/jmylchreest/vidpace/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the configured streams",
	Long: `Start every configured stream and run until interrupted.

Adaptive streams adjust their encoder bitrate from measured frame latency;
static streams keep their initial bitrate. On shutdown the final
per-stream results are stored and a static vs adaptive comparison is
printed.

The HTTP server provides:
- Live stream state, timing samples and bitrate history under /api/v1
- Recorded runs under /api/v1/runs
- Prometheus metrics at /metrics
- Health checks at /health, /livez and /readyz
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "vidpace.db", "Database DSN (sqlite file path by default)")
	serveCmd.Flags().Bool("no-http", false, "Do not start the HTTP server")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Streams) == 0 {
		return errors.New("no streams configured")
	}

	logger := slog.Default()
	logger.Debug("configuration loaded",
		slog.Any("database", cfg.Database),
		slog.Any("adaptation", cfg.Adaptation),
		slog.Int("streams", len(cfg.Streams)),
	)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ffmpegPath, ffprobePath := resolveFFmpeg(ctx, cfg, logger)

	var store *runStore
	var runs *service.RunService
	if cfg.Database.Enabled {
		s, closeFn, err := openRunService(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeFn()
		store, runs = s, s.svc
	}

	var exporter *metrics.Exporter
	var observer stream.Observer
	if cfg.Metrics.Prometheus {
		exporter = metrics.NewExporter()
		observer = exporter
	}

	manager, err := stream.NewManager(stream.ManagerOptions{
		Streams:      cfg.Streams,
		Adaptation:   cfg.Adaptation,
		MaxSamples:   cfg.Metrics.MaxSamples,
		HistoryLimit: cfg.Metrics.HistoryLimit,
		FFmpegPath:   ffmpegPath,
		FFprobePath:  ffprobePath,
		ProbeTimeout: cfg.FFmpeg.ProbeTimeout,
		NewTransport: transport.NewFactory(cfg.Transport, ffmpegPath, logger),
		Observer:     observer,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting streams: %w", err)
	}

	if runs != nil {
		identities := make([]stream.Identity, 0, len(cfg.Streams))
		for _, c := range manager.List() {
			identities = append(identities, c.Identity())
		}
		if _, err := runs.Begin(ctx, identities); err != nil {
			manager.Stop()
			return fmt.Errorf("recording run: %w", err)
		}
	}

	sched := scheduler.New().WithLogger(logger)
	if err := registerTasks(sched, cfg, runs, manager, logger); err != nil {
		manager.Stop()
		return err
	}
	if err := sched.Start(ctx); err != nil {
		manager.Stop()
		return err
	}

	serverErr := make(chan error, 1)
	noHTTP, _ := cmd.Flags().GetBool("no-http")
	if cfg.Server.Enabled && !noHTTP {
		server := newHTTPServer(cfg, logger, manager, store, sched, exporter)
		go func() {
			serverErr <- server.ListenAndServe(ctx)
		}()
	}

	logger.Info("vidpace running",
		slog.Int("streams", len(manager.List())),
		slog.Int("failed", len(manager.Failures())),
		slog.String("version", version.Version),
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-serverErr:
		if runErr != nil {
			observability.WithError(logger, runErr).Error("http server failed")
		}
	}

	sched.Stop()
	snaps := manager.Snapshots()
	manager.Stop()

	results, err := finishRun(ctx, logger, runs, snaps, runErr)
	if err != nil && runErr == nil {
		runErr = fmt.Errorf("recording results: %w", err)
	}
	if err := report.New(results).Write(cmd.OutOrStdout()); err != nil {
		return err
	}
	return runErr
}

// resolveFFmpeg detects the ffmpeg binaries. Image-sequence streams work
// without them, so a failed detection only warns.
func resolveFFmpeg(ctx context.Context, cfg *config.Config, logger *slog.Logger) (string, string) {
	info, err := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath).Detect(ctx)
	if err != nil {
		observability.WithError(logger, err).Warn("ffmpeg not available; only image-sequence streams and the discard sink will work")
		return cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath
	}
	logger.Info("ffmpeg detected",
		slog.String("path", info.FFmpegPath),
		slog.String("version", info.Version),
		slog.Bool("libx264", info.HasEncoder("libx264")),
	)
	return info.FFmpegPath, info.FFprobePath
}

func registerTasks(sched *scheduler.Scheduler, cfg *config.Config, runs *service.RunService, manager *stream.Manager, logger *slog.Logger) error {
	if runs == nil {
		return nil
	}

	if spec := cfg.Metrics.SnapshotSchedule; spec != "" {
		if err := sched.Add("snapshot", spec, func(ctx context.Context) error {
			return runs.RecordSnapshots(ctx, manager.Snapshots())
		}); err != nil {
			return fmt.Errorf("scheduling snapshots: %w", err)
		}
	}

	if retention := cfg.Database.Retention; retention > 0 && cfg.Database.PruneSchedule != "" {
		if err := sched.Add("prune", cfg.Database.PruneSchedule, func(ctx context.Context) error {
			n, err := runs.Prune(ctx, retention)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("pruned old runs", slog.Int64("count", n), slog.Duration("retention", retention))
			}
			return nil
		}); err != nil {
			return fmt.Errorf("scheduling prune: %w", err)
		}
	}
	return nil
}

func newHTTPServer(
	cfg *config.Config,
	logger *slog.Logger,
	manager *stream.Manager,
	store *runStore,
	sched *scheduler.Scheduler,
	exporter *metrics.Exporter,
) *internalhttp.Server {
	server := internalhttp.NewServer(internalhttp.ServerConfigFrom(cfg.Server), logger, version.Version)
	streams := handlers.ManagerStreams(manager)

	health := handlers.NewHealthHandler(version.Version).
		WithHostSampler(sysstats.NewCollector()).
		WithScheduler(sched).
		WithStreams(streams)

	handlers.NewStreamHandler(streams).Register(server.API())
	handlers.NewTaskHandler(sched).Register(server.API())

	if store != nil {
		handlers.NewRunHandler(store.svc).Register(server.API())
		health.WithDB(store.db)
	}
	health.Register(server.API())

	if exporter != nil {
		server.Router().Handle("/metrics", exporter.Handler())
	}
	return server
}

// finishRun stores the final results when a database is configured and
// returns the rows to report.
func finishRun(ctx context.Context, logger *slog.Logger, runs *service.RunService, snaps []stream.Snapshot, runErr error) (results []models.StreamResult, err error) {
	live := make([]models.StreamResult, len(snaps))
	for i, s := range snaps {
		live[i] = service.ResultModel(models.ULID{}, s)
	}
	if runs == nil {
		return live, nil
	}

	// The serve context is already cancelled here.
	ctx = context.WithoutCancel(ctx)
	done := observability.TimedOperationWithError(ctx, logger, "persist_results", &err)
	defer done()

	run, err := runs.Finish(ctx, snaps, runErr)
	if err != nil {
		return live, err
	}
	return run.Results, nil
}
