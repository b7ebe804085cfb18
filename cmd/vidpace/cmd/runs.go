package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vidpace/internal/config"
	"github.com/jmylchreest/vidpace/internal/database"
	"github.com/jmylchreest/vidpace/internal/models"
	"github.com/jmylchreest/vidpace/internal/report"
	"github.com/jmylchreest/vidpace/internal/repository"
	"github.com/jmylchreest/vidpace/internal/service"
	"github.com/jmylchreest/vidpace/internal/sysstats"
	"github.com/jmylchreest/vidpace/internal/version"
	"github.com/jmylchreest/vidpace/pkg/duration"
	"github.com/jmylchreest/vidpace/pkg/format"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded benchmark runs",
	Long:  `Each serve invocation is recorded as a run with per-stream results and periodic snapshots.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a run and its static vs adaptive comparison",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished runs older than the retention",
	RunE:  runRunsPrune,
}

func init() {
	runsListCmd.Flags().Int("limit", repository.DefaultListLimit, "maximum number of runs")
	runsPruneCmd.Flags().String("older-than", "", "retention such as 30d or 2w (default database.retention)")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsPruneCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStore is an open database and the run service built on it.
type runStore struct {
	svc *service.RunService
	db  *database.DB
}

// openRunService connects to the database, applies migrations and builds
// the run service. The returned func closes the database.
func openRunService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runStore, func(), error) {
	if !cfg.Database.Enabled {
		return nil, nil, errors.New("database is disabled (database.enabled=false)")
	}

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	svc := service.NewRunService(
		repository.NewRunRepository(db.DB),
		repository.NewSnapshotRepository(db.DB),
	).
		WithLogger(logger).
		WithHostSampler(sysstats.NewCollector()).
		WithVersion(version.Version)

	closeFn := func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing database", slog.String("error", err.Error()))
		}
	}
	return &runStore{svc: svc, db: db}, closeFn, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runRunsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	store, closeFn, err := openRunService(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer closeFn()

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := store.svc.List(ctx, limit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	return writeRunList(cmd.OutOrStdout(), runs, time.Now())
}

func writeRunList(w io.Writer, runs []*models.Run, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tSTATUS\tSTREAMS\tADAPTIVE\tHOST")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ID,
			format.RelativeTime(r.StartedAt, now),
			format.Duration(r.Duration(now)),
			r.Status,
			r.StreamCount,
			r.AdaptiveCount,
			r.Hostname,
		)
	}
	return tw.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	id, err := models.ParseULID(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	store, closeFn, err := openRunService(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer closeFn()

	run, err := store.svc.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("getting run %s: %w", id, err)
	}
	return writeRunDetail(cmd.OutOrStdout(), run, time.Now())
}

func writeRunDetail(w io.Writer, run *models.Run, now time.Time) error {
	fmt.Fprintf(w, "run %s (%s)\n", run.ID, run.Status)
	fmt.Fprintf(w, "started %s, lasted %s\n", run.StartedAt.Format(time.RFC3339), format.Duration(run.Duration(now)))
	load := sysstats.Stats{CPUCores: run.CPUCores, LoadAvg1m: run.LoadAverage1}.LoadPercent()
	fmt.Fprintf(w, "host %s: %s, %d cores, %s memory, load %.2f (%s)\n",
		run.Hostname, run.CPUModel, run.CPUCores, format.Bytes(run.MemoryTotal), run.LoadAverage1,
		format.Percentage(load, 0))
	if run.Error != "" {
		fmt.Fprintf(w, "error: %s\n", run.Error)
	}
	fmt.Fprintln(w)

	if len(run.Results) == 0 {
		fmt.Fprintln(w, "no stream results recorded")
		return nil
	}
	return report.New(run.Results).Write(w)
}

func runRunsPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	retention := cfg.Database.Retention
	if raw, _ := cmd.Flags().GetString("older-than"); raw != "" {
		retention, err = duration.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid --older-than: %w", err)
		}
	}
	if retention <= 0 {
		return errors.New("no retention configured; set database.retention or --older-than")
	}

	ctx := commandContext(cmd)
	store, closeFn, err := openRunService(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := store.svc.Prune(ctx, retention)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pruned %d runs older than %s\n", n, duration.Format(retention))
	return nil
}
