package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/internal/repositories/canonicalstate"
	"github.com/Ramsey-B/clover/internal/repositories/checkpoint"
	"github.com/Ramsey-B/clover/internal/repositories/history"
	"github.com/Ramsey-B/clover/internal/repositories/observation"
	"github.com/Ramsey-B/clover/internal/repositories/relationship"
	"github.com/Ramsey-B/clover/internal/repositories/run"
	"github.com/Ramsey-B/clover/internal/store"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/reconcile"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile a snapshot into the destination",
	Long: `Run resolves every logical entity and syncs the result to the destination.

The snapshot comes from --input files when given, otherwise from the staging
tables filled by "clover ingest". Without a database only dry-run is allowed;
the report is still produced against an empty destination.

The report is written as JSON to stdout, or to --report.

Exit codes: 0 completed, 1 failed, 2 bad configuration, 3 halted, 4 cancelled.`,
	RunE: runRun,
}

var (
	runMode              string
	runDestination       string
	runReportPath        string
	runOverrideConflicts bool
	runSkipDuplicates    bool
	runInputs            inputFiles
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runMode, "mode", "", "dry-run, incremental or full-resync (overrides RUN_MODE)")
	runCmd.Flags().StringVar(&runDestination, "destination", "", "Destination name (overrides DESTINATION)")
	runCmd.Flags().StringVar(&runReportPath, "report", "", "Write the JSON report to this file instead of stdout")
	runCmd.Flags().BoolVar(&runOverrideConflicts, "override-conflicts", false, "Write entities last synced by another source")
	runCmd.Flags().BoolVar(&runSkipDuplicates, "skip-duplicate-candidates", false, "Hold back entities in a duplicate group")
	runCmd.Flags().StringSliceVar(&runInputs.Observations, "input", nil, "Snapshot export (.csv, .tsv, .xlsx); repeatable")
	runCmd.Flags().StringVar(&runInputs.Mapping, "mapping", "", "Field mapping YAML for --input files (overrides MAPPING_FILE)")
	runCmd.Flags().StringSliceVar(&runInputs.Relationships, "relationships", nil, "Relationship export; repeatable")
	runCmd.Flags().StringVar(&runInputs.RelationshipMapping, "relationship-mapping", "", "Field mapping YAML for --relationships files")
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	if runMode != "" {
		a.cfg.RunMode = runMode
	}
	if runDestination != "" {
		a.cfg.Destination = runDestination
	}
	if runOverrideConflicts {
		a.cfg.OverrideConflicts = true
	}
	if runSkipDuplicates {
		a.cfg.SkipDuplicateCandidates = true
	}
	if runInputs.Mapping == "" {
		runInputs.Mapping = a.cfg.MappingFile
	}

	cfg, err := a.cfg.Reconcile()
	if err != nil {
		return exitError(2, err)
	}

	db, err := a.openDB(ctx, false)
	if err != nil {
		return err
	}

	var source reconcile.Source
	if !runInputs.empty() {
		snap, err := loadSnapshot(ctx, a.cfg.Ingest(), a.logger, runInputs)
		if err != nil {
			return err
		}
		source = reconcile.NewMemorySource(snap)
	} else {
		if db == nil {
			return exitError(2, errors.New("no --input given and DB_HOST is not set"))
		}
		source = store.NewSource(observation.NewRepository(db, a.logger), relationship.NewRepository(db, a.logger))
	}

	var (
		destination reconcile.Destination
		checkpoints reconcile.CheckpointStore
	)
	if db != nil {
		destination = store.NewDestination(cfg.Destination, db,
			canonicalstate.NewRepository(db, a.logger), history.NewRepository(db, a.logger), a.logger)
		checkpoints = store.NewCheckpoints(checkpoint.NewRepository(db, a.logger))
	} else {
		if cfg.Mode != models.RunModeDryRun {
			return exitError(2, fmt.Errorf("%s runs need a database; set DB_HOST", cfg.Mode))
		}
		destination = reconcile.NewMemoryDestination()
		checkpoints = reconcile.NewMemoryCheckpoints()
	}

	var opts []reconcile.Option
	if cfg.Mode != models.RunModeDryRun {
		opts, err = a.executorOptions(ctx)
		if err != nil {
			return err
		}
	}

	executor, err := reconcile.NewExecutor(cfg, a.logger, source, destination, checkpoints, opts...)
	if err != nil {
		return exitError(2, err)
	}

	locker, err := a.locker(ctx)
	if err != nil {
		return err
	}

	var report *reconcile.Report
	runErr := locker.WithLock(ctx, "run:"+cfg.Destination, a.cfg.RunLockTTL, func(ctx context.Context) error {
		var err error
		report, err = executor.Run(ctx)
		return err
	})

	if report != nil {
		if db != nil {
			if err := run.NewRepository(db, a.logger).Save(context.WithoutCancel(ctx), report); err != nil {
				a.logger.WithContext(ctx).WithError(err).Warn("Failed to store run report")
			}
		}
		if err := writeReport(cmd.OutOrStdout(), runReportPath, report); err != nil {
			return err
		}
	}

	return outcomeError(report, runErr)
}

func writeReport(stdout io.Writer, path string, report *reconcile.Report) error {
	out := stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// outcomeError maps the run result to an exit code.
func outcomeError(report *reconcile.Report, err error) error {
	if err == nil {
		return nil
	}
	if report == nil {
		return exitError(1, err)
	}
	switch report.Outcome {
	case reconcile.OutcomeHalted:
		return exitError(3, err)
	case reconcile.OutcomeCancelled:
		return exitError(4, err)
	}
	if reconcile.CategoryOf(err) == models.CategoryFatalConfiguration {
		return exitError(2, err)
	}
	return exitError(1, err)
}
