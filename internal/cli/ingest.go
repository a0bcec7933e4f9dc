package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/internal/repositories/observation"
	"github.com/Ramsey-B/clover/internal/repositories/relationship"
	"github.com/Ramsey-B/clover/internal/store"
	"github.com/Ramsey-B/clover/pkg/models"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Stage snapshot exports in the database",
	Long: `Ingest reads snapshot exports, validates business keys and writes the accepted
observations, the rejections and the relationships to the staging tables.
Observations are immutable; re-ingesting the same file is a no-op.

Prints the ingest statistics as JSON.`,
	RunE: runIngest,
}

var (
	ingestBatchID      string
	ingestSnapshotDate string
	ingestInputs       inputFiles
)

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestBatchID, "batch-id", "", "Batch identifier recorded on staged rows (default random)")
	ingestCmd.Flags().StringVar(&ingestSnapshotDate, "snapshot-date", "", "Date the export was taken")
	ingestCmd.Flags().StringSliceVar(&ingestInputs.Observations, "input", nil, "Snapshot export (.csv, .tsv, .xlsx); repeatable")
	ingestCmd.Flags().StringVar(&ingestInputs.Mapping, "mapping", "", "Field mapping YAML for --input files (overrides MAPPING_FILE)")
	ingestCmd.Flags().StringSliceVar(&ingestInputs.Relationships, "relationships", nil, "Relationship export; repeatable")
	ingestCmd.Flags().StringVar(&ingestInputs.RelationshipMapping, "relationship-mapping", "", "Field mapping YAML for --relationships files")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if ingestInputs.empty() {
		return exitError(2, errors.New("nothing to ingest; pass --input or --relationships"))
	}

	var snapshotDate *time.Time
	if ingestSnapshotDate != "" {
		t, ok := models.ParseTimestamp(ingestSnapshotDate)
		if !ok {
			return exitError(2, fmt.Errorf("--snapshot-date %q is not a valid date", ingestSnapshotDate))
		}
		snapshotDate = &t
	}
	if ingestBatchID == "" {
		ingestBatchID = uuid.New().String()
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if ingestInputs.Mapping == "" {
		ingestInputs.Mapping = a.cfg.MappingFile
	}

	db, err := a.openDB(ctx, true)
	if err != nil {
		return err
	}

	snap, err := loadSnapshot(ctx, a.cfg.Ingest(), a.logger, ingestInputs)
	if err != nil {
		return err
	}

	stager := store.NewStager(db, observation.NewRepository(db, a.logger), relationship.NewRepository(db, a.logger), a.logger)
	if err := stager.Stage(ctx, ingestBatchID, snapshotDate, snap); err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"batch_id": ingestBatchID,
		"entities": len(snap.Keys),
		"stats":    snap.Stats,
	})
}
