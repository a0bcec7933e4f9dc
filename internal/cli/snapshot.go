package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/snapshotfile"
)

// inputFiles names snapshot exports and the mappings that read them.
type inputFiles struct {
	Observations        []string
	Mapping             string
	Relationships       []string
	RelationshipMapping string
}

func (in inputFiles) empty() bool {
	return len(in.Observations) == 0 && len(in.Relationships) == 0
}

// readBatches parses every file into one batch named after the file.
func readBatches(in inputFiles) ([]models.Batch, error) {
	var batches []models.Batch

	if len(in.Observations) > 0 {
		if in.Mapping == "" {
			return nil, exitError(2, fmt.Errorf("--mapping is required with --input"))
		}
		m, err := snapshotfile.LoadMapping(in.Mapping)
		if err != nil {
			return nil, exitError(2, err)
		}
		for _, path := range in.Observations {
			batch, err := snapshotfile.ReadFile(path, m)
			if err != nil {
				return nil, err
			}
			batches = append(batches, batch)
		}
	}

	if len(in.Relationships) > 0 {
		if in.RelationshipMapping == "" {
			return nil, exitError(2, fmt.Errorf("--relationship-mapping is required with --relationships"))
		}
		m, err := snapshotfile.LoadMapping(in.RelationshipMapping)
		if err != nil {
			return nil, exitError(2, err)
		}
		if m.Kind != snapshotfile.KindRelationships {
			return nil, exitError(2, fmt.Errorf("%s is not a relationships mapping", filepath.Base(in.RelationshipMapping)))
		}
		for _, path := range in.Relationships {
			batch, err := snapshotfile.ReadFile(path, m)
			if err != nil {
				return nil, err
			}
			batches = append(batches, batch)
		}
	}
	return batches, nil
}

// loadSnapshot reads and ingests the input files.
func loadSnapshot(ctx context.Context, cfg ingest.Config, logger ectologger.Logger, in inputFiles) (*ingest.Snapshot, error) {
	batches, err := readBatches(in)
	if err != nil {
		return nil, err
	}

	ingestor, err := ingest.NewIngestor(cfg, logger)
	if err != nil {
		return nil, exitError(2, err)
	}
	for _, batch := range batches {
		ingestor.Add(ctx, batch)
	}
	return ingestor.Result(), nil
}
