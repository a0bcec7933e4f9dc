package reconcile

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/clover/pkg/changes"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/resolver"
)

var validate = validator.New()

// Config is the full option set of one run.
type Config struct {
	Mode        models.RunMode `validate:"required,oneof=dry-run incremental full-resync"`
	Destination string         `validate:"required"`
	// SourceTag is written to lastSyncedFrom; a destination row carrying another tag is a conflict.
	SourceTag string `validate:"required"`

	BatchSize        int           `validate:"min=1,max=500"`
	PageSize         int           `validate:"min=1"`
	Workers          int           `validate:"min=1"`
	MaxRetries       int           `validate:"min=0"`
	BackoffBaseDelay time.Duration `validate:"min=0"`
	BatchTimeout     time.Duration `validate:"min=0"`
	BatchPause       time.Duration `validate:"min=0"`

	OverrideConflicts       bool
	SkipDuplicateCandidates bool
	AnalyzeDuplicates       bool

	ProjectAttribute string
	AgentAttribute   string
	SampleDiffs      int `validate:"min=0"`

	Resolver resolver.Config
	Changes  changes.Config
	Matching matching.Config
}

func DefaultConfig() Config {
	return Config{
		Mode:                    models.RunModeDryRun,
		Destination:             "production",
		SourceTag:               "clover",
		BatchSize:               500,
		PageSize:                1000,
		Workers:                 4,
		MaxRetries:              3,
		BackoffBaseDelay:        500 * time.Millisecond,
		BatchTimeout:            30 * time.Second,
		BatchPause:              100 * time.Millisecond,
		SkipDuplicateCandidates: false,
		AnalyzeDuplicates:       true,
		ProjectAttribute:        "project",
		AgentAttribute:          "agent",
		SampleDiffs:             10,
		Changes:                 changes.Config{DisappearedPolicy: models.DisappearedReport},
		Matching:                matching.DefaultConfig(),
	}
}

// Validate reports problems as fatal-configuration errors.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return Classify(models.CategoryFatalConfiguration, fmt.Errorf("invalid run configuration: %w", err))
	}
	if c.AnalyzeDuplicates || c.SkipDuplicateCandidates {
		if err := c.Matching.Validate(); err != nil {
			return Classify(models.CategoryFatalConfiguration, err)
		}
	}
	return nil
}
