package models

import "fmt"

// RunMode selects how the reconciliation executor treats the destination.
type RunMode string

const (
	RunModeDryRun      RunMode = "dry-run"
	RunModeIncremental RunMode = "incremental"
	RunModeFullResync  RunMode = "full-resync"
)

func ParseRunMode(s string) (RunMode, error) {
	switch RunMode(s) {
	case RunModeDryRun, RunModeIncremental, RunModeFullResync:
		return RunMode(s), nil
	}
	return "", fmt.Errorf("unknown run mode %q (want dry-run, incremental or full-resync)", s)
}

// DisappearedPolicy is the configured meaning of a key that vanished from the source.
// The engine labels findings with it; acting on the label is left to the operator.
type DisappearedPolicy string

const (
	DisappearedReport  DisappearedPolicy = "report"
	DisappearedArchive DisappearedPolicy = "archive"
	DisappearedDelete  DisappearedPolicy = "delete"
)

func ParseDisappearedPolicy(s string) (DisappearedPolicy, error) {
	switch DisappearedPolicy(s) {
	case DisappearedReport, DisappearedArchive, DisappearedDelete:
		return DisappearedPolicy(s), nil
	case "":
		return DisappearedReport, nil
	}
	return "", fmt.Errorf("unknown disappeared policy %q", s)
}
