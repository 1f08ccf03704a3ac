package orchestrator

import (
	"context"

	"github.com/tis24dev/homesave/internal/category"
)

// ProgressReporter receives human-readable progress updates from a long
// running task.
type ProgressReporter func(message string)

// TaskRunner executes a long-running task while keeping the operator
// informed. Implementations may render progress however they like (plain
// stderr lines, a TUI modal) but must propagate the task error unchanged.
type TaskRunner interface {
	RunTask(ctx context.Context, title, initialMessage string, run func(ctx context.Context, report ProgressReporter) error) error
}

// ExistingPathDecision is the operator's answer when an output path already
// exists.
type ExistingPathDecision int

const (
	// PathDecisionOverwrite replaces the existing path.
	PathDecisionOverwrite ExistingPathDecision = iota
	// PathDecisionNewPath redirects the output to a different path.
	PathDecisionNewPath
	// PathDecisionCancel aborts the workflow.
	PathDecisionCancel
)

// BackupSelectionUI is the interaction surface shared by every workflow that
// starts from an existing backup: show messages, and let the operator pick
// one of the discovered backup candidates.
type BackupSelectionUI interface {
	TaskRunner
	ShowMessage(ctx context.Context, title, message string) error
	ShowError(ctx context.Context, title, message string) error
	SelectBackupCandidate(ctx context.Context, candidates []*restoreCandidate) (*restoreCandidate, error)
}

// DecryptWorkflowUI drives the standalone decrypt workflow.
type DecryptWorkflowUI interface {
	BackupSelectionUI
	PromptDestinationDir(ctx context.Context, defaultDir string) (string, error)
	ResolveExistingPath(ctx context.Context, path, description, failure string) (ExistingPathDecision, string, error)
	PromptDecryptSecret(ctx context.Context, displayName, previousError string) (string, error)
}

// RestoreWorkflowUI drives the restore workflow. Every operator choice goes
// through this interface so the engine itself never reads stdin; the CLI and
// TUI front ends are interchangeable.
type RestoreWorkflowUI interface {
	BackupSelectionUI
	PromptDecryptSecret(ctx context.Context, displayName, previousError string) (string, error)
	SelectRestoreMode(ctx context.Context) (RestoreMode, error)
	SelectCategories(ctx context.Context, available []category.Category) ([]category.Category, error)
	ShowRestorePlan(ctx context.Context, plan *SelectiveRestoreConfig) error
	ConfirmRestore(ctx context.Context) (bool, error)
}

// RestoreMode selects how much of the backup is restored.
type RestoreMode string

const (
	// RestoreModeFull restores every category present in the backup.
	RestoreModeFull RestoreMode = "full"
	// RestoreModeCustom restores only an operator-chosen subset.
	RestoreModeCustom RestoreMode = "custom"
)
