package orchestrator

import (
	"context"

	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/collab"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/eval"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/ledger"
)

// #region constants
// LoadSplit is the split manifest every fold loads. Evaluating each fold
// model on split 0 keeps fold validation data out of the test loaders.
const LoadSplit = 0

// #endregion constants

// #region collaborators
// FoldLoader builds the train/val/test loaders for a split manifest.
type FoldLoader interface {
	LoadFold(ctx context.Context, req collab.LoadRequest) (collab.Datasets, error)
}

// Evaluator runs a trained fold model over loaded datasets.
type Evaluator interface {
	Test(ctx context.Context, req collab.TestRequest) (collab.FoldOutcome, error)
}

// CacheReleaser frees accelerator memory between folds. Advisory only.
type CacheReleaser interface {
	ReleaseCache(ctx context.Context) error
}

// ResultWriter persists per-fold records and the summary table.
type ResultWriter interface {
	WriteFoldResult(fold int, data []byte) (string, error)
	WriteSummary(rows []eval.FoldMetrics, k, start, end int) (string, error)
}

// Ledger records run progress for later inspection.
type Ledger interface {
	StartRun(rec ledger.RunRecord) (ledger.RunRecord, error)
	RecordFold(rec ledger.FoldRecord) error
	FinishRun(runID, status, reason, summaryPath, aggregateJSON string) error
}

// #endregion collaborators

// #region report
// Report is the outcome of a completed run.
type Report struct {
	RunID       string // empty without a ledger
	Start       int
	End         int
	Folds       []int
	Metrics     []eval.FoldMetrics
	ResultPaths []string
	SummaryPath string
	Aggregate   eval.Summary
}

// #endregion report
