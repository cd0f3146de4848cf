package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/apperr"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/collab"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/config"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/eval"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/ledger"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/results"
)

// #region fakes

type fakeCollab struct {
	loads      []collab.LoadRequest
	tests      []collab.TestRequest
	releases   int
	releaseErr error
	failFold   int // -1 disables
	failErr    error
	nanValAUC  bool // every fold reports an undefined val AUC
}

func newFakeCollab() *fakeCollab {
	return &fakeCollab{failFold: -1}
}

func metricsFor(fold int) eval.FoldMetrics {
	f := float64(fold)
	return eval.FoldMetrics{Fold: fold, TestAUC: 0.9 + f/100, ValAUC: 0.8 + f/100, TestAcc: 0.7 + f/1000, ValAcc: 0.6 + f/1000}
}

func (f *fakeCollab) ReleaseCache(context.Context) error {
	f.releases++
	return f.releaseErr
}

func (f *fakeCollab) LoadFold(_ context.Context, req collab.LoadRequest) (collab.Datasets, error) {
	f.loads = append(f.loads, req)
	return collab.Datasets{Handle: req.SplitterPath, TrainSize: 10, ValSize: 2, TestSize: 5}, nil
}

func (f *fakeCollab) Test(_ context.Context, req collab.TestRequest) (collab.FoldOutcome, error) {
	f.tests = append(f.tests, req)
	if req.Fold == f.failFold {
		return collab.FoldOutcome{}, f.failErr
	}
	m := metricsFor(req.Fold)
	if f.nanValAUC {
		m.ValAUC = math.NaN()
	}
	return collab.FoldOutcome{
		Results: []byte{byte(req.Fold), 'p', 'k', 'l'},
		Metrics: m,
	}, nil
}

// seeds lists the seed sent with each LoadFold call, in call order.
func (f *fakeCollab) seeds() []int64 {
	out := make([]int64, len(f.loads))
	for i, req := range f.loads {
		out[i] = req.Seed
	}
	return out
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) StartRun(rec ledger.RunRecord) (ledger.RunRecord, error) {
	args := m.Called(rec)
	return args.Get(0).(ledger.RunRecord), args.Error(1)
}

func (m *mockLedger) RecordFold(rec ledger.FoldRecord) error {
	return m.Called(rec).Error(0)
}

func (m *mockLedger) FinishRun(runID, status, reason, summaryPath, aggregateJSON string) error {
	return m.Called(runID, status, reason, summaryPath, aggregateJSON).Error(0)
}

func testConfig(t *testing.T, k, kStart, kEnd int) config.Config {
	t.Helper()
	return config.Config{
		Options: config.Options{
			DataRootDir: "/data/feats",
			K:           k,
			KStart:      kStart,
			KEnd:        kEnd,
			BagSize:     512,
			CSVPath:     config.DefaultCSVPath,
			ExpCode:     "camelyon",
			Task:        config.TaskTumorVsNormal,
			ModelType:   "clam_sb",
		},
		ResultsDir: t.TempDir(),
		SplitDir:   "splits/task_camelyon16",
		NClasses:   2,
	}
}

func newTestOrchestrator(cfg config.Config, fc *fakeCollab, opts ...Option) *Orchestrator {
	opts = append([]Option{WithCache(fc)}, opts...)
	return New(fc, fc, results.NewWriter(cfg.ResultsDir, false), opts...)
}

// #endregion

// #region scenarios

func TestRunFullRange(t *testing.T) {
	cfg := testConfig(t, 4, -1, 4)
	fc := newFakeCollab()

	report, err := newTestOrchestrator(cfg, fc).Run(context.Background(), cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3}, report.Folds)
	assert.Equal(t, []int64{2023, 2024, 2025, 2026}, fc.seeds())
	assert.Equal(t, 4, fc.releases)
	assert.Equal(t, filepath.Join(cfg.ResultsDir, "summary.csv"), report.SummaryPath)

	for i := 0; i < 4; i++ {
		data, err := os.ReadFile(filepath.Join(cfg.ResultsDir, fmt.Sprintf("split_%d_results.pkl", i)))
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i), 'p', 'k', 'l'}, data)
	}

	rows, err := results.ReadSummary(report.SummaryPath)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for i, r := range rows {
		assert.Equal(t, metricsFor(i), r, "summary row %d must carry evaluator values verbatim", i)
	}
	assert.Equal(t, 4, report.Aggregate.Folds)
}

func TestRunKeepsUndefinedMetrics(t *testing.T) {
	cfg := testConfig(t, 2, -1, -1)
	fc := newFakeCollab()
	fc.nanValAUC = true

	store, err := ledger.NewStore(filepath.Join(cfg.ResultsDir, "ledger.db"))
	require.NoError(t, err)
	defer store.Close()

	report, err := newTestOrchestrator(cfg, fc, WithLedger(store)).Run(context.Background(), cfg, nil)
	require.NoError(t, err)

	folds, err := store.ListFolds(report.RunID)
	require.NoError(t, err)
	require.Len(t, folds, 2, "folds with an undefined metric are still recorded")
	assert.True(t, math.IsNaN(folds[0].ValAUC))
	assert.Equal(t, metricsFor(1).TestAUC, folds[1].TestAUC)

	run, err := store.GetRun(report.RunID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusComplete, run.Status)
	require.NotEmpty(t, run.AggregateJSON)

	var agg eval.Summary
	require.NoError(t, json.Unmarshal([]byte(run.AggregateJSON), &agg))
	val, ok := agg.Metric(eval.ColValAUC)
	require.True(t, ok)
	assert.Zero(t, val.N)

	rows, err := results.ReadSummary(report.SummaryPath)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, math.IsNaN(rows[1].ValAUC))
}

func TestRunPartialRange(t *testing.T) {
	cfg := testConfig(t, 10, -1, 4)
	fc := newFakeCollab()

	report, err := newTestOrchestrator(cfg, fc).Run(context.Background(), cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3}, report.Folds)
	assert.Equal(t, "summary_partial_0_4.csv", filepath.Base(report.SummaryPath))
}

func TestRunAlwaysLoadsSplitZero(t *testing.T) {
	cfg := testConfig(t, 3, -1, -1)
	fc := newFakeCollab()

	_, err := newTestOrchestrator(cfg, fc).Run(context.Background(), cfg, nil)
	require.NoError(t, err)

	require.Len(t, fc.loads, 3)
	for i, req := range fc.loads {
		assert.Equal(t, "splits/task_camelyon16/splits_0.csv", req.SplitterPath)
		assert.Equal(t, 0, req.SplitNum)
		assert.Equal(t, int64(2023+i), req.Seed)
		assert.True(t, req.Deterministic)
		assert.Equal(t, 512, req.BagSize)
		assert.Equal(t, config.DefaultCSVPath, req.LabelCSVPath)
		assert.Equal(t, "/data/feats", req.DataDir)
	}
	for i, req := range fc.tests {
		assert.Equal(t, i, req.Fold)
		assert.Equal(t, int64(2023+i), req.Seed)
		assert.Equal(t, "splits/task_camelyon16/splits_0.csv", req.Datasets.Handle)
	}
}

func TestRunIgnoresKStartByDefault(t *testing.T) {
	cfg := testConfig(t, 10, 2, 4)
	fc := newFakeCollab()

	report, err := newTestOrchestrator(cfg, fc).Run(context.Background(), cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3}, report.Folds)
	assert.Equal(t, []int64{2023, 2024, 2025, 2026}, fc.seeds())
	assert.Equal(t, "summary_partial_2_4.csv", filepath.Base(report.SummaryPath))
}

func TestRunLoopFromKStart(t *testing.T) {
	cfg := testConfig(t, 10, 2, 4)
	cfg.LoopFromKStart = true
	fc := newFakeCollab()

	report, err := newTestOrchestrator(cfg, fc).Run(context.Background(), cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3}, report.Folds)
	// Seeds depend on the fold index only, not on run order.
	assert.Equal(t, []int64{2025, 2026}, fc.seeds())
	assert.Equal(t, "summary_partial_2_4.csv", filepath.Base(report.SummaryPath))

	rows, err := results.ReadSummary(report.SummaryPath)
	require.NoError(t, err)
	assert.Equal(t, []eval.FoldMetrics{metricsFor(2), metricsFor(3)}, rows)
}

// #endregion

// #region failures

func TestRunAbortsOnEvaluatorError(t *testing.T) {
	cfg := testConfig(t, 4, -1, 4)
	fc := newFakeCollab()
	fc.failFold = 2
	fc.failErr = apperr.Collaborator("test rpc", errors.New("RuntimeError: shape mismatch"))

	store, err := ledger.NewStore(filepath.Join(cfg.ResultsDir, "ledger.db"))
	require.NoError(t, err)
	defer store.Close()

	report, err := newTestOrchestrator(cfg, fc, WithLedger(store)).Run(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeCollaborator))
	assert.Contains(t, err.Error(), "fold 2")
	assert.Contains(t, err.Error(), "shape mismatch")

	assert.FileExists(t, filepath.Join(cfg.ResultsDir, "split_0_results.pkl"))
	assert.FileExists(t, filepath.Join(cfg.ResultsDir, "split_1_results.pkl"))
	assert.NoFileExists(t, filepath.Join(cfg.ResultsDir, "split_2_results.pkl"))
	assert.NoFileExists(t, filepath.Join(cfg.ResultsDir, "summary.csv"))
	assert.Len(t, fc.tests, 3, "no folds run after the failure")

	run, err := store.GetRun(report.RunID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, run.Status)
	assert.Contains(t, run.Reason, "shape mismatch")

	folds, err := store.ListFolds(report.RunID)
	require.NoError(t, err)
	assert.Len(t, folds, 2)
}

func TestRunCacheErrorIsAdvisory(t *testing.T) {
	cfg := testConfig(t, 2, -1, -1)
	fc := newFakeCollab()
	fc.releaseErr = errors.New("cuda not available")

	report, err := newTestOrchestrator(cfg, fc).Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, report.Folds)
}

func TestRunSummaryWriteError(t *testing.T) {
	cfg := testConfig(t, 1, -1, -1)
	fc := newFakeCollab()
	o := newTestOrchestrator(cfg, fc)

	// A directory squatting on the summary name makes the write fail.
	require.NoError(t, os.Mkdir(filepath.Join(cfg.ResultsDir, "summary.csv"), 0o755))

	_, err := o.Run(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeIO))
	assert.FileExists(t, filepath.Join(cfg.ResultsDir, "split_0_results.pkl"))
}

// #endregion

// #region ledger

func TestRunRecordsLedger(t *testing.T) {
	cfg := testConfig(t, 2, -1, -1)
	fc := newFakeCollab()

	ml := &mockLedger{}
	ml.On("StartRun", mock.MatchedBy(func(r ledger.RunRecord) bool {
		return r.ExpCode == "camelyon" && r.K == 2 && r.SettingsJSON != ""
	})).Return(ledger.RunRecord{RunID: "run-1"}, nil).Once()
	ml.On("RecordFold", mock.MatchedBy(func(r ledger.FoldRecord) bool {
		return r.RunID == "run-1" && r.Split == 0 && r.Seed == int64(2023+r.Fold)
	})).Return(nil).Twice()
	ml.On("FinishRun", "run-1", ledger.StatusComplete, "", filepath.Join(cfg.ResultsDir, "summary.csv"), mock.AnythingOfType("string")).
		Return(nil).Once()

	settings := config.Settings{{Key: "num_splits", Value: "2"}}
	report, err := newTestOrchestrator(cfg, fc, WithLedger(ml)).Run(context.Background(), cfg, settings)
	require.NoError(t, err)
	assert.Equal(t, "run-1", report.RunID)
	ml.AssertExpectations(t)
}

func TestRunLedgerStartFailureDoesNotAbort(t *testing.T) {
	cfg := testConfig(t, 1, -1, -1)
	fc := newFakeCollab()

	ml := &mockLedger{}
	ml.On("StartRun", mock.Anything).Return(ledger.RunRecord{}, errors.New("database is locked"))

	report, err := newTestOrchestrator(cfg, fc, WithLedger(ml)).Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Empty(t, report.RunID)
	ml.AssertNotCalled(t, "RecordFold", mock.Anything)
	ml.AssertNotCalled(t, "FinishRun", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// #endregion
