package orchestrator

// #region imports
import (
	"context"
	"encoding/json"

	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/apperr"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/collab"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/config"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/eval"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/ledger"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/logging"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/seed"
)

// #endregion

// #region orchestrator-struct

// Orchestrator sequences the per-fold load, evaluate and persist steps.
type Orchestrator struct {
	loader    FoldLoader
	evaluator Evaluator
	writer    ResultWriter
	cache     CacheReleaser
	ledger    Ledger
	log       logging.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache releases accelerator memory before every fold.
func WithCache(c CacheReleaser) Option { return func(o *Orchestrator) { o.cache = c } }

// WithLedger records run and fold progress.
func WithLedger(l Ledger) Option { return func(o *Orchestrator) { o.ledger = l } }

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// #endregion

// #region constructor

// New wires an orchestrator around the fold loader, the evaluator and the
// result writer.
func New(loader FoldLoader, evaluator Evaluator, writer ResultWriter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		loader:    loader,
		evaluator: evaluator,
		writer:    writer,
		log:       logging.NoOp{},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = logging.OrNoOp(o.log)
	return o
}

// #endregion

// #region run

// Run evaluates every fold of cfg's range in order, then writes the
// summary. The first failing fold aborts the run; result files written
// by earlier folds are left in place.
func (o *Orchestrator) Run(ctx context.Context, cfg config.Config, settings config.Settings) (Report, error) {
	rng := cfg.Range()
	if !cfg.LoopFromKStart && rng.Start > 0 {
		o.log.Warn("k_start only names the partial summary; the fold loop starts at 0",
			"k_start", rng.Start, "hint", "pass --loop-from-k-start to begin at k_start")
	}

	report := Report{Start: rng.Start, End: rng.End, Folds: rng.Folds}
	report.RunID = o.startRun(cfg, settings)

	for _, fold := range rng.Folds {
		m, path, err := o.runFold(ctx, cfg, report.RunID, fold)
		if err != nil {
			err = apperr.Wrapf(err, "fold %d", fold)
			o.finishRun(report.RunID, ledger.StatusFailed, err.Error(), "", eval.Summary{})
			return report, err
		}
		report.Metrics = append(report.Metrics, m)
		report.ResultPaths = append(report.ResultPaths, path)
	}

	summaryPath, err := o.writer.WriteSummary(report.Metrics, cfg.K, rng.Start, rng.End)
	if err != nil {
		o.finishRun(report.RunID, ledger.StatusFailed, err.Error(), "", eval.Summary{})
		return report, err
	}
	report.SummaryPath = summaryPath
	report.Aggregate = eval.Aggregate(report.Metrics)

	for _, ms := range report.Aggregate.Metrics {
		o.log.Info("cross-fold metric", "metric", ms.Name, "mean", ms.Mean, "std", ms.Std, "ci95", ms.CI95)
	}
	o.log.Info("summary written", "path", summaryPath, "folds", len(report.Metrics))
	o.finishRun(report.RunID, ledger.StatusComplete, "", summaryPath, report.Aggregate)
	return report, nil
}

// #endregion

// #region run-fold

func (o *Orchestrator) runFold(ctx context.Context, cfg config.Config, runID string, fold int) (eval.FoldMetrics, string, error) {
	log := o.log.With("fold", fold)

	if o.cache != nil {
		if err := o.cache.ReleaseCache(ctx); err != nil {
			log.Warn("release cache failed", "error", err)
		}
	}

	foldSeed := seed.FoldSeed(fold)

	args := cfg.Args()
	datasets, err := o.loader.LoadFold(ctx, collab.LoadRequest{
		DataDir:       cfg.DataRootDir,
		SplitterPath:  cfg.SplitterPath(LoadSplit),
		BagSize:       cfg.BagSize,
		LabelCSVPath:  cfg.CSVPath,
		SplitNum:      LoadSplit,
		Seed:          foldSeed,
		Deterministic: true,
		Args:          args,
	})
	if err != nil {
		return eval.FoldMetrics{}, "", err
	}
	log.Debug("datasets loaded", "handle", datasets.Handle,
		"train", datasets.TrainSize, "val", datasets.ValSize, "test", datasets.TestSize)

	out, err := o.evaluator.Test(ctx, collab.TestRequest{
		Datasets:      datasets,
		Fold:          fold,
		Seed:          foldSeed,
		Deterministic: true,
		Args:          args,
	})
	if err != nil {
		return eval.FoldMetrics{}, "", err
	}
	m := out.Metrics
	m.Fold = fold

	path, err := o.writer.WriteFoldResult(fold, out.Results)
	if err != nil {
		return eval.FoldMetrics{}, "", err
	}
	log.Info("fold complete", "seed", foldSeed,
		"test_auc", m.TestAUC, "val_auc", m.ValAUC, "test_acc", m.TestAcc, "val_acc", m.ValAcc)

	o.recordFold(runID, foldSeed, m, path)
	return m, path, nil
}

// #endregion

// #region ledger

func (o *Orchestrator) startRun(cfg config.Config, settings config.Settings) string {
	if o.ledger == nil {
		return ""
	}
	settingsJSON, err := json.Marshal(settings.Map())
	if err != nil {
		o.log.Warn("encode settings failed", "error", err)
	}
	run, err := o.ledger.StartRun(ledger.RunRecord{
		ExpCode:      cfg.ExpCode,
		ResultsDir:   cfg.ResultsDir,
		K:            cfg.K,
		KStart:       cfg.KStart,
		KEnd:         cfg.KEnd,
		SettingsJSON: string(settingsJSON),
	})
	if err != nil {
		o.log.Warn("ledger start failed", "error", err)
		return ""
	}
	o.log.Info("run started", "run_id", run.RunID)
	return run.RunID
}

func (o *Orchestrator) recordFold(runID string, foldSeed int64, m eval.FoldMetrics, path string) {
	if o.ledger == nil || runID == "" {
		return
	}
	err := o.ledger.RecordFold(ledger.FoldRecord{
		RunID:      runID,
		Fold:       m.Fold,
		Seed:       foldSeed,
		Split:      LoadSplit,
		TestAUC:    m.TestAUC,
		ValAUC:     m.ValAUC,
		TestAcc:    m.TestAcc,
		ValAcc:     m.ValAcc,
		ResultPath: path,
	})
	if err != nil {
		o.log.Warn("ledger record failed", "fold", m.Fold, "error", err)
	}
}

func (o *Orchestrator) finishRun(runID, status, reason, summaryPath string, agg eval.Summary) {
	if o.ledger == nil || runID == "" {
		return
	}
	var aggJSON string
	if agg.Folds > 0 {
		b, err := json.Marshal(agg)
		if err != nil {
			o.log.Warn("encode aggregate failed", "run_id", runID, "error", err)
		} else {
			aggJSON = string(b)
		}
	}
	if err := o.ledger.FinishRun(runID, status, reason, summaryPath, aggJSON); err != nil {
		o.log.Warn("ledger finish failed", "run_id", runID, "error", err)
	}
}

// #endregion
