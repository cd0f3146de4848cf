package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/apperr"
)

// #region config
// Config is the resolved, read-only run configuration.
type Config struct {
	Options

	// ResultsDir is <results_dir>/<exp_code>_s<seed>.
	ResultsDir string
	// SplitDir is <splits_root>/<split_dir>.
	SplitDir string
	// FeatDir mirrors DataRootDir for the loader.
	FeatDir string
	// LedgerPath is empty when the ledger is disabled.
	LedgerPath string
	NClasses   int
}

// FoldRange is the effective fold window of a run.
type FoldRange struct {
	Start int
	End   int
	Folds []int
}

// #endregion config

// #region build
// Build validates opts and derives the run configuration. Validation, the
// task check and the split directory check all happen before anything is
// created on disk. Directory creation is idempotent.
func Build(opts Options) (Config, error) {
	if err := validate(opts); err != nil {
		return Config{}, err
	}

	nClasses, err := classesFor(opts.Task)
	if err != nil {
		return Config{}, err
	}

	splitDir := resolveSplitDir(opts)
	info, err := os.Stat(splitDir)
	if err != nil || !info.IsDir() {
		return Config{}, apperr.ConfigInvalid("split directory %s does not exist", splitDir)
	}

	if err := os.MkdirAll(opts.ResultsDir, 0o755); err != nil {
		return Config{}, apperr.IO("create results dir", err)
	}
	resultsDir := filepath.Join(opts.ResultsDir, fmt.Sprintf("%s_s%d", opts.ExpCode, opts.Seed))
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return Config{}, apperr.IO("create experiment dir", err)
	}

	ledger := opts.LedgerPath
	switch ledger {
	case "":
		ledger = filepath.Join(resultsDir, "ledger.db")
	case "-":
		ledger = ""
	}

	return Config{
		Options:    opts,
		ResultsDir: resultsDir,
		SplitDir:   splitDir,
		FeatDir:    opts.DataRootDir,
		LedgerPath: ledger,
		NClasses:   nClasses,
	}, nil
}

func classesFor(task string) (int, error) {
	switch task {
	case TaskTumorVsNormal:
		return 2, nil
	default:
		return 0, apperr.NotImplemented("task %q is not implemented", task)
	}
}

func resolveSplitDir(opts Options) string {
	if opts.SplitDir != "" {
		return filepath.Join(opts.SplitsRoot, opts.SplitDir)
	}
	return filepath.Join(opts.SplitsRoot, fmt.Sprintf("%s_%d", opts.Task, int(opts.LabelFrac*100)))
}

// #endregion build

// #region fold-range
// Range computes the fold window. Start and End follow k_start/k_end with
// -1 meaning "first" and "k". Unless LoopFromKStart is set the loop itself
// always begins at fold 0 and Start only names partial summaries.
func (c Config) Range() FoldRange {
	start := c.KStart
	if start == -1 {
		start = 0
	}
	end := c.KEnd
	if end == -1 {
		end = c.K
	}

	lower := 0
	if c.LoopFromKStart {
		lower = start
	}
	folds := make([]int, 0, max(end-lower, 0))
	for i := lower; i < end; i++ {
		folds = append(folds, i)
	}
	return FoldRange{Start: start, End: end, Folds: folds}
}

// SplitterPath returns the split manifest for split number n.
func (c Config) SplitterPath(n int) string {
	return fmt.Sprintf("%s/splits_%d.csv", c.SplitDir, n)
}

// #endregion fold-range

// #region validation
var validate = newValidator()

func newValidator() func(Options) error {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("flag"); name != "" {
			return name
		}
		return f.Name
	})
	return func(o Options) error {
		err := v.Struct(o)
		if err == nil {
			return nil
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return apperr.WithCode(apperr.CodeConfigInvalid, err, "validate options")
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
		return apperr.ConfigInvalid("invalid options: %s", strings.Join(msgs, "; "))
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("--%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("--%s=%v must be one of [%s]", fe.Field(), fe.Value(), fe.Param())
	default:
		return fmt.Sprintf("--%s=%v fails %s=%s", fe.Field(), fe.Value(), fe.Tag(), fe.Param())
	}
}

// #endregion validation

// #region args
// Args is the argument namespace handed to the CLAM loader and evaluator,
// keyed by the names the Python side reads.
func (c Config) Args() map[string]any {
	instLoss := any(nil)
	if c.InstLoss != "" {
		instLoss = c.InstLoss
	}
	return map[string]any{
		"data_root_dir":   c.DataRootDir,
		"feat_dir":        c.FeatDir,
		"max_epochs":      c.MaxEpochs,
		"lr":              c.LR,
		"label_frac":      c.LabelFrac,
		"reg":             c.Reg,
		"seed":            c.Seed,
		"k":               c.K,
		"k_start":         c.KStart,
		"k_end":           c.KEnd,
		"results_dir":     c.ResultsDir,
		"split_dir":       c.SplitDir,
		"log_data":        c.LogData,
		"testing":         c.Testing,
		"early_stopping":  c.EarlyStopping,
		"opt":             c.Opt,
		"drop_out":        c.DropOut,
		"bag_loss":        c.BagLoss,
		"model_type":      c.ModelType,
		"exp_code":        c.ExpCode,
		"weighted_sample": c.WeightedSample,
		"model_size":      c.ModelSize,
		"task":            c.Task,
		"csv_path":        c.CSVPath,
		"no_inst_cluster": c.NoInstCluster,
		"inst_loss":       instLoss,
		"subtyping":       c.Subtyping,
		"bag_weight":      c.BagWeight,
		"bag_size":        c.BagSize,
		"backbone_lr":     c.BackboneLR,
		"batch_size":      c.BatchSize,
		"ema_decay":       c.EMADecay,
		"B":               c.B,
		"n_classes":       c.NClasses,
	}
}

// #endregion args
