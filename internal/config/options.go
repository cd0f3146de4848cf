package config

import (
	"os"

	"github.com/spf13/pflag"
)

// #region constants
const (
	TaskTumorVsNormal = "task_1_tumor_vs_normal"
	TaskTumorSubtype  = "task_2_tumor_subtyping"

	DefaultSplitDir = "task_camelyon16"
	DefaultCSVPath  = "dataset_csv/camelyon16.csv"
	DefaultCollab   = "localhost:50061"
)

// #endregion constants

// #region options
// Options is the raw run configuration as parsed from flags.
// The flag tag carries the CLI name, which validation errors report.
type Options struct {
	DataRootDir string  `flag:"data_root_dir" validate:"required"`
	MaxEpochs   int     `flag:"max_epochs" validate:"min=1"`
	LR          float64 `flag:"lr" validate:"gt=0"`
	LabelFrac   float64 `flag:"label_frac" validate:"gt=0,lte=1"`
	Reg         float64 `flag:"reg" validate:"gte=0"`
	Seed        int64   `flag:"seed"`
	K           int     `flag:"k" validate:"min=1"`
	KStart      int     `flag:"k_start" validate:"min=-1"`
	KEnd        int     `flag:"k_end" validate:"min=-1"`
	ResultsDir  string  `flag:"results_dir" validate:"required"`
	SplitDir    string  `flag:"split_dir"`
	SplitsRoot  string  `flag:"splits_root" validate:"required"`
	LogData     bool    `flag:"log_data"`
	Testing     bool    `flag:"testing"`
	Opt         string  `flag:"opt" validate:"oneof=adam sgd"`
	BagLoss     string  `flag:"bag_loss" validate:"oneof=svm ce"`
	ModelType   string  `flag:"model_type" validate:"oneof=clam_sb clam_mb mil"`
	ModelSize   string  `flag:"model_size" validate:"oneof=small big"`
	ExpCode     string  `flag:"exp_code" validate:"required"`
	Task        string  `flag:"task" validate:"required"`
	CSVPath     string  `flag:"csv_path" validate:"required"`

	DropOut        bool `flag:"drop_out"`
	EarlyStopping  bool `flag:"early_stopping"`
	WeightedSample bool `flag:"weighted_sample"`

	NoInstCluster bool    `flag:"no_inst_cluster"`
	InstLoss      string  `flag:"inst_loss" validate:"omitempty,oneof=svm ce"`
	Subtyping     bool    `flag:"subtyping"`
	BagWeight     float64 `flag:"bag_weight" validate:"gte=0,lte=1"`
	BagSize       int     `flag:"bag_size" validate:"min=1"`
	BackboneLR    float64 `flag:"backbone_lr" validate:"gte=0"`
	BatchSize     int     `flag:"batch_size" validate:"min=1"`
	EMADecay      float64 `flag:"ema_decay" validate:"gte=0,lt=1"`
	B             int     `flag:"B" validate:"min=1"`

	CollabAddr     string `flag:"collab_addr" validate:"required"`
	HealthCheck    bool   `flag:"health_check"`
	LedgerPath     string `flag:"ledger"`
	WriteXLSX      bool   `flag:"xlsx"`
	LoopFromKStart bool   `flag:"loop-from-k-start"`
	LogLevel       string `flag:"log_level" validate:"oneof=debug info warn error"`
	LogFormat      string `flag:"log_format" validate:"oneof=text json"`
}

// DefaultOptions returns flag defaults. Values the evaluation script pins
// (dropout, early stopping, task, split dir, label csv) are defaults here
// rather than post-parse overrides. Environment variables fill the paths.
func DefaultOptions() Options {
	return Options{
		DataRootDir: os.Getenv("CLAM_DATA_ROOT"),
		MaxEpochs:   400,
		LR:          1e-4,
		LabelFrac:   1.0,
		Reg:         1e-3,
		Seed:        1,
		K:           10,
		KStart:      -1,
		KEnd:        4,
		ResultsDir:  envOr("CLAM_RESULTS_DIR", "./results"),
		SplitDir:    DefaultSplitDir,
		SplitsRoot:  "splits",
		Opt:         "adam",
		BagLoss:     "ce",
		ModelType:   "clam_sb",
		ModelSize:   "small",
		Task:        TaskTumorVsNormal,
		CSVPath:     DefaultCSVPath,

		DropOut:        true,
		EarlyStopping:  true,
		WeightedSample: false,

		BagWeight:  1.0,
		BagSize:    512,
		BackboneLR: 1e-5,
		BatchSize:  1,
		B:          8,

		CollabAddr:  envOr("CLAM_COLLAB_ADDR", DefaultCollab),
		HealthCheck: true,
		LedgerPath:  os.Getenv("CLAM_LEDGER"),
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// #endregion options

// #region bind
// Bind registers every option on fs, using the current values as defaults.
func (o *Options) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.DataRootDir, "data_root_dir", o.DataRootDir, "data directory (env CLAM_DATA_ROOT)")
	fs.IntVar(&o.MaxEpochs, "max_epochs", o.MaxEpochs, "maximum number of epochs")
	fs.Float64Var(&o.LR, "lr", o.LR, "learning rate")
	fs.Float64Var(&o.LabelFrac, "label_frac", o.LabelFrac, "fraction of labels")
	fs.Float64Var(&o.Reg, "reg", o.Reg, "weight decay")
	fs.Int64Var(&o.Seed, "seed", o.Seed, "random seed for the experiment")
	fs.IntVar(&o.K, "k", o.K, "number of folds")
	fs.IntVar(&o.KStart, "k_start", o.KStart, "start fold (-1: first fold)")
	fs.IntVar(&o.KEnd, "k_end", o.KEnd, "end fold, exclusive (-1: k)")
	fs.StringVar(&o.ResultsDir, "results_dir", o.ResultsDir, "results directory (env CLAM_RESULTS_DIR)")
	fs.StringVar(&o.SplitDir, "split_dir", o.SplitDir, "split set under splits_root; empty infers <task>_<label_frac*100>")
	fs.StringVar(&o.SplitsRoot, "splits_root", o.SplitsRoot, "directory holding split sets")
	fs.BoolVar(&o.LogData, "log_data", o.LogData, "log data using tensorboard")
	fs.BoolVar(&o.Testing, "testing", o.Testing, "debugging tool")
	fs.BoolVar(&o.EarlyStopping, "early_stopping", o.EarlyStopping, "enable early stopping")
	fs.StringVar(&o.Opt, "opt", o.Opt, "optimizer: adam | sgd")
	fs.BoolVar(&o.DropOut, "drop_out", o.DropOut, "enable dropout (p=0.25)")
	fs.StringVar(&o.BagLoss, "bag_loss", o.BagLoss, "slide-level loss: svm | ce")
	fs.StringVar(&o.ModelType, "model_type", o.ModelType, "model: clam_sb | clam_mb | mil")
	fs.StringVar(&o.ExpCode, "exp_code", o.ExpCode, "experiment code for saving results")
	fs.BoolVar(&o.WeightedSample, "weighted_sample", o.WeightedSample, "enable weighted sampling")
	fs.StringVar(&o.ModelSize, "model_size", o.ModelSize, "model size: small | big")
	fs.StringVar(&o.Task, "task", o.Task, "task: "+TaskTumorVsNormal+" | "+TaskTumorSubtype)
	fs.StringVar(&o.CSVPath, "csv_path", o.CSVPath, "slide label csv")

	fs.BoolVar(&o.NoInstCluster, "no_inst_cluster", o.NoInstCluster, "disable instance-level clustering")
	fs.StringVar(&o.InstLoss, "inst_loss", o.InstLoss, "instance-level loss: svm | ce | empty")
	fs.BoolVar(&o.Subtyping, "subtyping", o.Subtyping, "subtyping problem")
	fs.Float64Var(&o.BagWeight, "bag_weight", o.BagWeight, "clam: weight of bag-level loss")
	fs.IntVar(&o.BagSize, "bag_size", o.BagSize, "instances per bag")
	fs.Float64Var(&o.BackboneLR, "backbone_lr", o.BackboneLR, "backbone learning rate")
	fs.IntVar(&o.BatchSize, "batch_size", o.BatchSize, "batch size")
	fs.Float64Var(&o.EMADecay, "ema_decay", o.EMADecay, "ema decay")
	fs.IntVar(&o.B, "B", o.B, "number of positive/negative patches to sample for clam")

	fs.StringVar(&o.CollabAddr, "collab_addr", o.CollabAddr, "CLAM collaborator gRPC address (env CLAM_COLLAB_ADDR)")
	fs.BoolVar(&o.HealthCheck, "health_check", o.HealthCheck, "health check the collaborator before running")
	fs.StringVar(&o.LedgerPath, "ledger", o.LedgerPath, "run ledger sqlite path (default <results_dir>/ledger.db, \"-\" disables)")
	fs.BoolVar(&o.WriteXLSX, "xlsx", o.WriteXLSX, "also write the summary as .xlsx")
	fs.BoolVar(&o.LoopFromKStart, "loop-from-k-start", o.LoopFromKStart, "start the fold loop at k_start instead of 0")
	fs.StringVar(&o.LogLevel, "log_level", o.LogLevel, "debug | info | warn | error")
	fs.StringVar(&o.LogFormat, "log_format", o.LogFormat, "text | json")
}

// #endregion bind

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
