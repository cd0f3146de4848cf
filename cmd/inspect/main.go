package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/spf13/pflag"

	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/eval"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/ledger"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/results"
)

const usage = "usage: inspect --db path/to/ledger.db [--last N] [--run id] [--rebuild out.csv] [--json]"

// #region main
func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", "", "path to ledger.db")
	last := fs.Int("last", 20, "show N most recent runs")
	runID := fs.String("run", "", "show one run with its folds")
	rebuild := fs.String("rebuild", "", "with --run: rewrite the summary csv from recorded folds")
	jsonOut := fs.Bool("json", false, "output as JSON instead of table")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *dbPath == "" || (*rebuild != "" && *runID == "") {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	// Opening a missing path would create an empty ledger.
	if _, err := os.Stat(*dbPath); err != nil {
		fmt.Fprintf(stderr, "open db: %v\n", err)
		return 1
	}

	store, err := ledger.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "open db: %v\n", err)
		return 1
	}
	defer store.Close()

	switch {
	case *rebuild != "":
		err = runRebuild(store, *runID, *rebuild, stdout)
	case *runID != "":
		err = runDetailMode(store, *runID, *jsonOut, stdout)
	default:
		err = runListMode(store, *last, *jsonOut, stdout)
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// #endregion main

// #region list-mode
type listRow struct {
	RunID     string `json:"run_id"`
	ExpCode   string `json:"exp_code"`
	Status    string `json:"status"`
	K         int    `json:"k"`
	KStart    int    `json:"k_start"`
	KEnd      int    `json:"k_end"`
	Folds     int    `json:"folds"`
	StartedAt string `json:"started_at"`
	Summary   string `json:"summary_path,omitempty"`
}

func runListMode(store *ledger.Store, last int, jsonOut bool, w io.Writer) error {
	runs, err := store.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs found")
		return nil
	}

	// store returns DESC, reverse for chronological
	rows := make([]listRow, len(runs))
	for i, r := range runs {
		folds, err := store.ListFolds(r.RunID)
		if err != nil {
			return err
		}
		rows[len(runs)-1-i] = listRow{
			RunID:     r.RunID,
			ExpCode:   r.ExpCode,
			Status:    r.Status,
			K:         r.K,
			KStart:    r.KStart,
			KEnd:      r.KEnd,
			Folds:     len(folds),
			StartedAt: r.StartedAt.Format("2006-01-02T15:04:05Z"),
			Summary:   r.SummaryPath,
		}
	}

	if jsonOut {
		return printJSON(w, rows)
	}
	fmt.Fprintf(w, "%-10s  %-16s  %-8s  %3s  %7s  %5s  %s\n",
		"Run", "Experiment", "Status", "K", "Range", "Folds", "Started")
	for _, r := range rows {
		fmt.Fprintf(w, "%-10s  %-16s  %-8s  %3d  %7s  %5d  %s\n",
			shortID(r.RunID), r.ExpCode, r.Status, r.K,
			fmt.Sprintf("%d:%d", r.KStart, r.KEnd), r.Folds, r.StartedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode
type detailOutput struct {
	RunID      string             `json:"run_id"`
	ExpCode    string             `json:"exp_code"`
	ResultsDir string             `json:"results_dir"`
	Status     string             `json:"status"`
	Reason     string             `json:"reason,omitempty"`
	Summary    string             `json:"summary_path,omitempty"`
	Settings   map[string]string  `json:"settings,omitempty"`
	Folds      []foldRow          `json:"folds"`
	Aggregate  eval.Summary       `json:"aggregate"`
}

func runDetailMode(store *ledger.Store, runID string, jsonOut bool, w io.Writer) error {
	run, err := store.GetRun(runID)
	if err != nil {
		return err
	}
	metrics, err := foldMetrics(store, runID)
	if err != nil {
		return err
	}

	out := detailOutput{
		RunID:      run.RunID,
		ExpCode:    run.ExpCode,
		ResultsDir: run.ResultsDir,
		Status:     run.Status,
		Reason:     run.Reason,
		Summary:    run.SummaryPath,
		Folds:      foldRows(metrics),
		Aggregate:  eval.Aggregate(metrics),
	}
	if run.SettingsJSON != "" {
		if err := json.Unmarshal([]byte(run.SettingsJSON), &out.Settings); err != nil {
			return fmt.Errorf("decode settings: %w", err)
		}
	}

	if jsonOut {
		return printJSON(w, out)
	}

	fmt.Fprintf(w, "Run:        %s\n", out.RunID)
	fmt.Fprintf(w, "Experiment: %s\n", out.ExpCode)
	fmt.Fprintf(w, "Results:    %s\n", out.ResultsDir)
	fmt.Fprintf(w, "Status:     %s\n", out.Status)
	if out.Reason != "" {
		fmt.Fprintf(w, "Reason:     %s\n", out.Reason)
	}
	if out.Summary != "" {
		fmt.Fprintf(w, "Summary:    %s\n", out.Summary)
	}

	fmt.Fprintf(w, "\n%4s  %8s  %8s  %8s  %8s\n", "Fold", "TestAUC", "ValAUC", "TestAcc", "ValAcc")
	for _, m := range metrics {
		fmt.Fprintf(w, "%4d  %8.4f  %8.4f  %8.4f  %8.4f\n", m.Fold, m.TestAUC, m.ValAUC, m.TestAcc, m.ValAcc)
	}

	if out.Aggregate.Folds > 0 {
		fmt.Fprintf(w, "\nAcross %d folds:\n", out.Aggregate.Folds)
		for _, ms := range out.Aggregate.Metrics {
			fmt.Fprintf(w, "  %-9s mean %.4f  std %.4f  ci95 ±%.4f\n", ms.Name, ms.Mean, ms.Std, ms.CI95)
		}
	}
	return nil
}

// foldRow is a fold for JSON output. Undefined metrics encode as null.
type foldRow struct {
	Fold    int      `json:"fold"`
	TestAUC *float64 `json:"test_auc"`
	ValAUC  *float64 `json:"val_auc"`
	TestAcc *float64 `json:"test_acc"`
	ValAcc  *float64 `json:"val_acc"`
}

func foldRows(metrics []eval.FoldMetrics) []foldRow {
	out := make([]foldRow, len(metrics))
	for i, m := range metrics {
		out[i] = foldRow{Fold: m.Fold, TestAUC: defined(m.TestAUC), ValAUC: defined(m.ValAUC),
			TestAcc: defined(m.TestAcc), ValAcc: defined(m.ValAcc)}
	}
	return out
}

func defined(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// #endregion detail-mode

// #region rebuild
// runRebuild writes a summary table from the folds a run recorded. Useful
// after an aborted run, whose summary was never written.
func runRebuild(store *ledger.Store, runID, outPath string, w io.Writer) error {
	metrics, err := foldMetrics(store, runID)
	if err != nil {
		return err
	}
	if len(metrics) == 0 {
		return fmt.Errorf("run %s has no recorded folds", runID)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}
	if err := results.EncodeCSV(f, metrics); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", outPath, err)
	}
	fmt.Fprintf(w, "wrote %d folds to %s\n", len(metrics), outPath)
	return nil
}

// #endregion rebuild

// #region helpers
func foldMetrics(store *ledger.Store, runID string) ([]eval.FoldMetrics, error) {
	folds, err := store.ListFolds(runID)
	if err != nil {
		return nil, err
	}
	out := make([]eval.FoldMetrics, len(folds))
	for i, f := range folds {
		out[i] = eval.FoldMetrics{Fold: f.Fold, TestAUC: f.TestAUC, ValAUC: f.ValAUC, TestAcc: f.TestAcc, ValAcc: f.ValAcc}
	}
	return out, nil
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion helpers
