package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/apperr"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/collab"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/config"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/ledger"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/logging"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/orchestrator"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/results"
)

const healthTimeout = 10 * time.Second

// #region collaborator
// foldService is everything the run needs from the collaborator.
type foldService interface {
	orchestrator.FoldLoader
	orchestrator.Evaluator
	orchestrator.CacheReleaser
	Check(ctx context.Context) error
	Close() error
}

var dialCollab = func(addr string) (foldService, error) {
	return collab.NewClient(addr)
}

// #endregion collaborator

// #region main
func main() {
	// Missing .env is fine; the environment and flags still apply.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "clam-eval: %v\n", err)
		os.Exit(apperr.ExitCode(err))
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := config.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "clam-eval",
		Short: "Evaluate trained CLAM fold models and summarize the metrics",
		Long: `Evaluate one trained CLAM/MIL model per cross-validation fold.

Every fold loads split 0, is evaluated with seed 2023+fold, and writes
split_<fold>_results.pkl into <results_dir>/<exp_code>_s<seed>. The run ends
with summary.csv, or summary_partial_<start>_<end>.csv when fewer than k
folds ran.

Environment (also read from .env):
- CLAM_DATA_ROOT     default for --data_root_dir
- CLAM_RESULTS_DIR   default for --results_dir
- CLAM_COLLAB_ADDR   default for --collab_addr
- CLAM_LEDGER        default for --ledger`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lc := logging.DefaultConfig()
			lc.Level, lc.Format, lc.Output = opts.LogLevel, opts.LogFormat, stderr
			log := logging.New(lc)
			if err := run(cmd.Context(), opts, log); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "finished!")
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	opts.Bind(cmd.Flags())
	return cmd
}

// #endregion main

// #region run
func run(ctx context.Context, opts config.Options, log logging.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, settings, err := config.Resolve(opts, log)
	if err != nil {
		return err
	}

	svc, err := dialCollab(cfg.CollabAddr)
	if err != nil {
		return err
	}
	defer svc.Close()

	if cfg.HealthCheck {
		hctx, cancel := context.WithTimeout(ctx, healthTimeout)
		err := svc.Check(hctx)
		cancel()
		if err != nil {
			return err
		}
		log.Info("collaborator ready", "addr", cfg.CollabAddr)
	}

	runOpts := []orchestrator.Option{
		orchestrator.WithCache(svc),
		orchestrator.WithLogger(log),
	}
	if cfg.LedgerPath != "" {
		store, err := ledger.NewStore(cfg.LedgerPath)
		if err != nil {
			log.Warn("ledger unavailable, continuing without it", "path", cfg.LedgerPath, "error", err)
		} else {
			defer store.Close()
			runOpts = append(runOpts, orchestrator.WithLedger(store))
		}
	}

	orch := orchestrator.New(svc, svc, results.NewWriter(cfg.ResultsDir, cfg.WriteXLSX), runOpts...)
	report, err := orch.Run(ctx, cfg, settings)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("run interrupted", "folds_done", len(report.Metrics))
		}
		return err
	}
	log.Info("run complete", "summary", report.SummaryPath, "run_id", report.RunID)
	return nil
}

// #endregion run
