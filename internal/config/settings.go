package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/apperr"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/logging"
)

// #region settings
// Setting is one entry of the audit mapping.
type Setting struct {
	Key   string
	Value string
}

// Settings is the ordered, human-readable settings mapping of a run.
type Settings []Setting

// Map returns the settings as a plain map, for JSON encoding.
func (s Settings) Map() map[string]string {
	m := make(map[string]string, len(s))
	for _, kv := range s {
		m[kv.Key] = kv.Value
	}
	return m
}

// SettingsOf builds the audit mapping for cfg.
func SettingsOf(cfg Config) Settings {
	s := Settings{
		{"num_splits", strconv.Itoa(cfg.K)},
		{"k_start", strconv.Itoa(cfg.KStart)},
		{"k_end", strconv.Itoa(cfg.KEnd)},
		{"task", cfg.Task},
		{"max_epochs", strconv.Itoa(cfg.MaxEpochs)},
		{"results_dir", cfg.ResultsDir},
		{"lr", formatFloat(cfg.LR)},
		{"experiment", cfg.ExpCode},
		{"reg", formatFloat(cfg.Reg)},
		{"label_frac", formatFloat(cfg.LabelFrac)},
		{"bag_loss", cfg.BagLoss},
		{"seed", strconv.FormatInt(cfg.Seed, 10)},
		{"model_type", cfg.ModelType},
		{"model_size", cfg.ModelSize},
		{"use_drop_out", strconv.FormatBool(cfg.DropOut)},
		{"weighted_sample", strconv.FormatBool(cfg.WeightedSample)},
		{"opt", cfg.Opt},
	}
	if cfg.ModelType == "clam_sb" || cfg.ModelType == "clam_mb" {
		inst := cfg.InstLoss
		if inst == "" {
			inst = "None"
		}
		s = append(s,
			Setting{"bag_weight", formatFloat(cfg.BagWeight)},
			Setting{"inst_loss", inst},
			Setting{"B", strconv.Itoa(cfg.B)},
		)
	}
	return append(s, Setting{"split_dir", cfg.SplitDir})
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// #endregion settings

// #region write
// SettingsFile is the audit file path for cfg.
func SettingsFile(cfg Config) string {
	return filepath.Join(cfg.ResultsDir, fmt.Sprintf("experiment_%s.txt", cfg.ExpCode))
}

// WriteSettings writes one "key: value" line per setting, replacing any
// previous file.
func WriteSettings(cfg Config, s Settings) error {
	var b strings.Builder
	for _, kv := range s {
		fmt.Fprintf(&b, "%s: %s\n", kv.Key, kv.Value)
	}
	if err := os.WriteFile(SettingsFile(cfg), []byte(b.String()), 0o644); err != nil {
		return apperr.IO("write settings", err)
	}
	return nil
}

// LogSettings prints the settings banner.
func LogSettings(log logging.Logger, s Settings) {
	log.Info("################# Settings ###################")
	for _, kv := range s {
		log.Info(kv.Key, "value", kv.Value)
	}
}

// #endregion write

// #region resolve
// Resolve builds the configuration, then writes and logs its settings.
func Resolve(opts Options, log logging.Logger) (Config, Settings, error) {
	log = logging.OrNoOp(log)
	cfg, err := Build(opts)
	if err != nil {
		return Config{}, nil, err
	}
	log.Info("resolved split dir", "split_dir", cfg.SplitDir)

	s := SettingsOf(cfg)
	if err := WriteSettings(cfg, s); err != nil {
		return Config{}, nil, err
	}
	LogSettings(log, s)
	return cfg, s, nil
}

// #endregion resolve
