package results

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/apperr"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/eval"
)

// #region writer
// Writer persists run artifacts under one results directory.
type Writer struct {
	Dir  string
	XLSX bool // also write the summary as a workbook
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string, xlsx bool) *Writer {
	return &Writer{Dir: dir, XLSX: xlsx}
}

// #endregion writer

// #region fold-result
// FoldResultPath is split_<fold>_results.pkl inside the results dir.
func (w *Writer) FoldResultPath(fold int) string {
	return filepath.Join(w.Dir, fmt.Sprintf("split_%d_results.pkl", fold))
}

// WriteFoldResult stores the serialized result record verbatim, replacing
// any previous file for that fold. The bytes go to a temp file first so a
// crash never leaves a truncated record behind.
func (w *Writer) WriteFoldResult(fold int, data []byte) (string, error) {
	path := w.FoldResultPath(fold)
	if err := writeAtomic(path, data); err != nil {
		return "", apperr.IO(fmt.Sprintf("write fold %d result", fold), err)
	}
	return path, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}

// #endregion fold-result

// #region summary
// SummaryName is summary.csv when every configured fold ran, otherwise
// summary_partial_<start>_<end>.csv.
func SummaryName(executed, k, start, end int) string {
	if executed != k {
		return fmt.Sprintf("summary_partial_%d_%d.csv", start, end)
	}
	return "summary.csv"
}

// WriteSummary writes one row per fold, in the order given, and returns
// the CSV path. Existing files are overwritten.
func (w *Writer) WriteSummary(rows []eval.FoldMetrics, k, start, end int) (string, error) {
	path := filepath.Join(w.Dir, SummaryName(len(rows), k, start, end))

	f, err := os.Create(path)
	if err != nil {
		return "", apperr.IO("create summary", err)
	}
	if err := EncodeCSV(f, rows); err != nil {
		f.Close()
		return "", apperr.IO("write summary", err)
	}
	if err := f.Close(); err != nil {
		return "", apperr.IO("close summary", err)
	}

	if w.XLSX {
		xlsxPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".xlsx"
		if err := WriteXLSX(xlsxPath, rows); err != nil {
			return "", apperr.IO("write summary workbook", err)
		}
	}
	return path, nil
}

// #endregion summary
