package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/eval"
)

// #region header
// Header is the summary column layout. The leading blank column is the
// row index, matching the pandas to_csv layout CLAM tooling reads back.
// Metric cells follow pandas float formatting (see formatMetric).
func Header() []string {
	return append([]string{"", "folds"}, eval.Columns...)
}

// #endregion header

// #region csv
// EncodeCSV writes rows as a summary table.
func EncodeCSV(out io.Writer, rows []eval.FoldMetrics) error {
	w := csv.NewWriter(out)
	if err := w.Write(Header()); err != nil {
		return err
	}
	for i, r := range rows {
		rec := []string{strconv.Itoa(i), strconv.Itoa(r.Fold)}
		for _, v := range r.Values() {
			rec = append(rec, formatMetric(v))
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// DecodeCSV parses a summary table written by EncodeCSV.
func DecodeCSV(in io.Reader) ([]eval.FoldMetrics, error) {
	recs, err := csv.NewReader(in).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("read summary: empty file")
	}
	want := Header()
	if len(recs[0]) != len(want) {
		return nil, fmt.Errorf("read summary: expected %d columns, got %d", len(want), len(recs[0]))
	}
	for i, h := range want {
		if recs[0][i] != h {
			return nil, fmt.Errorf("read summary: column %d is %q, want %q", i, recs[0][i], h)
		}
	}

	rows := make([]eval.FoldMetrics, 0, len(recs)-1)
	for line, rec := range recs[1:] {
		fold, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("read summary: row %d fold: %w", line+1, err)
		}
		vals := make([]float64, len(eval.Columns))
		for i := range vals {
			vals[i], err = parseMetric(rec[i+2])
			if err != nil {
				return nil, fmt.Errorf("read summary: row %d %s: %w", line+1, eval.Columns[i], err)
			}
		}
		m, err := eval.FromValues(fold, vals)
		if err != nil {
			return nil, err
		}
		rows = append(rows, m)
	}
	return rows, nil
}

// ReadSummary loads a summary CSV from disk.
func ReadSummary(path string) ([]eval.FoldMetrics, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeCSV(f)
}

// formatMetric writes v the way pandas to_csv does: the shortest
// round-trip digits with a trailing ".0" on integral values, exponent form
// below 1e-4 and from 1e16, "inf"/"-inf", and NaN as an empty field.
func formatMetric(v float64) string {
	switch {
	case math.IsNaN(v):
		return ""
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	if abs := math.Abs(v); v != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// parseMetric reverses formatMetric. An empty field is NaN.
func parseMetric(s string) (float64, error) {
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// #endregion csv

// #region xlsx
// WriteXLSX writes the summary table to a workbook at path.
func WriteXLSX(path string, rows []eval.FoldMetrics) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Sheet1"
	for i, h := range Header() {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for r, row := range rows {
		vals := append([]any{r, row.Fold}, toAny(row.Values())...)
		for c, v := range vals {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	return f.SaveAs(path)
}

func toAny(vs []float64) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

// #endregion xlsx
