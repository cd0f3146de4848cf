package eval

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"
)

// #region columns
// Column names as written to the summary table, in order.
const (
	ColTestAUC = "test_auc"
	ColValAUC  = "val_auc"
	ColTestAcc = "test_acc"
	ColValAcc  = "val_acc"
)

// Columns lists the metric columns in summary order.
var Columns = []string{ColTestAUC, ColValAUC, ColTestAcc, ColValAcc}

// Values returns the metrics in Columns order.
func (m FoldMetrics) Values() []float64 {
	return []float64{m.TestAUC, m.ValAUC, m.TestAcc, m.ValAcc}
}

// FromValues builds FoldMetrics from Columns-ordered values.
func FromValues(fold int, v []float64) (FoldMetrics, error) {
	if len(v) != len(Columns) {
		return FoldMetrics{}, fmt.Errorf("expected %d metric values, got %d", len(Columns), len(v))
	}
	return FoldMetrics{Fold: fold, TestAUC: v[0], ValAUC: v[1], TestAcc: v[2], ValAcc: v[3]}, nil
}

// #endregion columns

// #region aggregate
// Aggregate reduces per-fold metrics to mean, std and a 95% confidence
// half-width per column. Undefined values (NaN, for example an AUC over a
// single-class split) are skipped; N counts the folds that remain. Fewer
// than two remaining folds give zero spread.
func Aggregate(folds []FoldMetrics) Summary {
	out := Summary{Folds: len(folds)}
	if len(folds) == 0 {
		return out
	}

	cols := make([][]float64, len(Columns))
	for _, f := range folds {
		for i, v := range f.Values() {
			cols[i] = append(cols[i], v)
		}
	}

	for i, name := range Columns {
		out.Metrics = append(out.Metrics, summarize(name, cols[i]))
	}
	return out
}

func summarize(name string, data []float64) MetricSummary {
	ms := MetricSummary{Name: name}
	finite := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	ms.N = len(finite)
	if ms.N == 0 {
		return ms
	}
	ms.Mean, _ = stats.Mean(finite)
	ms.Min, _ = stats.Min(finite)
	ms.Max, _ = stats.Max(finite)
	if ms.N < 2 {
		return ms
	}
	ms.Std, _ = stats.StandardDeviationSample(finite)

	n := float64(ms.N)
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: n - 1}
	ms.CI95 = t.Quantile(0.975) * ms.Std / math.Sqrt(n)
	return ms
}

// #endregion aggregate
