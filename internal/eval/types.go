package eval

// #region fold-metrics
// FoldMetrics holds the four scalars the evaluator reports for one fold.
type FoldMetrics struct {
	Fold    int     `json:"fold"`
	TestAUC float64 `json:"test_auc"`
	ValAUC  float64 `json:"val_auc"`
	TestAcc float64 `json:"test_acc"`
	ValAcc  float64 `json:"val_acc"`
}

// #endregion fold-metrics

// #region metric-summary
// MetricSummary aggregates one metric across folds.
type MetricSummary struct {
	Name string  `json:"name"`
	N    int     `json:"n"` // folds with a finite value
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`  // sample standard deviation
	CI95 float64 `json:"ci95"` // Student-t half-width
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Summary is the cross-fold aggregate, one entry per metric column.
type Summary struct {
	Folds   int             `json:"folds"`
	Metrics []MetricSummary `json:"metrics"`
}

// Metric returns the named summary and whether it exists.
func (s Summary) Metric(name string) (MetricSummary, bool) {
	for _, m := range s.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return MetricSummary{}, false
}

// #endregion metric-summary
