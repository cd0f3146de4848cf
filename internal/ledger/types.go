package ledger

import "time"

// #region status
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// #endregion status

// #region run-record
// RunRecord is one row of the runs table.
type RunRecord struct {
	RunID         string
	ExpCode       string
	ResultsDir    string
	K             int
	KStart        int
	KEnd          int
	SettingsJSON  string
	Status        string
	Reason        string
	SummaryPath   string
	AggregateJSON string
	StartedAt     time.Time
	FinishedAt    time.Time // zero while running
}

// #endregion run-record

// #region fold-record
// FoldRecord is one completed fold.
type FoldRecord struct {
	RunID      string
	Fold       int
	Seed       int64
	Split      int
	TestAUC    float64
	ValAUC     float64
	TestAcc    float64
	ValAcc     float64
	ResultPath string
	CreatedAt  time.Time
}

// #endregion fold-record
