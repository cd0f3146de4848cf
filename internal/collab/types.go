package collab

import (
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/eval"
)

// #region service
// ServiceName is the gRPC service hosting the CLAM loader and evaluator.
const ServiceName = "clam.v1.FoldService"

const (
	methodReleaseCache = "/" + ServiceName + "/ReleaseCache"
	methodLoadFold     = "/" + ServiceName + "/LoadFold"
	methodTest         = "/" + ServiceName + "/Test"
)

// #endregion service

// #region requests
// LoadRequest asks the collaborator for train/val/test loaders of one split.
type LoadRequest struct {
	DataDir       string
	SplitterPath  string
	BagSize       int
	LabelCSVPath  string
	SplitNum      int
	Seed          int64
	Deterministic bool
	Args          map[string]any
}

// TestRequest runs the trained fold model over previously loaded datasets.
type TestRequest struct {
	Datasets      Datasets
	Fold          int
	Seed          int64
	Deterministic bool
	Args          map[string]any
}

// #endregion requests

// #region responses
// Datasets is the collaborator-side handle to a fold's loaders.
type Datasets struct {
	Handle    string
	TrainSize int
	ValSize   int
	TestSize  int
}

// FoldOutcome is what the evaluator returns for one fold. Results is the
// serialized result record, kept byte-for-byte.
type FoldOutcome struct {
	Results []byte
	Metrics eval.FoldMetrics
}

// #endregion responses
