package collab

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/apperr"
	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/eval"
)

// #region client-struct
// Client talks to the Python CLAM service that owns the fold loader and
// the evaluator.
type Client struct {
	conn   grpc.ClientConnInterface
	closer io.Closer
}

// #endregion client-struct

// #region constructor
// NewClient connects to the collaborator at addr.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, apperr.Collaborator(fmt.Sprintf("grpc dial %s", addr), err)
	}
	return &Client{conn: conn, closer: conn}, nil
}

// NewClientWithConn wraps an existing connection. Used for testing without
// a live service.
func NewClientWithConn(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection if the client owns it.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// #endregion close

// #region check
// Check asks the standard health service whether the fold service is up.
func (c *Client) Check(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return apperr.Collaborator("health check", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return apperr.Collaborator("health check", fmt.Errorf("%s is %s", ServiceName, resp.GetStatus()))
	}
	return nil
}

// #endregion check

// #region release-cache
// ReleaseCache frees cached accelerator memory on the collaborator side.
func (c *Client) ReleaseCache(ctx context.Context) error {
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, methodReleaseCache, &structpb.Struct{}, resp); err != nil {
		return apperr.Collaborator("release cache rpc", err)
	}
	return nil
}

// #endregion release-cache

// #region load-fold
// LoadFold builds the train/val/test loaders for one split manifest.
func (c *Client) LoadFold(ctx context.Context, req LoadRequest) (Datasets, error) {
	args, err := structpb.NewStruct(req.Args)
	if err != nil {
		return Datasets{}, fmt.Errorf("encode args: %w", err)
	}
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		"data_dir":       structpb.NewStringValue(req.DataDir),
		"splitter_path":  structpb.NewStringValue(req.SplitterPath),
		"bag_size":       structpb.NewNumberValue(float64(req.BagSize)),
		"label_csv_path": structpb.NewStringValue(req.LabelCSVPath),
		"split_num":      structpb.NewNumberValue(float64(req.SplitNum)),
		"seed":           structpb.NewNumberValue(float64(req.Seed)),
		"deterministic":  structpb.NewBoolValue(req.Deterministic),
		"args":           structpb.NewStructValue(args),
	}}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, methodLoadFold, in, out); err != nil {
		return Datasets{}, apperr.Collaborator("load fold rpc", err)
	}

	handle := out.GetFields()["handle"].GetStringValue()
	if handle == "" {
		return Datasets{}, apperr.Collaborator("load fold rpc", fmt.Errorf("no dataset handle for %s", req.SplitterPath))
	}
	return Datasets{
		Handle:    handle,
		TrainSize: intField(out, "train_size"),
		ValSize:   intField(out, "val_size"),
		TestSize:  intField(out, "test_size"),
	}, nil
}

// #endregion load-fold

// #region test
// Test evaluates the fold model and returns its result record and metrics.
func (c *Client) Test(ctx context.Context, req TestRequest) (FoldOutcome, error) {
	args, err := structpb.NewStruct(req.Args)
	if err != nil {
		return FoldOutcome{}, fmt.Errorf("encode args: %w", err)
	}
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		"handle":        structpb.NewStringValue(req.Datasets.Handle),
		"fold":          structpb.NewNumberValue(float64(req.Fold)),
		"seed":          structpb.NewNumberValue(float64(req.Seed)),
		"deterministic": structpb.NewBoolValue(req.Deterministic),
		"args":          structpb.NewStructValue(args),
	}}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, methodTest, in, out); err != nil {
		return FoldOutcome{}, apperr.Collaborator("test rpc", err)
	}

	values := make([]float64, len(eval.Columns))
	for i, col := range eval.Columns {
		v, ok := out.GetFields()[col]
		if !ok {
			return FoldOutcome{}, apperr.Collaborator("test rpc", fmt.Errorf("fold %d: response missing %s", req.Fold, col))
		}
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
			return FoldOutcome{}, apperr.Collaborator("test rpc", fmt.Errorf("fold %d: %s is not a number", req.Fold, col))
		}
		values[i] = v.GetNumberValue()
	}
	metrics, err := eval.FromValues(req.Fold, values)
	if err != nil {
		return FoldOutcome{}, err
	}

	raw, err := base64.StdEncoding.DecodeString(out.GetFields()["results_pkl"].GetStringValue())
	if err != nil {
		return FoldOutcome{}, apperr.Collaborator("test rpc", fmt.Errorf("fold %d: decode results: %w", req.Fold, err))
	}
	if len(raw) == 0 {
		return FoldOutcome{}, apperr.Collaborator("test rpc", fmt.Errorf("fold %d: empty result record", req.Fold))
	}

	return FoldOutcome{Results: raw, Metrics: metrics}, nil
}

// #endregion test

// #region helpers
func intField(s *structpb.Struct, key string) int {
	return int(s.GetFields()[key].GetNumberValue())
}

// #endregion helpers
