package collab

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/adaptive-state/clam-eval/internal/apperr"
)

// #region fake-conn
type fakeConn struct {
	handlers map[string]func(in proto.Message) (proto.Message, error)
	methods  []string
	inputs   []proto.Message
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: map[string]func(proto.Message) (proto.Message, error){}}
}

func (f *fakeConn) Invoke(_ context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	f.methods = append(f.methods, method)
	in := args.(proto.Message)
	f.inputs = append(f.inputs, in)
	h, ok := f.handlers[method]
	if !ok {
		return fmt.Errorf("unimplemented method %s", method)
	}
	out, err := h(in)
	if err != nil {
		return err
	}
	proto.Merge(reply.(proto.Message), out)
	return nil
}

func (f *fakeConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("streams not supported")
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("structpb: %v", err)
	}
	return s
}

// #endregion fake-conn

// #region constructor-tests
func TestNewClientLazyDial(t *testing.T) {
	c, err := NewClient("localhost:0")
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewClientWithConnCloseIsNoop(t *testing.T) {
	c := NewClientWithConn(newFakeConn())
	if err := c.Close(); err != nil {
		t.Fatalf("expected nil close for injected conn, got %v", err)
	}
}

// #endregion constructor-tests

// #region check-tests
func TestCheckServing(t *testing.T) {
	conn := newFakeConn()
	conn.handlers["/grpc.health.v1.Health/Check"] = func(in proto.Message) (proto.Message, error) {
		req := in.(*healthpb.HealthCheckRequest)
		if req.GetService() != ServiceName {
			t.Errorf("expected service %s, got %s", ServiceName, req.GetService())
		}
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
	}

	if err := NewClientWithConn(conn).Check(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckNotServing(t *testing.T) {
	conn := newFakeConn()
	conn.handlers["/grpc.health.v1.Health/Check"] = func(proto.Message) (proto.Message, error) {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}

	err := NewClientWithConn(conn).Check(context.Background())
	if err == nil {
		t.Fatal("expected error for NOT_SERVING")
	}
	if !apperr.Is(err, apperr.CodeCollaborator) {
		t.Errorf("expected collaborator code, got %q", apperr.Code(err))
	}
}

// #endregion check-tests

// #region load-fold-tests
func TestLoadFold_Success(t *testing.T) {
	conn := newFakeConn()
	conn.handlers[methodLoadFold] = func(in proto.Message) (proto.Message, error) {
		return mustStruct(t, map[string]any{
			"handle": "fold-h1", "train_size": 270, "val_size": 30, "test_size": 129,
		}), nil
	}
	c := NewClientWithConn(conn)

	ds, err := c.LoadFold(context.Background(), LoadRequest{
		DataDir:       "/data/feats",
		SplitterPath:  "splits/task_camelyon16/splits_0.csv",
		BagSize:       512,
		LabelCSVPath:  "dataset_csv/camelyon16.csv",
		SplitNum:      0,
		Seed:          2025,
		Deterministic: true,
		Args:          map[string]any{"n_classes": 2, "inst_loss": nil},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds.Handle != "fold-h1" || ds.TrainSize != 270 || ds.ValSize != 30 || ds.TestSize != 129 {
		t.Errorf("unexpected datasets: %+v", ds)
	}

	sent := conn.inputs[0].(*structpb.Struct).AsMap()
	if sent["splitter_path"] != "splits/task_camelyon16/splits_0.csv" {
		t.Errorf("splitter_path not forwarded: %v", sent["splitter_path"])
	}
	if sent["split_num"] != float64(0) || sent["seed"] != float64(2025) || sent["deterministic"] != true {
		t.Errorf("seed/split not forwarded: %v", sent)
	}
	args := sent["args"].(map[string]any)
	if args["n_classes"] != float64(2) {
		t.Errorf("args not forwarded: %v", args)
	}
}

func TestLoadFold_RPCError(t *testing.T) {
	conn := newFakeConn()
	rpcErr := errors.New("FileNotFoundError: splits_0.csv")
	conn.handlers[methodLoadFold] = func(proto.Message) (proto.Message, error) { return nil, rpcErr }

	_, err := NewClientWithConn(conn).LoadFold(context.Background(), LoadRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, rpcErr) {
		t.Errorf("expected wrapped rpc error, got: %v", err)
	}
	if !apperr.Is(err, apperr.CodeCollaborator) {
		t.Errorf("expected collaborator code, got %q", apperr.Code(err))
	}
}

func TestLoadFold_MissingHandle(t *testing.T) {
	conn := newFakeConn()
	conn.handlers[methodLoadFold] = func(proto.Message) (proto.Message, error) {
		return &structpb.Struct{}, nil
	}

	if _, err := NewClientWithConn(conn).LoadFold(context.Background(), LoadRequest{}); err == nil {
		t.Fatal("expected error for missing handle")
	}
}

// #endregion load-fold-tests

// #region test-tests
func TestTest_Success(t *testing.T) {
	pkl := []byte{0x80, 0x04, 0x95, 0x00}
	conn := newFakeConn()
	conn.handlers[methodTest] = func(in proto.Message) (proto.Message, error) {
		req := in.(*structpb.Struct).AsMap()
		if req["handle"] != "h" || req["fold"] != float64(3) {
			t.Errorf("unexpected request: %v", req)
		}
		return mustStruct(t, map[string]any{
			"results_pkl": base64.StdEncoding.EncodeToString(pkl),
			"test_auc":    0.9375,
			"val_auc":     0.88,
			"test_acc":    0.8915,
			"val_acc":     0.8,
		}), nil
	}

	out, err := NewClientWithConn(conn).Test(context.Background(), TestRequest{
		Datasets: Datasets{Handle: "h"}, Fold: 3, Seed: 2026, Deterministic: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out.Results) != string(pkl) {
		t.Errorf("result bytes changed: %x", out.Results)
	}
	m := out.Metrics
	if m.Fold != 3 || m.TestAUC != 0.9375 || m.ValAUC != 0.88 || m.TestAcc != 0.8915 || m.ValAcc != 0.8 {
		t.Errorf("unexpected metrics: %+v", m)
	}
}

func TestTest_MissingMetric(t *testing.T) {
	conn := newFakeConn()
	conn.handlers[methodTest] = func(proto.Message) (proto.Message, error) {
		return mustStruct(t, map[string]any{
			"results_pkl": base64.StdEncoding.EncodeToString([]byte("x")),
			"test_auc":    0.9, "val_auc": 0.8, "test_acc": 0.7,
		}), nil
	}

	_, err := NewClientWithConn(conn).Test(context.Background(), TestRequest{Fold: 1})
	if err == nil {
		t.Fatal("expected error for missing val_acc")
	}
}

func TestTest_NonNumericMetric(t *testing.T) {
	conn := newFakeConn()
	conn.handlers[methodTest] = func(proto.Message) (proto.Message, error) {
		return mustStruct(t, map[string]any{
			"results_pkl": base64.StdEncoding.EncodeToString([]byte("x")),
			"test_auc":    "nan", "val_auc": 0.8, "test_acc": 0.7, "val_acc": 0.6,
		}), nil
	}

	if _, err := NewClientWithConn(conn).Test(context.Background(), TestRequest{}); err == nil {
		t.Fatal("expected error for string metric")
	}
}

func TestTest_EmptyResults(t *testing.T) {
	conn := newFakeConn()
	conn.handlers[methodTest] = func(proto.Message) (proto.Message, error) {
		return mustStruct(t, map[string]any{
			"test_auc": 0.9, "val_auc": 0.8, "test_acc": 0.7, "val_acc": 0.6,
		}), nil
	}

	_, err := NewClientWithConn(conn).Test(context.Background(), TestRequest{})
	if err == nil {
		t.Fatal("expected error for empty result record")
	}
	if !apperr.Is(err, apperr.CodeCollaborator) {
		t.Errorf("expected collaborator code, got %q", apperr.Code(err))
	}
}

// #endregion test-tests

// #region release-cache-tests
func TestReleaseCache(t *testing.T) {
	conn := newFakeConn()
	conn.handlers[methodReleaseCache] = func(proto.Message) (proto.Message, error) { return &structpb.Struct{}, nil }
	c := NewClientWithConn(conn)

	if err := c.ReleaseCache(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conn.methods) != 1 || conn.methods[0] != methodReleaseCache {
		t.Errorf("unexpected calls: %v", conn.methods)
	}

	delete(conn.handlers, methodReleaseCache)
	if err := c.ReleaseCache(context.Background()); err == nil {
		t.Fatal("expected error when rpc fails")
	}
}

// #endregion release-cache-tests
