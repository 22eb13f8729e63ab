package searchd

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func startBufServer(t *testing.T, store *RunStore, exec *RunExecutor) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterServices(srv, NewSearchGRPCServer(store, exec))
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return s
}

func TestGRPCServerGetAndList(t *testing.T) {
	store, exec := newTestExecutor(t, newFakeEvaluator(t, false))
	client := NewSearchServiceClient(startBufServer(t, store, exec))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := exec.Submit("g1", testConfigYAML(t, 2), 0); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	waitForStatus(t, store, "g1", StatusCompleted)

	resp, err := client.GetSearch(ctx, mustStruct(t, map[string]any{"id": "g1"}))
	if err != nil {
		t.Fatalf("GetSearch error: %v", err)
	}
	got := resp.AsMap()
	search := got["search"].(map[string]any)
	if search["status"] != string(StatusCompleted) {
		t.Fatalf("expected COMPLETED, got %v", search["status"])
	}
	if trials := got["trials"].([]any); len(trials) != 3 {
		t.Fatalf("expected 3 trials, got %d", len(trials))
	}

	list, err := client.ListSearches(ctx, mustStruct(t, map[string]any{"limit": 10, "status": "completed"}))
	if err != nil {
		t.Fatalf("ListSearches error: %v", err)
	}
	if searches := list.AsMap()["searches"].([]any); len(searches) != 1 {
		t.Fatalf("expected one search, got %d", len(searches))
	}

	list, err = client.ListSearches(ctx, &structpb.Struct{})
	if err != nil {
		t.Fatalf("ListSearches without filter error: %v", err)
	}
	if searches := list.AsMap()["searches"].([]any); len(searches) != 1 {
		t.Fatalf("expected one search, got %d", len(searches))
	}
}

func TestGRPCServerStop(t *testing.T) {
	ev := newFakeEvaluator(t, true)
	store, exec := newTestExecutor(t, ev)
	client := NewSearchServiceClient(startBufServer(t, store, exec))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := exec.Submit("g2", testConfigYAML(t, 4), 0); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	waitForStatus(t, store, "g2", StatusRunning)

	resp, err := client.StopSearch(ctx, mustStruct(t, map[string]any{"id": "g2"}))
	if err != nil {
		t.Fatalf("StopSearch error: %v", err)
	}
	if resp.AsMap()["search"].(map[string]any)["status"] != string(StatusCancelled) {
		t.Fatalf("expected CANCELLED, got %v", resp.AsMap())
	}

	_, err = client.StopSearch(ctx, mustStruct(t, map[string]any{"id": "g2"}))
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
}

func TestGRPCServerErrors(t *testing.T) {
	store, exec := newTestExecutor(t, newFakeEvaluator(t, false))
	client := NewSearchServiceClient(startBufServer(t, store, exec))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, tc := range []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"get without id", func() error { _, err := client.GetSearch(ctx, &structpb.Struct{}); return err }, codes.InvalidArgument},
		{"get missing", func() error {
			_, err := client.GetSearch(ctx, mustStruct(t, map[string]any{"id": "nope"}))
			return err
		}, codes.NotFound},
		{"stop without id", func() error { _, err := client.StopSearch(ctx, &structpb.Struct{}); return err }, codes.InvalidArgument},
		{"stop missing", func() error {
			_, err := client.StopSearch(ctx, mustStruct(t, map[string]any{"id": "nope"}))
			return err
		}, codes.NotFound},
		{"list bad status", func() error {
			_, err := client.ListSearches(ctx, mustStruct(t, map[string]any{"status": "bogus"}))
			return err
		}, codes.InvalidArgument},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := status.Code(tc.call()); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestGRPCHealth(t *testing.T) {
	store, exec := newTestExecutor(t, newFakeEvaluator(t, false))
	conn := startBufServer(t, store, exec)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: SearchServiceName})
	if err != nil {
		t.Fatalf("health check error: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", resp.Status)
	}
}
