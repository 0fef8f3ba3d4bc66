package control

import (
	"context"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/signalsfoundry/rumor-routing-sim/internal/observability"
)

type fakeState struct {
	running, ended bool
	tick           int
}

func (f *fakeState) Running() bool    { return f.running }
func (f *fakeState) Ended() bool      { return f.ended }
func (f *fakeState) CurrentTime() int { return f.tick }

func startServer(t *testing.T, rpc *observability.RPCCollector) (*Server, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(nil, rpc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return srv, healthpb.NewHealthClient(conn)
}

func checkStatus(t *testing.T, client healthpb.HealthClient) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: FieldService})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	return resp.GetStatus()
}

func TestHealthMirrorsFieldLifecycle(t *testing.T) {
	srv, client := startServer(t, nil)
	st := &fakeState{}

	if got := checkStatus(t, client); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("before start: %v", got)
	}

	st.running = true
	srv.Listener(st)(1)
	if got := checkStatus(t, client); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("while running: %v", got)
	}

	st.running, st.ended = false, true
	srv.Sync(st)
	if got := checkStatus(t, client); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("after end: %v", got)
	}
}

func TestUnknownServiceIsNotFound(t *testing.T) {
	_, client := startServer(t, nil)
	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "nope"})
	if err == nil {
		t.Fatalf("expected an error for an unknown service")
	}
}

func TestControlRPCsAreCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	rpc, err := observability.NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}
	_, client := startServer(t, rpc)
	checkStatus(t, client)
	checkStatus(t, client)

	got := testutil.ToFloat64(rpc.RPCRequests.WithLabelValues("Health", "Check", "OK"))
	if got != 2 {
		t.Fatalf("control_requests_total = %v, want 2", got)
	}
}
