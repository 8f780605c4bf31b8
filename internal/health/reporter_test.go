package health_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sysflow-telemetry/logshipper/internal/health"
	"github.com/sysflow-telemetry/logshipper/internal/rpcapi"
)

type fakeReporter struct {
	calls int32
}

func (f *fakeReporter) Heartbeat(ctx context.Context, req *rpcapi.HeartbeatRequest) (*rpcapi.HeartbeatResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	return &rpcapi.HeartbeatResponse{Acknowledged: true}, nil
}

func TestReporterBeatsOnInterval(t *testing.T) {
	fr := &fakeReporter{}
	r := health.New(fr, "agent-1", 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&fr.calls) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&fr.calls) < 2 {
		t.Fatalf("expected at least 2 heartbeats, got %d", fr.calls)
	}
}
