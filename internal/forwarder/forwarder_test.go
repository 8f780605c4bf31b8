package forwarder_test

import (
	"context"
	"testing"
	"time"

	"github.com/sysflow-telemetry/logshipper/internal/forwarder"
	"github.com/sysflow-telemetry/logshipper/internal/logline"
	"github.com/sysflow-telemetry/logshipper/internal/message"
	"github.com/sysflow-telemetry/logshipper/internal/testutil"
)

func TestForwarderFlushesOnSize(t *testing.T) {
	in := make(chan logline.LineEvent, 10)
	out := make(chan message.Batch, 10)
	f := forwarder.New(in, out, 2, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	in <- logline.New("app", "one")
	in <- logline.New("app", "two")

	select {
	case b := <-out:
		testutil.ExpectNoDiff(t, 2, b.Len())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for size-triggered flush")
	}
}

func TestForwarderFlushesOnTick(t *testing.T) {
	in := make(chan logline.LineEvent, 10)
	out := make(chan message.Batch, 10)
	f := forwarder.New(in, out, 100, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	in <- logline.New("app", "solo")

	select {
	case b := <-out:
		testutil.ExpectNoDiff(t, 1, b.Len())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick-triggered flush")
	}
}

func TestForwarderFlushesOnShutdown(t *testing.T) {
	in := make(chan logline.LineEvent, 10)
	out := make(chan message.Batch, 10)
	f := forwarder.New(in, out, 100, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	in <- logline.New("app", "trailing")
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	select {
	case b := <-out:
		testutil.ExpectNoDiff(t, 1, b.Len())
	default:
		t.Fatal("expected final drain batch on shutdown")
	}
}
