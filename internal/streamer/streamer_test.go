package streamer_test

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sysflow-telemetry/logshipper/internal/logline"
	"github.com/sysflow-telemetry/logshipper/internal/message"
	"github.com/sysflow-telemetry/logshipper/internal/rpcapi"
	"github.com/sysflow-telemetry/logshipper/internal/streamer"
)

type fakeStream struct {
	sendErrs []error
	sent     int
}

func (f *fakeStream) Send(batch *rpcapi.LogBatch) error {
	var err error
	if f.sent < len(f.sendErrs) {
		err = f.sendErrs[f.sent]
	}
	f.sent++
	return err
}

func (f *fakeStream) CloseAndRecv() (*rpcapi.Ack, error) {
	return &rpcapi.Ack{Accepted: true}, nil
}

type fakeUploader struct {
	opens   int
	streams []*fakeStream
}

func (f *fakeUploader) OpenLogStream(ctx context.Context) (rpcapi.LogStreamer, error) {
	s := f.streams[f.opens]
	f.opens++
	return s, nil
}

type fakeTokens struct {
	refreshCalls  int
	registerCalls int
}

func (f *fakeTokens) Refresh(ctx context.Context) error {
	f.refreshCalls++
	return nil
}

func (f *fakeTokens) Register(ctx context.Context) error {
	f.registerCalls++
	return nil
}

func newBatch(label, line string) message.Batch {
	return message.NewBatch([]logline.LineEvent{logline.New(label, line)})
}

func TestStreamerRecoversAfterSingleUnauthenticated(t *testing.T) {
	s1 := &fakeStream{sendErrs: []error{status.Error(codes.Unauthenticated, "expired")}}
	s2 := &fakeStream{}
	up := &fakeUploader{streams: []*fakeStream{s1, s2}}
	tok := &fakeTokens{}

	in := make(chan message.Batch, 1)
	str := streamer.New(in, up, tok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		str.Run(ctx)
		close(done)
	}()

	in <- newBatch("app", "line")
	time.Sleep(50 * time.Millisecond)

	if tok.refreshCalls != 1 {
		t.Errorf("expected 1 refresh call, got %d", tok.refreshCalls)
	}
	if tok.registerCalls != 0 {
		t.Errorf("expected no register call on single unauthenticated failure, got %d", tok.registerCalls)
	}
	if got := str.State(); got != streamer.Streaming {
		t.Errorf("expected Streaming state after successful retry, got %s", got)
	}

	cancel()
	<-done
}

func TestStreamerEscalatesToRegisterOnRepeatedUnauthenticated(t *testing.T) {
	unauth := status.Error(codes.Unauthenticated, "expired")
	s1 := &fakeStream{sendErrs: []error{unauth}}
	s2 := &fakeStream{sendErrs: []error{unauth}}
	s3 := &fakeStream{}
	up := &fakeUploader{streams: []*fakeStream{s1, s2, s3}}
	tok := &fakeTokens{}

	in := make(chan message.Batch, 1)
	str := streamer.New(in, up, tok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		str.Run(ctx)
		close(done)
	}()

	in <- newBatch("app", "line")
	time.Sleep(50 * time.Millisecond)

	if tok.refreshCalls != 1 {
		t.Errorf("expected 1 refresh call, got %d", tok.refreshCalls)
	}
	if tok.registerCalls != 1 {
		t.Errorf("expected 1 register call after second unauthenticated failure, got %d", tok.registerCalls)
	}
	if got := str.State(); got != streamer.Streaming {
		t.Errorf("expected Streaming state after register-recovered retry, got %s", got)
	}

	cancel()
	<-done
}

func TestStreamerDrainsOnCancellation(t *testing.T) {
	s1 := &fakeStream{}
	up := &fakeUploader{streams: []*fakeStream{s1}}
	tok := &fakeTokens{}

	in := make(chan message.Batch, 2)
	str := streamer.New(in, up, tok)

	in <- newBatch("app", "buffered-1")
	in <- newBatch("app", "buffered-2")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		str.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if s1.sent != 2 {
		t.Errorf("expected both buffered batches drained and sent, got %d", s1.sent)
	}
	if got := str.State(); got != streamer.Closed {
		t.Errorf("expected Closed state, got %s", got)
	}
}
