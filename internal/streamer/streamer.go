// Package streamer owns the single, long-lived client-streaming RPC that
// carries every Batch to the collection service, including auth-failure
// recovery and reconnect-on-broken-stream.
//
// Grounded on the lazy stream initialization and status-code-driven error
// classification in dwarri-gazette's broker/client.Reader: "an error
// coming off the stream means the stream is dead."
package streamer

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sysflow-telemetry/logshipper/internal/logging"
	"github.com/sysflow-telemetry/logshipper/internal/message"
	"github.com/sysflow-telemetry/logshipper/internal/rpcapi"
)

// State is the Streamer's externally-observable lifecycle stage.
type State int

const (
	Idle State = iota
	Streaming
	Degraded
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Degraded:
		return "degraded"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// uploader opens the client-streaming upload call.
type uploader interface {
	OpenLogStream(ctx context.Context) (rpcapi.LogStreamer, error)
}

// credentialRefresher is the subset of the Token Manager the Streamer
// drives during auth recovery.
type credentialRefresher interface {
	Refresh(ctx context.Context) error
	Register(ctx context.Context) error
}

// Streamer consumes Batches from a single channel and uploads them over
// one long-lived call, recovering from transport failures and escalating
// through refresh-then-register on repeated auth failures.
type Streamer struct {
	in     <-chan message.Batch
	client uploader
	tokens credentialRefresher

	mu     sync.Mutex
	state  State
	stream rpcapi.LogStreamer
}

// New creates a Streamer reading Batches from in.
func New(in <-chan message.Batch, client uploader, tokens credentialRefresher) *Streamer {
	return &Streamer{in: in, client: client, tokens: tokens, state: Idle}
}

// State returns the Streamer's current lifecycle stage.
func (s *Streamer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Streamer) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run consumes Batches until ctx is cancelled or in is closed, draining
// whatever remains in the channel before returning.
func (s *Streamer) Run(ctx context.Context) {
	defer s.setState(Closed)
	defer s.closeStream()
	for {
		select {
		case <-ctx.Done():
			s.drain(context.Background())
			return
		case batch, ok := <-s.in:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, batch)
		}
	}
}

// drain sends whatever Batches are already buffered in the channel, then
// returns once it's empty — it never blocks waiting for more.
func (s *Streamer) drain(ctx context.Context) {
	for {
		select {
		case batch, ok := <-s.in:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, batch)
		default:
			return
		}
	}
}

// sendWithRetry implements the Streamer's auth-failure escalation ladder:
// send, and on an "unauthenticated" response, refresh and retry once; if
// that also fails with "unauthenticated", re-register and retry once
// more; a batch that still fails after that is dropped and logged.
func (s *Streamer) sendWithRetry(ctx context.Context, batch message.Batch) {
	err := s.trySend(ctx, batch)
	if err == nil {
		s.setState(Streaming)
		return
	}
	if !isUnauthenticated(err) {
		logging.L.Warnw("stream send failed, re-establishing and retrying once", "batch_id", batch.BatchID, "error", err)
		s.setState(Degraded)
		s.resetStream()

		if err := s.trySend(ctx, batch); err != nil {
			logging.L.Errorw("dropping batch, retry on fresh stream also failed", "batch_id", batch.BatchID, "error", err)
			s.setState(Degraded)
			s.resetStream()
			return
		}
		s.setState(Streaming)
		return
	}

	s.setState(Degraded)
	s.resetStream()
	if rerr := s.tokens.Refresh(ctx); rerr != nil {
		logging.L.Errorw("credential refresh failed after unauthenticated batch", "error", rerr)
	}

	err = s.trySend(ctx, batch)
	if err == nil {
		s.setState(Streaming)
		return
	}
	if !isUnauthenticated(err) {
		logging.L.Warnw("retry send failed", "batch_id", batch.BatchID, "error", err)
		s.setState(Degraded)
		s.resetStream()
		return
	}

	s.resetStream()
	if rerr := s.tokens.Register(ctx); rerr != nil {
		logging.L.Errorw("re-register failed after second unauthenticated batch", "error", rerr)
	}

	if err := s.trySend(ctx, batch); err != nil {
		logging.L.Errorw("dropping batch, still unauthenticated after refresh and re-register", "batch_id", batch.BatchID, "error", err)
		s.setState(Degraded)
		s.resetStream()
		return
	}
	s.setState(Streaming)
}

// trySend lazily (re-)establishes the stream, then sends one batch.
func (s *Streamer) trySend(ctx context.Context, batch message.Batch) error {
	if s.stream == nil {
		st, err := s.client.OpenLogStream(ctx)
		if err != nil {
			return err
		}
		s.stream = st
	}
	return s.stream.Send(toWire(batch))
}

func (s *Streamer) resetStream() {
	s.stream = nil
}

// closeStream half-closes and acknowledges the current upload call, if one
// is open, so the server's Ack is observed before the process exits.
func (s *Streamer) closeStream() {
	if s.stream == nil {
		return
	}
	if _, err := s.stream.CloseAndRecv(); err != nil {
		logging.L.Warnw("closing upload stream", "error", err)
	}
	s.stream = nil
}

func isUnauthenticated(err error) bool {
	return status.Code(err) == codes.Unauthenticated
}

func toWire(batch message.Batch) *rpcapi.LogBatch {
	logs := make([]rpcapi.LogLine, len(batch.Logs))
	for i, le := range batch.Logs {
		logs[i] = rpcapi.LogLine{Label: le.Label, Line: le.Line, ObservedAt: le.ObservedAt}
	}
	return &rpcapi.LogBatch{
		BatchID:     batch.BatchID.String(),
		AssembledAt: batch.AssembledAt,
		Logs:        logs,
	}
}
