// Package forwarder multiplexes LineEvents from every Collector into
// Batches, on a size trigger or a flush-interval tick, and hands each
// Batch to the Streamer over a bounded channel.
package forwarder

import (
	"context"
	"time"

	"github.com/sysflow-telemetry/logshipper/internal/logging"
	"github.com/sysflow-telemetry/logshipper/internal/logline"
	"github.com/sysflow-telemetry/logshipper/internal/message"
)

// Forwarder owns a single in-flight buffer of LineEvents awaiting their
// next flush. It is not safe for concurrent use; Run is meant to be its
// only caller.
type Forwarder struct {
	in  <-chan logline.LineEvent
	out chan<- message.Batch

	batchSize     int
	flushInterval time.Duration

	buffer []logline.LineEvent
}

// New creates a Forwarder reading LineEvents from in and writing Batches
// to out. batchSize triggers an immediate flush once reached; flushInterval
// bounds how long a partial batch waits before being sent anyway.
func New(in <-chan logline.LineEvent, out chan<- message.Batch, batchSize int, flushInterval time.Duration) *Forwarder {
	return &Forwarder{
		in:            in,
		out:           out,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		buffer:        make([]logline.LineEvent, 0, batchSize),
	}
}

// Run consumes from in and produces Batches on out until ctx is cancelled
// or in is closed, flushing any partial batch before returning. There is no
// spooling or retry at this layer: a blocked out channel blocks Run, which
// propagates backpressure to every Collector.
func (f *Forwarder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.flushInterval)
	defer ticker.Stop()
	defer close(f.out)

	for {
		select {
		case <-ctx.Done():
			f.flush(context.Background())
			return

		case le, ok := <-f.in:
			if !ok {
				f.flush(context.Background())
				return
			}
			f.buffer = append(f.buffer, le)
			if len(f.buffer) >= f.batchSize {
				f.flush(ctx)
			}

		case <-ticker.C:
			if len(f.buffer) > 0 {
				f.flush(ctx)
			}
		}
	}
}

// flush sends the accumulated buffer as one Batch, blocking on out. The
// caller chooses ctx: a cancellable ctx during normal operation, so a full
// downstream channel doesn't wedge shutdown forever; context.Background()
// for the final drain, which is expected to complete because the Streamer
// outlives the Forwarder in the shutdown order.
func (f *Forwarder) flush(ctx context.Context) {
	if len(f.buffer) == 0 {
		return
	}
	batch := message.NewBatch(f.buffer)
	f.buffer = make([]logline.LineEvent, 0, f.batchSize)

	select {
	case f.out <- batch:
		logging.L.Debugw("flushed batch", "batch_id", batch.BatchID, "lines", batch.Len())
	case <-ctx.Done():
		logging.L.Warnw("dropped batch on shutdown, downstream unavailable", "batch_id", batch.BatchID, "lines", batch.Len())
	}
}
