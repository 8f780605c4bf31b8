// Package tailer owns one Collector per configured source: a SourceSpec
// names a file to tail, and the Collector turns its appended lines into a
// perpetual stream of LineEvents, surviving rotation, truncation, and
// periods where the source path doesn't exist yet.
package tailer

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/sysflow-telemetry/logshipper/internal/logging"
	"github.com/sysflow-telemetry/logshipper/internal/logline"
	"github.com/sysflow-telemetry/logshipper/internal/tailer/logstream"
	"github.com/sysflow-telemetry/logshipper/internal/waker"
)

// retryInterval bounds how long a Collector waits before re-checking a
// source path that doesn't exist or a stream that has completed, when no
// filesystem notification arrives in the meantime.
const retryInterval = 2 * time.Second

// SourceSpec names one log source by configuration. (Label, Path) is the
// identity two specs are compared by.
type SourceSpec struct {
	Label string
	Path  string
}

// Collector tails one SourceSpec for its lifetime, which spans the
// process: an unreadable or missing path is never fatal, the Collector
// simply waits and retries.
type Collector struct {
	spec SourceSpec

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCollector starts tailing spec in the background. Lines decoded from
// the source are sent to the shared `lines` channel, tagged with
// spec.Label; a full channel blocks the underlying read, which is the
// intended backpressure signal.
func NewCollector(ctx context.Context, wg *sync.WaitGroup, wk waker.Waker, spec SourceSpec, lines chan<- logline.LineEvent) *Collector {
	cctx, cancel := context.WithCancel(ctx)
	c := &Collector{spec: spec, cancel: cancel, done: make(chan struct{})}
	wg.Add(1)
	go c.run(cctx, wg, wk, lines)
	return c
}

// Stop asks the Collector to stop tailing. It does not wait for
// completion; use the WaitGroup passed to NewCollector for that.
func (c *Collector) Stop() {
	c.cancel()
}

// Done returns a channel that is closed once the Collector's run loop has
// exited, after the final underlying stream (if any) has itself
// completed.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) run(ctx context.Context, wg *sync.WaitGroup, wk waker.Waker, lines chan<- logline.LineEvent) {
	defer wg.Done()
	defer close(c.done)

	var innerWG sync.WaitGroup
	defer innerWG.Wait()

	// A source present at startup is tailed from its current end. A source
	// that was missing, or whose stream completed, is a new file once it
	// (re)appears, so it is read from the start.
	seekToStart := false
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ls, err := logstream.New(ctx, &innerWG, wk, c.spec.Path, c.spec.Label, lines, seekToStart)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				seekToStart = true
			}
			logging.L.Debugw("collector waiting for source", "label", c.spec.Label, "path", c.spec.Path, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-wk.Wake():
			case <-time.After(retryInterval):
			}
			continue
		}

		for !ls.IsComplete() {
			select {
			case <-ctx.Done():
				ls.Stop()
				innerWG.Wait()
				return
			case <-wk.Wake():
			case <-time.After(retryInterval):
			}
		}
		// The underlying stream completed (source removed, or a graceful
		// Stop). Loop back and attempt to pick the source back up, in case
		// it reappears under the same path.
		seekToStart = true
	}
}
