// Package message defines the unit of transport between the forwarder and
// the streamer: a bounded batch of log lines plus its delivery metadata.
package message

import (
	"time"

	"github.com/google/uuid"

	"github.com/sysflow-telemetry/logshipper/internal/logline"
)

// Batch is a size- or time-bounded group of LineEvents handed to the
// streamer for upload. BatchID lets the backend and the agent logs
// correlate a single upload attempt across retries.
type Batch struct {
	BatchID   uuid.UUID
	AssembledAt time.Time
	Logs      []logline.LineEvent
}

// NewBatch stamps a fresh BatchID and assembly timestamp over the given
// lines. The caller owns the slice; Batch does not copy it.
func NewBatch(lines []logline.LineEvent) Batch {
	return Batch{
		BatchID:     uuid.New(),
		AssembledAt: time.Now(),
		Logs:        lines,
	}
}

// Len reports the number of lines carried.
func (b Batch) Len() int {
	return len(b.Logs)
}

// Empty reports whether the batch carries no lines and can be discarded
// instead of uploaded.
func (b Batch) Empty() bool {
	return len(b.Logs) == 0
}
