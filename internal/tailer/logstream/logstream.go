//
// Copyright (C) 2022 IBM Corporation.
//
// Authors:
// Frederico Araujo <frederico.araujo@ibm.com>
// Teryl Taylor <terylt@ibm.com>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logstream makes one pathname on disk look like one perpetual
// source of log lines, even though the underlying file objects are
// truncated or rotated out from under the reader.
// Adapted from https://github.com/google/mtail/tree/main/internal
package logstream

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sysflow-telemetry/logshipper/internal/logline"
	"github.com/sysflow-telemetry/logshipper/internal/waker"
)

var (
	// logErrors counts the IO errors encountered per log.
	logErrors = expvar.NewMap("log_errors_total")
	// logOpens counts the opens of new log file descriptors.
	logOpens = expvar.NewMap("log_opens_total")
	// logCloses counts the closes of old log file descriptors.
	logCloses = expvar.NewMap("log_closes_total")
)

// LogStream tails a single pathname for new lines.
type LogStream interface {
	LastReadTime() time.Time // Return the time when the last log line was read from the source.
	Stop()                   // Ask to gracefully stop the stream; the stream keeps reading until EOF and then completes.
	IsComplete() bool        // True if the logstream has completed work and cannot recover. The caller should clean up this logstream, creating a new one on the pathname if it reappears.
}

// defaultReadBufferSize the size of the buffer for reading bytes into.
const defaultReadBufferSize = 4096

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
)

// New creates a LogStream from the regular file located at `pathname`. The
// LogStream watches `ctx` for cancellation and notifies `wg` when done.
// Decoded lines are tagged with `label` and sent to the `lines` channel.
// With `seekToStart` the file is read from its beginning; otherwise reading
// starts at its current end.
func New(ctx context.Context, wg *sync.WaitGroup, wk waker.Waker, pathname, label string, lines chan<- logline.LineEvent, seekToStart bool) (LogStream, error) {
	fi, err := os.Stat(pathname)
	if err != nil {
		logErrors.Add(pathname, 1)
		return nil, err
	}
	switch m := fi.Mode(); {
	case m.IsRegular():
		return newFileStream(ctx, wg, wk, pathname, label, fi, lines, seekToStart)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, pathname)
	}
}
