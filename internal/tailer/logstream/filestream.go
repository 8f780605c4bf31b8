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

package logstream

import (
	"bytes"
	"context"
	"errors"
	"expvar"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/sysflow-telemetry/logshipper/internal/logging"
	"github.com/sysflow-telemetry/logshipper/internal/logline"
	"github.com/sysflow-telemetry/logshipper/internal/waker"
)

// fileTruncates counts the truncations of a file stream.
var fileTruncates = expvar.NewMap("file_truncates_total")

// sameFile reports whether a and b are the same underlying file, using the
// platform's stable file identity when available and falling back to
// os.SameFile otherwise.
func sameFile(a, b os.FileInfo) bool {
	if aid, ok := stableFileID(a); ok {
		if bid, ok := stableFileID(b); ok {
			return aid == bid
		}
	}
	return os.SameFile(a, b)
}

// fileStream streams log lines from a regular file on the file system. The
// file is appended to by another process, and is either rotated or
// truncated by that (or yet another) process. Rotation implies that a new
// inode with the same name has been created; the old file descriptor stays
// valid until EOF, at which point it's considered completed. A truncation
// means the same file descriptor is used but the file offset is reset to 0.
// The latter is potentially lossy if the last logs aren't read before
// truncation occurs. When an EOF is read, the goroutine tests for both
// truncation and inode change and resets or spins off a new goroutine and
// closes itself down. The shared context is used for cancellation.
type fileStream struct {
	ctx   context.Context
	lines chan<- logline.LineEvent

	pathname string // Given name for the underlying file on the filesystem.
	label    string // Source tag applied to every LineEvent emitted.

	mu           sync.RWMutex // protects following fields.
	lastReadTime time.Time    // Last time a log line was read from this file.
	completed    bool         // The filestream is completed and can no longer be used.

	stopOnce sync.Once     // Ensure stopChan only closed once.
	stopChan chan struct{} // Close to start graceful shutdown.
}

// newFileStream creates a new log stream from a regular file.
func newFileStream(ctx context.Context, wg *sync.WaitGroup, wk waker.Waker, pathname, label string, fi os.FileInfo, lines chan<- logline.LineEvent, seekToStart bool) (LogStream, error) {
	fs := &fileStream{ctx: ctx, pathname: pathname, label: label, lastReadTime: time.Now(), lines: lines, stopChan: make(chan struct{})}
	if err := fs.stream(ctx, wg, wk, fi, seekToStart); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *fileStream) LastReadTime() time.Time {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.lastReadTime
}

func (fs *fileStream) stream(ctx context.Context, wg *sync.WaitGroup, wk waker.Waker, fi os.FileInfo, seekToStart bool) error {
	fd, err := os.OpenFile(fs.pathname, os.O_RDONLY, 0o600)
	if err != nil {
		logErrors.Add(fs.pathname, 1)
		return err
	}
	logOpens.Add(fs.pathname, 1)
	logging.L.Debugf("%s: opened new file", fs.pathname)
	if !seekToStart {
		if _, err := fd.Seek(0, io.SeekEnd); err != nil {
			logErrors.Add(fs.pathname, 1)
			if cerr := fd.Close(); cerr != nil {
				logErrors.Add(fs.pathname, 1)
				logging.L.Warnw("close failed", "error", cerr)
			}
			return err
		}
		logging.L.Debugf("%s: seeked to end", fs.pathname)
	}
	b := make([]byte, defaultReadBufferSize)
	partial := bytes.NewBufferString("")
	started := make(chan struct{})
	var total int
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			logging.L.Debugf("%s: read total %d bytes", fs.pathname, total)
			if err := fd.Close(); err != nil {
				logErrors.Add(fs.pathname, 1)
				logging.L.Warnw("close failed", "error", err)
			}
			logCloses.Add(fs.pathname, 1)
		}()
		close(started)
		for {
			// Blocking read but regular files will return EOF straight away.
			count, err := fd.Read(b)

			if count > 0 {
				total += count
				decodeAndSend(ctx, fs.lines, fs.label, count, b[:count], partial)
				fs.mu.Lock()
				fs.lastReadTime = time.Now()
				fs.mu.Unlock()
			}

			if err != nil && err != io.EOF {
				logErrors.Add(fs.pathname, 1)
				// TODO: this could be generalised to check for any retryable
				// errors and end on unretriables; e.g. ESTALE looks
				// retryable.
				if errors.Is(err, syscall.ESTALE) {
					logging.L.Infow("reopening stream", "pathname", fs.pathname, "error", err)
					if nerr := fs.stream(ctx, wg, wk, fi, true); nerr != nil {
						logging.L.Warnw("reopen failed", "error", nerr)
					}
					// Close this stream.
					return
				}
				logging.L.Warnw("read error", "pathname", fs.pathname, "error", err)
			}

			// If we have read no bytes and are at EOF, check for truncation and rotation.
			if err == io.EOF && count == 0 {
				// Both rotation and truncation need to stat, so check for
				// rotation first. It is assumed that rotation is the more
				// common change pattern anyway.
				newfi, serr := os.Stat(fs.pathname)
				if serr != nil {
					// If this is a NotExist error, then we should wrap up
					// this goroutine. The Collector will create a new
					// logstream if the file is in the middle of a rotation
					// and gets recreated in the next moment. We can't rely
					// on the Collector to tell us we're deleted because it
					// can only tell us to Stop, which ends up racing against
					// our own detection of IsComplete.
					if os.IsNotExist(serr) {
						logging.L.Infow("source no longer exists, exiting", "pathname", fs.pathname)
						if partial.Len() > 0 {
							sendLine(ctx, fs.label, partial, fs.lines)
						}
						fs.mu.Lock()
						fs.completed = true
						fs.mu.Unlock()
						return
					}
					logErrors.Add(fs.pathname, 1)
					goto Sleep
				}
				if !sameFile(fi, newfi) {
					logging.L.Infow("rotation detected, following new inode", "pathname", fs.pathname)
					if err := fs.stream(ctx, wg, wk, newfi, true); err != nil {
						logging.L.Warnw("follow-rotation failed", "error", err)
					}
					// We're at EOF so there's nothing left to read here.
					return
				}
				currentOffset, serr := fd.Seek(0, io.SeekCurrent)
				if serr != nil {
					logErrors.Add(fs.pathname, 1)
					logging.L.Warnw("seek failed", "error", serr)
					continue
				}
				// We know that newfi is from the current file. Truncation
				// can only be detected if the new file is currently shorter
				// than the current seek offset. In test this can be a race,
				// but in production it's unlikely that a new file writes
				// more bytes than the previous one after rotation in the
				// time it takes us to notice.
				if newfi.Size() < currentOffset {
					// About to lose all remaining data because of the
					// truncate, so flush the accumulator.
					if partial.Len() > 0 {
						sendLine(ctx, fs.label, partial, fs.lines)
					}
					p, serr := fd.Seek(0, io.SeekStart)
					if serr != nil {
						logErrors.Add(fs.pathname, 1)
						logging.L.Warnw("seek failed", "error", serr)
					}
					logging.L.Debugf("%s: seeked to %d after truncation", fs.pathname, p)
					fileTruncates.Add(fs.pathname, 1)
					continue
				}
			}

			// No error implies there is more to read in this file so go
			// straight back to read unless it looks like context is Done.
			if err == nil && ctx.Err() == nil {
				continue
			}

		Sleep:
			// If we get here it's because we've stalled. First test to see
			// if it's time to exit.
			if err == io.EOF || ctx.Err() != nil {
				select {
				case <-fs.stopChan:
					logging.L.Debugf("%s: stream stopped, exiting", fs.pathname)
					if partial.Len() > 0 {
						sendLine(ctx, fs.label, partial, fs.lines)
					}
					fs.mu.Lock()
					fs.completed = true
					fs.mu.Unlock()
					return
				case <-ctx.Done():
					logging.L.Debugf("%s: stream cancelled, exiting", fs.pathname)
					if partial.Len() > 0 {
						sendLine(ctx, fs.label, partial, fs.lines)
					}
					fs.mu.Lock()
					fs.completed = true
					fs.mu.Unlock()
					return
				default:
					// keep going
				}
			}

			// Don't exit, instead yield and wait for a termination signal or
			// wakeup.
			select {
			case <-fs.stopChan:
				// We may have started waiting here when the stop signal
				// arrives, but since that wait the file may have been
				// written to. The file is not technically yet at EOF so we
				// need to go back and try one more read. We'll exit the
				// stream in the select stanza above.
			case <-ctx.Done():
				// Same for cancellation; this makes tests stable, but could
				// argue exiting immediately is less surprising. Assumption
				// is that this doesn't make a difference in production.
			case <-wk.Wake():
				// sleep until next Wake()
			}
		}
	}()

	<-started
	return nil
}

func (fs *fileStream) IsComplete() bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.completed
}

// Stop implements the LogStream interface.
func (fs *fileStream) Stop() {
	fs.stopOnce.Do(func() {
		close(fs.stopChan)
	})
}
