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

// Package logline provides the data structure for a single appended log
// line, from the moment it is read off disk to the moment it is handed to
// the forwarder.
// Adapted from https://github.com/google/mtail/tree/main/internal
package logline

import "time"

// LineEvent is one newline-terminated unit appended to a tailed source.
// Immutable once constructed.
type LineEvent struct {
	Label      string    // Source tag from configuration (SourceSpec.Label).
	Line       string    // Raw text of the line, newline stripped.
	ObservedAt time.Time // Wall-clock time at read time.
}

// New creates a LineEvent observed at the current time.
func New(label, line string) LineEvent {
	return LineEvent{Label: label, Line: line, ObservedAt: time.Now()}
}
