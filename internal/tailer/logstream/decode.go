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
	"expvar"
	"unicode/utf8"

	"github.com/sysflow-telemetry/logshipper/internal/logline"
)

// logLines counts the number of lines read per log file.
var logLines = expvar.NewMap("log_lines_total")

// decodeAndSend transforms the byte array `b` into unicode in `partial`, sending to lines as each newline is decoded.
func decodeAndSend(ctx context.Context, lines chan<- logline.LineEvent, label string, n int, b []byte, partial *bytes.Buffer) {
	var (
		r     rune
		width int
	)
	for i := 0; i < len(b) && i < n; i += width {
		r, width = utf8.DecodeRune(b[i:])
		// Most file-based log sources will end with \n on Unixlike systems.
		// On Windows they appear to be both \r\n. We assume \r only occurs
		// at the end of a line and eat it.
		switch {
		case r == '\r':
			// nom
		case r == '\n':
			sendLine(ctx, label, partial, lines)
		default:
			partial.WriteRune(r)
		}
	}
}

func sendLine(ctx context.Context, label string, partial *bytes.Buffer, lines chan<- logline.LineEvent) {
	logLines.Add(label, 1)
	select {
	case lines <- logline.New(label, partial.String()):
	case <-ctx.Done():
	}
	partial.Reset()
}
