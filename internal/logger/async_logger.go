// Copyright 2025 Google LLC
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

package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AsyncLogger decouples request-handling goroutines (the server's read
// pipeline in particular, per spec §4.6) from the cost of a rotated-file
// write: Write copies the message onto a bounded channel and returns
// immediately; a single background goroutine drains it onto the
// lumberjack.Logger. A full buffer drops the message rather than
// blocking the caller, since a slow disk must never throttle RPC
// handling.
type AsyncLogger struct {
	out    *lumberjack.Logger
	buf    chan []byte
	done   chan struct{}
	once   sync.Once
	closed chan struct{}
}

// NewAsyncLogger starts the background writer goroutine immediately.
func NewAsyncLogger(out *lumberjack.Logger, bufferSize int) *AsyncLogger {
	l := &AsyncLogger{
		out:    out,
		buf:    make(chan []byte, bufferSize),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *AsyncLogger) run() {
	defer close(l.closed)
	for {
		select {
		case b, ok := <-l.buf:
			if !ok {
				return
			}
			l.out.Write(b)
		case <-l.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case b := <-l.buf:
					l.out.Write(b)
				default:
					return
				}
			}
		}
	}
}

// Write implements io.Writer. p is copied so the caller may reuse its
// buffer immediately.
func (l *AsyncLogger) Write(p []byte) (int, error) {
	b := make([]byte, len(p))
	copy(b, p)

	select {
	case l.buf <- b:
	default:
		fmt.Fprintln(os.Stderr, "asynclogger: log buffer is full, dropping message.")
	}
	return len(p), nil
}

// Close stops the background goroutine after draining queued messages
// and closes the underlying file.
func (l *AsyncLogger) Close() error {
	l.once.Do(func() { close(l.done) })
	<-l.closed
	return l.out.Close()
}

var _ io.WriteCloser = (*AsyncLogger)(nil)
