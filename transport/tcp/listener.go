// Copyright 2015 Google Inc. All Rights Reserved.
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

package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/splitfuse/core/internal/logger"
	"github.com/splitfuse/core/transport"
	"github.com/splitfuse/core/wire"
)

// Listener implements transport.Listener on top of net.Listen("tcp",
// ...). Each accepted connection gets its own session and progress
// goroutine, matching the one-context-per-peer model the spec assumes.
type Listener struct {
	ln net.Listener

	mu       sync.Mutex
	handlers map[wire.Op]transport.Handler

	nextRank atomic.Uint32
	onAccept func(transport.Context) // optional, e.g. to register with a Group
}

// Listen opens a TCP listener on addr ("" picks an ephemeral port).
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln, handlers: make(map[wire.Op]transport.Handler)}, nil
}

func (l *Listener) Register(op wire.Op, h transport.Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[op] = h
}

// OnAccept installs a callback invoked with each freshly accepted
// transport.Context, e.g. to attach it to a Group.
func (l *Listener) OnAccept(f func(transport.Context)) {
	l.onAccept = f
}

func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("tcp: accept: %w", err)
			}
		}

		rank := transport.Rank(l.nextRank.Add(1))
		l.mu.Lock()
		handlers := l.handlers
		l.mu.Unlock()

		s := newSession(conn, rank, handlers)
		if l.onAccept != nil {
			l.onAccept(s)
		}
		go func() {
			if err := s.progress(ctx); err != nil {
				logger.CtxWarnf(ctx, "tcp: session with rank %d ended: %v", rank, err)
			}
		}()
	}
}

func (l *Listener) Close() error {
	return l.ln.Close()
}
