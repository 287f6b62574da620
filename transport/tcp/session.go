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
	"encoding/gob"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/splitfuse/core/internal/logger"
	"github.com/splitfuse/core/transport"
	"github.com/splitfuse/core/wire"
)

// session is one net.Conn wrapped with the request/reply/bulk
// multiplexing protocol. It implements transport.Context directly and
// also serves as the per-connection state a Listener dispatches inbound
// requests against.
type session struct {
	conn net.Conn
	rank transport.Rank

	encMu sync.Mutex
	enc   *gob.Encoder
	dec   *gob.Decoder

	nextID atomic.Uint64

	mu        sync.Mutex
	calls     map[uint64]chan frame
	bulks     map[uint64]chan frame
	bulkEarly map[uint64]frame // bulk data that arrived before the matching BulkGet call
	closed    bool
	onEvict   transport.EvictionFunc

	handlers map[wire.Op]transport.Handler // nil on pure client sessions
}

func newSession(conn net.Conn, rank transport.Rank, handlers map[wire.Op]transport.Handler) *session {
	return &session{
		conn:      conn,
		rank:      rank,
		enc:       gob.NewEncoder(conn),
		dec:       gob.NewDecoder(conn),
		calls:     make(map[uint64]chan frame),
		bulks:     make(map[uint64]chan frame),
		bulkEarly: make(map[uint64]frame),
		handlers:  handlers,
	}
}

func (s *session) Rank() transport.Rank { return s.rank }

func (s *session) OnEviction(f transport.EvictionFunc) {
	s.mu.Lock()
	s.onEvict = f
	s.mu.Unlock()
}

func (s *session) send(f frame) error {
	s.encMu.Lock()
	defer s.encMu.Unlock()
	if err := s.enc.Encode(&f); err != nil {
		return fmt.Errorf("tcp: send: %w", err)
	}
	return nil
}

// progress runs the read loop for this session until the connection
// closes or ctx is canceled. One goroutine per accepted/dialed
// connection, per spec §4.4's "one progress thread per context" model,
// grounded on the teacher's single-writer-per-InvariantMutex discipline
// in fs.go.
func (s *session) progress(ctx context.Context) error {
	defer s.evict()
	for {
		var f frame
		if err := s.dec.Decode(&f); err != nil {
			return fmt.Errorf("tcp: progress: %w", err)
		}

		switch f.Kind {
		case frameReply, frameError:
			s.mu.Lock()
			ch, ok := s.calls[f.ID]
			s.mu.Unlock()
			if ok {
				ch <- f
			}

		case frameBulkData:
			// BulkPut and BulkGet are called independently by the two
			// sides of a transfer with no ordering guarantee between
			// them, so a bulk frame that arrives before the matching
			// BulkGet is stashed rather than dropped.
			s.mu.Lock()
			ch, ok := s.bulks[f.ID]
			if !ok {
				s.bulkEarly[f.ID] = f
			}
			s.mu.Unlock()
			if ok {
				ch <- f
			}

		case frameRequest:
			go s.serveRequest(ctx, f)

		case frameBulkRequest:
			// Vestigial: BulkGet no longer needs to ask the peer to
			// push, since bulkEarly absorbs either ordering.
		}
	}
}

func (s *session) evict() {
	s.mu.Lock()
	cb := s.onEvict
	rank := s.rank
	s.mu.Unlock()
	if cb != nil {
		cb(rank)
	}
}

func (s *session) serveRequest(ctx context.Context, f frame) {
	h, ok := s.handlers[f.Op]
	if !ok {
		s.send(frame{ID: f.ID, Op: f.Op, Kind: frameError, Err: fmt.Sprintf("tcp: no handler for %v", f.Op)})
		return
	}

	req, err := wire.NewRequest(f.Op)
	if err != nil {
		s.send(frame{ID: f.ID, Op: f.Op, Kind: frameError, Err: err.Error()})
		return
	}
	if err := wire.Decode(f.Body, req); err != nil {
		s.send(frame{ID: f.ID, Op: f.Op, Kind: frameError, Err: err.Error()})
		return
	}

	reply, err := h(ctx, s, req)
	if err != nil {
		logger.CtxErrorf(ctx, "tcp: handler for %v failed: %v", f.Op, err)
		s.send(frame{ID: f.ID, Op: f.Op, Kind: frameError, Err: err.Error()})
		return
	}

	body, err := wire.Encode(reply)
	if err != nil {
		s.send(frame{ID: f.ID, Op: f.Op, Kind: frameError, Err: err.Error()})
		return
	}
	s.send(frame{ID: f.ID, Op: f.Op, Kind: frameReply, Body: body})
}

func (s *session) Call(ctx context.Context, op wire.Op, req, reply any) error {
	body, err := wire.Encode(req)
	if err != nil {
		return err
	}

	id := s.nextID.Add(1)
	ch := make(chan frame, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrClosed
	}
	s.calls[id] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.calls, id)
		s.mu.Unlock()
	}()

	if err := s.send(frame{ID: id, Op: op, Kind: frameRequest, Body: body}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case f, ok := <-ch:
		if !ok {
			return transport.ErrClosed
		}
		if f.Kind == frameError {
			return errors.New(f.Err)
		}
		return wire.Decode(f.Body, reply)
	}
}

func (s *session) BulkPut(ctx context.Context, token uint64, data []byte) error {
	return s.send(frame{ID: token, Kind: frameBulkData, Body: data})
}

func (s *session) BulkGet(ctx context.Context, token uint64, buf []byte) error {
	s.mu.Lock()
	if f, ok := s.bulkEarly[token]; ok {
		delete(s.bulkEarly, token)
		s.mu.Unlock()
		return copyBulk(buf, f)
	}
	ch := make(chan frame, 1)
	s.bulks[token] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.bulks, token)
		s.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case f := <-ch:
		return copyBulk(buf, f)
	}
}

func copyBulk(buf []byte, f frame) error {
	if len(f.Body) != len(buf) {
		return fmt.Errorf("tcp: bulk get: expected %d bytes, got %d", len(buf), len(f.Body))
	}
	copy(buf, f.Body)
	return nil
}

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, ch := range s.calls {
		close(ch)
	}
	s.mu.Unlock()
	return s.conn.Close()
}
