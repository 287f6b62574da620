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

package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/splitfuse/core/internal/logger"
	"github.com/splitfuse/core/transport"
	"github.com/splitfuse/core/wire"
)

// broadcastTimeout is the per-attempt deadline for the shutdown
// broadcast to peer ranks, per spec §4.6 "issues a broadcast RPC with a
// 5-second timeout to every other rank".
const broadcastTimeout = 5 * time.Second

// broadcastRetryDelay paces retries of a failed shutdown broadcast so a
// transiently unreachable peer doesn't turn retry into a busy loop.
const broadcastRetryDelay = time.Second

// setHostDown marks a freshly zero-valued wire reply's Status field
// ErrHostDown, one case per gated reply type, avoiding a reflection
// dependency for a handful of types.
func setHostDown(reply any) {
	hostDown := wire.Status{Err: wire.ErrHostDown}
	switch r := reply.(type) {
	case *wire.LookupReply:
		r.Status = hostDown
	case *wire.GetattrReply:
		r.Status = hostDown
	case *wire.SetattrReply:
		r.Status = hostDown
	case *wire.OpendirReply:
		r.Status = hostDown
	case *wire.ReaddirReply:
		r.Status = hostDown
	case *wire.OpenReply:
		r.Status = hostDown
	case *wire.CreateReply:
		r.Status = hostDown
	case *wire.ReadxReply:
		r.Status = hostDown
	case *wire.WritexReply:
		r.Status = hostDown
	case *wire.MkdirReply:
		r.Status = hostDown
	case *wire.UnlinkReply:
		r.Status = hostDown
	case *wire.RmdirReply:
		r.Status = hostDown
	case *wire.RenameReply:
		r.Status = hostDown
	case *wire.SymlinkReply:
		r.Status = hostDown
	case *wire.ReadlinkReply:
		r.Status = hostDown
	case *wire.FsyncReply:
		r.Status = hostDown
	case *wire.FdatasyncReply:
		r.Status = hostDown
	case *wire.StatfsReply:
		r.Status = hostDown
	}
}

// Server is the IONSS process: one query_psr/detach/shutdown surface
// fronting a single exported Projection, per spec §4.2/§4.6. A process
// exporting several directory trees runs one Server per export.
type Server struct {
	proj         *Projection
	mountPoint   string
	pollInterval uint32

	mu       sync.Mutex
	attached map[transport.Rank]bool
	peers    transport.Group

	draining atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
}

// NewServer wraps proj as the RPC surface for one export. pollInterval
// is the seconds a client should wait between query_psr polls, per
// spec §4.2.
func NewServer(proj *Projection, mountPoint string, pollInterval uint32) *Server {
	return &Server{
		proj:         proj,
		mountPoint:   mountPoint,
		pollInterval: pollInterval,
		attached:     make(map[transport.Rank]bool),
		done:         make(chan struct{}),
	}
}

// SetPeers attaches the Shutdown Coordinator (§2, §4.6) to the group of
// other IONSS ranks sharing this export's peer group. Must be called
// before the first client attaches; nil (the default) means this rank
// is the only member of its group, so the last detach shuts down
// immediately with no broadcast.
func (s *Server) SetPeers(g transport.Group) {
	s.peers = g
}

// Done is closed once this rank has decided to shut down, either
// because it was the last client's detach on a single-rank group or
// because it successfully broadcast shutdown to every peer. The
// process's top-level loop selects on this to know when to stop
// serving.
func (s *Server) Done() <-chan struct{} { return s.done }

func (s *Server) triggerShutdown() {
	s.draining.Store(true)
	s.doneOnce.Do(func() { close(s.done) })
}

// maybeShutdown runs the Shutdown Coordinator's decision per spec
// §4.6: once the attached-client count reaches zero, a group of one
// shuts down immediately; a larger group broadcasts shutdown to every
// other rank (retrying on failure) before shutting down itself.
func (s *Server) maybeShutdown() {
	s.mu.Lock()
	n := len(s.attached)
	s.mu.Unlock()
	if n != 0 {
		return
	}

	if s.peers == nil || len(s.peers.Members()) == 0 {
		s.triggerShutdown()
		return
	}
	go s.broadcastShutdown()
}

func (s *Server) broadcastShutdown() {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
		errs := s.peers.Broadcast(ctx, func(c transport.Context) error {
			return c.Call(ctx, wire.OpShutdown, &wire.ShutdownRequest{}, &wire.ShutdownReply{})
		})
		cancel()

		failed := false
		for _, err := range errs {
			if err != nil {
				failed = true
				break
			}
		}
		if !failed {
			s.triggerShutdown()
			return
		}
		logger.Warnf("shutdown broadcast to peer group failed, retrying")
		time.Sleep(broadcastRetryDelay)
	}
}

// Register installs every handler this server answers on ln: the
// projection/query surface (query_psr, detach, shutdown) plus every
// wire.Op the Projection itself implements.
func (s *Server) Register(ln transport.Listener) {
	ln.Register(wire.OpQueryPSR, s.handleQueryPSR)
	ln.Register(wire.OpDetach, s.handleDetach)
	ln.Register(wire.OpShutdown, s.handleShutdown)

	ln.Register(wire.OpLookup, s.gate(wire.OpLookup, s.proj.handleLookup))
	ln.Register(wire.OpGetattr, s.gate(wire.OpGetattr, s.proj.handleGetattr))
	ln.Register(wire.OpSetattr, s.gate(wire.OpSetattr, s.proj.handleSetattr))
	ln.Register(wire.OpOpendir, s.gate(wire.OpOpendir, s.proj.handleOpendir))
	ln.Register(wire.OpReaddir, s.gate(wire.OpReaddir, s.proj.handleReaddir))
	ln.Register(wire.OpOpen, s.gate(wire.OpOpen, s.proj.handleOpen))
	ln.Register(wire.OpCreate, s.gate(wire.OpCreate, s.proj.handleCreate))
	ln.Register(wire.OpReadx, s.gate(wire.OpReadx, s.proj.handleReadx))
	ln.Register(wire.OpWritex, s.gate(wire.OpWritex, s.proj.handleWritex))
	ln.Register(wire.OpMkdir, s.gate(wire.OpMkdir, s.proj.handleMkdir))
	ln.Register(wire.OpUnlink, s.gate(wire.OpUnlink, s.proj.handleUnlink))
	ln.Register(wire.OpRmdir, s.gate(wire.OpRmdir, s.proj.handleRmdir))
	ln.Register(wire.OpRename, s.gate(wire.OpRename, s.proj.handleRename))
	ln.Register(wire.OpSymlink, s.gate(wire.OpSymlink, s.proj.handleSymlink))
	ln.Register(wire.OpReadlink, s.gate(wire.OpReadlink, s.proj.handleReadlink))
	ln.Register(wire.OpFsync, s.gate(wire.OpFsync, s.proj.handleFsync))
	ln.Register(wire.OpFdatasync, s.gate(wire.OpFdatasync, s.proj.handleFdatasync))
	ln.Register(wire.OpStatfs, s.gate(wire.OpStatfs, s.proj.handleStatfs))

	// Close and closedir always run: a draining server still has to let
	// clients release the handles and node refs they already hold.
	ln.Register(wire.OpClose, s.proj.handleClose)
	ln.Register(wire.OpClosedir, s.proj.handleClosedir)
}

// gate rejects op with ErrHostDown once Shutdown has been called, per
// spec §5's failover note: a draining IONSS tells clients to re-target
// their primary rather than silently hanging or erroring opaquely.
func (s *Server) gate(op wire.Op, h transport.Handler) transport.Handler {
	return func(ctx context.Context, peer transport.Context, req any) (any, error) {
		if s.draining.Load() {
			reply, err := wire.NewReply(op)
			if err != nil {
				return nil, err
			}
			setHostDown(reply)
			return reply, nil
		}
		return h(ctx, peer, req)
	}
}

func (s *Server) handleQueryPSR(ctx context.Context, peer transport.Context, req any) (any, error) {
	s.mu.Lock()
	s.attached[peer.Rank()] = true
	s.mu.Unlock()

	return &wire.QueryPSRReply{
		FSList: []wire.FSExport{{
			FsID:        s.proj.cfg.FsID,
			RootGAH:     s.proj.RootGAH(),
			MountPoint:  s.mountPoint,
			MaxRead:     s.proj.cfg.MaxRead,
			MaxWrite:    s.proj.cfg.MaxWrite,
			MaxIovRead:  s.proj.cfg.MaxIovRead,
			MaxIovWrite: s.proj.cfg.MaxIovWrite,
			ReaddirSize: s.proj.cfg.ReaddirSize,
			Writeable:   s.proj.export.Writeable,
		}},
		Count:        1,
		PollInterval: s.pollInterval,
		ProgressCB:   true,
	}, nil
}

func (s *Server) handleDetach(ctx context.Context, peer transport.Context, req any) (any, error) {
	s.mu.Lock()
	delete(s.attached, peer.Rank())
	s.mu.Unlock()
	s.maybeShutdown()
	return &wire.DetachReply{}, nil
}

// handleShutdown answers a peer rank's shutdown broadcast (§4.6): this
// rank has no clients of its own to wait on, it simply joins the
// collective shutdown the initiating rank already decided on.
func (s *Server) handleShutdown(ctx context.Context, peer transport.Context, req any) (any, error) {
	s.triggerShutdown()
	return &wire.ShutdownReply{}, nil
}

// AttachedRanks reports which client ranks have called query_psr since
// the last detach, for diagnostics and tests.
func (s *Server) AttachedRanks() []transport.Rank {
	s.mu.Lock()
	defer s.mu.Unlock()
	ranks := make([]transport.Rank, 0, len(s.attached))
	for r := range s.attached {
		ranks = append(ranks, r)
	}
	return ranks
}

// Draining reports whether Shutdown has been invoked.
func (s *Server) Draining() bool { return s.draining.Load() }
