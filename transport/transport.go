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

// Package transport declares the RPC runtime adapter the spec treats as
// a black box: context lifecycle, progress, request send/reply, bulk
// put/get, service groups, and eviction notification. Concrete
// implementations live in subpackages (transport/tcp).
package transport

import (
	"context"
	"errors"

	"github.com/splitfuse/core/wire"
)

// ErrClosed is returned by operations on a Context or Group that has
// already been destroyed/detached.
var ErrClosed = errors.New("transport: use of closed resource")

// Rank identifies one member of a service group.
type Rank uint8

// Context is one logical RPC channel to a single remote rank, created
// once per (local projection, remote rank) pair and reused across many
// requests, per spec §5 "one context per live peer".
type Context interface {
	// Call sends req (whose concrete type is named by op) and blocks for
	// the matching reply, decoding it into reply. The caller supplies the
	// already zero-valued reply value.
	Call(ctx context.Context, op wire.Op, req, reply any) error

	// BulkPut transfers data to the remote side as the payload of the
	// in-flight call identified by token, without going through the
	// normal gob-encoded request path. Used for writex payloads.
	BulkPut(ctx context.Context, token uint64, data []byte) error

	// BulkGet retrieves a bulk payload of exactly len(buf) bytes
	// associated with token. Used for readx payloads.
	BulkGet(ctx context.Context, token uint64, buf []byte) error

	// Rank reports which remote member this context talks to.
	Rank() Rank

	// Close tears the context down. Pending calls fail with ErrClosed.
	Close() error
}

// Handler processes one inbound request and produces a reply. Servers
// register one Handler per wire.Op with a Listener. peer is the Context
// representing the connection the request arrived on, so a handler that
// needs to move a bulk payload (e.g. a large readx reply) can call
// peer.BulkPut/BulkGet against the same session, per spec §4.4's bulk
// threshold rule.
type Handler func(ctx context.Context, peer Context, req any) (reply any, err error)

// Listener accepts inbound contexts from remote ranks and dispatches
// requests to registered handlers, running one progress goroutine per
// accepted context until Close, per spec §4.4.
type Listener interface {
	// Serve runs the accept loop until ctx is canceled or Close is
	// called. It does not return on individual connection errors.
	Serve(ctx context.Context) error

	// Register installs h as the handler for op. Must be called before
	// Serve.
	Register(op wire.Op, h Handler)

	// Addr reports the address the listener is bound to.
	Addr() string

	Close() error
}

// Dialer creates outbound Contexts to remote ranks.
type Dialer interface {
	// Dial establishes a Context to the given address, identified by the
	// returned Rank as seen from the remote side's group membership.
	Dial(ctx context.Context, addr string) (Context, error)
}

// Group is a named collection of Contexts reachable by broadcast, per
// spec §3 "Service Group". Groups are how a client projection fans a
// request out to every attached IONSS rank at once (e.g. shutdown).
type Group interface {
	// Attach adds ctx as a member reachable by broadcast.
	Attach(ctx Context)

	// Detach removes ctx from the group. Safe to call more than once.
	Detach(ctx Context)

	// Broadcast calls fn against every attached member concurrently and
	// collects all errors (nil entries for members that succeeded).
	Broadcast(ctx context.Context, fn func(Context) error) []error

	// Members returns the ranks currently attached.
	Members() []Rank
}

// EvictionFunc is invoked when a Context's peer is declared unreachable
// (missed progress deadline, transport-level error) so the owner can
// re-target a replacement primary rank, per spec §4.4 failover note.
type EvictionFunc func(r Rank)

// EvictionSource is implemented by anything that can report peer loss.
type EvictionSource interface {
	OnEviction(f EvictionFunc)
}
