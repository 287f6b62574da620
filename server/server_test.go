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
	"sync/atomic"
	"testing"
	"time"

	"github.com/splitfuse/core/transport"
	"github.com/splitfuse/core/wire"
	"github.com/stretchr/testify/assert"
)

// fakeGroup is a minimal transport.Group stand-in for exercising the
// Shutdown Coordinator's broadcast path without a real transport.
type fakeGroup struct {
	members []transport.Context
}

func (g *fakeGroup) Attach(ctx transport.Context) { g.members = append(g.members, ctx) }
func (g *fakeGroup) Detach(ctx transport.Context) {}
func (g *fakeGroup) Members() []transport.Rank {
	ranks := make([]transport.Rank, len(g.members))
	for i, m := range g.members {
		ranks[i] = m.Rank()
	}
	return ranks
}
func (g *fakeGroup) Broadcast(ctx context.Context, fn func(transport.Context) error) []error {
	errs := make([]error, len(g.members))
	for i, m := range g.members {
		errs[i] = fn(m)
	}
	return errs
}

// flakyPeer fails its first failCount calls, then succeeds.
type flakyPeer struct {
	fakePeer
	rank      transport.Rank
	failCount int32
	calls     atomic.Int32
}

func (f *flakyPeer) Rank() transport.Rank { return f.rank }

func (f *flakyPeer) Call(ctx context.Context, op wire.Op, req, reply any) error {
	if f.calls.Add(1) <= f.failCount {
		return assert.AnError
	}
	return nil
}

func waitForDone(t *testing.T, srv *Server, timeout time.Duration) bool {
	t.Helper()
	select {
	case <-srv.Done():
		return true
	case <-time.After(timeout):
		return false
	}
}

func TestShutdownCoordinatorSoloRankShutsDownImmediately(t *testing.T) {
	p, _ := testProjection(t)
	srv := NewServer(p, "/mnt/splitfuse", 30)

	_, err := srv.handleQueryPSR(context.Background(), newFakePeer(), &wire.QueryPSRRequest{})
	assert.NoError(t, err)

	_, err = srv.handleDetach(context.Background(), newFakePeer(), &wire.DetachRequest{})
	assert.NoError(t, err)

	assert.True(t, waitForDone(t, srv, time.Second))
	assert.True(t, srv.Draining())
}

func TestShutdownCoordinatorBroadcastsBeforeShuttingDown(t *testing.T) {
	p, _ := testProjection(t)
	srv := NewServer(p, "/mnt/splitfuse", 30)
	group := &fakeGroup{}
	group.Attach(&flakyPeer{rank: 1})
	group.Attach(&flakyPeer{rank: 2})
	srv.SetPeers(group)

	_, err := srv.handleQueryPSR(context.Background(), newFakePeer(), &wire.QueryPSRRequest{})
	assert.NoError(t, err)
	_, err = srv.handleDetach(context.Background(), newFakePeer(), &wire.DetachRequest{})
	assert.NoError(t, err)

	assert.True(t, waitForDone(t, srv, time.Second))
	assert.True(t, srv.Draining())
}

func TestShutdownCoordinatorRetriesFailedBroadcast(t *testing.T) {
	p, _ := testProjection(t)
	srv := NewServer(p, "/mnt/splitfuse", 30)
	group := &fakeGroup{}
	group.Attach(&flakyPeer{rank: 1, failCount: 1})
	srv.SetPeers(group)

	_, err := srv.handleQueryPSR(context.Background(), newFakePeer(), &wire.QueryPSRRequest{})
	assert.NoError(t, err)
	_, err = srv.handleDetach(context.Background(), newFakePeer(), &wire.DetachRequest{})
	assert.NoError(t, err)

	assert.False(t, waitForDone(t, srv, 200*time.Millisecond), "should not succeed before the retry delay elapses")
	assert.True(t, waitForDone(t, srv, 2*time.Second), "should succeed after one retry")
}

func TestShutdownCoordinatorRemainingClientsBlockShutdown(t *testing.T) {
	p, _ := testProjection(t)
	srv := NewServer(p, "/mnt/splitfuse", 30)

	peerA, peerB := &flakyPeer{rank: 1}, &flakyPeer{rank: 2}
	_, err := srv.handleQueryPSR(context.Background(), peerA, &wire.QueryPSRRequest{})
	assert.NoError(t, err)
	_, err = srv.handleQueryPSR(context.Background(), peerB, &wire.QueryPSRRequest{})
	assert.NoError(t, err)

	// Detaching one of two attached clients must not trigger shutdown.
	_, err = srv.handleDetach(context.Background(), peerA, &wire.DetachRequest{})
	assert.NoError(t, err)
	assert.False(t, waitForDone(t, srv, 100*time.Millisecond))
	assert.False(t, srv.Draining())
}
