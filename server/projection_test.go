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
	"os"
	"path/filepath"
	"testing"

	"github.com/splitfuse/core/transport"
	"github.com/splitfuse/core/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePeer is an in-process transport.Context stand-in. Only BulkPut and
// BulkGet are exercised by handleReadx/handleWritex; Call is never
// invoked from the server side.
type fakePeer struct {
	bulk map[uint64][]byte
}

func newFakePeer() *fakePeer { return &fakePeer{bulk: make(map[uint64][]byte)} }

func (f *fakePeer) Call(ctx context.Context, op wire.Op, req, reply any) error { return nil }

func (f *fakePeer) BulkPut(ctx context.Context, token uint64, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.bulk[token] = cp
	return nil
}

func (f *fakePeer) BulkGet(ctx context.Context, token uint64, buf []byte) error {
	copy(buf, f.bulk[token])
	return nil
}

func (f *fakePeer) Rank() transport.Rank { return 0 }
func (f *fakePeer) Close() error         { return nil }

func testProjection(t *testing.T) (*Projection, string) {
	t.Helper()
	dir := t.TempDir()
	exp, err := OpenExport(1, dir, true)
	require.NoError(t, err)
	t.Cleanup(func() { exp.Close() })

	p, err := New(exp, 7, Config{
		FsID:        1,
		MaxRead:     1 << 20,
		MaxWrite:    1 << 20,
		MaxIovRead:  4096,
		MaxIovWrite: 4096,
		ReaddirSize: 2,
	})
	require.NoError(t, err)
	return p, dir
}

func TestLookupRootChildAndInterning(t *testing.T) {
	p, dir := testProjection(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	peer := newFakePeer()
	ctx := context.Background()
	r1, err := p.handleLookup(ctx, peer, &wire.LookupRequest{GAH: p.RootGAH(), Name: "a.txt"})
	require.NoError(t, err)
	reply1 := r1.(*wire.LookupReply)
	require.True(t, reply1.Status.OK())
	assert.Equal(t, uint64(5), reply1.Stat.Size)

	r2, err := p.handleLookup(ctx, peer, &wire.LookupRequest{GAH: p.RootGAH(), Name: "a.txt"})
	require.NoError(t, err)
	reply2 := r2.(*wire.LookupReply)
	assert.Equal(t, reply1.GAH, reply2.GAH, "repeated lookups of the same file must intern to the same node GAH")
}

func TestOpenReadWriteRoundTrip(t *testing.T) {
	p, dir := testProjection(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("0123456789"), 0o644))
	peer := newFakePeer()
	ctx := context.Background()

	lr, err := p.handleLookup(ctx, peer, &wire.LookupRequest{GAH: p.RootGAH(), Name: "f.txt"})
	require.NoError(t, err)
	nodeGAH := lr.(*wire.LookupReply).GAH

	or, err := p.handleOpen(ctx, peer, &wire.OpenRequest{GAH: nodeGAH, Flags: wire.OReadWrite})
	require.NoError(t, err)
	openReply := or.(*wire.OpenReply)
	require.True(t, openReply.Status.OK())

	rr, err := p.handleReadx(ctx, peer, &wire.ReadxRequest{GAH: openReply.GAH, Extent: wire.Xtvec{Offset: 2, Len: 4}})
	require.NoError(t, err)
	readReply := rr.(*wire.ReadxReply)
	assert.Equal(t, "2345", string(readReply.Data))

	wr, err := p.handleWritex(ctx, peer, &wire.WritexRequest{GAH: openReply.GAH, Extent: wire.Xtvec{Offset: 0, Len: 3}, Data: []byte("xyz")})
	require.NoError(t, err)
	assert.True(t, wr.(*wire.WritexReply).Status.OK())

	got, err := os.ReadFile(filepath.Join(dir, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "xyz3456789", string(got))
}

func TestWritexBulkPullsFromPeer(t *testing.T) {
	p, dir := testProjection(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.bin"), make([]byte, 8192), 0o644))
	peer := newFakePeer()
	ctx := context.Background()

	lr, _ := p.handleLookup(ctx, peer, &wire.LookupRequest{GAH: p.RootGAH(), Name: "big.bin"})
	nodeGAH := lr.(*wire.LookupReply).GAH
	or, _ := p.handleOpen(ctx, peer, &wire.OpenRequest{GAH: nodeGAH, Flags: wire.OReadWrite})
	handleGAH := or.(*wire.OpenReply).GAH

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}
	peer.bulk[99] = payload

	wr, err := p.handleWritex(ctx, peer, &wire.WritexRequest{GAH: handleGAH, Extent: wire.Xtvec{Offset: 0, Len: 4096}, BulkLen: 4096, BulkToken: 99})
	require.NoError(t, err)
	require.True(t, wr.(*wire.WritexReply).Status.OK())

	got, err := os.ReadFile(filepath.Join(dir, "big.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, got[:4096])
}

func TestReadxBulkPushesToPeer(t *testing.T) {
	p, dir := testProjection(t)
	content := make([]byte, 4096)
	for i := range content {
		content[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.bin"), content, 0o644))
	peer := newFakePeer()
	ctx := context.Background()

	lr, _ := p.handleLookup(ctx, peer, &wire.LookupRequest{GAH: p.RootGAH(), Name: "big.bin"})
	nodeGAH := lr.(*wire.LookupReply).GAH
	or, _ := p.handleOpen(ctx, peer, &wire.OpenRequest{GAH: nodeGAH, Flags: wire.OReadOnly})
	handleGAH := or.(*wire.OpenReply).GAH

	rr, err := p.handleReadx(ctx, peer, &wire.ReadxRequest{GAH: handleGAH, Extent: wire.Xtvec{Offset: 0, Len: 4096}, BulkToken: 55})
	require.NoError(t, err)
	reply := rr.(*wire.ReadxReply)
	require.True(t, reply.Status.OK())
	assert.Nil(t, reply.Data)
	assert.Equal(t, uint64(4096), reply.BulkLen)
	assert.Equal(t, content, peer.bulk[55])
}

func TestMkdirSymlinkUnlinkRmdir(t *testing.T) {
	p, dir := testProjection(t)
	peer := newFakePeer()
	ctx := context.Background()

	mr, err := p.handleMkdir(ctx, peer, &wire.MkdirRequest{GAH: p.RootGAH(), Name: "sub", Mode: 0o755})
	require.NoError(t, err)
	require.True(t, mr.(*wire.MkdirReply).Status.OK())
	_, err = os.Stat(filepath.Join(dir, "sub"))
	require.NoError(t, err)

	sr, err := p.handleSymlink(ctx, peer, &wire.SymlinkRequest{GAH: p.RootGAH(), Name: "link", OldPath: "sub"})
	require.NoError(t, err)
	require.True(t, sr.(*wire.SymlinkReply).Status.OK())

	rl, err := p.handleReadlink(ctx, peer, &wire.ReadlinkRequest{GAH: sr.(*wire.SymlinkReply).GAH})
	require.NoError(t, err)
	assert.Equal(t, "sub", rl.(*wire.ReadlinkReply).Path)

	ur, err := p.handleUnlink(ctx, peer, &wire.UnlinkRequest{GAH: p.RootGAH(), Name: "link"})
	require.NoError(t, err)
	assert.True(t, ur.(*wire.UnlinkReply).Status.OK())

	rr, err := p.handleRmdir(ctx, peer, &wire.RmdirRequest{GAH: p.RootGAH(), Name: "sub"})
	require.NoError(t, err)
	assert.True(t, rr.(*wire.RmdirReply).Status.OK())
}

func TestRename(t *testing.T) {
	p, dir := testProjection(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.txt"), []byte("x"), 0o644))
	peer := newFakePeer()
	ctx := context.Background()

	rr, err := p.handleRename(ctx, peer, &wire.RenameRequest{
		OldGAH: p.RootGAH(), NewGAH: p.RootGAH(),
		OldName: "old.txt", NewName: "new.txt",
	})
	require.NoError(t, err)
	assert.True(t, rr.(*wire.RenameReply).Status.OK())
	_, err = os.Stat(filepath.Join(dir, "new.txt"))
	require.NoError(t, err)
}

func TestReaddirBatchesAndReportsLast(t *testing.T) {
	p, dir := testProjection(t)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	peer := newFakePeer()
	ctx := context.Background()

	or, err := p.handleOpendir(ctx, peer, &wire.OpendirRequest{GAH: p.RootGAH()})
	require.NoError(t, err)
	dirGAH := or.(*wire.OpendirReply).GAH

	r1, err := p.handleReaddir(ctx, peer, &wire.ReaddirRequest{GAH: dirGAH, Offset: 0})
	require.NoError(t, err)
	reply1 := r1.(*wire.ReaddirReply)
	assert.Len(t, reply1.Entries, 2)
	assert.False(t, reply1.Last)

	r2, err := p.handleReaddir(ctx, peer, &wire.ReaddirRequest{GAH: dirGAH, Offset: 2})
	require.NoError(t, err)
	reply2 := r2.(*wire.ReaddirReply)
	assert.Len(t, reply2.Entries, 1)
	assert.True(t, reply2.Last)

	_, err = p.handleClosedir(ctx, peer, &wire.ClosedirRequest{GAH: dirGAH})
	require.NoError(t, err)
}

func TestStatfs(t *testing.T) {
	p, _ := testProjection(t)
	peer := newFakePeer()
	ctx := context.Background()

	sr, err := p.handleStatfs(ctx, peer, &wire.StatfsRequest{GAH: p.RootGAH()})
	require.NoError(t, err)
	reply := sr.(*wire.StatfsReply)
	require.True(t, reply.Status.OK())
	assert.NotZero(t, reply.Statvfs.Bsize)
}

func TestCloseDecrementsRefcountBeforeInvalidating(t *testing.T) {
	p, dir := testProjection(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), nil, 0o644))
	peer := newFakePeer()
	ctx := context.Background()

	r1, _ := p.handleLookup(ctx, peer, &wire.LookupRequest{GAH: p.RootGAH(), Name: "f.txt"})
	g1 := r1.(*wire.LookupReply).GAH
	r2, _ := p.handleLookup(ctx, peer, &wire.LookupRequest{GAH: p.RootGAH(), Name: "f.txt"})
	g2 := r2.(*wire.LookupReply).GAH
	require.Equal(t, g1, g2)

	_, err := p.handleClose(ctx, peer, &wire.CloseRequest{GAH: g1})
	require.NoError(t, err)

	gr, err := p.handleGetattr(ctx, peer, &wire.GetattrRequest{GAH: g2})
	require.NoError(t, err)
	assert.True(t, gr.(*wire.GetattrReply).Status.OK(), "one outstanding reference should keep the node GAH valid")

	_, err = p.handleClose(ctx, peer, &wire.CloseRequest{GAH: g2})
	require.NoError(t, err)

	gr2, err := p.handleGetattr(ctx, peer, &wire.GetattrRequest{GAH: g2})
	require.NoError(t, err)
	assert.Equal(t, wire.ErrGAHInvalid, gr2.(*wire.GetattrReply).Status.Err)
}

func TestOpenInterningSharesHandleAndClosesFreshFd(t *testing.T) {
	p, dir := testProjection(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("hi"), 0o644))
	peer := newFakePeer()
	ctx := context.Background()

	lr, _ := p.handleLookup(ctx, peer, &wire.LookupRequest{GAH: p.RootGAH(), Name: "f.txt"})
	nodeGAH := lr.(*wire.LookupReply).GAH

	o1, err := p.handleOpen(ctx, peer, &wire.OpenRequest{GAH: nodeGAH, Flags: wire.OReadOnly})
	require.NoError(t, err)
	o2, err := p.handleOpen(ctx, peer, &wire.OpenRequest{GAH: nodeGAH, Flags: wire.OReadOnly})
	require.NoError(t, err)
	assert.Equal(t, o1.(*wire.OpenReply).GAH, o2.(*wire.OpenReply).GAH, "repeated opens of the same (ino, flags) must share one handle")
}

func TestServerShutdownGatesFutureRequests(t *testing.T) {
	p, _ := testProjection(t)
	srv := NewServer(p, "/mnt/splitfuse", 30)

	_, err := srv.handleShutdown(context.Background(), newFakePeer(), &wire.ShutdownRequest{})
	require.NoError(t, err)
	assert.True(t, srv.Draining())

	gated := srv.gate(wire.OpLookup, p.handleLookup)
	out, err := gated(context.Background(), newFakePeer(), &wire.LookupRequest{GAH: p.RootGAH(), Name: "whatever"})
	require.NoError(t, err)
	reply := out.(*wire.LookupReply)
	assert.Equal(t, wire.ErrHostDown, reply.Status.Err)

	// Close must still run while draining.
	_, err = p.handleClose(context.Background(), newFakePeer(), &wire.CloseRequest{GAH: p.RootGAH()})
	require.NoError(t, err)
}
