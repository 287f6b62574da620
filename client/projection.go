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

package client

import (
	"sync"
	"sync/atomic"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/splitfuse/core/gah"
	"github.com/splitfuse/core/transport"
	"github.com/splitfuse/core/wire"
)

// Config carries the per-projection limits a query_psr reply describes,
// per spec §3 "Projection (client)".
type Config struct {
	FsID        uint32
	RootGAH     gah.GAH
	MaxRead     uint32
	MaxWrite    uint32
	MaxIovRead  uint32
	MaxIovWrite uint32
	ReaddirSize uint32
	Writeable   bool
	UID, GID    uint32
}

// Projection is the client-side mount of one IONSS export: the inode
// table, open-handle tables, buffer pools and the dedicated transport
// context this projection drives progress on independently of the
// shared control context, per spec §3 "Projection (client)" and §4.4
// "projections on the client get their own context".
type Projection struct {
	cfg   Config
	ctx   transport.Context
	group transport.Group

	bufs *bufPools

	mu          sync.RWMutex
	nextInodeID fuseops.InodeID
	inodes      map[fuseops.InodeID]*Inode
	byGAH       map[uint32]*Inode // keyed by GAH.Fid, for find_insert dedup

	hmu          sync.Mutex
	nextHandleID fuseops.HandleID
	files        map[fuseops.HandleID]*openFile
	dirs         map[fuseops.HandleID]*openDir

	// offline holds a POSIX errno (e.g. EHOSTDOWN) once the projection's
	// service group has lost its primary with no failover rank left, per
	// spec §4.4 "Eviction and failover". Zero means online.
	offline atomic.Int32

	rootInode *Inode

	bulkToken atomic.Uint64
}

// nextBulkToken mints a value to correlate a BulkPut on one side with
// the matching BulkGet on the other, per transport.Context's token
// contract.
func (p *Projection) nextBulkToken() uint64 {
	return p.bulkToken.Add(1)
}

// New wires a Projection to an already-dialed transport context and a
// query_psr-derived config. The root inode is seeded at FUSE's reserved
// root inode number, matching the teacher's RootInodeID convention.
func New(cfg Config, ctx transport.Context, group transport.Group) *Projection {
	p := &Projection{
		cfg:         cfg,
		ctx:         ctx,
		group:       group,
		bufs:        newBufPools(cfg.MaxRead),
		nextInodeID: fuseops.RootInodeID + 1,
		inodes:      make(map[fuseops.InodeID]*Inode),
		byGAH:       make(map[uint32]*Inode),
		files:       make(map[fuseops.HandleID]*openFile),
		dirs:        make(map[fuseops.HandleID]*openDir),
	}
	p.rootInode = newInode(fuseops.RootInodeID, fuseops.RootInodeID, "", cfg.RootGAH, wire.Stat{Mode: uint32(0755) | modeDir})
	p.inodes[fuseops.RootInodeID] = p.rootInode
	p.byGAH[cfg.RootGAH.Fid] = p.rootInode
	return p
}

// Offline reports whether the projection has been marked unreachable by
// the failover controller, and if so, with which errno.
func (p *Projection) Offline() (errno int32, offline bool) {
	v := p.offline.Load()
	return v, v != 0
}

// MarkOffline is called by the eviction controller per spec §4.4 step
// (3): either the whole projection goes offline, or every open handle's
// gah_ok is cleared so in-flight operations fail locally.
func (p *Projection) MarkOffline(errno int32) {
	p.offline.Store(errno)
}

// InvalidateHandles clears gah_ok on every open file and directory
// handle, the failover-enabled alternative to MarkOffline.
func (p *Projection) InvalidateHandles() {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	for _, h := range p.files {
		h.invalidate()
	}
	for _, h := range p.dirs {
		h.invalidate()
	}
}

func (p *Projection) lookupInode(id fuseops.InodeID) *Inode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.inodes[id]
}

// findInsert implements the dedup rule from spec §4.5 "Lookup": if a
// racing lookup already published an inode for this GAH, keep the
// existing one and report that ours should be discarded (the caller
// must then close its GAH).
func (p *Projection) findInsert(parent fuseops.InodeID, name string, g gah.GAH, stat wire.Stat) (in *Inode, won bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.byGAH[g.Fid]; ok {
		return existing, false
	}

	id := p.nextInodeID
	p.nextInodeID++
	in = newInode(id, parent, name, g, stat)
	p.inodes[id] = in
	p.byGAH[g.Fid] = in
	return in, true
}

func (p *Projection) removeInode(in *Inode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inodes, in.ID)
	delete(p.byGAH, in.GAH().Fid)
}

func (p *Projection) newFileHandle(g gah.GAH, in *Inode) fuseops.HandleID {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	id := p.nextHandleID
	p.nextHandleID++
	p.files[id] = &openFile{gah: g, gahOk: true, inode: in}
	return id
}

func (p *Projection) fileHandle(id fuseops.HandleID) *openFile {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	return p.files[id]
}

func (p *Projection) dropFileHandle(id fuseops.HandleID) *openFile {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	h := p.files[id]
	delete(p.files, id)
	return h
}

func (p *Projection) newDirHandle(g gah.GAH) fuseops.HandleID {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	id := p.nextHandleID
	p.nextHandleID++
	p.dirs[id] = &openDir{gah: g, gahOk: true}
	return id
}

func (p *Projection) dirHandle(id fuseops.HandleID) *openDir {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	return p.dirs[id]
}

func (p *Projection) dropDirHandle(id fuseops.HandleID) *openDir {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	h := p.dirs[id]
	delete(p.dirs, id)
	return h
}

// Close releases every open handle (enumerated individually, per spec
// §4.5 "projection tear-down") and reclaims the buffer pools.
func (p *Projection) Close() {
	p.hmu.Lock()
	files := make([]fuseops.HandleID, 0, len(p.files))
	for id := range p.files {
		files = append(files, id)
	}
	dirs := make([]fuseops.HandleID, 0, len(p.dirs))
	for id := range p.dirs {
		dirs = append(dirs, id)
	}
	p.hmu.Unlock()

	for _, id := range files {
		_ = p.releaseFile(id)
	}
	for _, id := range dirs {
		_ = p.closeDir(id)
	}
	p.bufs.reclaim()
}
