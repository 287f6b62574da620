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
	"fmt"
	"os"
	"sync"

	"github.com/splitfuse/core/gah"
	"github.com/splitfuse/core/gah/store"
	"github.com/splitfuse/core/wire"
)

// Config holds the per-export limits and policy knobs a server
// Projection enforces, per spec §3 "Projection (server)" and §4.6.
type Config struct {
	FsID           uint32
	MaxRead        uint32
	MaxWrite       uint32
	MaxIovRead     uint32
	MaxIovWrite    uint32
	ReaddirSize    uint32
	MaxActiveReads int // bounded-concurrency read pipeline width, per spec §5
}

const defaultMaxActiveReads = 3

// Projection is the IONSS-side counterpart to client.Projection: it
// turns GAHs into open files under one exported directory tree and
// bounds how many readx RPCs run concurrently, per spec §3/§4.6/§5.
type Projection struct {
	export *Export
	cfg    Config
	rank   uint8

	nodes   *store.Store
	handles *store.Store
	dirs    *store.Store

	nmu        sync.Mutex
	nodeIntern map[nodeKey]gah.GAH

	hmu        sync.Mutex
	fileIntern map[fileKey]gah.GAH

	reads chan struct{} // semaphore bounding concurrent readx handling

	rootGAH gah.GAH
}

// New mints the root node GAH and prepares the intern tables. rank
// identifies this IONSS in the GAHs it issues (gah.GAH.Root), matching
// how client-side GAHs name the rank that owns them.
func New(export *Export, rank uint8, cfg Config) (*Projection, error) {
	if cfg.MaxActiveReads <= 0 {
		cfg.MaxActiveReads = defaultMaxActiveReads
	}

	p := &Projection{
		export:     export,
		cfg:        cfg,
		rank:       rank,
		nodes:      store.New(rank, baseNode),
		handles:    store.New(rank, baseHandle),
		dirs:       store.New(rank, baseDir),
		nodeIntern: make(map[nodeKey]gah.GAH),
		fileIntern: make(map[fileKey]gah.GAH),
		reads:      make(chan struct{}, cfg.MaxActiveReads),
	}

	rootFi, err := os.Lstat(export.Path)
	if err != nil {
		return nil, fmt.Errorf("server: stat export root: %w", err)
	}
	g, _ := p.findOrCreateNode(".", rootFi)
	p.rootGAH = g

	return p, nil
}

// RootGAH is advertised to clients via query_psr, per spec §4.2.
func (p *Projection) RootGAH() gah.GAH { return p.rootGAH }

func (p *Projection) Export() *Export { return p.export }

// Close releases the export root fd. Outstanding GAHs are not
// individually torn down; a shutdown broadcast (§5 failover) is
// expected to have already told every client to drop its state first.
func (p *Projection) Close() error { return p.export.Close() }

////////////////////////////////////////////////////////////////////////
// Node interning
////////////////////////////////////////////////////////////////////////

// findOrCreateNode finds or creates the node entry for fi at path,
// incrementing its refcount.
func (p *Projection) findOrCreateNode(path string, fi os.FileInfo) (gah.GAH, *nodeEntry) {
	dev, ino := devIno(fi)
	key := nodeKey{dev: dev, ino: ino}

	p.nmu.Lock()
	defer p.nmu.Unlock()

	if g, ok := p.nodeIntern[key]; ok {
		if info, err := p.nodes.GetInfo(g); err == nil {
			ne := info.(*nodeEntry)
			ne.mu.Lock()
			ne.refcount++
			ne.mu.Unlock()
			return g, ne
		}
		delete(p.nodeIntern, key)
	}

	ne := &nodeEntry{path: path, dev: dev, ino: ino, refcount: 1}
	g := p.nodes.Allocate(ne)
	p.nodeIntern[key] = g
	return g, ne
}

// lookupNode resolves g to its node entry, surfacing GAH invalidation as
// a wire-level status rather than a Go error, per spec §6's reply
// discipline. It takes a reference on ne, per spec §4.6, so a
// concurrent close can't free the entry out from under the resolving
// handler; callers must release it with derefNode when done.
func (p *Projection) lookupNode(g gah.GAH) (*nodeEntry, wire.Status) {
	info, err := p.nodes.GetInfo(g)
	if err != nil {
		return nil, wire.Status{Err: wire.ErrGAHInvalid}
	}
	ne := info.(*nodeEntry)
	ne.mu.Lock()
	ne.refcount++
	ne.mu.Unlock()
	return ne, wire.Status{}
}

// derefNode drops the reference taken by lookupNode or findOrCreateNode;
// at zero it removes the intern entry and frees the store slot, per
// spec §4.6 "Close".
func (p *Projection) derefNode(g gah.GAH, ne *nodeEntry) {
	ne.mu.Lock()
	ne.refcount--
	zero := ne.refcount <= 0
	key := nodeKey{dev: ne.dev, ino: ne.ino}
	ne.mu.Unlock()

	if !zero {
		return
	}

	p.nmu.Lock()
	if cur, ok := p.nodeIntern[key]; ok && cur == g {
		delete(p.nodeIntern, key)
	}
	p.nmu.Unlock()

	_ = p.nodes.Deallocate(g)
}

// closeNode drops one reference; at zero it removes the intern entry
// and frees the store slot, per spec §4.6 "Close".
func (p *Projection) closeNode(g gah.GAH) error {
	info, err := p.nodes.GetInfo(g)
	if err != nil {
		return err
	}
	p.derefNode(g, info.(*nodeEntry))
	return nil
}

////////////////////////////////////////////////////////////////////////
// Open file handle interning
////////////////////////////////////////////////////////////////////////

// openFile finds or creates the open file handle for (ino, flags),
// closing fd and sharing the existing handle on a match, per spec §4.6
// "Open": a second open of the same inode under the same flags closes
// its new fd and shares the existing one, incrementing its refcount.
func (p *Projection) openFile(path string, ino uint64, flags wire.OpenFlags, fd *os.File) gah.GAH {
	key := fileKey{ino: ino, flags: flags}

	p.hmu.Lock()
	defer p.hmu.Unlock()

	if g, ok := p.fileIntern[key]; ok {
		if info, err := p.handles.GetInfo(g); err == nil {
			fh := info.(*fileHandle)
			fh.mu.Lock()
			fh.refcount++
			fh.mu.Unlock()
			fd.Close()
			return g
		}
		delete(p.fileIntern, key)
	}

	fh := &fileHandle{fd: fd, path: path, ino: ino, flags: flags, refcount: 1}
	g := p.handles.Allocate(fh)
	p.fileIntern[key] = g
	return g
}

// lookupHandle resolves g to its open file handle and takes a
// reference on it, per spec §4.6, so a concurrent close can't free the
// fd out from under a readx/writex/fsync in flight; callers must
// release it with derefHandle when done.
func (p *Projection) lookupHandle(g gah.GAH) (*fileHandle, wire.Status) {
	info, err := p.handles.GetInfo(g)
	if err != nil {
		return nil, wire.Status{Err: wire.ErrGAHInvalid}
	}
	fh := info.(*fileHandle)
	fh.mu.Lock()
	fh.refcount++
	fh.mu.Unlock()
	return fh, wire.Status{}
}

// derefHandle drops the reference taken by lookupHandle or openFile; at
// zero it removes the intern entry, closes the fd, and frees the store
// slot.
func (p *Projection) derefHandle(g gah.GAH, fh *fileHandle) {
	fh.mu.Lock()
	fh.refcount--
	zero := fh.refcount <= 0
	key := fileKey{ino: fh.ino, flags: fh.flags}
	fh.mu.Unlock()

	if !zero {
		return
	}

	p.hmu.Lock()
	if cur, ok := p.fileIntern[key]; ok && cur == g {
		delete(p.fileIntern, key)
	}
	p.hmu.Unlock()

	fh.fd.Close()
	_ = p.handles.Deallocate(g)
}

func (p *Projection) closeHandle(g gah.GAH) error {
	info, err := p.handles.GetInfo(g)
	if err != nil {
		return err
	}
	p.derefHandle(g, info.(*fileHandle))
	return nil
}

////////////////////////////////////////////////////////////////////////
// Directory handles
////////////////////////////////////////////////////////////////////////

func (p *Projection) newDirHandle(entries []wire.Dirent) gah.GAH {
	return p.dirs.Allocate(&dirHandle{entries: entries})
}

func (p *Projection) lookupDir(g gah.GAH) (*dirHandle, wire.Status) {
	info, err := p.dirs.GetInfo(g)
	if err != nil {
		return nil, wire.Status{Err: wire.ErrGAHInvalid}
	}
	return info.(*dirHandle), wire.Status{}
}

func (p *Projection) closeDir(g gah.GAH) error {
	return p.dirs.Deallocate(g)
}

////////////////////////////////////////////////////////////////////////
// Read concurrency
////////////////////////////////////////////////////////////////////////

// acquireRead blocks until fewer than cfg.MaxActiveReads readx
// handlers are in flight, generalizing lease.FileLeaser's disk-space
// budget (a byte count with waiters) into a slot-count budget. The
// pack's lease package ships only its test suite, no implementation
// (see DESIGN.md), so the waiter queue here is original code: a
// buffered channel used as a counting semaphore, which gives the same
// bounded-admission/FIFO-ish-wakeup behavior idiomatically.
func (p *Projection) acquireRead(doneCh <-chan struct{}) bool {
	select {
	case p.reads <- struct{}{}:
		return true
	case <-doneCh:
		return false
	}
}

func (p *Projection) releaseRead() { <-p.reads }
