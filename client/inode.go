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

// Package client implements the CNSS half of the split filesystem: the
// client Projection (inode table, open-file/open-dir lists, object
// pools, dedicated progress context) and the FUSE dispatcher that turns
// kernel upcalls into RPCs, per spec §3/§4.5.
package client

import (
	"sync"
	"sync/atomic"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/splitfuse/core/gah"
	"github.com/splitfuse/core/wire"
)

// Inode represents every entry the kernel knows about, per spec §3
// "Inode (client side)". Only GAH and the cached stat survive across
// time; everything else about the remote file can change underneath
// the client, which is why getattr always round-trips.
type Inode struct {
	ID fuseops.InodeID

	mu       sync.Mutex
	gah      gah.GAH
	stat     wire.Stat
	name     string
	parent   fuseops.InodeID // best-effort, not a reference
	refcount atomic.Int64
}

func newInode(id fuseops.InodeID, parent fuseops.InodeID, name string, g gah.GAH, stat wire.Stat) *Inode {
	in := &Inode{ID: id, gah: g, stat: stat, name: name, parent: parent}
	in.refcount.Store(1)
	return in
}

// GAH returns the inode's current server-side handle.
func (in *Inode) GAH() gah.GAH {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.gah
}

// Attributes returns the cached stat as FUSE inode attributes.
func (in *Inode) Attributes() fuseops.InodeAttributes {
	in.mu.Lock()
	defer in.mu.Unlock()
	return statToAttributes(in.stat)
}

// SetStat refreshes the cached stat, e.g. after a getattr/setattr RPC
// reply.
func (in *Inode) SetStat(stat wire.Stat) {
	in.mu.Lock()
	in.stat = stat
	in.mu.Unlock()
}

func (in *Inode) Name() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.name
}

func (in *Inode) Parent() fuseops.InodeID {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.parent
}

// IncRef bumps the refcount, used by find_gah_ref (per spec "acquired
// on each use").
func (in *Inode) IncRef(n int64) { in.refcount.Add(n) }

// DecRef drops the refcount by n and reports whether it reached zero,
// at which point the caller must free the inode: drop the parent
// reference and send a server-side close for the inode GAH.
func (in *Inode) DecRef(n int64) bool {
	return in.refcount.Add(-n) == 0
}

func (in *Inode) Refcount() int64 { return in.refcount.Load() }

func statToAttributes(s wire.Stat) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  s.Size,
		Nlink: s.Nlink,
		Mode:  modeFromWire(s.Mode),
		Uid:   s.Uid,
		Gid:   s.Gid,
		Atime: s.Atime,
		Mtime: s.Mtime,
		Ctime: s.Ctime,
	}
}
