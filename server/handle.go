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
	"os"
	"sync"

	"github.com/splitfuse/core/wire"
)

// The three GAH classes a server Projection mints live in separate
// stores so their fid numbering never collides; gah.GAH.Base (otherwise
// a reserved byte) carries which class a given handle belongs to, so
// OpClose can tell a node GAH from a file-handle GAH without a type tag
// on the wire.
const (
	baseNode   uint8 = 0
	baseHandle uint8 = 1
	baseDir    uint8 = 2
)

// nodeEntry is the internal resource behind a node GAH: a path plus the
// physical identity used to intern repeated lookups of the same file,
// per spec §3 "find_insert" (generalized server-side: a GAH names one
// physical file, ref-counted across every client holding it, not
// reallocated on every lookup).
type nodeEntry struct {
	mu       sync.Mutex
	path     string
	dev      uint64
	ino      uint64
	refcount int
}

// nodeKey identifies a node entry by physical identity for the intern
// table.
type nodeKey struct {
	dev uint64
	ino uint64
}

// fileHandle is the internal resource behind an open-file GAH.
type fileHandle struct {
	mu       sync.Mutex
	fd       *os.File
	path     string
	ino      uint64
	flags    wire.OpenFlags
	refcount int
}

// fileKey is the interning key for open file handles, per spec §4.6
// "Open": a second open with the same (inode, flags) closes its new fd
// and shares the existing one.
type fileKey struct {
	ino   uint64
	flags wire.OpenFlags
}

// dirHandle is the internal resource behind an opendir GAH: the full
// listing fetched once at opendir time and served out in ReaddirSize
// batches from cursor offsets, per spec §4.6 "Readdir".
type dirHandle struct {
	mu      sync.Mutex
	entries []wire.Dirent
}
