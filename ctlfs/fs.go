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

package ctlfs

import (
	"os"
	"sync"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// FileSystem implements fuseutil.FileSystem (one method per
// fuseops.*Op, same shape as the client projection's dispatcher) over a
// Tree. Grounded directly on fs.fileSystem in fs.go: an inode map
// protected by a top-level mutex, a handle map for open files/dirs,
// method bodies that look the type up, drop the top lock, then operate.
type FileSystem struct {
	tree *Tree

	mu           sync.Mutex
	handles      map[fuseops.HandleID]*handle
	nextHandleID fuseops.HandleID

	uid, gid uint32
}

var _ fuseutil.FileSystem = (*FileSystem)(nil)

// handle is the open-dir or open-file state tracked between Open* and
// Release*Handle.
type handle struct {
	node *Node

	// Directory listing, snapshotted at OpenDir time so concurrent
	// mutation of the tree can't corrupt an in-progress readdir.
	entries []fuseutil.Dirent

	// Tracker open token, per spec §4.3's tracker open/close callbacks.
	trackerToken any
}

// New wraps tree as a servable filesystem, with every inode owned by
// uid/gid.
func New(tree *Tree, uid, gid uint32) *FileSystem {
	return &FileSystem{
		tree:    tree,
		handles: make(map[fuseops.HandleID]*handle),
		uid:     uid,
		gid:     gid,
	}
}

func (fs *FileSystem) attributesFor(n *Node) fuseops.InodeAttributes {
	now := time.Now()
	mode := os.FileMode(n.Mode())
	if n.Kind() == KindDir {
		mode |= os.ModeDir
	}
	return fuseops.InodeAttributes{
		Nlink: 1,
		Size:  uint64(n.Size()),
		Mode:  mode,
		Uid:   fs.uid,
		Gid:   fs.gid,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
}

func (fs *FileSystem) Init(op *fuseops.InitOp) (err error) {
	return
}

func (fs *FileSystem) StatFS(op *fuseops.StatFSOp) (err error) {
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *FileSystem) LookUpInode(op *fuseops.LookUpInodeOp) (err error) {
	parent := fs.tree.Lookup(op.Parent)
	if parent == nil {
		err = fuse.ENOENT
		return
	}

	child := parent.Lookup(op.Name)
	if child == nil {
		err = fuse.ENOENT
		return
	}

	op.Entry.Child = child.ID()
	op.Entry.Attributes = fs.attributesFor(child)
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *FileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) (err error) {
	n := fs.tree.Lookup(op.Inode)
	if n == nil {
		err = fuse.ENOENT
		return
	}
	op.Attributes = fs.attributesFor(n)
	return
}

// SetInodeAttributes only ever needs to support truncate as a no-op
// ("so `>` redirection works"), per spec §4.3.
func (fs *FileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) (err error) {
	n := fs.tree.Lookup(op.Inode)
	if n == nil {
		err = fuse.ENOENT
		return
	}
	op.Attributes = fs.attributesFor(n)
	return
}

func (fs *FileSystem) ForgetInode(op *fuseops.ForgetInodeOp) (err error) {
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *FileSystem) OpenDir(op *fuseops.OpenDirOp) (err error) {
	n := fs.tree.Lookup(op.Inode)
	if n == nil || n.Kind() != KindDir {
		err = fuse.ENOTDIR
		return
	}

	entries := make([]fuseutil.Dirent, 0, len(n.Children()))
	for i, c := range n.Children() {
		typ := fuseutil.DT_File
		if c.Kind() == KindDir {
			typ = fuseutil.DT_Directory
		}
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  c.ID(),
			Name:   c.Name(),
			Type:   typ,
		})
	}

	fs.mu.Lock()
	handleID := fs.nextHandleID
	fs.nextHandleID++
	fs.handles[handleID] = &handle{node: n, entries: entries}
	fs.mu.Unlock()

	op.Handle = handleID
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *FileSystem) ReadDir(op *fuseops.ReadDirOp) (err error) {
	fs.mu.Lock()
	h := fs.handles[op.Handle]
	fs.mu.Unlock()
	if h == nil {
		err = fuse.EIO
		return
	}

	index := int(op.Offset)
	n := 0
	for index < len(h.entries) {
		written := fuseutil.WriteDirent(op.Dst[n:], h.entries[index])
		if written == 0 {
			break
		}
		n += written
		index++
	}
	op.BytesRead = n
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *FileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) (err error) {
	fs.mu.Lock()
	delete(fs.handles, op.Handle)
	fs.mu.Unlock()
	return
}

// LOCKS_EXCLUDED(fs.mu)
func (fs *FileSystem) OpenFile(op *fuseops.OpenFileOp) (err error) {
	n := fs.tree.Lookup(op.Inode)
	if n == nil {
		err = fuse.ENOENT
		return
	}

	h := &handle{node: n}
	if n.Kind() == KindTracker && n.onOpen != nil {
		tok, openErr := n.onOpen()
		if openErr != nil {
			err = openErr
			return
		}
		h.trackerToken = tok
	}

	fs.mu.Lock()
	handleID := fs.nextHandleID
	fs.nextHandleID++
	fs.handles[handleID] = h
	fs.mu.Unlock()

	op.Handle = handleID
	return
}

// ReadFile serves only offset-0 reads, per spec §4.3; any other offset
// is EINVAL.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *FileSystem) ReadFile(op *fuseops.ReadFileOp) (err error) {
	if op.Offset != 0 {
		err = fuse.EINVAL
		return
	}

	fs.mu.Lock()
	h := fs.handles[op.Handle]
	fs.mu.Unlock()
	if h == nil {
		err = fuse.EIO
		return
	}

	var data []byte
	if h.node.Kind() == KindTracker {
		if h.node.onRead == nil {
			err = fuse.EIO
			return
		}
		data = FormatInt64(h.node.onRead(h.trackerToken))
	} else {
		data, err = h.node.Read()
		if err != nil {
			return
		}
	}

	op.BytesRead = copy(op.Dst, data)
	return
}

// WriteFile serves only offset-0 writes, per spec §4.3.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *FileSystem) WriteFile(op *fuseops.WriteFileOp) (err error) {
	if op.Offset != 0 {
		err = fuse.EINVAL
		return
	}

	fs.mu.Lock()
	h := fs.handles[op.Handle]
	fs.mu.Unlock()
	if h == nil {
		err = fuse.EIO
		return
	}

	err = h.node.Write(op.Data)
	return
}

// FlushFile and SyncFile are no-ops: every write already took effect
// synchronously against the node's callback.
func (fs *FileSystem) FlushFile(op *fuseops.FlushFileOp) (err error) { return }
func (fs *FileSystem) SyncFile(op *fuseops.SyncFileOp) (err error)   { return }

// LOCKS_EXCLUDED(fs.mu)
func (fs *FileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) (err error) {
	fs.mu.Lock()
	h := fs.handles[op.Handle]
	delete(fs.handles, op.Handle)
	fs.mu.Unlock()

	if h != nil && h.node.Kind() == KindTracker && h.node.onClose != nil {
		return h.node.onClose(h.trackerToken)
	}
	return
}
