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

package ctlfs_test

import (
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/splitfuse/core/ctlfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupAndGetattr(t *testing.T) {
	tree := ctlfs.NewTree()
	tree.AddConstantInt64(tree.Root(), "ionss_count", 1)
	fs := ctlfs.New(tree, 1000, 1000)

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "ionss_count"}
	require.NoError(t, fs.LookUpInode(lookup))
	assert.Equal(t, uint64(1), lookup.Entry.Attributes.Size)

	get := &fuseops.GetInodeAttributesOp{Inode: lookup.Entry.Child}
	require.NoError(t, fs.GetInodeAttributes(get))
	assert.Equal(t, uint64(1), get.Attributes.Size)

	miss := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "nope"}
	assert.Equal(t, fuse.ENOENT, fs.LookUpInode(miss))
}

func TestReadFileOnlySupportsOffsetZero(t *testing.T) {
	tree := ctlfs.NewTree()
	n := tree.AddVariable(tree.Root(), "v", func() ([]byte, error) { return []byte("hello"), nil }, nil)
	fs := ctlfs.New(tree, 0, 0)

	open := &fuseops.OpenFileOp{Inode: n.ID()}
	require.NoError(t, fs.OpenFile(open))

	buf := make([]byte, 16)
	read := &fuseops.ReadFileOp{Handle: open.Handle, Offset: 0, Dst: buf}
	require.NoError(t, fs.ReadFile(read))
	assert.Equal(t, "hello", string(buf[:read.BytesRead]))

	badRead := &fuseops.ReadFileOp{Handle: open.Handle, Offset: 1, Dst: buf}
	assert.Equal(t, fuse.EINVAL, fs.ReadFile(badRead))
}

func TestWriteFileInvokesVariableCallback(t *testing.T) {
	tree := ctlfs.NewTree()
	var got string
	n := tree.AddVariable(tree.Root(), "online", nil, func(b []byte) error { got = string(b); return nil })
	fs := ctlfs.New(tree, 0, 0)

	open := &fuseops.OpenFileOp{Inode: n.ID()}
	require.NoError(t, fs.OpenFile(open))

	write := &fuseops.WriteFileOp{Handle: open.Handle, Offset: 0, Data: []byte("0")}
	require.NoError(t, fs.WriteFile(write))
	assert.Equal(t, "0", got)
}

func TestReaddirListsChildrenInInsertionOrder(t *testing.T) {
	tree := ctlfs.NewTree()
	tree.Mkdir(tree.Root(), "alpha")
	tree.Mkdir(tree.Root(), "beta")
	fs := ctlfs.New(tree, 0, 0)

	openDir := &fuseops.OpenDirOp{Inode: fuseops.RootInodeID}
	require.NoError(t, fs.OpenDir(openDir))

	buf := make([]byte, 4096)
	readDir := &fuseops.ReadDirOp{Handle: openDir.Handle, Offset: 0, Dst: buf}
	require.NoError(t, fs.ReadDir(readDir))
	assert.Greater(t, readDir.BytesRead, 0)
	out := string(buf[:readDir.BytesRead])
	require.Contains(t, out, "alpha")
	require.Contains(t, out, "beta")
	assert.Less(t, strings.Index(out, "alpha"), strings.Index(out, "beta"))

	require.NoError(t, fs.ReleaseDirHandle(&fuseops.ReleaseDirHandleOp{Handle: openDir.Handle}))
}

func TestTrackerOpenCloseThroughServer(t *testing.T) {
	tree := ctlfs.NewTree()
	var count atomic.Int64
	n := tree.AddTracker(tree.Root(), "clients",
		func() (any, error) { count.Add(1); return count.Load(), nil },
		func(tok any) error { count.Add(-1); return nil },
		func(tok any) int64 { return tok.(int64) })
	fs := ctlfs.New(tree, 0, 0)

	open := &fuseops.OpenFileOp{Inode: n.ID()}
	require.NoError(t, fs.OpenFile(open))
	assert.Equal(t, int64(1), count.Load())

	buf := make([]byte, 16)
	read := &fuseops.ReadFileOp{Handle: open.Handle, Offset: 0, Dst: buf}
	require.NoError(t, fs.ReadFile(read))
	assert.Equal(t, "1", string(buf[:read.BytesRead]))

	require.NoError(t, fs.ReleaseFileHandle(&fuseops.ReleaseFileHandleOp{Handle: open.Handle}))
	assert.Equal(t, int64(0), count.Load())
}

func TestSetInodeAttributesTruncateIsNoop(t *testing.T) {
	tree := ctlfs.NewTree()
	n := tree.AddConstantInt64(tree.Root(), "x", 7)
	fs := ctlfs.New(tree, 0, 0)

	size := uint64(0)
	op := &fuseops.SetInodeAttributesOp{Inode: n.ID(), Size: &size}
	require.NoError(t, fs.SetInodeAttributes(op))
	assert.Equal(t, uint64(1), op.Attributes.Size) // "7" is one byte; truncate request ignored
}
