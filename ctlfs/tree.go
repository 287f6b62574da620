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
	"fmt"
	"strings"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
)

// Tree owns the inode table and root of a control filesystem.
type Tree struct {
	mu          sync.Mutex
	nextInodeID fuseops.InodeID
	inodes      map[fuseops.InodeID]*Node

	root *Node
}

// NewTree builds an empty tree with just a root directory.
func NewTree() *Tree {
	t := &Tree{
		nextInodeID: fuseops.RootInodeID + 1,
		inodes:      make(map[fuseops.InodeID]*Node),
	}

	root := &Node{id: fuseops.RootInodeID, name: "", kind: KindDir}
	root.publish()
	t.inodes[fuseops.RootInodeID] = root
	t.root = root

	return t
}

func (t *Tree) Root() *Node { return t.root }

// Lookup resolves an inode by ID, as recorded by the tree's own
// allocator. Returns nil if unknown.
func (t *Tree) Lookup(id fuseops.InodeID) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inodes[id]
}

func (t *Tree) allocate(parent *Node, name string, kind Kind) *Node {
	t.mu.Lock()
	id := t.nextInodeID
	t.nextInodeID++
	n := &Node{id: id, name: name, kind: kind, parent: parent}
	t.inodes[id] = n
	t.mu.Unlock()
	return n
}

// Mkdir creates and publishes a new directory under parent.
func (t *Tree) Mkdir(parent *Node, name string) *Node {
	n := t.allocate(parent, name, KindDir)
	parent.addChild(n)
	n.publish() // fence: identity and empty children are all there is
	return n
}

// AddVariable creates and publishes a variable node. read/write may be
// nil individually but not both (that would be an unreadable,
// unwritable file with no purpose).
func (t *Tree) AddVariable(parent *Node, name string, read ReadFunc, write WriteFunc) *Node {
	n := t.allocate(parent, name, KindVariable)
	n.readFn = read
	n.writeFn = write
	parent.addChild(n)
	n.publish()
	return n
}

// AddEvent creates and publishes a write-only event node; every write,
// including a zero-length touch, invokes fire.
func (t *Tree) AddEvent(parent *Node, name string, fire WriteFunc) *Node {
	n := t.allocate(parent, name, KindEvent)
	n.writeFn = fire
	parent.addChild(n)
	n.publish()
	return n
}

// AddConstant creates and publishes a read-only fixed-value node.
// value must be at most 128 bytes per spec §4.3.
func (t *Tree) AddConstant(parent *Node, name string, value []byte) (*Node, error) {
	if len(value) > 128 {
		return nil, fmt.Errorf("ctlfs: constant %q exceeds 128 bytes", name)
	}
	n := t.allocate(parent, name, KindConstant)
	n.value = value
	n.size.Store(int64(len(value)))
	parent.addChild(n)
	n.publish()
	return n, nil
}

// AddConstantInt64 is a convenience wrapper around AddConstant for
// numeric constants, serialized to decimal per spec.
func (t *Tree) AddConstantInt64(parent *Node, name string, value int64) *Node {
	n, err := t.AddConstant(parent, name, FormatInt64(value))
	if err != nil {
		// Decimal int64 never exceeds 128 bytes.
		panic(err)
	}
	return n
}

// AddTracker creates and publishes a tracker node.
func (t *Tree) AddTracker(parent *Node, name string, onOpen TrackerOpenFunc, onClose TrackerCloseFunc, onRead TrackerReadFunc) *Node {
	n := t.allocate(parent, name, KindTracker)
	n.onOpen = onOpen
	n.onClose = onClose
	n.onRead = onRead
	parent.addChild(n)
	n.publish()
	return n
}

// Remove detaches name from parent's child list and drops it from the
// inode table (used when a projection is unmounted or a tracker entry
// expires).
func (t *Tree) Remove(parent *Node, name string) {
	child := parent.Lookup(name)
	if child == nil {
		return
	}
	parent.Remove(name)
	t.mu.Lock()
	delete(t.inodes, child.id)
	t.mu.Unlock()
}

// FindPathNode walks from the root, tokenizing on '/' and calling
// Lookup per component, per spec §4.3 "find_path_node".
func (t *Tree) FindPathNode(path string) (*Node, error) {
	cur := t.root
	path = strings.Trim(path, "/")
	if path == "" {
		return cur, nil
	}
	for _, part := range strings.Split(path, "/") {
		if cur.Kind() != KindDir {
			return nil, fmt.Errorf("ctlfs: %q is not a directory", cur.Name())
		}
		next := cur.Lookup(part)
		if next == nil {
			return nil, fmt.Errorf("ctlfs: no such node: %s", path)
		}
		cur = next
	}
	return cur, nil
}
