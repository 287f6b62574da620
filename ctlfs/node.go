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

// Package ctlfs implements the control filesystem of spec §4.3: a
// second, independent in-memory FUSE mount exposing directories,
// variables, events, constants and trackers so any program that can
// read or write files can inspect or modify the running projection.
package ctlfs

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/jacobsa/fuse/fuseops"
)

// Kind discriminates the five node flavors of spec §4.3.
type Kind int

const (
	KindDir Kind = iota
	KindVariable
	KindEvent
	KindConstant
	KindTracker
)

// ReadFunc produces a variable's current value.
type ReadFunc func() ([]byte, error)

// WriteFunc consumes a write to a variable or the touch of an event.
type WriteFunc func([]byte) error

// TrackerOpenFunc is invoked when a tracker file is opened; the
// returned token is threaded through to TrackerReadFunc/TrackerCloseFunc
// and typically holds the integer the open should report on read.
type TrackerOpenFunc func() (token any, err error)

// TrackerCloseFunc runs when the handle returned by TrackerOpenFunc is
// released.
type TrackerCloseFunc func(token any) error

// TrackerReadFunc renders token as the integer value returned to the
// reader.
type TrackerReadFunc func(token any) int64

// Node is one entry in the control tree. The zero value is not usable;
// construct with the tree's New* methods, which perform the two-phase
// publish spec §4.3 requires.
type Node struct {
	id     fuseops.InodeID
	name   string
	kind   Kind
	parent *Node

	// initialized gates visibility: set only after every other field
	// below has its final value, so a concurrent reader never observes
	// a node with its identity but not yet its callbacks. Readdir and
	// lookup both skip nodes with initialized == false.
	initialized atomic.Bool

	// Directory. childrenMu guards children; append-only in spec terms
	// (an FIFO, insertion order preserved) though Remove is supported
	// for projections/trackers that come and go.
	childrenMu sync.RWMutex
	children   []*Node

	// Variable / Event.
	readFn  ReadFunc
	writeFn WriteFunc

	// Constant.
	value []byte

	// Tracker.
	onOpen  TrackerOpenFunc
	onClose TrackerCloseFunc
	onRead  TrackerReadFunc

	// size caches the most recently observed content length, used for
	// getattr per spec §4.3 "getattr returns cached size or the most
	// recent write length."
	size atomic.Int64
}

func (n *Node) ID() fuseops.InodeID { return n.id }
func (n *Node) Name() string        { return n.name }
func (n *Node) Kind() Kind          { return n.kind }

// Mode returns S_IRUSR/S_IWUSR bits derived from which callbacks are
// installed, per spec §4.3 "permissions are derived from which
// callbacks are provided."
func (n *Node) Mode() uint32 {
	switch n.kind {
	case KindDir:
		return 0555
	case KindConstant:
		return 0444
	case KindEvent:
		return 0222
	case KindTracker:
		return 0444
	case KindVariable:
		var m uint32
		if n.readFn != nil {
			m |= 0444
		}
		if n.writeFn != nil {
			m |= 0222
		}
		return m
	default:
		return 0
	}
}

// Initialized reports whether the two-phase publish has completed.
func (n *Node) Initialized() bool { return n.initialized.Load() }

func (n *Node) publish() { n.initialized.Store(true) }

// Children returns a snapshot of the directory's visible (initialized)
// children, in insertion order.
func (n *Node) Children() []*Node {
	n.childrenMu.RLock()
	defer n.childrenMu.RUnlock()
	out := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		if c.Initialized() {
			out = append(out, c)
		}
	}
	return out
}

// Lookup finds a direct, initialized child by name. Linear scan, per
// spec §4.3 "lookups are linear scans."
func (n *Node) Lookup(name string) *Node {
	n.childrenMu.RLock()
	defer n.childrenMu.RUnlock()
	for _, c := range n.children {
		if c.Initialized() && c.name == name {
			return c
		}
	}
	return nil
}

func (n *Node) addChild(c *Node) {
	n.childrenMu.Lock()
	n.children = append(n.children, c)
	n.childrenMu.Unlock()
}

// Remove drops a child by name (e.g. when a projection or tracker is
// torn down). Removal does not need the two-phase dance publish does:
// there is no intermediate state a reader could observe as partially
// gone.
func (n *Node) Remove(name string) bool {
	n.childrenMu.Lock()
	defer n.childrenMu.Unlock()
	for i, c := range n.children {
		if c.name == name {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return true
		}
	}
	return false
}

// Read serves a variable, event-as-unreadable, or constant read. Only
// offset 0 is supported, per spec §4.3 "only single offset-0 reads and
// writes are supported; other offsets return EINVAL" — callers check
// the offset before calling Read.
func (n *Node) Read() ([]byte, error) {
	switch n.kind {
	case KindConstant:
		return n.value, nil
	case KindVariable:
		if n.readFn == nil {
			return nil, errPermission
		}
		b, err := n.readFn()
		if err == nil {
			n.size.Store(int64(len(b)))
		}
		return b, err
	case KindTracker:
		return nil, errPermission // handled via per-open token by the server
	default:
		return nil, errPermission
	}
}

// Write serves a variable or event write. Truncate is a no-op so `>`
// redirection against these files works without error, per spec.
func (n *Node) Write(data []byte) error {
	switch n.kind {
	case KindVariable:
		if n.writeFn == nil {
			return errPermission
		}
		if err := n.writeFn(data); err != nil {
			return err
		}
		n.size.Store(int64(len(data)))
		return nil
	case KindEvent:
		if n.writeFn == nil {
			return errPermission
		}
		return n.writeFn(data)
	default:
		return errPermission
	}
}

// Size returns the cached content length used for getattr.
func (n *Node) Size() int64 { return n.size.Load() }

var errPermission = fmt.Errorf("ctlfs: operation not permitted on this node kind")

// FormatInt64 renders a numeric constant value the way spec §4.3
// describes ("numeric constants are serialized to decimal").
func FormatInt64(v int64) []byte {
	return []byte(strconv.FormatInt(v, 10))
}
