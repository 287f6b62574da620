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
	"sync/atomic"
	"testing"

	"github.com/splitfuse/core/ctlfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMkdirAndLookup(t *testing.T) {
	tree := ctlfs.NewTree()
	iof := tree.Mkdir(tree.Root(), "iof")

	got := tree.Root().Lookup("iof")
	require.NotNil(t, got)
	assert.Equal(t, iof.ID(), got.ID())
	assert.True(t, got.Initialized())
}

func TestConstantReadsFixedValue(t *testing.T) {
	tree := ctlfs.NewTree()
	n := tree.AddConstantInt64(tree.Root(), "ionss_count", 1)

	data, err := n.Read()
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))
}

func TestConstantOverLimitRejected(t *testing.T) {
	tree := ctlfs.NewTree()
	big := make([]byte, 129)
	_, err := tree.AddConstant(tree.Root(), "too-big", big)
	assert.Error(t, err)
}

func TestVariableReadWriteRoundTrip(t *testing.T) {
	tree := ctlfs.NewTree()
	var stored atomic.Int64
	stored.Store(42)

	n := tree.AddVariable(tree.Root(), "online",
		func() ([]byte, error) { return ctlfs.FormatInt64(stored.Load()), nil },
		func(b []byte) error { stored.Store(0); return nil })

	data, err := n.Read()
	require.NoError(t, err)
	assert.Equal(t, "42", string(data))

	require.NoError(t, n.Write([]byte("0")))
	assert.Equal(t, int64(0), stored.Load())
}

func TestVariableModeReflectsCallbacks(t *testing.T) {
	tree := ctlfs.NewTree()
	readOnly := tree.AddVariable(tree.Root(), "ro", func() ([]byte, error) { return nil, nil }, nil)
	assert.Equal(t, uint32(0444), readOnly.Mode())

	writeOnly := tree.AddVariable(tree.Root(), "wo", nil, func([]byte) error { return nil })
	assert.Equal(t, uint32(0222), writeOnly.Mode())
}

func TestEventFiresOnEveryWrite(t *testing.T) {
	tree := ctlfs.NewTree()
	var fired int
	n := tree.AddEvent(tree.Root(), "shutdown", func([]byte) error { fired++; return nil })

	require.NoError(t, n.Write(nil))
	require.NoError(t, n.Write([]byte("go")))
	assert.Equal(t, 2, fired)
}

func TestAddTrackerDoesNotInvokeCallbacks(t *testing.T) {
	tree := ctlfs.NewTree()
	var openCount atomic.Int64

	n := tree.AddTracker(tree.Root(), "clients",
		func() (any, error) {
			openCount.Add(1)
			return openCount.Load(), nil
		},
		func(tok any) error {
			openCount.Add(-1)
			return nil
		},
		func(tok any) int64 {
			return tok.(int64)
		})

	assert.Equal(t, ctlfs.KindTracker, n.Kind())
	assert.Equal(t, int64(0), openCount.Load())
}

func TestChildrenReturnsInsertionOrder(t *testing.T) {
	tree := ctlfs.NewTree()
	tree.Mkdir(tree.Root(), "a")
	tree.Mkdir(tree.Root(), "b")

	kids := tree.Root().Children()
	names := make([]string, len(kids))
	for i, k := range kids {
		names[i] = k.Name()
	}
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestFindPathNode(t *testing.T) {
	tree := ctlfs.NewTree()
	iof := tree.Mkdir(tree.Root(), "iof")
	tree.AddConstantInt64(iof, "ioctl_version", 1)

	n, err := tree.FindPathNode("iof/ioctl_version")
	require.NoError(t, err)
	assert.Equal(t, ctlfs.KindConstant, n.Kind())

	_, err = tree.FindPathNode("iof/nope")
	assert.Error(t, err)
}

func TestRemoveDropsChildAndInode(t *testing.T) {
	tree := ctlfs.NewTree()
	n := tree.Mkdir(tree.Root(), "transient")
	id := n.ID()

	tree.Remove(tree.Root(), "transient")

	assert.Nil(t, tree.Root().Lookup("transient"))
	assert.Nil(t, tree.Lookup(id))
}
