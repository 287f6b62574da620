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

package store_test

import (
	"sync"
	"testing"

	"github.com/splitfuse/core/gah"
	"github.com/splitfuse/core/gah/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateGetInfoRoundTrip(t *testing.T) {
	s := store.New(1, 0)
	g := s.Allocate("resource-a")

	got, err := s.GetInfo(g)
	require.NoError(t, err)
	assert.Equal(t, "resource-a", got)
}

func TestDeallocateThenValidateFails(t *testing.T) {
	s := store.New(1, 0)
	g := s.Allocate("resource-a")

	require.NoError(t, s.Deallocate(g))

	_, err := s.GetInfo(g)
	assert.ErrorIs(t, err, gah.ErrExpired)
}

func TestReuseSafety(t *testing.T) {
	s := store.New(1, 0)
	g := s.Allocate("first")
	require.NoError(t, s.Deallocate(g))

	newG := s.Allocate("second")
	assert.Equal(t, g.Fid, newG.Fid, "expected the freed slot to be reused")
	assert.NotEqual(t, g.Revision, newG.Revision)

	_, err := s.GetInfo(g)
	assert.ErrorIs(t, err, gah.ErrExpired)

	got, err := s.GetInfo(newG)
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestOutOfRange(t *testing.T) {
	s := store.New(1, 0)
	g := s.Allocate("x")
	g.Fid = 1 << 20
	g = g.Seal()

	_, err := s.GetInfo(g)
	assert.ErrorIs(t, err, gah.ErrOutOfRange)
}

func TestVersionMismatch(t *testing.T) {
	s := store.New(1, 0)
	g := s.Allocate("x")
	g.Version = gah.ProtocolVersion + 1

	_, err := s.GetInfo(g)
	assert.ErrorIs(t, err, gah.ErrVersionMismatch)
}

func TestCRCMismatch(t *testing.T) {
	s := store.New(1, 0)
	g := s.Allocate("x")
	g.Reserved ^= 1

	_, err := s.GetInfo(g)
	assert.ErrorIs(t, err, gah.ErrCRCMismatch)
}

func TestGrowsInDeltasAndNeverShrinks(t *testing.T) {
	s := store.New(1, 0)
	require.Equal(t, 8192, s.Capacity())

	handles := make([]gah.GAH, 0, 8193)
	for i := 0; i < 8193; i++ {
		handles = append(handles, s.Allocate(i))
	}
	assert.Equal(t, 16384, s.Capacity())

	for _, h := range handles {
		require.NoError(t, s.Deallocate(h))
	}
	assert.Equal(t, 16384, s.Capacity(), "store must never shrink")
}

func TestConcurrentAllocationsAreUnique(t *testing.T) {
	s := store.New(1, 0)

	const n = 2000
	results := make([]gah.GAH, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Allocate(i)
		}(i)
	}
	wg.Wait()

	seen := make(map[[2]uint64]bool, n)
	for _, g := range results {
		key := [2]uint64{uint64(g.Fid), g.Revision}
		assert.False(t, seen[key], "duplicate (fid, revision) pair: %v", g)
		seen[key] = true
	}
}
