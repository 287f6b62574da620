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

// Package store implements the GAH Store: a fixed-growth slot allocator
// that produces and reclaims GAHs from an internal free list.
package store

import (
	"sync"

	"github.com/splitfuse/core/gah"
)

// growthDelta is both the initial capacity and the size of each growth
// step, per spec §3.
const growthDelta = 8192

// nilSlot marks the end of the free list.
const nilSlot = -1

type slot struct {
	inUse    bool
	revision uint64
	internal interface{}
	next     int32 // free-list link; meaningless while inUse
}

// Store is an ordered sequence of slots that never shrinks.
type Store struct {
	mu       sync.Mutex
	slots    []slot
	freeHead int32
	selfRank uint8
	base     uint8
}

// New creates a GAH Store whose slots will be minted with the given
// owning rank (root) and base.
func New(selfRank, base uint8) *Store {
	s := &Store{freeHead: nilSlot, selfRank: selfRank, base: base}
	s.grow()
	return s
}

// grow appends another growthDelta slots and threads them onto the free
// list. LOCKS_REQUIRED(s.mu) except when called from New.
func (s *Store) grow() {
	start := len(s.slots)
	s.slots = append(s.slots, make([]slot, growthDelta)...)

	// Thread the new slots onto the existing free list, tail first so
	// that low-numbered fids are handed out first.
	for i := len(s.slots) - 1; i >= start; i-- {
		s.slots[i].next = s.freeHead
		s.freeHead = int32(i)
	}
}

// Allocate pops a free slot, bumps its revision, and returns a fresh GAH
// naming it. internal is the opaque resource the slot now represents.
func (s *Store) Allocate(internal interface{}) gah.GAH {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.freeHead == nilSlot {
		s.grow()
	}

	fid := s.freeHead
	sl := &s.slots[fid]
	s.freeHead = sl.next

	sl.inUse = true
	sl.revision++
	sl.internal = internal

	return gah.GAH{
		Revision: sl.revision,
		Root:     s.selfRank,
		Base:     s.base,
		Version:  gah.ProtocolVersion,
		Fid:      uint32(fid),
	}.Seal()
}

// Deallocate validates g, clears its slot's in-use flag, and returns the
// slot to the head of the free list.
func (s *Store) Deallocate(g gah.GAH) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fid, err := s.validateLocked(g)
	if err != nil {
		return err
	}

	sl := &s.slots[fid]
	sl.inUse = false
	sl.internal = nil
	sl.next = s.freeHead
	s.freeHead = int32(fid)

	return nil
}

// GetInfo validates g and returns the internal resource it names.
func (s *Store) GetInfo(g gah.GAH) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fid, err := s.validateLocked(g)
	if err != nil {
		return nil, err
	}

	return s.slots[fid].internal, nil
}

// Capacity returns the current number of slots.
func (s *Store) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// validateLocked runs check_version, check_crc, the fid range check, and
// the in_use/revision check, in that order, per spec §4.1.
// LOCKS_REQUIRED(s.mu)
func (s *Store) validateLocked(g gah.GAH) (int32, error) {
	if !g.CheckVersion() {
		return 0, gah.ErrVersionMismatch
	}
	if !g.CheckCRC() {
		return 0, gah.ErrCRCMismatch
	}
	if g.Fid >= uint32(len(s.slots)) {
		return 0, gah.ErrOutOfRange
	}

	fid := int32(g.Fid)
	sl := &s.slots[fid]
	if !sl.inUse || sl.revision != g.Revision {
		return 0, gah.ErrExpired
	}

	return fid, nil
}
