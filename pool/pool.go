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

// Package pool implements the per-type, per-projection request-descriptor
// allocator described in spec §4.2: acquire/release/restock/reclaim with
// no global lock taken in the acquire/release hot path once steady state
// is reached.
package pool

import "sync"

// Callbacks is the capability record a type registers with a Pool.
//
//   - Init is called once, when a descriptor's backing storage is first
//     allocated.
//   - Reset is called on every Acquire; it may recreate an RPC handle,
//     rebind a bulk handle, or re-zero fields that must start clean. A
//     Reset failure destroys the descriptor and fails the Acquire.
//   - Clean is called during Restock to decide whether a descriptor
//     returning from in-flight use can go back on the free list without a
//     fresh Reset, or must be destroyed instead.
//   - Release is called once, when a descriptor's storage is finally
//     freed: during Reclaim, or when Reset or Clean fails.
type Callbacks[T any] struct {
	Init    func(*T)
	Reset   func(*T) error
	Clean   func(*T) bool
	Release func(*T)
}

// Pool is a typed free-list allocator. The zero value is not usable; use
// New.
type Pool[T any] struct {
	cb Callbacks[T]

	mu      sync.Mutex
	free    queue[*T]
	pending queue[*T]
	inUse   int
}

// New creates a Pool that invokes cb at the lifecycle points documented
// on Callbacks.
func New[T any](cb Callbacks[T]) *Pool[T] {
	return &Pool[T]{cb: cb}
}

// Acquire returns a ready-to-use descriptor: one popped from the free
// list and Reset, or a freshly allocated one that has been Init'd and
// Reset.
func (p *Pool[T]) Acquire() (*T, error) {
	p.mu.Lock()
	var d *T
	if !p.free.IsEmpty() {
		d = p.free.Pop()
	} else {
		d = new(T)
		if p.cb.Init != nil {
			p.cb.Init(d)
		}
	}
	p.mu.Unlock()

	if p.cb.Reset != nil {
		if err := p.cb.Reset(d); err != nil {
			if p.cb.Release != nil {
				p.cb.Release(d)
			}
			return nil, err
		}
	}

	p.mu.Lock()
	p.inUse++
	p.mu.Unlock()

	return d, nil
}

// Release appends d to the pending list. It does not go back on the free
// list until Restock runs, so the progress thread — not whichever thread
// happens to complete the request — decides when a descriptor is
// recycled.
func (p *Pool[T]) Release(d *T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending.Push(d)
}

// Restock drains the pending list. Every drained entry lowers the in-use
// count and is offered to Clean: on success it moves to the free list, on
// failure it is released. Callers should restock before blocking in
// transport progress, so the hot path stays allocation-free once steady
// state is reached.
func (p *Pool[T]) Restock() {
	p.mu.Lock()
	pending := p.pending
	p.pending = queue[*T]{}
	p.mu.Unlock()

	for !pending.IsEmpty() {
		d := pending.Pop()

		clean := true
		if p.cb.Clean != nil {
			clean = p.cb.Clean(d)
		}

		p.mu.Lock()
		p.inUse--
		if clean {
			p.free.Push(d)
		}
		p.mu.Unlock()

		if !clean && p.cb.Release != nil {
			p.cb.Release(d)
		}
	}
}

// Reclaim runs Restock and then drains the free list, releasing every
// descriptor. Used at projection shutdown.
func (p *Pool[T]) Reclaim() {
	p.Restock()

	p.mu.Lock()
	free := p.free
	p.free = queue[*T]{}
	p.mu.Unlock()

	for !free.IsEmpty() {
		d := free.Pop()
		if p.cb.Release != nil {
			p.cb.Release(d)
		}
	}
}

// Outstanding returns the number of descriptors currently acquired and
// not yet drained by Restock: (acquired) − (released-and-restocked).
func (p *Pool[T]) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// PendingLen reports how many descriptors are awaiting Restock. Exposed
// for tests and for ctlfs stats wiring.
func (p *Pool[T]) PendingLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.Len()
}
