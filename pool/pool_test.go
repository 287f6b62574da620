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

package pool_test

import (
	"errors"
	"testing"

	"github.com/splitfuse/core/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type descriptor struct {
	inits   int
	resets  int
	cleaned int
	released bool
	failReset bool
	failClean bool
}

func newTestPool() *pool.Pool[descriptor] {
	return pool.New(pool.Callbacks[descriptor]{
		Init: func(d *descriptor) { d.inits++ },
		Reset: func(d *descriptor) error {
			d.resets++
			if d.failReset {
				return errors.New("reset failed")
			}
			return nil
		},
		Clean: func(d *descriptor) bool {
			d.cleaned++
			return !d.failClean
		},
		Release: func(d *descriptor) { d.released = true },
	})
}

func TestAcquireInitsOnceAndResetsEveryTime(t *testing.T) {
	p := newTestPool()

	d1, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 1, d1.inits)
	assert.Equal(t, 1, d1.resets)
	assert.Equal(t, 1, p.Outstanding())

	p.Release(d1)
	p.Restock()
	assert.Equal(t, 0, p.Outstanding())

	d2, err := p.Acquire()
	require.NoError(t, err)
	assert.Same(t, d1, d2, "expected reuse of the freed descriptor")
	assert.Equal(t, 1, d2.inits, "init must run only once per descriptor")
	assert.Equal(t, 2, d2.resets)
}

func TestAcquireFailedResetDestroysDescriptor(t *testing.T) {
	p := newTestPool()

	d, err := p.Acquire()
	require.NoError(t, err)
	p.Release(d)
	p.Restock()

	// Make the next reset fail by mutating state observed through the free
	// descriptor before it's handed back out.
	d.failReset = true

	_, err = p.Acquire()
	assert.Error(t, err)
	assert.True(t, d.released)
}

func TestRestockDestroysDescriptorWhenCleanFails(t *testing.T) {
	p := newTestPool()

	d, err := p.Acquire()
	require.NoError(t, err)
	d.failClean = true

	p.Release(d)
	p.Restock()

	assert.True(t, d.released)
	assert.Equal(t, 0, p.Outstanding())
}

func TestReclaimDrainsFreeList(t *testing.T) {
	p := newTestPool()

	d, err := p.Acquire()
	require.NoError(t, err)
	p.Release(d)
	p.Reclaim()

	assert.True(t, d.released)
	assert.Equal(t, 0, p.Outstanding())
	assert.Equal(t, 0, p.PendingLen())
}
