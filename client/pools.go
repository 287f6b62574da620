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

package client

import "github.com/splitfuse/core/pool"

// pageSize is the small-request pool's buffer size, per spec §4.5
// "Read": "one for page-sized requests (≤ 4096)".
const pageSize = 4096

// iobuf is a pre-pinned read/write buffer, reused across RPCs by a
// size-classed pool. In a real bulk-transport binding this would also
// carry the registration handle transport needs for zero-copy PUT/GET;
// here the buffer itself is the unit of reuse.
type iobuf struct {
	data []byte
}

// bufPools holds the two read/write buffer pools described in spec
// §4.5: requests at or below pageSize use the small pool, everything up
// to maxRead uses the large one. The dispatcher picks by requested
// length so one oversized request never forces every small request to
// pay for a maxRead-sized allocation.
type bufPools struct {
	small *pool.Pool[iobuf]
	large *pool.Pool[iobuf]
}

func newBufPools(maxRead uint32) *bufPools {
	mk := func(size int) *pool.Pool[iobuf] {
		return pool.New(pool.Callbacks[iobuf]{
			Init: func(b *iobuf) { b.data = make([]byte, size) },
		})
	}
	return &bufPools{
		small: mk(pageSize),
		large: mk(int(maxRead)),
	}
}

// acquire returns a buffer usable for a request of length n bytes.
func (p *bufPools) acquire(n int) (*iobuf, *pool.Pool[iobuf], error) {
	src := p.small
	if n > pageSize {
		src = p.large
	}
	b, err := src.Acquire()
	return b, src, err
}

func (p *bufPools) release(src *pool.Pool[iobuf], b *iobuf) {
	src.Release(b)
	src.Restock()
}

func (p *bufPools) reclaim() {
	p.small.Reclaim()
	p.large.Reclaim()
}
