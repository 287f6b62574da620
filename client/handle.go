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

import (
	"sync"

	"github.com/splitfuse/core/gah"
	"github.com/splitfuse/core/wire"
)

// openFile is the client-side open-file handle, per spec §3 "Open File
// (client side)": a GAH plus a gah_ok flag that eviction/failover can
// clear so further operations fail locally instead of reaching a stale
// peer.
type openFile struct {
	mu    sync.Mutex
	gah   gah.GAH
	gahOk bool
	inode *Inode
}

func (h *openFile) GAH() (g gah.GAH, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gah, h.gahOk
}

func (h *openFile) invalidate() {
	h.mu.Lock()
	h.gahOk = false
	h.mu.Unlock()
}

// openDir is the client-side open-directory handle, per spec §3 "Open
// Directory (client side)": a GAH, a batch of buffered entries and the
// server-side opaque cursor used to fetch the next batch.
type openDir struct {
	mu      sync.Mutex
	gah     gah.GAH
	gahOk   bool
	entries []wire.Dirent
	pos     int
	cursor  uint64
	last    bool // true once the server has reported no further entries
}

func (h *openDir) GAH() (g gah.GAH, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gah, h.gahOk
}

func (h *openDir) invalidate() {
	h.mu.Lock()
	h.gahOk = false
	h.mu.Unlock()
}
