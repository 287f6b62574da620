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

package server

import (
	"os"
	"syscall"
	"time"

	"github.com/splitfuse/core/wire"
)

// statToWire builds the wire Stat the client dispatcher expects. Mode is
// carried as Go's os.FileMode bit pattern (client.modeFromWire undoes
// this with a plain conversion), not the raw POSIX st_mode, so type and
// permission bits survive a round trip without either side needing to
// know the local platform's S_IFDIR/S_IFREG encoding.
func statToWire(fi os.FileInfo) wire.Stat {
	s := wire.Stat{
		Size:  uint64(fi.Size()),
		Mode:  uint32(fi.Mode()),
		Mtime: fi.ModTime(),
	}
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		s.Ino = st.Ino
		s.Nlink = uint32(st.Nlink)
		s.Uid = st.Uid
		s.Gid = st.Gid
		s.Atime = time.Unix(st.Atim.Sec, st.Atim.Nsec)
		s.Ctime = time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
	}
	return s
}

func devIno(fi os.FileInfo) (dev, ino uint64) {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Dev), st.Ino
	}
	return 0, 0
}

func direntType(fi os.FileInfo) uint8 {
	if fi.IsDir() {
		return 1
	}
	return 0
}
