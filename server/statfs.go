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
	"golang.org/x/sys/unix"

	"github.com/splitfuse/core/wire"
)

// statfs wraps unix.Statfs, translating the platform struct into the
// wire's portable Statvfs, per spec §4.6 "Statfs".
func statfs(path string) (wire.Statvfs, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return wire.Statvfs{}, err
	}
	return wire.Statvfs{
		Blocks:     st.Blocks,
		BlocksFree: st.Bfree,
		Files:      st.Files,
		FilesFree:  st.Ffree,
		Bsize:      uint32(st.Bsize),
		Namemax:    uint32(st.Namelen),
	}, nil
}
