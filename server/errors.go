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
	"errors"
	"os"
	"syscall"

	"github.com/splitfuse/core/wire"
)

// statusFromError turns a POSIX-call error into the wire reply
// discipline's {err, rc} pair: a recognizable syscall.Errno becomes the
// RC half so the client surfaces it directly to userspace; anything
// else is an internal condition, reported as ErrInternal so the client
// maps it to EIO, per spec §6.
func statusFromError(err error) wire.Status {
	if err == nil {
		return wire.Status{}
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return wire.Status{RC: int32(errno)}
	}
	switch {
	case os.IsNotExist(err):
		return wire.Status{RC: int32(syscall.ENOENT)}
	case os.IsExist(err):
		return wire.Status{RC: int32(syscall.EEXIST)}
	case os.IsPermission(err):
		return wire.Status{RC: int32(syscall.EACCES)}
	}
	return wire.Status{Err: wire.ErrInternal}
}
