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

package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Op identifies which RPC a request/reply payload belongs to. It travels
// in every transport frame alongside the encoded body so the receiving
// side can pick a concrete Go type before gob-decoding the body, per
// spec §4.4 "Codec".
type Op uint16

const (
	OpQueryPSR Op = iota + 1
	OpDetach
	OpShutdown
	OpLookup
	OpGetattr
	OpSetattr
	OpOpendir
	OpReaddir
	OpClosedir
	OpOpen
	OpCreate
	OpClose
	OpReadx
	OpWritex
	OpMkdir
	OpUnlink
	OpRmdir
	OpRename
	OpSymlink
	OpReadlink
	OpFsync
	OpFdatasync
	OpStatfs
)

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", uint16(o))
}

var opNames = map[Op]string{
	OpQueryPSR:  "query_psr",
	OpDetach:    "detach",
	OpShutdown:  "shutdown",
	OpLookup:    "lookup",
	OpGetattr:   "getattr",
	OpSetattr:   "setattr",
	OpOpendir:   "opendir",
	OpReaddir:   "readdir",
	OpClosedir:  "closedir",
	OpOpen:      "open",
	OpCreate:    "create",
	OpClose:     "close",
	OpReadx:     "readx",
	OpWritex:    "writex",
	OpMkdir:     "mkdir",
	OpUnlink:    "unlink",
	OpRmdir:     "rmdir",
	OpRename:    "rename",
	OpSymlink:   "symlink",
	OpReadlink:  "readlink",
	OpFsync:     "fsync",
	OpFdatasync: "fdatasync",
	OpStatfs:    "statfs",
}

// Encode gob-encodes v, the request or reply body for op. The codec
// itself is deliberately naive: the wire protocol is private to a single
// CNSS/IONSS pair built from the same module, so there is no need for a
// schema-evolution story beyond what gob already gives struct fields.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode gob-decodes data into v, which must be a pointer to the
// concrete request/reply type Op names.
func Decode(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("wire: decode: %w", err)
	}
	return nil
}

// NewRequest returns a freshly allocated, zero-valued request body for
// op, suitable as the decode target before dispatch.
func NewRequest(op Op) (any, error) {
	switch op {
	case OpQueryPSR:
		return new(QueryPSRRequest), nil
	case OpDetach:
		return new(DetachRequest), nil
	case OpShutdown:
		return new(ShutdownRequest), nil
	case OpLookup:
		return new(LookupRequest), nil
	case OpGetattr:
		return new(GetattrRequest), nil
	case OpSetattr:
		return new(SetattrRequest), nil
	case OpOpendir:
		return new(OpendirRequest), nil
	case OpReaddir:
		return new(ReaddirRequest), nil
	case OpClosedir:
		return new(ClosedirRequest), nil
	case OpOpen:
		return new(OpenRequest), nil
	case OpCreate:
		return new(CreateRequest), nil
	case OpClose:
		return new(CloseRequest), nil
	case OpReadx:
		return new(ReadxRequest), nil
	case OpWritex:
		return new(WritexRequest), nil
	case OpMkdir:
		return new(MkdirRequest), nil
	case OpUnlink:
		return new(UnlinkRequest), nil
	case OpRmdir:
		return new(RmdirRequest), nil
	case OpRename:
		return new(RenameRequest), nil
	case OpSymlink:
		return new(SymlinkRequest), nil
	case OpReadlink:
		return new(ReadlinkRequest), nil
	case OpFsync:
		return new(FsyncRequest), nil
	case OpFdatasync:
		return new(FdatasyncRequest), nil
	case OpStatfs:
		return new(StatfsRequest), nil
	default:
		return nil, fmt.Errorf("wire: unknown op %v", op)
	}
}

// NewReply returns a freshly allocated, zero-valued reply body for op.
func NewReply(op Op) (any, error) {
	switch op {
	case OpQueryPSR:
		return new(QueryPSRReply), nil
	case OpDetach:
		return new(DetachReply), nil
	case OpShutdown:
		return new(ShutdownReply), nil
	case OpLookup:
		return new(LookupReply), nil
	case OpGetattr:
		return new(GetattrReply), nil
	case OpSetattr:
		return new(SetattrReply), nil
	case OpOpendir:
		return new(OpendirReply), nil
	case OpReaddir:
		return new(ReaddirReply), nil
	case OpClosedir:
		return new(ClosedirReply), nil
	case OpOpen:
		return new(OpenReply), nil
	case OpCreate:
		return new(CreateReply), nil
	case OpClose:
		return new(CloseReply), nil
	case OpReadx:
		return new(ReadxReply), nil
	case OpWritex:
		return new(WritexReply), nil
	case OpMkdir:
		return new(MkdirReply), nil
	case OpUnlink:
		return new(UnlinkReply), nil
	case OpRmdir:
		return new(RmdirReply), nil
	case OpRename:
		return new(RenameReply), nil
	case OpSymlink:
		return new(SymlinkReply), nil
	case OpReadlink:
		return new(ReadlinkReply), nil
	case OpFsync:
		return new(FsyncReply), nil
	case OpFdatasync:
		return new(FdatasyncReply), nil
	case OpStatfs:
		return new(StatfsReply), nil
	default:
		return nil, fmt.Errorf("wire: unknown op %v", op)
	}
}
