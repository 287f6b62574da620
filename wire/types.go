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

// Package wire defines the request and reply types for every RPC the
// spec's protocol catalog (§6) names, and the reply discipline shared by
// all of them: a non-zero Err is an internal condition the client always
// surfaces as EIO (GAHInvalid included; the client does not clear its
// local handle state on it); a zero Err and non-zero RC is a POSIX errno
// to return directly to userspace.
package wire

import (
	"time"

	"github.com/splitfuse/core/gah"
)

// NameMax is the longest basename the wire format carries, per spec §6.
const NameMax = 255

// ErrCode is the internal "err" half of the reply discipline. Zero means
// success.
type ErrCode uint32

const (
	ErrNone ErrCode = iota
	ErrGAHInvalid
	ErrTimeout
	ErrHostDown
	ErrOutOfGroup
	ErrNoMemory
	ErrMalformed
	ErrUnsupported
	ErrInternal
)

func (e ErrCode) String() string {
	switch e {
	case ErrNone:
		return "none"
	case ErrGAHInvalid:
		return "gah_invalid"
	case ErrTimeout:
		return "timeout"
	case ErrHostDown:
		return "host_down"
	case ErrOutOfGroup:
		return "out_of_group"
	case ErrNoMemory:
		return "no_memory"
	case ErrMalformed:
		return "malformed"
	case ErrUnsupported:
		return "unsupported"
	default:
		return "internal"
	}
}

// Status is the common {err, rc} reply pair every RPC carries, per spec
// §6 "Reply discipline".
type Status struct {
	Err ErrCode
	RC  int32 // POSIX errno, meaningful only when Err == ErrNone
}

// OK reports whether the RPC completed with no internal error and no
// POSIX error.
func (s Status) OK() bool {
	return s.Err == ErrNone && s.RC == 0
}

// Stat is the subset of inode attributes carried across the wire. Other
// fields of a richer on-disk stat are not trusted across time, per spec
// §3 "Inode (client side)".
type Stat struct {
	Ino   uint64
	Size  uint64
	Mode  uint32 // os.FileMode bits, including type bits
	Nlink uint32
	Uid   uint32
	Gid   uint32
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// Dirent is one directory entry returned by readdir.
type Dirent struct {
	Name   string
	Ino    uint64
	Offset uint64
	Type   uint8 // 1 for a directory, 0 for anything else
}

// FSExport describes one projection exported by an IONSS, as returned by
// query_psr.
type FSExport struct {
	FsID          uint32
	RootGAH       gah.GAH
	MountPoint    string
	MaxRead       uint32
	MaxWrite      uint32
	MaxIovRead    uint32
	MaxIovWrite   uint32
	ReaddirSize   uint32
	Writeable     bool
}

////////////////////////////////////////////////////////////////////////
// Requests and replies, one pair per catalog row in spec §6.
////////////////////////////////////////////////////////////////////////

type QueryPSRRequest struct{}

type QueryPSRReply struct {
	FSList       []FSExport
	Count        uint32
	PollInterval uint32
	ProgressCB   bool
}

type DetachRequest struct{}
type DetachReply struct{}

type ShutdownRequest struct{}
type ShutdownReply struct{}

type LookupRequest struct {
	GAH  gah.GAH
	Name string
}

type LookupReply struct {
	GAH    gah.GAH
	Stat   Stat
	Status Status
}

type GetattrRequest struct {
	GAH gah.GAH
}

type GetattrReply struct {
	Stat   Stat
	Status Status
}

// ToSet bits for SetattrRequest, mirroring fuseops.SetInodeAttributesOp's
// optional-field convention but explicit for wire transmission.
const (
	ToSetMode uint32 = 1 << iota
	ToSetSize
	ToSetAtime
	ToSetMtime
)

type SetattrRequest struct {
	GAH   gah.GAH
	Stat  Stat
	ToSet uint32
}

type SetattrReply struct {
	Stat   Stat
	Status Status
}

type OpendirRequest struct {
	GAH gah.GAH
}

type OpendirReply struct {
	GAH    gah.GAH
	Status Status
}

type ReaddirRequest struct {
	GAH    gah.GAH
	Offset uint64
}

type ReaddirReply struct {
	Entries   []Dirent
	Last      bool
	BulkCount uint32 // non-zero iff Entries was delivered via bulk PUT
	Status    Status
}

type ClosedirRequest struct {
	GAH gah.GAH
}
type ClosedirReply struct{}

// OpenFlags mirrors the subset of POSIX open(2) flags the client
// dispatcher accepts, per spec §4.5.
type OpenFlags uint32

const (
	OReadOnly OpenFlags = 1 << iota
	OWriteOnly
	OReadWrite
	OCreate
	OTrunc
	OAppend
	OExcl
	OSync
)

type OpenRequest struct {
	GAH   gah.GAH
	Flags OpenFlags
}

type OpenReply struct {
	GAH    gah.GAH
	Status Status
}

type CreateRequest struct {
	GAH   gah.GAH
	Name  string
	Mode  uint32
	Flags OpenFlags
}

type CreateReply struct {
	GAH      gah.GAH
	InodeGAH gah.GAH
	Stat     Stat
	Status   Status
}

type CloseRequest struct {
	GAH gah.GAH
}
type CloseReply struct{}

// Xtvec describes one (offset, length) extent of a read or write.
type Xtvec struct {
	Offset uint64
	Len    uint64
}

type ReadxRequest struct {
	GAH       gah.GAH
	Extent    Xtvec
	BulkToken uint64 // non-zero: client has pre-registered a buffer under this token and expects bulk PUT instead of inline Data
}

type ReadxReply struct {
	Data      []byte // inline payload, nil when delivered via bulk
	BulkLen   uint64 // non-zero iff a bulk PUT of this many bytes was sent under BulkToken
	BulkToken uint64 // correlates this reply's bulk PUT with the request's BulkToken
	Status    Status
}

type WritexRequest struct {
	GAH       gah.GAH
	Extent    Xtvec
	Data      []byte // inline payload, nil when delivered via bulk GET
	BulkLen   uint64 // non-zero: server must bulk GET this many bytes under BulkToken first
	BulkToken uint64 // correlates the server's BulkGet with the client's BulkPut
}

type WritexReply struct {
	Len    uint64
	Status Status
}

type MkdirRequest struct {
	GAH   gah.GAH
	Name  string
	Mode  uint32
	Flags uint32
}

type MkdirReply struct {
	GAH    gah.GAH
	Stat   Stat
	Status Status
}

type UnlinkRequest struct {
	GAH   gah.GAH
	Name  string
	Flags uint32
}
type UnlinkReply struct {
	Status Status
}

type RmdirRequest struct {
	GAH  gah.GAH
	Name string
}
type RmdirReply struct {
	Status Status
}

type RenameRequest struct {
	OldGAH   gah.GAH
	NewGAH   gah.GAH
	OldName  string
	NewName  string
	Flags    uint32
}
type RenameReply struct {
	Status Status
}

type SymlinkRequest struct {
	GAH     gah.GAH
	Name    string
	OldPath string
}
type SymlinkReply struct {
	GAH    gah.GAH
	Stat   Stat
	Status Status
}

type ReadlinkRequest struct {
	GAH gah.GAH
}
type ReadlinkReply struct {
	Path   string
	Status Status
}

type FsyncRequest struct {
	GAH gah.GAH
}
type FsyncReply struct {
	Status Status
}

type FdatasyncRequest struct {
	GAH gah.GAH
}
type FdatasyncReply struct {
	Status Status
}

type Statvfs struct {
	Blocks     uint64
	BlocksFree uint64
	Files      uint64
	FilesFree  uint64
	Bsize      uint32
	Namemax    uint32
}

type StatfsRequest struct {
	GAH gah.GAH
}
type StatfsReply struct {
	Statvfs Statvfs
	Status  Status
}

// GAHIoctlVersion is the protocol version field of a GAHInfo payload,
// per spec §6 "IOCTL surface": IOF_IOCTL_GAH replies with this struct
// for any open file served over the mount.
const GAHIoctlVersion uint32 = 1

// GAHInfo is the fixed-size payload the IOF_IOCTL_GAH ioctl returns,
// per spec §6: {version, gah, cnss_id, cli_fs_id}.
type GAHInfo struct {
	Version uint32
	GAH     gah.GAH
	CnssID  int32
	FsID    uint32
}
