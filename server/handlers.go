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
	"context"
	"os"
	"path/filepath"

	"github.com/splitfuse/core/gah"
	"github.com/splitfuse/core/transport"
	"github.com/splitfuse/core/wire"
)

// childPath resolves (ne, name) to the child's export-relative path,
// rejecting an empty name, "." and ".."; Export.resolve then rejects
// anything that would escape the export root, per spec §4.6.
func childPath(ne *nodeEntry, name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", os.ErrInvalid
	}
	return filepath.Join(ne.path, name), nil
}

func (p *Projection) handleLookup(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.LookupRequest)
	reply := &wire.LookupReply{}

	ne, status := p.lookupNode(in.GAH)
	if !status.OK() {
		reply.Status = status
		return reply, nil
	}
	defer p.derefNode(in.GAH, ne)
	rel, err := childPath(ne, in.Name)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}

	abs, err := p.export.resolve(rel)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	fi, err := os.Lstat(abs)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}

	g, _ := p.findOrCreateNode(rel, fi)
	reply.GAH = g
	reply.Stat = statToWire(fi)
	return reply, nil
}

func (p *Projection) handleGetattr(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.GetattrRequest)
	reply := &wire.GetattrReply{}

	ne, status := p.lookupNode(in.GAH)
	if !status.OK() {
		reply.Status = status
		return reply, nil
	}
	defer p.derefNode(in.GAH, ne)
	abs, err := p.export.resolve(ne.path)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	fi, err := os.Lstat(abs)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	reply.Stat = statToWire(fi)
	return reply, nil
}

func (p *Projection) handleSetattr(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.SetattrRequest)
	reply := &wire.SetattrReply{}

	ne, status := p.lookupNode(in.GAH)
	if !status.OK() {
		reply.Status = status
		return reply, nil
	}
	defer p.derefNode(in.GAH, ne)
	abs, err := p.export.resolve(ne.path)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}

	if in.ToSet&wire.ToSetMode != 0 {
		if err := os.Chmod(abs, os.FileMode(in.Stat.Mode).Perm()); err != nil {
			reply.Status = statusFromError(err)
			return reply, nil
		}
	}
	if in.ToSet&wire.ToSetSize != 0 {
		if err := os.Truncate(abs, int64(in.Stat.Size)); err != nil {
			reply.Status = statusFromError(err)
			return reply, nil
		}
	}
	if in.ToSet&(wire.ToSetAtime|wire.ToSetMtime) != 0 {
		fi, err := os.Lstat(abs)
		if err != nil {
			reply.Status = statusFromError(err)
			return reply, nil
		}
		cur := statToWire(fi)
		atime, mtime := cur.Atime, cur.Mtime
		if in.ToSet&wire.ToSetAtime != 0 {
			atime = in.Stat.Atime
		}
		if in.ToSet&wire.ToSetMtime != 0 {
			mtime = in.Stat.Mtime
		}
		if err := os.Chtimes(abs, atime, mtime); err != nil {
			reply.Status = statusFromError(err)
			return reply, nil
		}
	}

	fi, err := os.Lstat(abs)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	reply.Stat = statToWire(fi)
	return reply, nil
}

func (p *Projection) handleMkdir(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.MkdirRequest)
	reply := &wire.MkdirReply{}

	ne, status := p.lookupNode(in.GAH)
	if !status.OK() {
		reply.Status = status
		return reply, nil
	}
	defer p.derefNode(in.GAH, ne)
	rel, err := childPath(ne, in.Name)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	abs, err := p.export.resolve(rel)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	if err := os.Mkdir(abs, os.FileMode(in.Mode).Perm()); err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	fi, err := os.Lstat(abs)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	g, _ := p.findOrCreateNode(rel, fi)
	reply.GAH = g
	reply.Stat = statToWire(fi)
	return reply, nil
}

func (p *Projection) handleUnlink(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.UnlinkRequest)
	reply := &wire.UnlinkReply{}

	ne, status := p.lookupNode(in.GAH)
	if !status.OK() {
		reply.Status = status
		return reply, nil
	}
	defer p.derefNode(in.GAH, ne)
	rel, err := childPath(ne, in.Name)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	abs, err := p.export.resolve(rel)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	reply.Status = statusFromError(os.Remove(abs))
	return reply, nil
}

func (p *Projection) handleRmdir(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.RmdirRequest)
	reply := &wire.RmdirReply{}

	ne, status := p.lookupNode(in.GAH)
	if !status.OK() {
		reply.Status = status
		return reply, nil
	}
	defer p.derefNode(in.GAH, ne)
	rel, err := childPath(ne, in.Name)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	abs, err := p.export.resolve(rel)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	reply.Status = statusFromError(os.Remove(abs))
	return reply, nil
}

func (p *Projection) handleRename(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.RenameRequest)
	reply := &wire.RenameReply{}

	oldNe, status := p.lookupNode(in.OldGAH)
	if !status.OK() {
		reply.Status = status
		return reply, nil
	}
	defer p.derefNode(in.OldGAH, oldNe)

	newNe, status := p.lookupNode(in.NewGAH)
	if !status.OK() {
		reply.Status = status
		return reply, nil
	}
	defer p.derefNode(in.NewGAH, newNe)

	oldRel, err := childPath(oldNe, in.OldName)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	newRel, err := childPath(newNe, in.NewName)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}

	oldAbs, err := p.export.resolve(oldRel)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	newAbs, err := p.export.resolve(newRel)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	reply.Status = statusFromError(os.Rename(oldAbs, newAbs))
	return reply, nil
}

func (p *Projection) handleSymlink(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.SymlinkRequest)
	reply := &wire.SymlinkReply{}

	ne, status := p.lookupNode(in.GAH)
	if !status.OK() {
		reply.Status = status
		return reply, nil
	}
	defer p.derefNode(in.GAH, ne)
	rel, err := childPath(ne, in.Name)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	abs, err := p.export.resolve(rel)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	if err := os.Symlink(in.OldPath, abs); err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	fi, err := os.Lstat(abs)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	g, _ := p.findOrCreateNode(rel, fi)
	reply.GAH = g
	reply.Stat = statToWire(fi)
	return reply, nil
}

func (p *Projection) handleReadlink(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.ReadlinkRequest)
	reply := &wire.ReadlinkReply{}

	ne, status := p.lookupNode(in.GAH)
	if !status.OK() {
		reply.Status = status
		return reply, nil
	}
	defer p.derefNode(in.GAH, ne)
	abs, err := p.export.resolve(ne.path)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	target, err := os.Readlink(abs)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	reply.Path = target
	return reply, nil
}

func (p *Projection) handleStatfs(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.StatfsRequest)
	reply := &wire.StatfsReply{}

	ne, status := p.lookupNode(in.GAH)
	if !status.OK() {
		reply.Status = status
		return reply, nil
	}
	defer p.derefNode(in.GAH, ne)
	abs, err := p.export.resolve(ne.path)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	sv, err := statfs(abs)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	reply.Statvfs = sv
	return reply, nil
}

func (p *Projection) handleOpendir(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.OpendirRequest)
	reply := &wire.OpendirReply{}

	ne, status := p.lookupNode(in.GAH)
	if !status.OK() {
		reply.Status = status
		return reply, nil
	}
	defer p.derefNode(in.GAH, ne)
	abs, err := p.export.resolve(ne.path)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}

	f, err := os.Open(abs)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	defer f.Close()

	dirEntries, err := f.ReadDir(-1)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}

	entries := make([]wire.Dirent, 0, len(dirEntries))
	for i, de := range dirEntries {
		fi, err := de.Info()
		if err != nil {
			continue
		}
		_, ino := devIno(fi)
		entries = append(entries, wire.Dirent{
			Name:   de.Name(),
			Ino:    ino,
			Offset: uint64(i),
			Type:   direntType(fi),
		})
	}

	reply.GAH = p.newDirHandle(entries)
	return reply, nil
}

func (p *Projection) handleReaddir(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.ReaddirRequest)
	reply := &wire.ReaddirReply{}

	dh, status := p.lookupDir(in.GAH)
	if !status.OK() {
		reply.Status = status
		return reply, nil
	}

	dh.mu.Lock()
	defer dh.mu.Unlock()

	batch := int(p.cfg.ReaddirSize)
	if batch <= 0 {
		batch = len(dh.entries)
	}
	start := int(in.Offset)
	if start > len(dh.entries) {
		start = len(dh.entries)
	}
	end := start + batch
	if end > len(dh.entries) {
		end = len(dh.entries)
	}

	reply.Entries = dh.entries[start:end]
	reply.Last = end >= len(dh.entries)
	return reply, nil
}

func (p *Projection) handleClosedir(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.ClosedirRequest)
	_ = p.closeDir(in.GAH)
	return &wire.ClosedirReply{}, nil
}

func (p *Projection) handleOpen(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.OpenRequest)
	reply := &wire.OpenReply{}

	ne, status := p.lookupNode(in.GAH)
	if !status.OK() {
		reply.Status = status
		return reply, nil
	}
	defer p.derefNode(in.GAH, ne)
	abs, err := p.export.resolve(ne.path)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	fd, err := os.OpenFile(abs, flagsToOS(in.Flags), 0)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	reply.GAH = p.openFile(ne.path, ne.ino, in.Flags, fd)
	return reply, nil
}

func (p *Projection) handleCreate(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.CreateRequest)
	reply := &wire.CreateReply{}

	ne, status := p.lookupNode(in.GAH)
	if !status.OK() {
		reply.Status = status
		return reply, nil
	}
	defer p.derefNode(in.GAH, ne)
	rel, err := childPath(ne, in.Name)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	abs, err := p.export.resolve(rel)
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}

	fd, err := os.OpenFile(abs, flagsToOS(in.Flags), os.FileMode(in.Mode).Perm())
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	fi, err := fd.Stat()
	if err != nil {
		fd.Close()
		reply.Status = statusFromError(err)
		return reply, nil
	}

	_, nodeIno := devIno(fi)
	reply.InodeGAH, _ = p.findOrCreateNode(rel, fi)
	reply.GAH = p.openFile(rel, nodeIno, in.Flags, fd)
	reply.Stat = statToWire(fi)
	return reply, nil
}

func (p *Projection) handleClose(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.CloseRequest)
	switch in.GAH.Base {
	case baseHandle:
		_ = p.closeHandle(in.GAH)
	default:
		_ = p.closeNode(in.GAH)
	}
	return &wire.CloseReply{}, nil
}

// handleReadx runs under the bounded-concurrency read semaphore
// (acquireRead/releaseRead), per spec §5, and pushes the payload through
// peer.BulkPut rather than inline in the reply whenever the request
// carries a non-zero BulkToken, per spec §4.6's read pipeline.
func (p *Projection) handleReadx(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.ReadxRequest)
	reply := &wire.ReadxReply{}

	if !p.acquireRead(ctx.Done()) {
		reply.Status = wire.Status{Err: wire.ErrInternal}
		return reply, nil
	}
	defer p.releaseRead()

	if in.Extent.Len > uint64(p.cfg.MaxRead) {
		reply.Status = wire.Status{Err: wire.ErrInternal}
		return reply, nil
	}

	fh, status := p.lookupHandle(in.GAH)
	if !status.OK() {
		reply.Status = status
		return reply, nil
	}
	defer p.derefHandle(in.GAH, fh)

	buf := make([]byte, in.Extent.Len)
	fh.mu.Lock()
	n, err := fh.fd.ReadAt(buf, int64(in.Extent.Offset))
	fh.mu.Unlock()
	if err != nil && n == 0 {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	buf = buf[:n]

	if in.BulkToken != 0 {
		if err := peer.BulkPut(ctx, in.BulkToken, buf); err != nil {
			reply.Status = wire.Status{Err: wire.ErrInternal}
			return reply, nil
		}
		reply.BulkLen = uint64(n)
		reply.BulkToken = in.BulkToken
	} else {
		reply.Data = buf
	}
	return reply, nil
}

// handleWritex mirrors handleReadx: a non-zero BulkLen means the
// payload must be pulled via peer.BulkGet before the write lands.
func (p *Projection) handleWritex(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.WritexRequest)
	reply := &wire.WritexReply{}

	fh, status := p.lookupHandle(in.GAH)
	if !status.OK() {
		reply.Status = status
		return reply, nil
	}
	defer p.derefHandle(in.GAH, fh)

	data := in.Data
	if in.BulkLen > 0 {
		data = make([]byte, in.BulkLen)
		if err := peer.BulkGet(ctx, in.BulkToken, data); err != nil {
			reply.Status = wire.Status{Err: wire.ErrInternal}
			return reply, nil
		}
	}

	fh.mu.Lock()
	n, err := fh.fd.WriteAt(data, int64(in.Extent.Offset))
	fh.mu.Unlock()
	if err != nil {
		reply.Status = statusFromError(err)
		return reply, nil
	}
	reply.Len = uint64(n)
	return reply, nil
}

// syncHandle resolves g to its open file handle and calls fsync on it.
// The stdlib exposes only fsync semantics (os.File.Sync), not
// fdatasync; fdatasync is handled identically, trading the small
// amount of extra metadata-sync work for not needing a raw
// syscall.Fdatasync call, which golang.org/x/sys/unix doesn't expose
// portably either.
func (p *Projection) syncHandle(g gah.GAH) wire.Status {
	fh, status := p.lookupHandle(g)
	if !status.OK() {
		return status
	}
	defer p.derefHandle(g, fh)

	fh.mu.Lock()
	err := fh.fd.Sync()
	fh.mu.Unlock()
	return statusFromError(err)
}

func (p *Projection) handleFsync(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.FsyncRequest)
	return &wire.FsyncReply{Status: p.syncHandle(in.GAH)}, nil
}

func (p *Projection) handleFdatasync(ctx context.Context, peer transport.Context, req any) (any, error) {
	in := req.(*wire.FdatasyncRequest)
	return &wire.FdatasyncReply{Status: p.syncHandle(in.GAH)}, nil
}
