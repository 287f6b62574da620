// Copyright 2023 Google Inc. All Rights Reserved.
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

package util

import (
	"os"
	"path/filepath"
	"strings"
)

// GCSFUSE_PARENT_PROCESS_DIR lets a daemonized child resolve relative
// paths against the directory the original foreground process was
// launched from, since daemonizing changes the working directory.
const GCSFUSE_PARENT_PROCESS_DIR = "GCSFUSE_PARENT_PROCESS_DIR"

// GetResolvedPath canonicalizes path into an absolute path: "~/..." is
// resolved against the user's home directory, an already-absolute path
// is returned unchanged, and anything else is resolved against
// GCSFUSE_PARENT_PROCESS_DIR when set, or the working directory
// otherwise. An empty path resolves to the empty string.
func GetResolvedPath(path string) (resolvedPath string, err error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	if filepath.IsAbs(path) {
		return path, nil
	}

	baseDir := os.Getenv(GCSFUSE_PARENT_PROCESS_DIR)
	if baseDir == "" {
		baseDir, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(baseDir, path), nil
}
