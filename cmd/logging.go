// Copyright 2024 Google Inc. All Rights Reserved.
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

package cmd

import (
	"github.com/splitfuse/core/cfg"
	"github.com/splitfuse/core/internal/logger"
)

// applyLogging wires a cfg.LoggingConfig into the process-wide logger,
// per the teacher's cmd/mount.go pattern of initializing the logger
// from MountConfig.Logging before doing anything else.
func applyLogging(lc cfg.LoggingConfig) error {
	logger.SetLogSeverity(string(lc.Severity))
	if lc.FilePath == "" {
		logger.SetLogFormat(lc.Format)
		return nil
	}
	return logger.InitLogFile(logger.FileConfig{
		FilePath: string(lc.FilePath),
		Format:   lc.Format,
		Severity: string(lc.Severity),
		LogRotateConfig: logger.LogRotateConfig{
			MaxFileSizeMB:   lc.LogRotate.MaxFileSizeMb,
			BackupFileCount: lc.LogRotate.BackupFileCount,
			Compress:        lc.LogRotate.Compress,
		},
	})
}
