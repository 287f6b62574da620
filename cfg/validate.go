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

package cfg

import "fmt"

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

// ValidateClientConfig returns a non-nil error if the config is invalid.
func ValidateClientConfig(config *ClientConfig) error {
	if config.ServerAddress == "" {
		return fmt.Errorf("server-address must not be empty")
	}
	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}
	return nil
}

// ValidateServerConfig returns a non-nil error if the config is invalid.
func ValidateServerConfig(config *ServerConfig) error {
	if config.ExportPath == "" {
		return fmt.Errorf("export-path must not be empty")
	}
	if config.MaxRead <= 0 {
		return fmt.Errorf("max-read must be positive")
	}
	if config.MaxWrite <= 0 {
		return fmt.Errorf("max-write must be positive")
	}
	if config.MaxIovRead <= 0 || int64(config.MaxIovRead) > int64(config.MaxRead) {
		return fmt.Errorf("max-iov-read must be positive and no greater than max-read")
	}
	if config.MaxIovWrite <= 0 || int64(config.MaxIovWrite) > int64(config.MaxWrite) {
		return fmt.Errorf("max-iov-write must be positive and no greater than max-write")
	}
	if config.ReaddirSize <= 0 {
		return fmt.Errorf("readdir-size must be positive")
	}
	if config.MaxActiveReads <= 0 {
		return fmt.Errorf("max-active-reads must be positive")
	}
	if len(config.Peers) > 0 && config.GroupName == "" {
		return fmt.Errorf("group-name must be set when peers are configured")
	}
	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}
	return nil
}
