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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validClientConfig() *ClientConfig {
	c := &ClientConfig{ServerAddress: "ionss:9000"}
	c.Logging = GetDefaultLoggingConfig()
	return c
}

func validServerConfig() *ServerConfig {
	return &ServerConfig{
		ExportPath:     "/export",
		MaxRead:        1 << 20,
		MaxWrite:       1 << 20,
		MaxIovRead:     4096,
		MaxIovWrite:    4096,
		ReaddirSize:    128,
		MaxActiveReads: 3,
		Logging:        GetDefaultLoggingConfig(),
	}
}

func TestValidateClientConfigOK(t *testing.T) {
	assert.NoError(t, ValidateClientConfig(validClientConfig()))
}

func TestValidateClientConfigRequiresServerAddress(t *testing.T) {
	c := validClientConfig()
	c.ServerAddress = ""
	assert.Error(t, ValidateClientConfig(c))
}

func TestValidateClientConfigBadLogRotate(t *testing.T) {
	c := validClientConfig()
	c.Logging.LogRotate.MaxFileSizeMb = 0
	assert.Error(t, ValidateClientConfig(c))
}

func TestValidateServerConfigOK(t *testing.T) {
	assert.NoError(t, ValidateServerConfig(validServerConfig()))
}

func TestValidateServerConfigRequiresExportPath(t *testing.T) {
	c := validServerConfig()
	c.ExportPath = ""
	assert.Error(t, ValidateServerConfig(c))
}

func TestValidateServerConfigIovCannotExceedExtent(t *testing.T) {
	c := validServerConfig()
	c.MaxIovRead = int(c.MaxRead) + 1
	assert.Error(t, ValidateServerConfig(c))
}

func TestValidateServerConfigRejectsZeroLimits(t *testing.T) {
	for _, mutate := range []func(*ServerConfig){
		func(c *ServerConfig) { c.MaxRead = 0 },
		func(c *ServerConfig) { c.MaxWrite = 0 },
		func(c *ServerConfig) { c.ReaddirSize = 0 },
		func(c *ServerConfig) { c.MaxActiveReads = 0 },
	} {
		c := validServerConfig()
		mutate(c)
		assert.Error(t, ValidateServerConfig(c))
	}
}

func TestValidateServerConfigRequiresGroupNameWithPeers(t *testing.T) {
	c := validServerConfig()
	c.Peers = []string{"10.0.0.2:9000"}
	assert.Error(t, ValidateServerConfig(c))

	c.GroupName = "rank-group"
	assert.NoError(t, ValidateServerConfig(c))
}
