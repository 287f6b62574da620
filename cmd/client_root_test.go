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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitfuse/core/cfg"
)

func TestResolveOwnerExplicit(t *testing.T) {
	uid, gid, err := resolveOwner(500, 600)
	require.NoError(t, err)
	assert.EqualValues(t, 500, uid)
	assert.EqualValues(t, 600, gid)
}

func TestResolveOwnerDefaultsToInvokingUser(t *testing.T) {
	uid, gid, err := resolveOwner(-1, -1)
	require.NoError(t, err)
	assert.NotEqual(t, uint32(0xffffffff), uid)
	assert.NotEqual(t, uint32(0xffffffff), gid)
}

func TestResolveOwnerMixedOverride(t *testing.T) {
	uid, _, err := resolveOwner(42, -1)
	require.NoError(t, err)
	assert.EqualValues(t, 42, uid)
}

func TestGetFuseMountConfigParsesOptions(t *testing.T) {
	c := &cfg.ClientConfig{
		AppName:      "splitfuse",
		MountOptions: []string{"allow_other", "max_read=65536"},
	}
	c.Logging.Severity = cfg.InfoLogSeverity

	mountCfg := getFuseMountConfig(c)

	assert.Equal(t, "splitfuse", mountCfg.FSName)
	assert.Equal(t, "", mountCfg.Options["allow_other"])
	assert.Equal(t, "65536", mountCfg.Options["max_read"])
	assert.NotNil(t, mountCfg.ErrorLogger, "INFO severity must still gate on an error logger")
	assert.Nil(t, mountCfg.DebugLogger, "INFO severity must not enable the debug logger")
}

func TestGetFuseMountConfigTraceEnablesDebugLogger(t *testing.T) {
	c := &cfg.ClientConfig{AppName: "splitfuse"}
	c.Logging.Severity = cfg.TraceLogSeverity

	mountCfg := getFuseMountConfig(c)

	assert.NotNil(t, mountCfg.DebugLogger)
}

func TestClientFlagsBindWithoutError(t *testing.T) {
	assert.NoError(t, clientBindErr)
}
