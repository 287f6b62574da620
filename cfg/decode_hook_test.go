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

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeHook(t *testing.T) {
	type testConfig struct {
		OctalParam    Octal
		SeverityParam LogSeverity
		SizeParam     SizeSuffix
	}
	declareFlags := func() *flag.FlagSet {
		fs := flag.NewFlagSet("test", flag.ExitOnError)
		fs.String("octalParam", "0", "")
		fs.String("severityParam", "INFO", "")
		fs.String("sizeParam", "0", "")
		return fs
	}
	bindFlags := func(fs *flag.FlagSet) *viper.Viper {
		v := viper.New()
		require.NoError(t, v.BindPFlag("OctalParam", fs.Lookup("octalParam")))
		require.NoError(t, v.BindPFlag("SeverityParam", fs.Lookup("severityParam")))
		require.NoError(t, v.BindPFlag("SizeParam", fs.Lookup("sizeParam")))
		return v
	}

	tests := []struct {
		name   string
		args   []string
		testFn func(*testing.T, testConfig)
	}{
		{
			name: "Octal",
			args: []string{"--octalParam=755"},
			testFn: func(t *testing.T, c testConfig) {
				assert.Equal(t, Octal(0755), c.OctalParam)
			},
		},
		{
			name: "LogSeverity",
			args: []string{"--severityParam=debug"},
			testFn: func(t *testing.T, c testConfig) {
				assert.Equal(t, DebugLogSeverity, c.SeverityParam)
			},
		},
		{
			name: "SizeSuffix",
			args: []string{"--sizeParam=4m"},
			testFn: func(t *testing.T, c testConfig) {
				assert.Equal(t, SizeSuffix(4<<20), c.SizeParam)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fs := declareFlags()
			require.NoError(t, fs.Parse(tc.args))
			v := bindFlags(fs)

			var c testConfig
			require.NoError(t, v.Unmarshal(&c, viper.DecodeHook(DecodeHook())))
			tc.testFn(t, c)
		})
	}
}

func TestDecodeHookOctalInvalid(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	fs.String("octalParam", "0", "")
	require.NoError(t, fs.Parse([]string{"--octalParam=not-octal"}))
	v := viper.New()
	require.NoError(t, v.BindPFlag("OctalParam", fs.Lookup("octalParam")))

	var c struct{ OctalParam Octal }
	assert.Error(t, v.Unmarshal(&c, viper.DecodeHook(DecodeHook())))
}
