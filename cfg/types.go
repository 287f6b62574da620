// Copyright 2024 Google LLC
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
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Octal is the datatype for params such as file-mode and dir-mode which
// accept a base-8 value.
type Octal int

func (o *Octal) UnmarshalText(text []byte) error {
	v, err := strconv.ParseInt(string(text) /*base=*/, 8 /*bitSize=*/, 32)
	if err != nil {
		return err
	}
	*o = Octal(v)
	return nil
}

func (o Octal) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(o), 8)), nil
}

// LogSeverity represents the logging severity and can accept the
// following values: "TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF".
type LogSeverity string

const (
	TraceLogSeverity   LogSeverity = "TRACE"
	DebugLogSeverity   LogSeverity = "DEBUG"
	InfoLogSeverity    LogSeverity = "INFO"
	WarningLogSeverity LogSeverity = "WARNING"
	ErrorLogSeverity   LogSeverity = "ERROR"
	OffLogSeverity     LogSeverity = "OFF"
)

var severityRanking = map[LogSeverity]int{
	TraceLogSeverity:   0,
	DebugLogSeverity:   1,
	InfoLogSeverity:    2,
	WarningLogSeverity: 3,
	ErrorLogSeverity:   4,
	OffLogSeverity:     5,
}

func (l *LogSeverity) UnmarshalText(text []byte) error {
	level := LogSeverity(strings.ToUpper(string(text)))
	if _, ok := severityRanking[level]; !ok {
		return fmt.Errorf("invalid log severity level: %s. Must be one of [TRACE, DEBUG, INFO, WARNING, ERROR, OFF]", text)
	}
	*l = level
	return nil
}

// Rank returns the integer representation of the severity rank, used to
// compare two severities. Returns -1 if the severity is unknown.
func (l LogSeverity) Rank() int {
	if rank, ok := severityRanking[l]; ok {
		return rank
	}
	return -1
}

// SizeSuffix is a byte count that accepts the k/m/g suffixes a human
// would type on a command line (e.g. "128k", "4M", "1g"), for params
// like max-read and max-write that name a transfer size rather than a
// count. A bare number is bytes.
type SizeSuffix int64

func (s *SizeSuffix) UnmarshalText(text []byte) error {
	str := strings.TrimSpace(string(text))
	if str == "" {
		return fmt.Errorf("empty size value")
	}
	mult := int64(1)
	suffix := str[len(str)-1]
	switch suffix {
	case 'k', 'K':
		mult = 1 << 10
		str = str[:len(str)-1]
	case 'm', 'M':
		mult = 1 << 20
		str = str[:len(str)-1]
	case 'g', 'G':
		mult = 1 << 30
		str = str[:len(str)-1]
	}
	v, err := strconv.ParseInt(strings.TrimSpace(str), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid size value %q: %w", text, err)
	}
	*s = SizeSuffix(v * mult)
	return nil
}

func (s SizeSuffix) String() string {
	v := int64(s)
	switch {
	case v != 0 && v%(1<<30) == 0:
		return fmt.Sprintf("%dg", v/(1<<30))
	case v != 0 && v%(1<<20) == 0:
		return fmt.Sprintf("%dm", v/(1<<20))
	case v != 0 && v%(1<<10) == 0:
		return fmt.Sprintf("%dk", v/(1<<10))
	default:
		return strconv.FormatInt(v, 10)
	}
}

// ValidLogSeverities lists every value UnmarshalText accepts, for flag
// help text and validation error messages.
func ValidLogSeverities() []string {
	out := make([]string, 0, len(severityRanking))
	for _, l := range []LogSeverity{TraceLogSeverity, DebugLogSeverity, InfoLogSeverity, WarningLogSeverity, ErrorLogSeverity, OffLogSeverity} {
		out = append(out, string(l))
	}
	slices.Sort(out)
	return out
}
