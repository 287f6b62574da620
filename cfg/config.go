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
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// LogRotateLoggingConfig mirrors the lumberjack knobs internal/logger
// feeds into its file handler.
//
// Each field carries a mapstructure tag alongside its yaml tag: viper's
// BindPFlag keys below are dash-case ("max-file-size-mb"), which
// mapstructure's default EqualFold field matching would not line up
// against the PascalCase Go field name on its own.
type LogRotateLoggingConfig struct {
	MaxFileSizeMb   int  `yaml:"max-file-size-mb" mapstructure:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count" mapstructure:"backup-file-count"`
	Compress        bool `yaml:"compress" mapstructure:"compress"`
}

// LoggingConfig is the ambient logging setup shared by both binaries.
type LoggingConfig struct {
	Severity  LogSeverity            `yaml:"severity" mapstructure:"severity"`
	Format    string                 `yaml:"format" mapstructure:"format"`
	FilePath  ResolvedPath           `yaml:"file-path" mapstructure:"file-path"`
	LogRotate LogRotateLoggingConfig `yaml:"log-rotate" mapstructure:"log-rotate"`
}

// ResolvedPath is an absolute path accepted verbatim; unlike the
// teacher's ResolvedPath this package has no parent-process-relative
// flag convention to resolve against, so it is just a named string
// type kept for config-file/flag symmetry with LoggingConfig.FilePath.
type ResolvedPath string

// ClientConfig configures the CNSS (splitfuse) binary: which IONSS to
// dial, mount-time FUSE options, and the ambient logging setup, per
// spec §3 "Projection (client)" and §4.4.
type ClientConfig struct {
	AppName string `yaml:"app-name" mapstructure:"app-name"`

	ServerAddress string   `yaml:"server-address" mapstructure:"server-address"`
	MountOptions  []string `yaml:"mount-options" mapstructure:"mount-options"`

	FileMode Octal `yaml:"file-mode" mapstructure:"file-mode"`
	DirMode  Octal `yaml:"dir-mode" mapstructure:"dir-mode"`
	Uid      int   `yaml:"uid" mapstructure:"uid"`
	Gid      int   `yaml:"gid" mapstructure:"gid"`

	// MaxCachedInodes bounds the client-side inode table's steady-state
	// size; it is advisory (the table is a plain map, never forcibly
	// evicted mid-operation) rather than a hard cap, per spec §3's note
	// that inode lifetime is lookup-count driven, not LRU driven.
	MaxCachedInodes int `yaml:"max-cached-inodes" mapstructure:"max-cached-inodes"`

	PollInterval uint32 `yaml:"poll-interval-secs" mapstructure:"poll-interval-secs"`

	Debug struct {
		ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation" mapstructure:"exit-on-invariant-violation"`
		LogMutex                 bool `yaml:"log-mutex" mapstructure:"log-mutex"`
	} `yaml:"debug" mapstructure:"debug"`

	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig configures the IONSS (splitfused) binary: the export
// directory tree, the transport listener, and the per-export limits a
// query_psr reply advertises, per spec §3 "Projection (server)" and §6.
type ServerConfig struct {
	AppName string `yaml:"app-name" mapstructure:"app-name"`

	ListenAddress string `yaml:"listen-address" mapstructure:"listen-address"`
	ExportPath    string `yaml:"export-path" mapstructure:"export-path"`
	Writeable     bool   `yaml:"writeable" mapstructure:"writeable"`

	MaxRead        SizeSuffix `yaml:"max-read" mapstructure:"max-read"`
	MaxWrite       SizeSuffix `yaml:"max-write" mapstructure:"max-write"`
	MaxIovRead     int        `yaml:"max-iov-read" mapstructure:"max-iov-read"`
	MaxIovWrite    int        `yaml:"max-iov-write" mapstructure:"max-iov-write"`
	ReaddirSize    int        `yaml:"readdir-size" mapstructure:"readdir-size"`
	MaxActiveReads int        `yaml:"max-active-reads" mapstructure:"max-active-reads"`
	PollInterval   uint32     `yaml:"poll-interval-secs" mapstructure:"poll-interval-secs"`

	// GroupName names this rank's IONSS peer group (spec §6 `--group-name`);
	// Peers lists the other ranks in that group by dial address, so the
	// Shutdown Coordinator (§4.6) has someone to broadcast to. A solo
	// rank leaves Peers empty and shuts down immediately on last detach.
	GroupName string   `yaml:"group-name" mapstructure:"group-name"`
	Peers     []string `yaml:"peers" mapstructure:"peers"`

	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

func bindLoggingFlags(flagSet *pflag.FlagSet, prefix string) error {
	flagSet.String(prefix+"log-severity", "INFO", "Logging severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err := viper.BindPFlag("logging.severity", flagSet.Lookup(prefix+"log-severity")); err != nil {
		return err
	}

	flagSet.String(prefix+"log-format", "text", "Logging format: text or json.")
	if err := viper.BindPFlag("logging.format", flagSet.Lookup(prefix+"log-format")); err != nil {
		return err
	}

	flagSet.String(prefix+"log-file", "", "Path to the log file; empty logs to stderr.")
	if err := viper.BindPFlag("logging.file-path", flagSet.Lookup(prefix+"log-file")); err != nil {
		return err
	}

	flagSet.Int(prefix+"log-rotate-max-size-mb", 512, "Max log file size, in MiB, before rotation.")
	if err := viper.BindPFlag("logging.log-rotate.max-file-size-mb", flagSet.Lookup(prefix+"log-rotate-max-size-mb")); err != nil {
		return err
	}

	flagSet.Int(prefix+"log-rotate-backups", 10, "Rotated log files to retain; 0 retains all.")
	if err := viper.BindPFlag("logging.log-rotate.backup-file-count", flagSet.Lookup(prefix+"log-rotate-backups")); err != nil {
		return err
	}

	flagSet.Bool(prefix+"log-rotate-compress", true, "Gzip rotated log files.")
	return viper.BindPFlag("logging.log-rotate.compress", flagSet.Lookup(prefix+"log-rotate-compress"))
}

// BindClientFlags registers every splitfuse (CNSS) flag and binds it
// into viper under the ClientConfig field paths above, per the
// teacher's BindFlags(flagSet) shape (flagSet.XxxP then
// viper.BindPFlag against a dotted path).
func BindClientFlags(flagSet *pflag.FlagSet) error {
	flagSet.StringP("app-name", "", "splitfuse", "The application name of this mount.")
	if err := viper.BindPFlag("app-name", flagSet.Lookup("app-name")); err != nil {
		return err
	}

	flagSet.IntP("file-mode", "", 0644, "Permission bits for files, in octal.")
	if err := viper.BindPFlag("file-mode", flagSet.Lookup("file-mode")); err != nil {
		return err
	}

	flagSet.IntP("dir-mode", "", 0755, "Permission bits for directories, in octal.")
	if err := viper.BindPFlag("dir-mode", flagSet.Lookup("dir-mode")); err != nil {
		return err
	}

	flagSet.IntP("uid", "", -1, "UID owner of all inodes; -1 uses the invoking user.")
	if err := viper.BindPFlag("uid", flagSet.Lookup("uid")); err != nil {
		return err
	}

	flagSet.IntP("gid", "", -1, "GID owner of all inodes; -1 uses the invoking user's group.")
	if err := viper.BindPFlag("gid", flagSet.Lookup("gid")); err != nil {
		return err
	}

	flagSet.IntP("max-cached-inodes", "", 0, "Advisory cap on the client inode table; 0 is unbounded.")
	if err := viper.BindPFlag("max-cached-inodes", flagSet.Lookup("max-cached-inodes")); err != nil {
		return err
	}

	flagSet.Uint32P("poll-interval-secs", "", 30, "Seconds between query_psr health polls.")
	if err := viper.BindPFlag("poll-interval-secs", flagSet.Lookup("poll-interval-secs")); err != nil {
		return err
	}

	flagSet.BoolP("debug-invariants", "", false, "Exit when internal invariants are violated.")
	if err := viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug-invariants")); err != nil {
		return err
	}

	flagSet.BoolP("debug-mutex", "", false, "Print debug messages when a mutex is held too long.")
	if err := viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug-mutex")); err != nil {
		return err
	}

	return bindLoggingFlags(flagSet, "")
}

// BindServerFlags registers every splitfused (IONSS) flag, per the same
// shape as BindClientFlags.
func BindServerFlags(flagSet *pflag.FlagSet) error {
	flagSet.StringP("app-name", "", "splitfused", "The application name of this export.")
	if err := viper.BindPFlag("app-name", flagSet.Lookup("app-name")); err != nil {
		return err
	}

	flagSet.StringP("listen-address", "", ":0", "Address this IONSS listens on for CNSS connections.")
	if err := viper.BindPFlag("listen-address", flagSet.Lookup("listen-address")); err != nil {
		return err
	}

	flagSet.StringP("export-path", "", "", "Directory tree this IONSS exports.")
	if err := viper.BindPFlag("export-path", flagSet.Lookup("export-path")); err != nil {
		return err
	}

	flagSet.BoolP("writeable", "", true, "Whether the export accepts mutating RPCs.")
	if err := viper.BindPFlag("writeable", flagSet.Lookup("writeable")); err != nil {
		return err
	}

	flagSet.StringP("max-read", "", "1m", "Largest single readx extent, k/m/g suffix accepted.")
	if err := viper.BindPFlag("max-read", flagSet.Lookup("max-read")); err != nil {
		return err
	}

	flagSet.StringP("max-write", "", "1m", "Largest single writex extent, k/m/g suffix accepted.")
	if err := viper.BindPFlag("max-write", flagSet.Lookup("max-write")); err != nil {
		return err
	}

	flagSet.IntP("max-iov-read", "", 4096, "Largest inline (non-bulk) readx payload, in bytes.")
	if err := viper.BindPFlag("max-iov-read", flagSet.Lookup("max-iov-read")); err != nil {
		return err
	}

	flagSet.IntP("max-iov-write", "", 4096, "Largest inline (non-bulk) writex payload, in bytes.")
	if err := viper.BindPFlag("max-iov-write", flagSet.Lookup("max-iov-write")); err != nil {
		return err
	}

	flagSet.IntP("readdir-size", "", 128, "Directory entries returned per readdir RPC.")
	if err := viper.BindPFlag("readdir-size", flagSet.Lookup("readdir-size")); err != nil {
		return err
	}

	flagSet.IntP("max-active-reads", "", 3, "Concurrent readx RPCs admitted at once.")
	if err := viper.BindPFlag("max-active-reads", flagSet.Lookup("max-active-reads")); err != nil {
		return err
	}

	flagSet.Uint32P("poll-interval-secs", "", 30, "Seconds a client is told to wait between query_psr polls.")
	if err := viper.BindPFlag("poll-interval-secs", flagSet.Lookup("poll-interval-secs")); err != nil {
		return err
	}

	flagSet.StringP("group-name", "", "", "Name of this rank's IONSS peer group; empty runs solo.")
	if err := viper.BindPFlag("group-name", flagSet.Lookup("group-name")); err != nil {
		return err
	}

	flagSet.StringSliceP("peers", "", nil, "Dial addresses of the other ranks in this rank's peer group.")
	if err := viper.BindPFlag("peers", flagSet.Lookup("peers")); err != nil {
		return err
	}

	return bindLoggingFlags(flagSet, "")
}
