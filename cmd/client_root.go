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
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/splitfuse/core/cfg"
	"github.com/splitfuse/core/client"
	"github.com/splitfuse/core/internal/logger"
	"github.com/splitfuse/core/internal/perms"
	"github.com/splitfuse/core/internal/util"
	"github.com/splitfuse/core/transport/tcp"
	"github.com/splitfuse/core/wire"
)

var (
	clientCfgFile       string
	clientBindErr       error
	clientConfigFileErr error
	clientUnmarshalErr  error
	ClientConfig        cfg.ClientConfig
)

var clientRootCmd = &cobra.Command{
	Use:   "splitfuse <mount-point> [flags]",
	Short: "Mount one IONSS export as the CNSS half of splitfuse",
	Long: `splitfuse is the CNSS (Compute Node Storage Server) half of
          splitfuse: it dials an IONSS, asks it for the one export it
          serves via query_psr, and presents that tree as a FUSE mount.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if clientBindErr != nil {
			return clientBindErr
		}
		if clientConfigFileErr != nil {
			return clientConfigFileErr
		}
		if clientUnmarshalErr != nil {
			return clientUnmarshalErr
		}
		if err := cfg.ValidateClientConfig(&ClientConfig); err != nil {
			return err
		}
		return runClient(&ClientConfig, args[0])
	},
}

// runClient dials the configured IONSS, discovers its export via
// query_psr, mounts the resulting projection, and blocks until the
// mount is unmounted or the process is signaled, per the teacher's
// mountWithStorageHandle sequencing in cmd/mount.go.
func runClient(c *cfg.ClientConfig, mountPoint string) error {
	if err := applyLogging(c.Logging); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dialer := tcp.NewDialer()
	primary, err := dialer.Dial(ctx, c.ServerAddress)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.ServerAddress, err)
	}

	group := tcp.NewGroup()
	group.Attach(primary)

	var reply wire.QueryPSRReply
	if err := primary.Call(ctx, wire.OpQueryPSR, &wire.QueryPSRRequest{}, &reply); err != nil {
		return fmt.Errorf("query_psr against %s: %w", c.ServerAddress, err)
	}
	if reply.Count == 0 || len(reply.FSList) == 0 {
		return fmt.Errorf("%s exports nothing", c.ServerAddress)
	}
	export := reply.FSList[0]

	uid, gid, err := resolveOwner(c.Uid, c.Gid)
	if err != nil {
		return fmt.Errorf("resolving mount owner: %w", err)
	}

	proj := client.New(client.Config{
		FsID:        export.FsID,
		RootGAH:     export.RootGAH,
		MaxRead:     export.MaxRead,
		MaxWrite:    export.MaxWrite,
		MaxIovRead:  export.MaxIovRead,
		MaxIovWrite: export.MaxIovWrite,
		ReaddirSize: export.ReaddirSize,
		Writeable:   export.Writeable,
		UID:         uid,
		GID:         gid,
	}, primary, group)
	defer proj.Close()

	server := fuseutil.NewFileSystemServer(proj)

	mountCfg := getFuseMountConfig(c)
	mfs, err := fuse.Mount(mountPoint, server, mountCfg)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	logger.Infof("splitfuse: mounted %s from %s on %s", export.MountPoint, c.ServerAddress, mountPoint)

	go func() {
		<-ctx.Done()
		_ = fuse.Unmount(mountPoint)
	}()

	return mfs.Join(context.Background())
}

// resolveOwner maps the configured uid/gid, or -1 for "the invoking
// user", per the teacher's getUserAndGroup fallback in cmd/mount.go.
func resolveOwner(configuredUID, configuredGID int) (uid, gid uint32, err error) {
	if configuredUID >= 0 && configuredGID >= 0 {
		return uint32(configuredUID), uint32(configuredGID), nil
	}
	myUID, myGID, err := perms.MyUserAndGroup()
	if err != nil {
		return 0, 0, err
	}
	if configuredUID >= 0 {
		myUID = uint32(configuredUID)
	}
	if configuredGID >= 0 {
		myGID = uint32(configuredGID)
	}
	return myUID, myGID, nil
}

// getFuseMountConfig builds the jacobsa/fuse mount options, including
// the severity-gated error/debug loggers, per the teacher's
// cmd/mount.go:getFuseMountConfig.
func getFuseMountConfig(c *cfg.ClientConfig) *fuse.MountConfig {
	parsedOptions := make(map[string]string)
	for _, o := range c.MountOptions {
		if k, v, ok := strings.Cut(o, "="); ok {
			parsedOptions[k] = v
		} else {
			parsedOptions[o] = ""
		}
	}

	mountCfg := &fuse.MountConfig{
		FSName:               c.AppName,
		Subtype:              "splitfuse",
		VolumeName:           "splitfuse",
		Options:              parsedOptions,
		EnableParallelDirOps: true,
	}

	if c.Logging.Severity.Rank() <= cfg.ErrorLogSeverity.Rank() {
		mountCfg.ErrorLogger = logger.NewLegacyLogger(logger.LevelError, "fuse: ", c.AppName)
	}
	if c.Logging.Severity.Rank() <= cfg.TraceLogSeverity.Rank() {
		mountCfg.DebugLogger = logger.NewLegacyLogger(logger.LevelTrace, "fuse_debug: ", c.AppName)
	}
	return mountCfg
}

func ExecuteClient() {
	if err := clientRootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initClientConfig)
	clientRootCmd.PersistentFlags().StringVar(&clientCfgFile, "config-file", "", "Path to the config file")
	clientBindErr = cfg.BindClientFlags(clientRootCmd.PersistentFlags())
}

func initClientConfig() {
	if clientCfgFile == "" {
		clientUnmarshalErr = viper.Unmarshal(&ClientConfig, viper.DecodeHook(cfg.DecodeHook()))
		return
	}
	resolved, err := util.GetResolvedPath(clientCfgFile)
	if err != nil {
		clientConfigFileErr = fmt.Errorf("error while resolving config file path: %w", err)
		return
	}
	viper.SetConfigFile(resolved)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		clientConfigFileErr = fmt.Errorf("error while reading config file: %w", err)
		return
	}
	clientUnmarshalErr = viper.Unmarshal(&ClientConfig, viper.DecodeHook(cfg.DecodeHook()))
}
