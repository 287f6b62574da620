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
	"syscall"

	"github.com/splitfuse/core/cfg"
	"github.com/splitfuse/core/internal/logger"
	"github.com/splitfuse/core/internal/util"
	"github.com/splitfuse/core/server"
	"github.com/splitfuse/core/transport/tcp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serverCfgFile       string
	serverBindErr       error
	serverConfigFileErr error
	serverUnmarshalErr  error
	ServerConfig        cfg.ServerConfig
)

var serverRootCmd = &cobra.Command{
	Use:   "splitfused [flags]",
	Short: "Run the IONSS export server for one directory tree",
	Long: `splitfused is the IONSS (I/O Node Storage Server) half of splitfuse:
          it exports one directory tree over the projection RPC protocol
          for one or more CNSS clients to mount.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serverBindErr != nil {
			return serverBindErr
		}
		if serverConfigFileErr != nil {
			return serverConfigFileErr
		}
		if serverUnmarshalErr != nil {
			return serverUnmarshalErr
		}
		if err := cfg.ValidateServerConfig(&ServerConfig); err != nil {
			return err
		}
		return runServer(&ServerConfig)
	},
}

func runServer(c *cfg.ServerConfig) error {
	if err := applyLogging(c.Logging); err != nil {
		return err
	}

	export, err := server.OpenExport(1, c.ExportPath, c.Writeable)
	if err != nil {
		return fmt.Errorf("opening export: %w", err)
	}
	defer export.Close()

	proj, err := server.New(export, 0, server.Config{
		FsID:           1,
		MaxRead:        uint32(c.MaxRead),
		MaxWrite:       uint32(c.MaxWrite),
		MaxIovRead:     uint32(c.MaxIovRead),
		MaxIovWrite:    uint32(c.MaxIovWrite),
		ReaddirSize:    uint32(c.ReaddirSize),
		MaxActiveReads: c.MaxActiveReads,
	})
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	ln, err := tcp.Listen(c.ListenAddress)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", c.ListenAddress, err)
	}
	defer ln.Close()

	srv := server.NewServer(proj, c.ExportPath, c.PollInterval)

	if len(c.Peers) > 0 {
		group, err := dialPeerGroup(c.Peers)
		if err != nil {
			return fmt.Errorf("dialing peer group %q: %w", c.GroupName, err)
		}
		srv.SetPeers(group)
		logger.Infof("splitfused: joined peer group %q with %d peer(s)", c.GroupName, len(c.Peers))
	}

	srv.Register(ln)

	logger.Infof("splitfused: exporting %q on %s", c.ExportPath, ln.Addr())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		select {
		case <-srv.Done():
			logger.Infof("splitfused: shutdown coordinator triggered, stopping")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ln.Serve(ctx)
}

// dialPeerGroup connects to every other rank in this server's peer
// group up front, per spec §3 "Service Group"; the Shutdown Coordinator
// broadcasts over the resulting group on last detach (§4.6).
func dialPeerGroup(peers []string) (*tcp.Group, error) {
	group := tcp.NewGroup()
	dialer := tcp.NewDialer()
	for _, addr := range peers {
		peerCtx, err := dialer.Dial(context.Background(), addr)
		if err != nil {
			return nil, err
		}
		group.Attach(peerCtx)
	}
	return group, nil
}

func ExecuteServer() {
	err := serverRootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initServerConfig)
	serverRootCmd.PersistentFlags().StringVar(&serverCfgFile, "config-file", "", "Path to the config file")
	serverBindErr = cfg.BindServerFlags(serverRootCmd.PersistentFlags())
}

func initServerConfig() {
	if serverCfgFile == "" {
		serverUnmarshalErr = viper.Unmarshal(&ServerConfig, viper.DecodeHook(cfg.DecodeHook()))
		return
	}
	resolved, err := util.GetResolvedPath(serverCfgFile)
	if err != nil {
		serverConfigFileErr = fmt.Errorf("error while resolving config file path: %w", err)
		return
	}
	viper.SetConfigFile(resolved)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		serverConfigFileErr = fmt.Errorf("error while reading config file: %w", err)
		return
	}
	serverUnmarshalErr = viper.Unmarshal(&ServerConfig, viper.DecodeHook(cfg.DecodeHook()))
}
