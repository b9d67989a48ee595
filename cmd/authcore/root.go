// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the authcore CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authcore",
		Short: "authcore - account, session and permission service",
		Long: `authcore resolves provider, password and verification-code logins to
canonical accounts, issues rotating JWT sessions and assembles role-based
permissions and menus.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// loadConfig reads the config file, the command's flags and the
// environment. Without --config, config.yaml in the XDG config directory is
// used when present.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path := configFile
	if path == "" {
		found, err := xdg.DefaultConfigFile()
		if err != nil {
			return config.Config{}, err
		}
		path = found
	}
	return config.Load(path, cmd.Flags(), os.LookupEnv)
}
