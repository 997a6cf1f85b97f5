package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perun-network/perun-wsrpc/internal/config"
	"github.com/perun-network/perun-wsrpc/internal/websocket"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:          "wsrpc-server",
	Short:        "JSON-RPC over websocket reference server",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		config.SetupLogging(cfg.Log.Level)
		return websocket.Run(cfg.NodeConfig())
	},
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
