package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/perun-network/perun-wsrpc/internal/config"
	"github.com/perun-network/perun-wsrpc/internal/rpc"
)

var (
	configFile string
	endpoint   string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "wsrpc",
	Short:         "JSON-RPC over websocket client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}
		if endpoint != "" {
			cfg.Endpoint = endpoint
		}
		config.SetupLogging(cfg.Log.Level)
		return cfg.ValidateEndpoint()
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "websocket endpoint, overrides the config")

	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(benchCmd)
}

// connect opens a client to the configured endpoint.
func connect(ctx context.Context, opts ...rpc.Option) (*rpc.Client, error) {
	return rpc.Connect(ctx, cfg.Endpoint, append(cfg.ClientOptions(), opts...)...)
}

// parseArg parses the optional JSON argument of a call. A missing argument
// is sent as null.
func parseArg(args []string) (interface{}, error) {
	if len(args) < 2 {
		return nil, nil
	}
	raw := json.RawMessage(args[1])
	if !json.Valid(raw) {
		return nil, errors.Errorf("argument is not valid JSON: %s", args[1])
	}
	return raw, nil
}
