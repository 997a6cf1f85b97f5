package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"perun.network/go-perun/log"

	"github.com/perun-network/perun-wsrpc/internal/rpc"
)

var callTimeout time.Duration

var callCmd = &cobra.Command{
	Use:   "call <method> [json-argument]",
	Short: "Perform a single call and print its result",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		arg, err := parseArg(args)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if callTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, callTimeout)
			defer cancel()
		}

		client, err := connect(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Warnf("closing client: %v", err)
			}
		}()

		var result json.RawMessage
		err = client.Call(ctx, args[0], arg, &result)
		var callErr *rpc.CallError
		if errors.As(err, &callErr) {
			fmt.Fprintln(cmd.ErrOrStderr(), string(callErr.Payload))
			return err
		} else if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(result))
		return nil
	},
}

func init() {
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 30*time.Second, "time to wait for the reply, 0 waits forever")
}
