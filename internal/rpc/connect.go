package rpc

import (
	"context"

	"github.com/pkg/errors"

	"github.com/perun-network/perun-wsrpc/internal/transport"
)

// Connect opens exactly one connection to address and returns a Client that
// owns it. It does not retry, and the open attempt is only bounded by ctx
// and the configured handshake timeout.
func Connect(ctx context.Context, address string, opts ...Option) (*Client, error) {
	o := makeOptions(opts)
	conn, err := transport.Dial(ctx, address, o.dial)
	if err != nil {
		return nil, errors.WithMessage(err, "connecting")
	}
	return newClient(conn, o), nil
}
