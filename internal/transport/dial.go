package transport

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// DialConfig contains the configuration for opening a connection.
type DialConfig struct {
	KeepAlive
	// HandshakeTimeout bounds the opening handshake. Zero means no bound
	// other than the one of the passed context.
	HandshakeTimeout time.Duration
	// ReadLimit is the maximum size of an inbound message. Zero means no
	// limit.
	ReadLimit int64
	// InsecureSkipVerify disables TLS certificate verification for wss://.
	InsecureSkipVerify bool
	// Header is sent with the opening handshake.
	Header http.Header
}

// Dial opens exactly one websocket connection to address. It does not retry.
func Dial(ctx context.Context, address string, cfg DialConfig) (*Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if cfg.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	conn, resp, err := dialer.DialContext(ctx, address, cfg.Header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dialing %s (status %s)", address, resp.Status)
		}
		return nil, errors.Wrapf(err, "dialing %s", address)
	}

	if cfg.ReadLimit > 0 {
		conn.SetReadLimit(cfg.ReadLimit)
	}

	c, err := NewConn(conn, cfg.KeepAlive)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}
