package rpc_test

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/perun-network/perun-wsrpc/internal/message"
)

const timeout = 2 * time.Second

// fakeChannel is an in-memory transport.Channel. Frames sent by the client
// appear on sent, frames passed to deliver are received by the client.
type fakeChannel struct {
	sent   chan []byte
	inbox  chan received
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	sendErr error
}

// received is the outcome of one Receive.
type received struct {
	data []byte
	err  error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		sent:   make(chan []byte, 256),
		inbox:  make(chan received, 256),
		closed: make(chan struct{}),
	}
}

func (f *fakeChannel) Send(data []byte) error {
	f.mu.Lock()
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case <-f.closed:
		return errors.New("send on closed fake channel")
	default:
	}
	f.sent <- data
	return nil
}

func (f *fakeChannel) Receive() ([]byte, error) {
	select {
	case r := <-f.inbox:
		return r.data, r.err
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeChannel) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeChannel) failSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeChannel) deliver(frame string) {
	f.inbox <- received{data: []byte(frame)}
}

// deliverErr makes the next Receive fail with err.
func (f *fakeChannel) deliverErr(err error) {
	f.inbox <- received{err: err}
}

// nextRequest returns the next request the client sent.
func (f *fakeChannel) nextRequest(t *testing.T) message.ServerRequest {
	t.Helper()
	select {
	case b := <-f.sent:
		var req message.ServerRequest
		require.NoError(t, json.Unmarshal(b, &req))
		return req
	case <-time.After(timeout):
		t.Fatal("timeout waiting for request")
		return message.ServerRequest{}
	}
}
