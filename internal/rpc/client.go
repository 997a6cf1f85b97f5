package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"perun.network/go-perun/log"
	pkgsync "polycry.pt/poly-go/sync"

	"github.com/perun-network/perun-wsrpc/internal/message"
	"github.com/perun-network/perun-wsrpc/internal/metrics"
	"github.com/perun-network/perun-wsrpc/internal/transport"
)

// Client issues calls over a single channel and matches the replies to them
// by request id. Replies may arrive in any order and in batches.
//
// A Client is safe for concurrent use.
type Client struct {
	log.Embedding

	ch      transport.Channel
	codec   message.Codec
	calls   *callTable
	closer  pkgsync.Closer
	metrics *metrics.Client
	session string

	callTimeout time.Duration
	onUnmatched UnmatchedHandler

	sendMu sync.Mutex // Protects seq and orders sends by id.
	seq    uint64
}

// NewClient creates a new client that owns ch and starts reading replies
// from it.
func NewClient(ch transport.Channel, opts ...Option) *Client {
	return newClient(ch, makeOptions(opts))
}

func newClient(ch transport.Channel, o options) *Client {
	c := &Client{
		Embedding:   log.MakeEmbedding(o.logger.WithField("session", o.session)),
		ch:          ch,
		codec:       o.codec,
		calls:       newCallTable(),
		metrics:     o.metrics,
		session:     o.session,
		callTimeout: o.callTimeout,
		onUnmatched: o.onUnmatched,
		seq:         1,
	}
	go c.serve()
	return c
}

// Session returns the id the client logs with.
func (c *Client) Session() string {
	return c.session
}

// Go sends a call to method with arg as its single parameter and returns
// without waiting for the reply. The returned call is sent on its Done
// channel once it completes.
func (c *Client) Go(method string, arg interface{}) *Call {
	call := newCall(method, arg)
	c.send(call)
	return call
}

// Call sends a call and waits for its completion. On success, the result is
// decoded into reply unless reply is nil. A reply carrying an error is
// returned as *CallError.
//
// If ctx is done first, the call is dropped from the pending calls and a
// reply arriving later is ignored. The remote side is not notified.
func (c *Client) Call(ctx context.Context, method string, arg, reply interface{}) error {
	call := c.Go(method, arg)
	select {
	case <-call.Done:
	case <-ctx.Done():
		c.abandon(call, ctx.Err())
		<-call.Done
	}
	return call.Decode(reply)
}

func (c *Client) send(call *Call) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closer.IsClosed() {
		c.complete(call, nil, ErrClosed, metrics.OutcomeClosed)
		return
	}

	id := c.seq
	data, err := c.codec.EncodeRequest(message.NewRequest(id, call.Method, call.Arg))
	if err != nil {
		c.complete(call, nil, err, metrics.OutcomeSendError)
		return
	}

	call.ID = id
	call.start = time.Now()
	if c.callTimeout > 0 {
		call.timer = time.AfterFunc(c.callTimeout, func() { c.expire(id) })
	}
	// Registered before sending so that an immediate reply finds the call.
	c.calls.set(id, call)
	c.metrics.Pending.Inc()

	err = c.ch.Send(data)
	c.seq++
	if err != nil {
		if call, ok := c.take(id); ok {
			c.complete(call, nil, errors.WithMessagef(err, "sending call %d (%s)", id, call.Method), metrics.OutcomeSendError)
		}
	}
}

// take removes the call with the given id from the pending calls.
func (c *Client) take(id uint64) (*Call, bool) {
	call, ok := c.calls.take(id)
	if ok {
		c.metrics.Pending.Dec()
		call.stopTimer()
	}
	return call, ok
}

func (c *Client) complete(call *Call, result []byte, err error, outcome string) {
	call.done(result, err, func() {
		c.metrics.Calls.WithLabelValues(call.Method, outcome).Inc()
		if !call.start.IsZero() {
			c.metrics.Duration.WithLabelValues(call.Method).Observe(time.Since(call.start).Seconds())
		}
	})
}

func (c *Client) expire(id uint64) {
	// The timer may fire before send has registered the call.
	c.sendMu.Lock()
	call, ok := c.calls.take(id)
	c.sendMu.Unlock()
	if !ok {
		return
	}
	c.metrics.Pending.Dec()
	c.Log().WithField("id", id).Debugf("call %s expired after %v", call.Method, c.callTimeout)
	c.complete(call, nil, errors.WithMessagef(ErrCallExpired, "call %d (%s)", id, call.Method), metrics.OutcomeExpired)
}

func (c *Client) abandon(call *Call, reason error) {
	if _, ok := c.take(call.ID); ok {
		c.complete(call, nil, errors.Wrapf(reason, "waiting for call %d (%s)", call.ID, call.Method), metrics.OutcomeAbandoned)
	}
}

// serve reads frames from the channel and dispatches them until the channel
// fails or is closed.
func (c *Client) serve() {
	var err error
	for {
		var data []byte
		data, err = c.ch.Receive()
		if errors.Is(err, transport.ErrInvalidMessageType) {
			c.Log().WithError(err).Warn("dropping frame")
			continue
		} else if err != nil {
			break
		}

		in, derr := c.codec.DecodeInbound(data)
		if derr != nil {
			c.Log().WithError(derr).Warn("dropping undecodable replies")
		}
		// A batch is dispatched even if some of its elements were dropped.
		if in != nil {
			c.dispatch(in)
		}
	}

	if c.closer.IsClosed() {
		return
	}
	c.Log().WithError(err).Info("connection lost")
	if err := c.close(errors.WithMessage(ErrClosed, err.Error())); err != nil {
		c.Log().WithError(err).Warn("closing after connection loss")
	}
}

// dispatch completes the calls answered by the responses of one frame, in
// frame order.
func (c *Client) dispatch(in message.Inbound) {
	for _, resp := range in.Responses() {
		c.fulfil(resp)
	}
}

func (c *Client) fulfil(resp message.Response) {
	call, ok := c.take(resp.ID)
	if !ok {
		c.metrics.Unmatched.Inc()
		c.Log().WithField("id", resp.ID).Debug("dropping reply without pending call")
		if c.onUnmatched != nil {
			c.onUnmatched(resp)
		}
		return
	}

	if resp.Failed() {
		c.complete(call, nil, newCallError(call, resp.Error), metrics.OutcomeError)
		return
	}
	c.complete(call, resp.Result, nil, metrics.OutcomeSuccess)
}

// Pending returns the number of calls awaiting a reply.
func (c *Client) Pending() int {
	return c.calls.len()
}

// Done returns a channel that is closed once the client is closed, either
// by Close or because the connection was lost.
func (c *Client) Done() <-chan struct{} {
	return c.closer.Closed()
}

// Close closes the client and its channel. Pending calls fail with
// ErrClosed. Closing a closed client is a no-op.
func (c *Client) Close() error {
	return c.close(ErrClosed)
}

func (c *Client) close(reason error) error {
	if err := c.closer.Close(); err != nil {
		if pkgsync.IsAlreadyClosedError(err) {
			return nil
		}
		return err
	}
	err := c.ch.Close()

	// Holding sendMu guarantees that no call registers after the drain.
	c.sendMu.Lock()
	calls := c.calls.drain()
	c.sendMu.Unlock()

	c.metrics.Pending.Sub(float64(len(calls)))
	for _, call := range calls {
		call.stopTimer()
		c.complete(call, nil, reason, metrics.OutcomeClosed)
	}
	return errors.Wrap(err, "closing channel")
}
