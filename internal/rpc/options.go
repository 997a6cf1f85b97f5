package rpc

import (
	"time"

	"github.com/google/uuid"
	"perun.network/go-perun/log"

	"github.com/perun-network/perun-wsrpc/internal/message"
	"github.com/perun-network/perun-wsrpc/internal/metrics"
	"github.com/perun-network/perun-wsrpc/internal/transport"
)

type (
	// An Option configures a Client.
	Option func(*options)

	// UnmatchedHandler is called with every reply whose id matches no
	// pending call. It runs on the client's read loop and must not block.
	UnmatchedHandler func(resp message.Response)

	options struct {
		codec       message.Codec
		logger      log.Logger
		metrics     *metrics.Client
		callTimeout time.Duration
		onUnmatched UnmatchedHandler
		session     string
		dial        transport.DialConfig
	}
)

func makeOptions(opts []Option) options {
	o := options{
		codec:   message.JSONCodec{},
		session: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	if o.metrics == nil {
		o.metrics = metrics.NewClient(nil)
	}
	return o
}

// WithCodec sets the codec used for requests and replies. Defaults to
// message.JSONCodec.
func WithCodec(codec message.Codec) Option {
	return func(o *options) { o.codec = codec }
}

// WithLogger sets the logger. Defaults to the global logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics collectors the client reports to.
func WithMetrics(m *metrics.Client) Option {
	return func(o *options) { o.metrics = m }
}

// WithCallTimeout evicts calls that have not been answered after d and
// fails them with ErrCallExpired. Zero, the default, keeps calls pending
// until they are answered or the client closes.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithUnmatchedHandler installs h to observe replies that match no pending
// call. Such replies are dropped in any case.
func WithUnmatchedHandler(h UnmatchedHandler) Option {
	return func(o *options) { o.onUnmatched = h }
}

// WithSessionID sets the id the client logs with. Defaults to a random UUID.
func WithSessionID(id string) Option {
	return func(o *options) { o.session = id }
}

// WithDialConfig sets the transport configuration used by Connect.
func WithDialConfig(cfg transport.DialConfig) Option {
	return func(o *options) { o.dial = cfg }
}
