package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"perun.network/go-perun/log"
	pkgsync "polycry.pt/poly-go/sync"
)

const (
	// DefaultPingInterval is the interval in which a connection sends pings
	// to its peer. Has to be shorter than DefaultPongTimeout.
	DefaultPingInterval = 20 * time.Second
	// DefaultPongTimeout is the maximum time the peer has to answer a ping.
	DefaultPongTimeout = 60 * time.Second

	closeGracePeriod = time.Second
)

var (
	// ErrClosed is returned when sending on a closed connection.
	ErrClosed = errors.New("connection closed")
	// ErrInvalidMessageType is the cause of Receive errors for frames that
	// are not text frames. The frame is consumed, the connection stays
	// usable.
	ErrInvalidMessageType = errors.New("invalid message type")
)

// A Channel is a duplex, ordered message channel. Send may be called
// concurrently; Receive must only be called from one goroutine at a time.
type Channel interface {
	// Send writes one message.
	Send(data []byte) error
	// Receive blocks until the next message arrives or the channel fails.
	// Errors with cause ErrInvalidMessageType only skip one message.
	Receive() ([]byte, error)
	// Close closes the channel. Blocked Receive calls return with an error.
	Close() error
}

// KeepAlive configures the ping/pong exchange of a connection. A zero
// PingInterval disables it.
type KeepAlive struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// Conn is a Channel on top of a websocket connection carrying text frames.
type Conn struct {
	conn      *websocket.Conn
	readMu    sync.Mutex
	writeMu   sync.Mutex
	closer    pkgsync.Closer
	onClose   func()
	keepAlive KeepAlive
}

var _ Channel = (*Conn)(nil)

// NewConn creates a new connection from a websocket connection and starts
// the keep-alive if configured.
func NewConn(conn *websocket.Conn, ka KeepAlive) (*Conn, error) {
	c := &Conn{
		conn:      conn,
		keepAlive: ka,
	}
	if ka.PingInterval > 0 {
		if err := c.startKeepAlive(); err != nil {
			return nil, errors.WithMessage(err, "connection keep alive")
		}
	}
	return c, nil
}

// Receive reads the next text message. A frame of another type yields an
// error with cause ErrInvalidMessageType.
func (c *Conn) Receive() ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	mt, b, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if mt != websocket.TextMessage {
		return nil, errors.WithMessagef(ErrInvalidMessageType, "frame type %d", mt)
	}
	return b, nil
}

// Send writes data as one text message.
func (c *Conn) Send(data []byte) error {
	if c.closer.IsClosed() {
		return ErrClosed
	}
	return c.write(websocket.TextMessage, data)
}

func (c *Conn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// SetOnCloseHandler sets the closing handler which is called once the
// connection is closed. Does not have to be thread-safe.
func (c *Conn) SetOnCloseHandler(onClose func()) {
	c.onClose = onClose
}

// Closed returns a channel that is closed once the connection is closed.
func (c *Conn) Closed() <-chan struct{} {
	return c.closer.Closed()
}

// RemoteAddr returns the address of the peer.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Close sends a close frame and closes the connection. Closing an already
// closed connection is a no-op.
func (c *Conn) Close() error {
	if err := c.closer.Close(); err != nil {
		if pkgsync.IsAlreadyClosedError(err) {
			return nil
		}
		return err
	}
	if c.onClose != nil {
		c.onClose()
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)); err != nil &&
		!errors.Is(err, websocket.ErrCloseSent) {
		log.Debugf("sending close frame: %v", err)
	}
	return c.conn.Close()
}

// startKeepAlive sets the pong handler and starts sending pings periodically.
func (c *Conn) startKeepAlive() error {
	pongTimeout := c.keepAlive.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = DefaultPongTimeout
	}

	// We initially set the read deadline to the pongTimeout.
	err := c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	if err != nil {
		return errors.Wrap(err, "setting read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		// We renew the read deadline with every pong we receive.
		err := c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		if err != nil {
			log.Errorf("setting read deadline failed: %v", err)
		}
		return nil
	})

	go func() {
		ticker := time.NewTicker(c.keepAlive.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				err := c.write(websocket.PingMessage, nil)
				if err != nil {
					log.Errorf("sending ping failed: %v", err)
					return
				}
			case <-c.closer.Closed():
				return
			}
		}
	}()

	return nil
}
