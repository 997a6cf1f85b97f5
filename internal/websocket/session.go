package websocket

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"perun.network/go-perun/log"

	"github.com/perun-network/perun-wsrpc/internal/message"
	"github.com/perun-network/perun-wsrpc/internal/transport"
)

// Session serves the requests of a single connection.
type Session struct {
	log.Embedding

	ID      string
	conn    *transport.Conn
	reserve chan struct{}
}

func newSession(id string, conn *transport.Conn, maxNumRequests int) *Session {
	return &Session{
		Embedding: log.MakeEmbedding(log.WithField("session", id)),
		ID:        id,
		conn:      conn,
		reserve:   make(chan struct{}, maxNumRequests),
	}
}

// serve reads request frames until the connection fails or is closed. Single
// requests are handled concurrently, a batch is answered as a whole.
func (s *Session) serve(ctx context.Context, n *Node) {
	defer func() {
		if err := s.conn.Close(); err != nil {
			s.Log().WithError(err).Warn("closing connection")
		}
	}()

	for {
		data, err := s.conn.Receive()
		if errors.Is(err, transport.ErrInvalidMessageType) {
			s.Log().WithError(err).Debug("dropping frame")
			continue
		} else if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.Log().Errorf("websocket error: %v", err)
			}
			return
		}

		reqs, batch, err := message.DecodeRequests(data)
		if err != nil {
			s.Log().WithError(err).Debug("invalid frame")
			s.write(message.NewErrorReply(0, message.NewErrorObject(message.CodeParseError, err)))
			continue
		}

		if batch {
			go s.handleBatch(ctx, n, reqs)
			continue
		}

		req := reqs[0]
		// Ensure that the number of open requests stays below the configured
		// maximum. Otherwise, respond with an error.
		select {
		case s.reserve <- struct{}{}:
		default:
			n.metrics.Requests.WithLabelValues(req.Method, "busy").Inc()
			s.write(message.NewErrorReply(req.ID, &message.ErrorObject{
				Code:    message.CodeServerBusy,
				Message: "exceeding maximum number of allowed open requests",
			}))
			continue
		}
		go func() {
			defer func() { <-s.reserve }()
			s.write(n.dispatch(ctx, &req))
		}()
	}
}

// handleBatch handles the requests of a batch in order and sends the replies
// as one array.
func (s *Session) handleBatch(ctx context.Context, n *Node, reqs []message.ServerRequest) {
	if len(reqs) == 0 {
		s.write(message.NewErrorReply(0, &message.ErrorObject{
			Code:    message.CodeInvalidRequest,
			Message: "empty batch",
		}))
		return
	}

	replies := make([]*message.Reply, len(reqs))
	for i := range reqs {
		replies[i] = n.dispatch(ctx, &reqs[i])
	}
	s.write(replies)
}

func (s *Session) write(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.Log().Error(errors.Wrap(err, "encoding reply"))
		return
	}
	if err := s.conn.Send(data); err != nil && !errors.Is(err, transport.ErrClosed) {
		s.Log().Error(errors.Wrap(err, "sending reply"))
	}
}
