package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/perun-network/perun-wsrpc/internal/message"
)

// CodeApplicationError is the error code of failures raised by the fail
// method.
const CodeApplicationError = 1

// HandlerFunc handles a request and returns its result. An error of type
// *message.ErrorObject is sent as is, any other error as internal error.
type HandlerFunc func(ctx context.Context, req *message.ServerRequest) (interface{}, error)

var errMissingParam = errors.New("missing parameter")

// dispatch runs the handler of the request's method and creates the reply.
func (n *Node) dispatch(ctx context.Context, req *message.ServerRequest) *message.Reply {
	h, ok := n.handler(req.Method)
	if !ok {
		n.metrics.Requests.WithLabelValues(req.Method, "not_found").Inc()
		return message.NewErrorReply(req.ID, &message.ErrorObject{
			Code:    message.CodeMethodNotFound,
			Message: "method not found: " + req.Method,
		})
	}

	result, err := h(ctx, req)
	if err != nil {
		n.metrics.Requests.WithLabelValues(req.Method, "error").Inc()
		var eo *message.ErrorObject
		if errors.As(err, &eo) {
			return message.NewErrorReply(req.ID, eo)
		}
		return message.NewErrorReply(req.ID, message.NewErrorObject(message.CodeInternalError, err))
	}
	n.metrics.Requests.WithLabelValues(req.Method, "success").Inc()
	return message.NewReply(req.ID, result)
}

func (n *Node) registerBuiltins() {
	n.Handle("echo", handleEcho)
	n.Handle("add", handleAdd)
	n.Handle("sleep", handleSleep)
	n.Handle("fail", handleFail)
}

func invalidParams(err error) error {
	return message.NewErrorObject(message.CodeInvalidParams, err)
}

// handleEcho returns its argument unchanged.
func handleEcho(_ context.Context, req *message.ServerRequest) (interface{}, error) {
	if len(req.Params) != 1 {
		return nil, invalidParams(errMissingParam)
	}
	return req.Params[0], nil
}

// handleAdd returns the sum of a list of numbers.
func handleAdd(_ context.Context, req *message.ServerRequest) (interface{}, error) {
	var summands []float64
	if err := req.Arg(&summands); err != nil {
		return nil, invalidParams(err)
	}
	var sum float64
	for _, s := range summands {
		sum += s
	}
	return sum, nil
}

// handleSleep waits for the given number of milliseconds and returns them.
func handleSleep(ctx context.Context, req *message.ServerRequest) (interface{}, error) {
	var ms int64
	if err := req.Arg(&ms); err != nil {
		return nil, invalidParams(err)
	}
	if ms < 0 {
		return nil, invalidParams(errors.Errorf("negative duration %d", ms))
	}

	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return ms, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "sleep interrupted")
	}
}

// handleFail always fails with its argument as error message. The argument
// may be an object with code, message and data instead.
func handleFail(_ context.Context, req *message.ServerRequest) (interface{}, error) {
	if len(req.Params) != 1 {
		return nil, invalidParams(errMissingParam)
	}

	var msg string
	if err := json.Unmarshal(req.Params[0], &msg); err == nil {
		return nil, &message.ErrorObject{Code: CodeApplicationError, Message: msg}
	}
	var eo message.ErrorObject
	if err := json.Unmarshal(req.Params[0], &eo); err != nil {
		return nil, invalidParams(errors.Wrap(err, "decoding error object"))
	}
	return nil, &eo
}
