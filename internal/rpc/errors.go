package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/perun-network/perun-wsrpc/internal/message"
)

var (
	// ErrClosed is the cause of calls issued on a closed client and of calls
	// still pending when the client or its connection closed.
	ErrClosed = errors.New("rpc client closed")
	// ErrCallExpired is the cause of calls evicted by the call timeout.
	ErrCallExpired = errors.New("rpc call expired")
)

// CallError is the error of a call whose reply carried an error. Payload is
// the error member exactly as received.
type CallError struct {
	ID      uint64
	Method  string
	Payload json.RawMessage

	// Code, Message and Data are filled from Payload if it is a JSON-RPC
	// error object. A plain string payload only fills Message.
	Code    int
	Message string
	Data    json.RawMessage
}

func newCallError(call *Call, payload json.RawMessage) *CallError {
	e := &CallError{
		ID:      call.ID,
		Method:  call.Method,
		Payload: payload,
	}

	var obj message.ErrorObject
	var s string
	if err := json.Unmarshal(payload, &obj); err == nil {
		e.Code, e.Message, e.Data = obj.Code, obj.Message, obj.Data
	} else if err := json.Unmarshal(payload, &s); err == nil {
		e.Message = s
	}
	return e
}

func (e *CallError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("call %d (%s): %s", e.ID, e.Method, e.Message)
	}
	return fmt.Sprintf("call %d (%s): %s", e.ID, e.Method, e.Payload)
}
