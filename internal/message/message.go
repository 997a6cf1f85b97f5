package message

import (
	"bytes"
	"encoding/json"
)

// Version is the JSON-RPC protocol version stamped on every outgoing request.
const Version = "2.0"

// Standard JSON-RPC error codes used by the reference server.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// CodeServerBusy is returned when a connection exceeds the number of
	// requests it may have open in parallel.
	CodeServerBusy = -32000
)

var jsonNull = []byte("null")

type (
	// Request is the envelope of a call sent to the remote endpoint.
	//
	// Params always holds exactly one element: the remote side follows the Go
	// net/rpc convention of a single positional argument, so a logically
	// single value is still wrapped in an array on the wire.
	Request struct {
		JSONRPC string        `json:"jsonrpc"`
		ID      uint64        `json:"id"`
		Method  string        `json:"method"`
		Params  []interface{} `json:"params"`
	}

	// Response is the reply to the Request with the same ID. Error and Result
	// are kept undecoded, the caller decides what to unmarshal them into.
	Response struct {
		ID     uint64          `json:"id"`
		Error  json.RawMessage `json:"error"`
		Result json.RawMessage `json:"result"`
	}

	// ErrorObject is the structured form of a JSON-RPC error member.
	ErrorObject struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data,omitempty"`
	}
)

// NewRequest creates a new Request with the given ID that calls method with
// arg as its only parameter.
func NewRequest(id uint64, method string, arg interface{}) *Request {
	return &Request{
		JSONRPC: Version,
		ID:      id,
		Method:  method,
		Params:  []interface{}{arg},
	}
}

// Failed reports whether the response carries an error. A missing error
// member and an explicit null both count as success, whatever the result.
func (r *Response) Failed() bool {
	e := bytes.TrimSpace(r.Error)
	return len(e) != 0 && !bytes.Equal(e, jsonNull)
}

// NewErrorObject creates an ErrorObject with the given code from err.
func NewErrorObject(code int, err error) *ErrorObject {
	return &ErrorObject{Code: code, Message: err.Error()}
}

func (e *ErrorObject) Error() string {
	return e.Message
}
