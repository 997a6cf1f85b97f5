package message

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

type (
	// ServerRequest is a Request as seen by the serving side, with the
	// parameters left undecoded.
	ServerRequest struct {
		JSONRPC string            `json:"jsonrpc,omitempty"`
		ID      uint64            `json:"id"`
		Method  string            `json:"method"`
		Params  []json.RawMessage `json:"params"`
	}

	// Reply is the serving side's answer to a ServerRequest. Both members are
	// always written, the unused one as null.
	Reply struct {
		ID     uint64       `json:"id"`
		Result interface{}  `json:"result"`
		Error  *ErrorObject `json:"error"`
	}
)

// NewReply creates a successful Reply for the request with the given ID.
func NewReply(id uint64, result interface{}) *Reply {
	return &Reply{ID: id, Result: result}
}

// NewErrorReply creates a failed Reply for the request with the given ID.
func NewErrorReply(id uint64, e *ErrorObject) *Reply {
	return &Reply{ID: id, Error: e}
}

// Arg decodes the single positional argument of the request into v.
func (r *ServerRequest) Arg(v interface{}) error {
	if len(r.Params) != 1 {
		return errors.Errorf("expected exactly one parameter, got %d", len(r.Params))
	}
	return errors.Wrap(json.Unmarshal(r.Params[0], v), "decoding parameter")
}

// DecodeRequests decodes a request frame. A JSON array is a batch, whose
// replies have to be sent back as one array in the same order.
func DecodeRequests(data []byte) (reqs []ServerRequest, batch bool, err error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, false, errors.New("empty frame")
	}

	if data[0] == '[' {
		err = json.Unmarshal(data, &reqs)
		return reqs, true, errors.Wrap(err, "decoding batch")
	}

	var req ServerRequest
	if err = json.Unmarshal(data, &req); err != nil {
		return nil, false, errors.Wrap(err, "decoding request")
	}
	return []ServerRequest{req}, false, nil
}
