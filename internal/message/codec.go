package message

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// A Codec translates between calls and the frames sent over a channel.
// Implementations must be safe for concurrent use.
type Codec interface {
	// EncodeRequest encodes a request into one outbound frame.
	EncodeRequest(req *Request) ([]byte, error)
	// DecodeInbound decodes one inbound frame into either a Single response
	// or a Batch. If only some elements of a batch fail to decode, it returns
	// the Batch of the others together with a *BatchError.
	DecodeInbound(data []byte) (Inbound, error)
}

type (
	// BatchError reports the elements of a batch frame that could not be
	// decoded.
	BatchError struct {
		Invalid []InvalidElement
	}

	// InvalidElement is an undecodable element of a batch frame.
	InvalidElement struct {
		Index int
		Raw   json.RawMessage
		Err   error
	}
)

func (e *BatchError) Error() string {
	first := e.Invalid[0]
	return fmt.Sprintf("%d invalid batch element(s), first at index %d: %v", len(e.Invalid), first.Index, first.Err)
}

// JSONCodec is the Codec for JSON text frames.
type JSONCodec struct{}

var _ Codec = JSONCodec{}

// EncodeRequest marshals req into JSON.
func (JSONCodec) EncodeRequest(req *Request) ([]byte, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding request %d", req.ID)
	}
	return b, nil
}

// DecodeInbound decodes a JSON object as Single and a JSON array as Batch.
func (JSONCodec) DecodeInbound(data []byte) (Inbound, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty frame")
	}

	switch data[0] {
	case '{':
		var s Single
		if err := json.Unmarshal(data, &s.Response); err != nil {
			return nil, errors.Wrap(err, "decoding response")
		}
		return s, nil
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(data, &elems); err != nil {
			return nil, errors.Wrap(err, "decoding batch")
		}
		b := make(Batch, 0, len(elems))
		var berr *BatchError
		for i, elem := range elems {
			var r Response
			if err := json.Unmarshal(elem, &r); err != nil {
				if berr == nil {
					berr = &BatchError{}
				}
				berr.Invalid = append(berr.Invalid, InvalidElement{Index: i, Raw: elem, Err: err})
				continue
			}
			b = append(b, r)
		}
		if berr != nil {
			return b, berr
		}
		return b, nil
	default:
		return nil, errors.Errorf("frame is neither an object nor an array: %.32q", data)
	}
}
