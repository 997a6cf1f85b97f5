package rpc

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Call is an outstanding or completed call. It completes exactly once,
// either with Result or with Error, and is then sent on Done.
type Call struct {
	// ID is the request id the call was sent with. It stays zero if the call
	// failed before an id was assigned.
	ID     uint64
	Method string
	Arg    interface{}
	// Result is the undecoded result of a successful call.
	Result json.RawMessage
	// Error is set if the call failed. A reply carrying an error yields a
	// *CallError.
	Error error
	// Done receives the call once it completes. It is buffered.
	Done chan *Call

	once  sync.Once
	start time.Time
	timer *time.Timer
}

func newCall(method string, arg interface{}) *Call {
	return &Call{
		Method: method,
		Arg:    arg,
		Done:   make(chan *Call, 1),
	}
}

// done completes the call unless it is already complete. record runs before
// the call is published on Done.
func (call *Call) done(result json.RawMessage, err error, record func()) {
	call.once.Do(func() {
		call.Result = result
		call.Error = err
		if record != nil {
			record()
		}
		call.Done <- call
	})
}

func (call *Call) stopTimer() {
	if call.timer != nil {
		call.timer.Stop()
	}
}

// Decode unmarshals the result of a completed call into v. It returns the
// call's error if the call failed.
func (call *Call) Decode(v interface{}) error {
	if call.Error != nil {
		return call.Error
	}
	if v == nil || len(call.Result) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(call.Result, v), "decoding result of %s", call.Method)
}
