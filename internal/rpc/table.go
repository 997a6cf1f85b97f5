package rpc

import "sync"

// callTable maps the ids of in-flight calls to their Call.
type callTable struct {
	m map[uint64]*Call
	sync.RWMutex
}

func newCallTable() *callTable {
	return &callTable{
		m: make(map[uint64]*Call),
	}
}

func (t *callTable) set(id uint64, call *Call) {
	t.Lock()
	defer t.Unlock()
	t.m[id] = call
}

// take removes the call with the given id and returns it. Only one of several
// concurrent takes of the same id gets the call.
func (t *callTable) take(id uint64) (call *Call, ok bool) {
	t.Lock()
	defer t.Unlock()
	call, ok = t.m[id]
	if ok {
		delete(t.m, id)
	}
	return
}

// drain removes and returns all calls.
func (t *callTable) drain() []*Call {
	t.Lock()
	defer t.Unlock()
	calls := make([]*Call, 0, len(t.m))
	for id, call := range t.m {
		calls = append(calls, call)
		delete(t.m, id)
	}
	return calls
}

func (t *callTable) len() int {
	t.RLock()
	defer t.RUnlock()
	return len(t.m)
}
