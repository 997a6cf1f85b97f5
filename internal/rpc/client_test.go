package rpc_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perun-network/perun-wsrpc/internal/message"
	"github.com/perun-network/perun-wsrpc/internal/metrics"
	"github.com/perun-network/perun-wsrpc/internal/rpc"
	"github.com/perun-network/perun-wsrpc/internal/transport"
)

func newTestClient(t *testing.T, opts ...rpc.Option) (*rpc.Client, *fakeChannel) {
	t.Helper()
	ch := newFakeChannel()
	c := rpc.NewClient(ch, opts...)
	t.Cleanup(func() { c.Close() })
	return c, ch
}

func await(t *testing.T, call *rpc.Call) *rpc.Call {
	t.Helper()
	select {
	case done := <-call.Done:
		return done
	case <-time.After(timeout):
		t.Fatalf("call %d (%s) did not complete", call.ID, call.Method)
		return nil
	}
}

func requireNotDone(t *testing.T, call *rpc.Call) {
	t.Helper()
	select {
	case <-call.Done:
		t.Fatalf("call %d completed unexpectedly", call.ID)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestClient_IDsStartAtOneAndIncrease(t *testing.T) {
	c, ch := newTestClient(t)

	const n = 5
	for i := 0; i < n; i++ {
		c.Go("Arith.Add", i)
	}
	for i := 0; i < n; i++ {
		req := ch.nextRequest(t)
		assert.Equal(t, uint64(i+1), req.ID)
		assert.Equal(t, "Arith.Add", req.Method)
		require.Len(t, req.Params, 1)
		assert.JSONEq(t, fmt.Sprint(i), string(req.Params[0]))
	}
	assert.Equal(t, n, c.Pending())
}

func TestClient_ConcurrentCallsGetDistinctIDs(t *testing.T) {
	c, ch := newTestClient(t)

	const n = 100
	var wg sync.WaitGroup
	calls := make(chan *rpc.Call, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			calls <- c.Go("echo", nil)
		}()
	}
	wg.Wait()
	close(calls)

	// Ids on the wire are in send order.
	for i := 0; i < n; i++ {
		assert.Equal(t, uint64(i+1), ch.nextRequest(t).ID)
	}

	seen := make(map[uint64]bool)
	for call := range calls {
		assert.False(t, seen[call.ID], "duplicate id %d", call.ID)
		seen[call.ID] = true
	}
	assert.Len(t, seen, n)
}

func TestClient_ResolvesCall(t *testing.T) {
	c, ch := newTestClient(t)

	call := c.Go("Arith.Add", map[string]int{"A": 40, "B": 2})
	req := ch.nextRequest(t)
	ch.deliver(fmt.Sprintf(`{"id":%d,"error":null,"result":42}`, req.ID))

	done := await(t, call)
	require.NoError(t, done.Error)
	var sum int
	require.NoError(t, done.Decode(&sum))
	assert.Equal(t, 42, sum)
	assert.Equal(t, 0, c.Pending())
}

func TestClient_RejectsCall(t *testing.T) {
	c, ch := newTestClient(t)

	call := c.Go("Arith.Div", 0)
	req := ch.nextRequest(t)
	ch.deliver(fmt.Sprintf(`{"id":%d,"error":{"code":-32000,"message":"divide by zero","data":{"x":1}},"result":null}`, req.ID))

	done := await(t, call)
	var callErr *rpc.CallError
	require.True(t, errors.As(done.Error, &callErr), "got %T", done.Error)
	assert.Equal(t, uint64(1), callErr.ID)
	assert.Equal(t, -32000, callErr.Code)
	assert.Equal(t, "divide by zero", callErr.Message)
	assert.JSONEq(t, `{"x":1}`, string(callErr.Data))
	assert.JSONEq(t, `{"code":-32000,"message":"divide by zero","data":{"x":1}}`, string(callErr.Payload))
	assert.Contains(t, callErr.Error(), "divide by zero")
	assert.Equal(t, 0, c.Pending())
}

func TestClient_RejectsWithStringAndScalarPayload(t *testing.T) {
	c, ch := newTestClient(t)

	a, b := c.Go("a", nil), c.Go("b", nil)
	ch.nextRequest(t)
	ch.nextRequest(t)
	ch.deliver(`{"id":1,"error":"unknown method","result":null}`)
	ch.deliver(`{"id":2,"error":17}`)

	var callErr *rpc.CallError
	require.True(t, errors.As(await(t, a).Error, &callErr))
	assert.Equal(t, "unknown method", callErr.Message)

	require.True(t, errors.As(await(t, b).Error, &callErr))
	assert.Empty(t, callErr.Message)
	assert.Equal(t, "17", string(callErr.Payload))
	assert.Contains(t, callErr.Error(), "17")
}

func TestClient_FalsyResultsSucceed(t *testing.T) {
	c, ch := newTestClient(t)

	results := []string{`0`, `""`, `false`, `null`, `[]`, `{}`}
	calls := make([]*rpc.Call, len(results))
	for i := range results {
		calls[i] = c.Go("falsy", i)
		ch.nextRequest(t)
	}
	for i, r := range results {
		ch.deliver(fmt.Sprintf(`{"id":%d,"error":null,"result":%s}`, i+1, r))
	}
	// A missing error member counts as null.
	last := c.Go("falsy", nil)
	ch.nextRequest(t)
	ch.deliver(fmt.Sprintf(`{"id":%d,"result":0}`, last.ID))

	for i, call := range append(calls, last) {
		done := await(t, call)
		assert.NoError(t, done.Error, "result %d", i)
	}
}

func TestClient_OutOfOrderReplies(t *testing.T) {
	c, ch := newTestClient(t)

	calls := []*rpc.Call{c.Go("echo", "one"), c.Go("echo", "two"), c.Go("echo", "three")}
	for range calls {
		ch.nextRequest(t)
	}

	ch.deliver(`{"id":3,"error":null,"result":"three"}`)
	ch.deliver(`{"id":2,"error":null,"result":"two"}`)
	ch.deliver(`{"id":1,"error":null,"result":"one"}`)

	for _, call := range calls {
		var s string
		require.NoError(t, await(t, call).Decode(&s))
		assert.Equal(t, call.Arg, s)
	}
}

func TestClient_BatchReply(t *testing.T) {
	c, ch := newTestClient(t)

	first, second := c.Go("echo", 1), c.Go("echo", 2)
	ch.nextRequest(t)
	ch.nextRequest(t)

	ch.deliver(`[{"id":2,"error":null,"result":2},{"id":1,"error":null,"result":1}]`)

	var n int
	require.NoError(t, await(t, first).Decode(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, await(t, second).Decode(&n))
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, c.Pending())

	// Each call completes exactly once.
	requireNotDone(t, first)
	requireNotDone(t, second)
}

func TestClient_BatchWithInvalidElement(t *testing.T) {
	c, ch := newTestClient(t)

	first, second := c.Go("echo", 1), c.Go("echo", 2)
	ch.nextRequest(t)
	ch.nextRequest(t)

	ch.deliver(`[{"id":1,"error":null,"result":1},"garbage",{"id":2,"error":null,"result":2},{"id":"x","result":3}]`)

	var n int
	require.NoError(t, await(t, first).Decode(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, await(t, second).Decode(&n))
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, c.Pending())
}

func TestClient_NonTextFrameIsSkipped(t *testing.T) {
	c, ch := newTestClient(t)

	call := c.Go("echo", 1)
	ch.nextRequest(t)
	ch.deliverErr(errors.WithMessage(transport.ErrInvalidMessageType, "frame type 2"))
	ch.deliver(`{"id":1,"error":null,"result":1}`)

	require.NoError(t, await(t, call).Error)
	select {
	case <-c.Done():
		t.Fatal("client closed by a non-text frame")
	default:
	}
}

func TestClient_UnmatchedReplyIsDropped(t *testing.T) {
	unmatched := make(chan message.Response, 1)
	m := metrics.NewClient(prometheus.NewRegistry())
	c, ch := newTestClient(t,
		rpc.WithMetrics(m),
		rpc.WithUnmatchedHandler(func(resp message.Response) { unmatched <- resp }))

	call := c.Go("echo", "pending")
	ch.nextRequest(t)

	ch.deliver(`{"id":99,"error":null,"result":"stray"}`)

	select {
	case resp := <-unmatched:
		assert.Equal(t, uint64(99), resp.ID)
	case <-time.After(timeout):
		t.Fatal("unmatched handler not called")
	}
	requireNotDone(t, call)
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Unmatched))

	ch.deliver(`{"id":1,"error":null,"result":"pending"}`)
	require.NoError(t, await(t, call).Error)
}

func TestClient_DuplicateReplyResolvesOnce(t *testing.T) {
	unmatched := make(chan message.Response, 1)
	c, ch := newTestClient(t, rpc.WithUnmatchedHandler(func(resp message.Response) { unmatched <- resp }))

	call := c.Go("echo", "x")
	ch.nextRequest(t)

	ch.deliver(`{"id":1,"error":null,"result":"first"}`)
	ch.deliver(`{"id":1,"error":{"message":"second"},"result":null}`)

	done := await(t, call)
	var s string
	require.NoError(t, done.Decode(&s))
	assert.Equal(t, "first", s)

	select {
	case resp := <-unmatched:
		assert.Equal(t, uint64(1), resp.ID)
	case <-time.After(timeout):
		t.Fatal("duplicate reply not treated as unmatched")
	}
	requireNotDone(t, call)
	assert.Equal(t, 0, c.Pending())
}

func TestClient_IndependentFailure(t *testing.T) {
	c, ch := newTestClient(t)

	a, b := c.Go("a", nil), c.Go("b", nil)
	ch.nextRequest(t)
	ch.nextRequest(t)

	ch.deliver(`[{"id":1,"error":"a failed","result":null},{"id":2,"error":null,"result":"b ok"}]`)

	assert.Error(t, await(t, a).Error)
	var s string
	require.NoError(t, await(t, b).Decode(&s))
	assert.Equal(t, "b ok", s)

	// The client stays usable.
	call := c.Go("c", nil)
	assert.Equal(t, uint64(3), ch.nextRequest(t).ID)
	ch.deliver(`{"id":3,"error":null,"result":"c ok"}`)
	require.NoError(t, await(t, call).Error)
}

func TestClient_SendFailureRemovesCall(t *testing.T) {
	m := metrics.NewClient(prometheus.NewRegistry())
	c, ch := newTestClient(t, rpc.WithMetrics(m))

	sendErr := errors.New("broken pipe")
	ch.failSends(sendErr)
	done := await(t, c.Go("echo", 1))
	require.Error(t, done.Error)
	assert.Equal(t, sendErr, errors.Cause(done.Error))
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Pending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues("echo", metrics.OutcomeSendError)))

	// The failed id is not reused.
	ch.failSends(nil)
	c.Go("echo", 2)
	assert.Equal(t, uint64(2), ch.nextRequest(t).ID)
}

func TestClient_EncodeFailure(t *testing.T) {
	c, ch := newTestClient(t)

	done := await(t, c.Go("echo", make(chan int)))
	assert.Error(t, done.Error)
	assert.Equal(t, uint64(0), done.ID)
	assert.Equal(t, 0, c.Pending())

	c.Go("echo", 1)
	assert.Equal(t, uint64(1), ch.nextRequest(t).ID)
}

func TestClient_CallTimeout(t *testing.T) {
	unmatched := make(chan message.Response, 1)
	c, ch := newTestClient(t,
		rpc.WithCallTimeout(30*time.Millisecond),
		rpc.WithUnmatchedHandler(func(resp message.Response) { unmatched <- resp }))

	call := c.Go("slow", nil)
	ch.nextRequest(t)

	done := await(t, call)
	assert.Equal(t, rpc.ErrCallExpired, errors.Cause(done.Error))
	assert.Equal(t, 0, c.Pending())

	ch.deliver(`{"id":1,"error":null,"result":"late"}`)
	select {
	case resp := <-unmatched:
		assert.Equal(t, uint64(1), resp.ID)
	case <-time.After(timeout):
		t.Fatal("late reply not treated as unmatched")
	}
}

func TestClient_CallTimeoutDoesNotFireAfterReply(t *testing.T) {
	c, ch := newTestClient(t, rpc.WithCallTimeout(50*time.Millisecond))

	call := c.Go("fast", nil)
	ch.nextRequest(t)
	ch.deliver(`{"id":1,"error":null,"result":true}`)
	require.NoError(t, await(t, call).Error)

	time.Sleep(100 * time.Millisecond)
	requireNotDone(t, call)
}

func TestClient_Call(t *testing.T) {
	c, ch := newTestClient(t)

	go func() {
		req := ch.nextRequest(t)
		ch.deliver(fmt.Sprintf(`{"id":%d,"error":null,"result":{"greeting":"hello"}}`, req.ID))
	}()

	var reply struct{ Greeting string }
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	require.NoError(t, c.Call(ctx, "greet", "world", &reply))
	assert.Equal(t, "hello", reply.Greeting)

	go func() {
		req := ch.nextRequest(t)
		ch.deliver(fmt.Sprintf(`{"id":%d,"error":"nope","result":null}`, req.ID))
	}()
	err := c.Call(ctx, "greet", "world", nil)
	var callErr *rpc.CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, "nope", callErr.Message)
}

func TestClient_CallContextDone(t *testing.T) {
	unmatched := make(chan message.Response, 1)
	c, ch := newTestClient(t, rpc.WithUnmatchedHandler(func(resp message.Response) { unmatched <- resp }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Call(ctx, "slow", nil, nil)
	assert.Equal(t, context.DeadlineExceeded, errors.Cause(err))
	assert.Equal(t, 0, c.Pending())

	ch.nextRequest(t)
	ch.deliver(`{"id":1,"error":null,"result":"late"}`)
	select {
	case <-unmatched:
	case <-time.After(timeout):
		t.Fatal("late reply not treated as unmatched")
	}
}

func TestClient_UndecodableFrameIsSkipped(t *testing.T) {
	c, ch := newTestClient(t)

	call := c.Go("echo", 1)
	ch.nextRequest(t)
	ch.deliver(`not json`)
	ch.deliver(`{"id":1,"error":null,"result":1}`)
	require.NoError(t, await(t, call).Error)
}

func TestClient_CloseFailsPendingCalls(t *testing.T) {
	m := metrics.NewClient(prometheus.NewRegistry())
	c, ch := newTestClient(t, rpc.WithMetrics(m))

	a, b := c.Go("a", nil), c.Go("b", nil)
	ch.nextRequest(t)
	ch.nextRequest(t)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, rpc.ErrClosed, errors.Cause(await(t, a).Error))
	assert.Equal(t, rpc.ErrClosed, errors.Cause(await(t, b).Error))
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Pending))

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}

	late := await(t, c.Go("late", nil))
	assert.Equal(t, rpc.ErrClosed, errors.Cause(late.Error))
}

func TestClient_ConnectionLossFailsPendingCalls(t *testing.T) {
	c, ch := newTestClient(t)

	call := c.Go("a", nil)
	ch.nextRequest(t)

	ch.Close()

	assert.Equal(t, rpc.ErrClosed, errors.Cause(await(t, call).Error))
	select {
	case <-c.Done():
	case <-time.After(timeout):
		t.Fatal("client not closed after connection loss")
	}
}

func TestClient_Metrics(t *testing.T) {
	m := metrics.NewClient(prometheus.NewRegistry())
	c, ch := newTestClient(t, rpc.WithMetrics(m))

	a, b := c.Go("m", nil), c.Go("m", nil)
	ch.nextRequest(t)
	ch.nextRequest(t)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Pending))

	ch.deliver(`[{"id":1,"error":null,"result":1},{"id":2,"error":"x"}]`)
	await(t, a)
	await(t, b)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues("m", metrics.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues("m", metrics.OutcomeError)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Pending))
}

func TestClient_SessionID(t *testing.T) {
	c, _ := newTestClient(t, rpc.WithSessionID("session-1"))
	assert.Equal(t, "session-1", c.Session())

	other, _ := newTestClient(t)
	assert.NotEmpty(t, other.Session())
}
