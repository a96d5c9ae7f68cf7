package fetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cinetrack/internal/domain"
	"cinetrack/internal/retry"
)

// noWait retries immediately so tests never sleep on the backoff schedule.
func noWait(maxRetries int) Option {
	return WithRetry(retry.New(retry.Config{MaxRetries: maxRetries}))
}

// gatedCall lets a test decide when each invocation of the operation returns.
type gatedCall struct {
	started chan struct{}
	release chan struct{}
	value   string
	err     error
}

func newGatedCall(value string, err error) *gatedCall {
	return &gatedCall{
		started: make(chan struct{}),
		release: make(chan struct{}),
		value:   value,
		err:     err,
	}
}

type gatedOperation struct {
	mu    sync.Mutex
	calls []*gatedCall
	next  int
}

func (g *gatedOperation) add(call *gatedCall) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
}

func (g *gatedOperation) run(ctx context.Context) (string, error) {
	g.mu.Lock()
	call := g.calls[g.next]
	g.next++
	g.mu.Unlock()

	close(call.started)
	select {
	case <-call.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return call.value, call.err
}

func waitStarted(t *testing.T, call *gatedCall) {
	t.Helper()
	select {
	case <-call.started:
	case <-time.After(2 * time.Second):
		t.Fatal("operation did not start")
	}
}

func fetchAsync(c *Controller[string]) <-chan State[string] {
	done := make(chan State[string], 1)
	go func() {
		done <- c.Fetch(context.Background())
	}()
	return done
}

func waitDone(t *testing.T, done <-chan State[string]) State[string] {
	t.Helper()
	select {
	case state := <-done:
		return state
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not complete")
		return State[string]{}
	}
}

func TestFetch_CommitsSuccess(t *testing.T) {
	c := New(func(context.Context) (string, error) { return "movies", nil }, noWait(0))

	state := c.Fetch(context.Background())

	if !state.HasData || state.Data != "movies" {
		t.Fatalf("expected committed data, got %+v", state)
	}
	if state.Loading || state.Err != nil || state.Stale {
		t.Fatalf("unexpected flags: %+v", state)
	}
	if state.RequestID != 1 {
		t.Fatalf("RequestID = %d, want 1", state.RequestID)
	}
	if state.Status() != StatusSuccess {
		t.Fatalf("Status = %s, want success", state.Status())
	}
}

func TestFetch_LastIssuedWinsWhenEarlierCompletesLater(t *testing.T) {
	op := &gatedOperation{}
	callA := newGatedCall("A", nil)
	callB := newGatedCall("B", nil)
	op.add(callA)
	op.add(callB)
	c := New(op.run, noWait(0))

	doneA := fetchAsync(c)
	waitStarted(t, callA)
	doneB := fetchAsync(c)
	waitStarted(t, callB)

	close(callB.release)
	stateB := waitDone(t, doneB)
	if stateB.Data != "B" || stateB.Loading {
		t.Fatalf("expected B committed, got %+v", stateB)
	}

	close(callA.release)
	stateA := waitDone(t, doneA)
	if stateA.Data != "B" {
		t.Fatalf("superseded A overwrote data: %+v", stateA)
	}

	final := c.State()
	if final.Data != "B" || final.RequestID != 2 || final.Loading {
		t.Fatalf("final state = %+v, want data B, request 2, not loading", final)
	}
}

func TestFetch_LastIssuedWinsWhenEarlierCompletesFirst(t *testing.T) {
	op := &gatedOperation{}
	callA := newGatedCall("A", nil)
	callB := newGatedCall("B", nil)
	op.add(callA)
	op.add(callB)
	c := New(op.run, noWait(0))

	doneA := fetchAsync(c)
	waitStarted(t, callA)
	doneB := fetchAsync(c)
	waitStarted(t, callB)

	close(callA.release)
	stateA := waitDone(t, doneA)
	if stateA.HasData {
		t.Fatalf("superseded A must not commit, got %+v", stateA)
	}
	if !stateA.Loading {
		t.Fatalf("B still in flight, expected loading, got %+v", stateA)
	}

	close(callB.release)
	waitDone(t, doneB)
	if got := c.State(); got.Data != "B" || got.Loading {
		t.Fatalf("final state = %+v, want B", got)
	}
}

func TestFetch_SupersededFailureDoesNotSetError(t *testing.T) {
	op := &gatedOperation{}
	callA := newGatedCall("", errors.New("connection reset"))
	callB := newGatedCall("B", nil)
	op.add(callA)
	op.add(callB)
	c := New(op.run, noWait(0))

	doneA := fetchAsync(c)
	waitStarted(t, callA)
	doneB := fetchAsync(c)
	waitStarted(t, callB)

	close(callB.release)
	waitDone(t, doneB)
	close(callA.release)
	waitDone(t, doneA)

	state := c.State()
	if state.Err != nil || state.Data != "B" || state.Stale {
		t.Fatalf("expected clean B state, got %+v", state)
	}
}

func TestFetch_FailureWithoutDataIsError(t *testing.T) {
	cause := errors.New("HTTP 503")
	c := New(func(context.Context) (string, error) { return "", cause }, noWait(2))

	state := c.Fetch(context.Background())

	if state.Stale {
		t.Fatal("stale must be false without previous data")
	}
	if !errors.Is(state.Err, domain.ErrRetryExhausted) || !errors.Is(state.Err, cause) {
		t.Fatalf("expected exhausted error wrapping cause, got %v", state.Err)
	}
	if state.Status() != StatusError {
		t.Fatalf("Status = %s, want error", state.Status())
	}
}

func TestFetch_FailedRefetchKeepsDataAndMarksStale(t *testing.T) {
	var fail atomic.Bool
	c := New(func(context.Context) (string, error) {
		if fail.Load() {
			return "", errors.New("timeout")
		}
		return "good", nil
	}, noWait(1))

	c.Fetch(context.Background())
	fail.Store(true)
	state := c.Refetch(context.Background())

	if state.Data != "good" || !state.HasData {
		t.Fatalf("previous data lost: %+v", state)
	}
	if !state.Stale || state.Err == nil {
		t.Fatalf("expected stale error, got %+v", state)
	}
	if state.Status() != StatusStaleError {
		t.Fatalf("Status = %s, want stale_error", state.Status())
	}

	fail.Store(false)
	state = c.Refetch(context.Background())
	if state.Stale || state.Err != nil {
		t.Fatalf("successful refetch should clear stale and error: %+v", state)
	}
}

func TestFetch_RetriesDoNotToggleLoading(t *testing.T) {
	var calls atomic.Int32
	c := New(func(context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	}, noWait(3))

	var mu sync.Mutex
	var loadingTransitions []bool
	c.Subscribe(func(s State[string]) {
		mu.Lock()
		defer mu.Unlock()
		loadingTransitions = append(loadingTransitions, s.Loading)
	})

	state := c.Fetch(context.Background())
	if state.Data != "ok" {
		t.Fatalf("expected ok, got %+v", state)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(loadingTransitions) != 2 || !loadingTransitions[0] || loadingTransitions[1] {
		t.Fatalf("expected exactly [true false] transitions, got %v", loadingTransitions)
	}
}

func TestFetch_ClearsErrorOnNewAttempt(t *testing.T) {
	op := &gatedOperation{}
	first := newGatedCall("", errors.New("boom"))
	second := newGatedCall("ok", nil)
	op.add(first)
	op.add(second)
	c := New(op.run, noWait(0))

	close(first.release)
	c.Fetch(context.Background())
	if c.State().Err == nil {
		t.Fatal("expected error after first fetch")
	}

	done := fetchAsync(c)
	waitStarted(t, second)
	if state := c.State(); state.Err != nil || !state.Loading {
		t.Fatalf("new attempt should clear error and set loading, got %+v", state)
	}
	close(second.release)
	waitDone(t, done)
}

func TestReset_DropsInFlightResult(t *testing.T) {
	op := &gatedOperation{}
	callA := newGatedCall("A", nil)
	op.add(callA)
	c := New(op.run, noWait(0))

	doneA := fetchAsync(c)
	waitStarted(t, callA)
	c.Reset()

	close(callA.release)
	waitDone(t, doneA)

	state := c.State()
	if state.HasData || state.Loading || state.RequestID != 0 {
		t.Fatalf("expected reset state, got %+v", state)
	}
}

func TestReset_RewoundRequestIDDoesNotCollide(t *testing.T) {
	op := &gatedOperation{}
	callA := newGatedCall("A", nil)
	callB := newGatedCall("B", nil)
	op.add(callA)
	op.add(callB)
	c := New(op.run, noWait(0))

	doneA := fetchAsync(c)
	waitStarted(t, callA)
	c.Reset()
	doneB := fetchAsync(c)
	waitStarted(t, callB)

	// A and B both carry request id 1; only B belongs to the current epoch.
	close(callA.release)
	waitDone(t, doneA)
	if c.State().HasData {
		t.Fatalf("pre-reset result committed: %+v", c.State())
	}

	close(callB.release)
	waitDone(t, doneB)
	if state := c.State(); state.Data != "B" || state.RequestID != 1 {
		t.Fatalf("expected B with request id 1, got %+v", state)
	}
}

func TestMarkStale(t *testing.T) {
	c := New(func(context.Context) (string, error) { return "data", nil }, noWait(0))
	c.Fetch(context.Background())
	c.MarkStale()

	state := c.State()
	if !state.Stale || state.Data != "data" || state.Err != nil {
		t.Fatalf("MarkStale changed more than the stale flag: %+v", state)
	}
}

func TestClose_DropsLateResult(t *testing.T) {
	op := &gatedOperation{}
	callA := newGatedCall("A", nil)
	op.add(callA)
	c := New(op.run, noWait(0))

	var notified atomic.Int32
	c.Subscribe(func(State[string]) { notified.Add(1) })

	doneA := fetchAsync(c)
	waitStarted(t, callA)
	c.Close()
	close(callA.release)
	waitDone(t, doneA)

	if c.State().HasData {
		t.Fatal("result committed after Close")
	}
	if got := notified.Load(); got != 1 {
		t.Fatalf("expected only the loading notification, got %d", got)
	}
	if state := c.Fetch(context.Background()); state.RequestID != 1 {
		t.Fatalf("Fetch after Close must be a no-op, got %+v", state)
	}
}

func TestWithAutoFetch(t *testing.T) {
	done := make(chan struct{})
	c := New(func(context.Context) (string, error) {
		defer close(done)
		return "auto", nil
	}, noWait(0), WithAutoFetch(context.Background()))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("auto fetch did not run")
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State().HasData {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("auto fetch result not committed: %+v", c.State())
}

func TestFetch_StampsUpdatedAt(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(func(context.Context) (string, error) { return "x", nil }, noWait(0), withClock(func() time.Time { return fixed }))
	if state := c.Fetch(context.Background()); !state.UpdatedAt.Equal(fixed) {
		t.Fatalf("UpdatedAt = %v, want %v", state.UpdatedAt, fixed)
	}
}

func TestStatusIdle(t *testing.T) {
	var s State[int]
	if s.Status() != StatusIdle {
		t.Fatalf("zero state status = %s, want idle", s.Status())
	}
}
