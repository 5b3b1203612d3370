package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/domain/ports"
)

func TestAcquireReturnsSession(t *testing.T) {
	engine := newFakeEngine()
	a := NewAcquirer(engine, time.Second, discardLogger())
	defer a.Close()

	s, err := a.Acquire(context.Background(), "aaa", "aaa")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if s.ID() != "aaa" {
		t.Fatalf("session id = %s, want aaa", s.ID())
	}
}

func TestAcquireSharesInFlightWork(t *testing.T) {
	engine := newFakeEngine()
	engine.gate = make(chan struct{})
	a := NewAcquirer(engine, 5*time.Second, discardLogger())
	defer a.Close()

	const callers = 8
	results := make([]ports.Session, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = a.Acquire(context.Background(), "aaa", "aaa")
		}()
	}
	waitFor(t, "first add", func() bool { return engine.addCount("aaa") == 1 })
	// Give the remaining callers time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(engine.gate)
	wg.Wait()

	if got := engine.addCount("aaa"); got != 1 {
		t.Fatalf("engine adds = %d, want 1", got)
	}
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("caller %d got a different session", i)
		}
	}
}

func TestAcquireTimeout(t *testing.T) {
	engine := newFakeEngine()
	engine.gate = make(chan struct{})
	defer close(engine.gate)
	a := NewAcquirer(engine, 30*time.Millisecond, discardLogger())
	defer a.Close()

	start := time.Now()
	_, err := a.Acquire(context.Background(), "aaa", "aaa")
	if !errors.Is(err, domain.ErrAcquireTimeout) {
		t.Fatalf("err = %v, want ErrAcquireTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout took %s", elapsed)
	}
}

func TestAcquireClosesHandleArrivingAfterTimeout(t *testing.T) {
	engine := newFakeEngine()
	engine.gate = make(chan struct{})
	engine.ignoreCtx = true
	a := NewAcquirer(engine, 20*time.Millisecond, discardLogger())
	defer a.Close()

	if _, err := a.Acquire(context.Background(), "aaa", "aaa"); !errors.Is(err, domain.ErrAcquireTimeout) {
		t.Fatalf("err = %v, want ErrAcquireTimeout", err)
	}
	close(engine.gate)

	waitFor(t, "late handle closed", func() bool {
		sessions := engine.allSessions()
		return len(sessions) == 1 && sessions[0].closeCount() == 1
	})
}

func TestAcquireCallerCancelDetachesOnlyThatCaller(t *testing.T) {
	engine := newFakeEngine()
	engine.gate = make(chan struct{})
	a := NewAcquirer(engine, 5*time.Second, discardLogger())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := a.Acquire(ctx, "aaa", "aaa")
		firstErr <- err
	}()
	waitFor(t, "first add", func() bool { return engine.addCount("aaa") == 1 })

	second := make(chan error, 1)
	go func() {
		_, err := a.Acquire(context.Background(), "aaa", "aaa")
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller err = %v, want context.Canceled", err)
	}
	close(engine.gate)
	if err := <-second; err != nil {
		t.Fatalf("surviving caller err = %v", err)
	}
	if got := engine.addCount("aaa"); got != 1 {
		t.Fatalf("engine adds = %d, want 1", got)
	}
}

func TestAcquireEngineError(t *testing.T) {
	engine := newFakeEngine()
	engine.err = errBoom
	a := NewAcquirer(engine, time.Second, discardLogger())
	defer a.Close()

	if _, err := a.Acquire(context.Background(), "aaa", "aaa"); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
	// The failure is not cached.
	engine.mu.Lock()
	engine.err = nil
	engine.mu.Unlock()
	if _, err := a.Acquire(context.Background(), "aaa", "aaa"); err != nil {
		t.Fatalf("retry err = %v", err)
	}
	if got := engine.addCount("aaa"); got != 2 {
		t.Fatalf("engine adds = %d, want 2", got)
	}
}

func TestAcquirerCloseAbortsInFlight(t *testing.T) {
	engine := newFakeEngine()
	engine.gate = make(chan struct{})
	defer close(engine.gate)
	a := NewAcquirer(engine, 5*time.Second, discardLogger())

	done := make(chan error, 1)
	go func() {
		_, err := a.Acquire(context.Background(), "aaa", "aaa")
		done <- err
	}()
	waitFor(t, "first add", func() bool { return engine.addCount("aaa") == 1 })
	a.Close()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire not aborted by Close")
	}
}

func TestFailureCause(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{domain.ErrAcquireTimeout, "timeout"},
		{context.Canceled, "canceled"},
		{domain.ErrInvalidIdentifier, "invalid"},
		{errBoom, "engine"},
	}
	for _, tc := range tests {
		if got := failureCause(tc.err); got != tc.want {
			t.Fatalf("failureCause(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestOneShotKeepsFirstResult(t *testing.T) {
	o := newOneShot[int]()
	if !o.settle(1, nil) {
		t.Fatal("first settle refused")
	}
	if o.settle(2, errBoom) {
		t.Fatal("second settle accepted")
	}
	v, err := o.Result()
	if v != 1 || err != nil {
		t.Fatalf("Result = %d, %v; want 1, nil", v, err)
	}
	select {
	case <-o.Done():
	default:
		t.Fatal("Done not closed after settle")
	}
}
