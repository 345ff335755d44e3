package executor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/rolegate/internal/adapter"
	"github.com/flemzord/rolegate/internal/provider"
	"github.com/flemzord/rolegate/internal/store"
)

type call struct {
	ref    string
	roleID int64
}

// fakeSender returns the queued results in order, repeating the last one.
type fakeSender struct {
	mu      sync.Mutex
	results []error
	reply   string
	calls   []call
}

func (f *fakeSender) SendMessage(_ context.Context, _, _, _, ref string, roleID *int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{ref: ref, roleID: *roleID})
	i := min(len(f.calls)-1, len(f.results)-1)
	if err := f.results[i]; err != nil {
		return "", err
	}
	return f.reply, nil
}

func (f *fakeSender) ProviderIDFor(string) string { return "alpha" }

func (f *fakeSender) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newExecutor(s Sender) *Executor {
	return New(Config{Sender: s, BaseDelay: time.Millisecond})
}

func TestSendWithRetries_ExhaustsAndReturnsLastError(t *testing.T) {
	t.Parallel()

	first := &adapter.TransportError{ProviderID: "alpha", StatusCode: http.StatusBadGateway}
	last := &adapter.TransportError{ProviderID: "alpha", StatusCode: http.StatusServiceUnavailable}
	s := &fakeSender{results: []error{first, first, last}}

	_, err := newExecutor(s).SendWithRetries(context.Background(), "s1", "", "hi", store.Role{ID: 1}, "", DefaultMaxRetries)
	if got := s.attempts(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if err != error(last) {
		t.Errorf("error = %v, want the last error unchanged", err)
	}
}

func TestSendWithRetries_NotFoundStopsImmediately(t *testing.T) {
	t.Parallel()

	notFound := &adapter.TransportError{ProviderID: "alpha", StatusCode: http.StatusNotFound}
	s := &fakeSender{results: []error{notFound}}

	_, err := newExecutor(s).SendWithRetries(context.Background(), "s1", "", "hi", store.Role{ID: 1}, "", DefaultMaxRetries)
	if got := s.attempts(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
	if !adapter.IsNotFound(err) {
		t.Errorf("error = %v, want 404", err)
	}
}

func TestSendWithRetries_MissingFieldNotRetried(t *testing.T) {
	t.Parallel()

	missing := &adapter.MissingUserFieldError{ProviderID: "alpha", Field: provider.UserField{Key: "token"}}
	s := &fakeSender{results: []error{missing}}

	_, err := newExecutor(s).SendWithRetries(context.Background(), "s1", "", "hi", store.Role{ID: 1}, "", DefaultMaxRetries)
	if s.attempts() != 1 {
		t.Errorf("attempts = %d, want 1", s.attempts())
	}
	if _, ok := adapter.AsMissingUserField(err); !ok {
		t.Errorf("error = %v, want MissingUserFieldError", err)
	}
}

func TestSendWithRetries_SucceedsAfterFailure(t *testing.T) {
	t.Parallel()

	s := &fakeSender{results: []error{errors.New("boom"), nil}, reply: "ok"}

	got, err := newExecutor(s).SendWithRetries(context.Background(), "s1", "", "hi", store.Role{ID: 4, Model: "alpha:role"}, "", 2)
	if err != nil || got != "ok" {
		t.Fatalf("SendWithRetries() = %q, %v", got, err)
	}
	if s.attempts() != 2 {
		t.Errorf("attempts = %d, want 2", s.attempts())
	}
	if c := s.calls[0]; c.ref != "alpha:role" || c.roleID != 4 {
		t.Errorf("call = %+v, want role model and role id", c)
	}
}

func TestSendWithRetries_ExplicitModelWins(t *testing.T) {
	t.Parallel()

	s := &fakeSender{results: []error{nil}, reply: "ok"}
	if _, err := newExecutor(s).SendWithRetries(context.Background(), "s1", "", "hi", store.Role{Model: "alpha:role"}, "alpha:explicit", 0); err != nil {
		t.Fatal(err)
	}
	if s.calls[0].ref != "alpha:explicit" {
		t.Errorf("ref = %q", s.calls[0].ref)
	}
}

func TestSendWithRetries_ZeroRetries(t *testing.T) {
	t.Parallel()

	s := &fakeSender{results: []error{errors.New("boom")}}
	if _, err := newExecutor(s).SendWithRetries(context.Background(), "s1", "", "hi", store.Role{}, "", 0); err == nil {
		t.Fatal("expected error")
	}
	if s.attempts() != 1 {
		t.Errorf("attempts = %d, want 1", s.attempts())
	}
}

func TestSendWithRetries_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	s := &fakeSender{results: []error{errors.New("boom")}}
	e := New(Config{Sender: s, BaseDelay: time.Hour})

	done := make(chan error, 1)
	go func() {
		_, err := e.SendWithRetries(ctx, "s1", "", "hi", store.Role{}, "", 5)
		done <- err
	}()

	for s.attempts() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SendWithRetries did not stop on cancellation")
	}
	if s.attempts() != 1 {
		t.Errorf("attempts = %d, want 1", s.attempts())
	}
}

func TestLinearBackOff(t *testing.T) {
	t.Parallel()

	b := &LinearBackOff{Base: 500 * time.Millisecond}
	want := []time.Duration{500 * time.Millisecond, time.Second, 1500 * time.Millisecond}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Errorf("NextBackOff() #%d = %v, want %v", i+1, got, w)
		}
	}
	b.Reset()
	if got := b.NextBackOff(); got != want[0] {
		t.Errorf("after Reset = %v, want %v", got, want[0])
	}
}
