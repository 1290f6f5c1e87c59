package hooks

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recorder is a test extension that appends its name to a shared trace.
type recorder struct {
	BaseExtension
	name     string
	priority int
	trace    *[]string

	authenticateErr error
	changeErr       error
}

func (r *recorder) Priority() int { return r.priority }

func (r *recorder) record() {
	*r.trace = append(*r.trace, r.name)
}

func (r *recorder) OnConnect(ctx context.Context, p *ConnectPayload) error {
	r.record()
	return nil
}

func (r *recorder) OnAuthenticate(ctx context.Context, p *AuthenticatePayload) error {
	r.record()
	return r.authenticateErr
}

func (r *recorder) OnChange(ctx context.Context, p *ChangePayload) error {
	r.record()
	return r.changeErr
}

func TestAuthoritativePriorityOrder(t *testing.T) {
	var trace []string
	pipeline := NewPipeline(0,
		&recorder{name: "low", priority: 10, trace: &trace},
		&recorder{name: "high", priority: 1000, trace: &trace},
	)

	if err := pipeline.OnConnect(context.Background(), &ConnectPayload{}); err != nil {
		t.Fatal(err)
	}

	if len(trace) != 2 || trace[0] != "high" || trace[1] != "low" {
		t.Fatalf("invocation order = %v, want [high low]", trace)
	}
}

func TestPriorityTiesKeepRegistrationOrder(t *testing.T) {
	var trace []string
	pipeline := NewPipeline(0,
		&recorder{name: "first", priority: 5, trace: &trace},
		&recorder{name: "second", priority: 5, trace: &trace},
		&recorder{name: "third", priority: 5, trace: &trace},
	)

	if err := pipeline.OnConnect(context.Background(), &ConnectPayload{}); err != nil {
		t.Fatal(err)
	}

	want := []string{"first", "second", "third"}
	for i, name := range want {
		if trace[i] != name {
			t.Fatalf("invocation order = %v, want %v", trace, want)
		}
	}
}

func TestAuthoritativeFailureAbortsChain(t *testing.T) {
	var trace []string
	denied := errors.New("permission denied")
	pipeline := NewPipeline(0,
		&recorder{name: "gate", priority: 100, trace: &trace, authenticateErr: denied},
		&recorder{name: "after", priority: 10, trace: &trace},
	)

	err := pipeline.OnAuthenticate(context.Background(), &AuthenticatePayload{})
	if !errors.Is(err, denied) {
		t.Fatalf("got %v, want the gate's error", err)
	}
	if len(trace) != 1 || trace[0] != "gate" {
		t.Fatalf("trace = %v; extensions after the failure must not run", trace)
	}
}

func TestNotificationFailureDoesNotStopOthers(t *testing.T) {
	var trace []string
	boom := errors.New("boom")
	pipeline := NewPipeline(0,
		&recorder{name: "a", priority: 30, trace: &trace, changeErr: boom},
		&recorder{name: "b", priority: 20, trace: &trace},
		&recorder{name: "c", priority: 10, trace: &trace, changeErr: errors.New("later")},
	)

	err := pipeline.OnChange(context.Background(), &ChangePayload{})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want the first failure", err)
	}
	if len(trace) != 3 {
		t.Fatalf("trace = %v; every extension must run", trace)
	}
}

type slowAuth struct {
	BaseExtension
}

func (slowAuth) OnAuthenticate(ctx context.Context, p *AuthenticatePayload) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return nil
	}
}

func TestAuthoritativeHookTimeout(t *testing.T) {
	pipeline := NewPipeline(20*time.Millisecond, slowAuth{})

	start := time.Now()
	err := pipeline.OnAuthenticate(context.Background(), &AuthenticatePayload{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout took %v, the hook budget is 20ms", elapsed)
	}
}

func TestLoadDocumentFirstStateWins(t *testing.T) {
	p := &LoadDocumentPayload{DocumentName: "doc"}

	if !p.SetState([]byte("from-primary")) {
		t.Fatal("first SetState must win")
	}
	if p.SetState([]byte("from-secondary")) {
		t.Fatal("second SetState must be ignored")
	}

	state, ok := p.State()
	if !ok || string(state) != "from-primary" {
		t.Fatalf("State() = %q, %v", state, ok)
	}
}

// awarenessRecorder implements the optional AwarenessObserver interface.
type awarenessRecorder struct {
	BaseExtension
	seen int
}

func (a *awarenessRecorder) OnAwareness(ctx context.Context, p *AwarenessPayload) error {
	a.seen++
	return nil
}

func TestOnAwarenessOnlyReachesObservers(t *testing.T) {
	obs := &awarenessRecorder{}
	var trace []string
	pipeline := NewPipeline(0, &recorder{name: "plain", trace: &trace}, obs)

	if err := pipeline.OnAwareness(context.Background(), &AwarenessPayload{}); err != nil {
		t.Fatal(err)
	}
	if obs.seen != 1 {
		t.Fatalf("observer saw %d payloads, want 1", obs.seen)
	}
	if len(trace) != 0 {
		t.Fatalf("non-observer extensions were invoked: %v", trace)
	}
}
