package hooks

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"
)

/*
LEARNING: TWO DISPATCH SEMANTICS

The pipeline dispatches every hook in descending-priority order, but the
failure semantics split the hooks into two families:

1. **Authoritative** (OnConnect, OnAuthenticate, OnCreateDocument,
   OnLoadDocument, BeforeUnloadDocument): later extensions depend on what
   earlier ones did (context enrichment before auth decisions, first
   OnLoadDocument to supply state wins). They run strictly sequentially,
   each bounded by a timeout, and the first error aborts the chain.

2. **Notification** (everything else): every extension must get its turn.
   One failing extension is logged and must not starve the others — errors
   are collected and the first is surfaced after all have been attempted.

Both families await each hook before invoking the next; ordering is an
externally observable contract, so nothing runs in unordered parallel.
*/

// DefaultHookTimeout bounds a single authoritative hook invocation when the
// pipeline is built without an explicit timeout.
const DefaultHookTimeout = 30 * time.Second

// Pipeline is the immutable, priority-ordered extension registry.
type Pipeline struct {
	extensions []Extension
	timeout    time.Duration
}

// NewPipeline sorts the extensions by descending priority (registration
// order breaks ties) and returns the pipeline. timeout bounds each
// authoritative hook; zero selects DefaultHookTimeout.
func NewPipeline(timeout time.Duration, extensions ...Extension) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultHookTimeout
	}

	sorted := make([]Extension, len(extensions))
	copy(sorted, extensions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})

	return &Pipeline{extensions: sorted, timeout: timeout}
}

// Extensions returns the registered extensions in invocation order.
func (p *Pipeline) Extensions() []Extension {
	return p.extensions
}

// runSequential dispatches an authoritative hook: strict priority order,
// per-extension timeout, first error aborts.
func (p *Pipeline) runSequential(ctx context.Context, hook string, fn func(context.Context, Extension) error) error {
	for _, ext := range p.extensions {
		hctx, cancel := context.WithTimeout(ctx, p.timeout)
		err := fn(hctx, ext)
		if err == nil {
			// A hook that ran out its budget counts as a failure even
			// if it returned nil after the deadline.
			err = hctx.Err()
		}
		cancel()
		if err != nil {
			return fmt.Errorf("%s: %w", hook, err)
		}
	}
	return nil
}

// runAll dispatches a notification hook: every extension runs, failures are
// logged and collected, and the first failure is returned at the end.
func (p *Pipeline) runAll(ctx context.Context, hook string, fn func(context.Context, Extension) error) error {
	var firstErr error
	for _, ext := range p.extensions {
		if err := fn(ctx, ext); err != nil {
			log.Printf("⚠️  Extension error in %s: %v", hook, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", hook, err)
			}
		}
	}
	return firstErr
}

// Authoritative hooks.

func (p *Pipeline) OnConnect(ctx context.Context, payload *ConnectPayload) error {
	return p.runSequential(ctx, "onConnect", func(ctx context.Context, e Extension) error {
		return e.OnConnect(ctx, payload)
	})
}

func (p *Pipeline) OnAuthenticate(ctx context.Context, payload *AuthenticatePayload) error {
	return p.runSequential(ctx, "onAuthenticate", func(ctx context.Context, e Extension) error {
		return e.OnAuthenticate(ctx, payload)
	})
}

func (p *Pipeline) OnCreateDocument(ctx context.Context, payload *CreateDocumentPayload) error {
	return p.runSequential(ctx, "onCreateDocument", func(ctx context.Context, e Extension) error {
		return e.OnCreateDocument(ctx, payload)
	})
}

func (p *Pipeline) OnLoadDocument(ctx context.Context, payload *LoadDocumentPayload) error {
	return p.runSequential(ctx, "onLoadDocument", func(ctx context.Context, e Extension) error {
		return e.OnLoadDocument(ctx, payload)
	})
}

func (p *Pipeline) BeforeUnloadDocument(ctx context.Context, payload *DocumentPayload) error {
	return p.runSequential(ctx, "beforeUnloadDocument", func(ctx context.Context, e Extension) error {
		return e.BeforeUnloadDocument(ctx, payload)
	})
}

// Notification hooks.

func (p *Pipeline) AfterLoadDocument(ctx context.Context, payload *DocumentPayload) error {
	return p.runAll(ctx, "afterLoadDocument", func(ctx context.Context, e Extension) error {
		return e.AfterLoadDocument(ctx, payload)
	})
}

func (p *Pipeline) OnChange(ctx context.Context, payload *ChangePayload) error {
	return p.runAll(ctx, "onChange", func(ctx context.Context, e Extension) error {
		return e.OnChange(ctx, payload)
	})
}

func (p *Pipeline) OnStoreDocument(ctx context.Context, payload *StorePayload) error {
	return p.runAll(ctx, "onStoreDocument", func(ctx context.Context, e Extension) error {
		return e.OnStoreDocument(ctx, payload)
	})
}

func (p *Pipeline) AfterStoreDocument(ctx context.Context, payload *StorePayload) error {
	return p.runAll(ctx, "afterStoreDocument", func(ctx context.Context, e Extension) error {
		return e.AfterStoreDocument(ctx, payload)
	})
}

func (p *Pipeline) AfterUnloadDocument(ctx context.Context, payload *DocumentPayload) error {
	return p.runAll(ctx, "afterUnloadDocument", func(ctx context.Context, e Extension) error {
		return e.AfterUnloadDocument(ctx, payload)
	})
}

func (p *Pipeline) OnDisconnect(ctx context.Context, payload *ConnectPayload) error {
	return p.runAll(ctx, "onDisconnect", func(ctx context.Context, e Extension) error {
		return e.OnDisconnect(ctx, payload)
	})
}

func (p *Pipeline) OnDestroy(ctx context.Context) error {
	return p.runAll(ctx, "onDestroy", func(ctx context.Context, e Extension) error {
		return e.OnDestroy(ctx)
	})
}

// OnAwareness notifies extensions implementing AwarenessObserver.
func (p *Pipeline) OnAwareness(ctx context.Context, payload *AwarenessPayload) error {
	var firstErr error
	for _, ext := range p.extensions {
		obs, ok := ext.(AwarenessObserver)
		if !ok {
			continue
		}
		if err := obs.OnAwareness(ctx, payload); err != nil {
			log.Printf("⚠️  Extension error in onAwareness: %v", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("onAwareness: %w", err)
			}
		}
	}
	return firstErr
}
