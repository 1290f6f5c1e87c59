package server

import "sync"

/*
LEARNING: GET-OR-CREATE WITH AN IN-FLIGHT LOAD GUARD

Exactly one Document may exist per name. The registry entry is inserted
before the load begins and carries a ready channel; concurrent accessors of
the same name block on it instead of racing a second load. A failed load
removes the entry so the next accessor can try again.
*/

type registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	ready chan struct{} // closed once loading finished (doc or err set)
	doc   *Document
	err   error
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*registryEntry)}
}

// lookup returns the loaded document for name, or nil when the name is
// absent or still loading.
func (r *registry) lookup(name string) *Document {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-e.ready:
		if e.err != nil {
			return nil
		}
		return e.doc
	default:
		return nil
	}
}

// loaded snapshots every fully loaded document.
func (r *registry) loaded() []*Document {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs := make([]*Document, 0, len(r.entries))
	for _, e := range r.entries {
		select {
		case <-e.ready:
			if e.err == nil {
				docs = append(docs, e.doc)
			}
		default:
		}
	}
	return docs
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
