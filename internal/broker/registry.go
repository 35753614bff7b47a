package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ActorFunc runs one job. args and kwargs come from the job payload; the
// returned value must be JSON serialisable and becomes the job result.
type ActorFunc func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Actor is a named executor bound to the queue its jobs are sent on
type Actor struct {
	Name  string
	Queue string
	Fn    ActorFunc
}

// Registry is the actor catalog shared by the producer and the broker
type Registry struct {
	mu     sync.RWMutex
	actors map[string]Actor
}

// NewRegistry creates an empty actor catalog
func NewRegistry() *Registry {
	return &Registry{actors: make(map[string]Actor)}
}

// Register adds an actor. Names are unique.
func (r *Registry) Register(name, queue string, fn ActorFunc) error {
	if name == "" || queue == "" || fn == nil {
		return fmt.Errorf("actor registration needs a name, a queue and a function")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actors[name]; exists {
		return fmt.Errorf("actor %q already registered", name)
	}
	r.actors[name] = Actor{Name: name, Queue: queue, Fn: fn}
	return nil
}

// Lookup returns the actor registered under name
func (r *Registry) Lookup(name string) (Actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[name]
	return a, ok
}

// QueueFor returns the queue an actor's jobs are sent on
func (r *Registry) QueueFor(name string) (string, bool) {
	a, ok := r.Lookup(name)
	return a.Queue, ok
}

// Queues lists every queue some actor is bound to, sorted
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var queues []string
	for _, a := range r.actors {
		if _, dup := seen[a.Queue]; dup {
			continue
		}
		seen[a.Queue] = struct{}{}
		queues = append(queues, a.Queue)
	}
	sort.Strings(queues)
	return queues
}
