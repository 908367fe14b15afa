package scheduler

import "sync"

type interventionKey struct {
	protocolID string
	taskID     string
}

// Interventions holds executive directives waiting for their task to be
// dispatched. Each directive is consumed at most once.
type Interventions struct {
	mu      sync.Mutex
	pending map[interventionKey]string
}

// NewInterventions creates an empty directive queue.
func NewInterventions() *Interventions {
	return &Interventions{pending: make(map[interventionKey]string)}
}

// AddIf queues directive for a task, replacing any directive not yet
// applied, when check returns nil. check runs under the queue lock.
func (iv *Interventions) AddIf(protocolID, taskID, directive string, check func() error) error {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if err := check(); err != nil {
		return err
	}
	iv.pending[interventionKey{protocolID, taskID}] = directive
	return nil
}

// Take removes and returns the directive for a task.
func (iv *Interventions) Take(protocolID, taskID string) (string, bool) {
	iv.mu.Lock()
	defer iv.mu.Unlock()

	k := interventionKey{protocolID, taskID}
	d, ok := iv.pending[k]
	if ok {
		delete(iv.pending, k)
	}
	return d, ok
}

// Drop discards every directive queued for a protocol.
func (iv *Interventions) Drop(protocolID string) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	for k := range iv.pending {
		if k.protocolID == protocolID {
			delete(iv.pending, k)
		}
	}
}

// Pending returns the number of queued directives.
func (iv *Interventions) Pending() int {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return len(iv.pending)
}
