package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pipevine/pipevine/pkg/eventbus"
	"github.com/pipevine/pipevine/pkg/persistence"
)

const DefaultInterval = 3 * time.Second

// Registry owns every active poller, keyed by workflow id. It is owned by the
// orchestration service; poller lifecycle is tied to run and delete calls, never
// to ambient package state.
type Registry struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	interval    time.Duration

	mu      sync.Mutex
	pollers map[string]*Poller
}

// NewRegistry creates an empty poller registry. The publisher may be nil when
// no notification channel is configured.
func NewRegistry(logger *slog.Logger, store persistence.Persistence, publisher eventbus.EventPublisher, interval time.Duration) *Registry {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Registry{
		persistence: store,
		publisher:   publisher,
		logger:      logger,
		interval:    interval,
		pollers:     make(map[string]*Poller),
	}
}

// Start launches a poller for the workflow. A workflow id never has two live
// pollers: an existing one is stopped before the replacement starts.
func (r *Registry) Start(ctx context.Context, workflowID string) *Poller {
	r.mu.Lock()

	if existing, ok := r.pollers[workflowID]; ok {
		existing.stopOnce.Do(func() {
			close(existing.done)
		})
	}

	var p *Poller

	p = newPoller(workflowID, r.persistence, r.publisher, r.logger, r.interval, func() {
		r.remove(workflowID, p)
	})
	r.pollers[workflowID] = p
	r.mu.Unlock()

	go p.run(ctx)

	return p
}

// Stop synchronously stops and discards the poller for the workflow, if any.
// Stopping a workflow without a poller is a no-op.
func (r *Registry) Stop(workflowID string) {
	r.mu.Lock()
	p, ok := r.pollers[workflowID]
	r.mu.Unlock()

	if ok {
		p.Stop()
		<-p.Done()
	}
}

// StopAll stops every active poller; used on shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	active := make([]*Poller, 0, len(r.pollers))

	for _, p := range r.pollers {
		active = append(active, p)
	}
	r.mu.Unlock()

	for _, p := range active {
		p.Stop()
		<-p.Done()
	}
}

// Active reports whether a live poller exists for the workflow.
func (r *Registry) Active(workflowID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.pollers[workflowID]

	return ok
}

// remove drops the poller from the registry unless it was already replaced.
func (r *Registry) remove(workflowID string, p *Poller) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.pollers[workflowID]; ok && current == p {
		delete(r.pollers, workflowID)
	}
}
