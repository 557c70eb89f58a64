// Package poller reconciles the local view of in-flight workflows with the
// authoritative store and finalizes their terminal status.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pipevine/pipevine/pkg/eventbus"
	"github.com/pipevine/pipevine/pkg/events"
	"github.com/pipevine/pipevine/pkg/models"
	"github.com/pipevine/pipevine/pkg/persistence"
)

// Poller periodically fetches one workflow's authoritative state until every
// task is terminal, then persists the final workflow status and stops itself.
// A poller never outlives one of its own fetch failures.
type Poller struct {
	workflowID  string
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	interval    time.Duration
	started     time.Time

	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
	onStop   func()

	mu       sync.RWMutex
	workflow *models.Workflow
}

func newPoller(
	workflowID string,
	store persistence.Persistence,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	interval time.Duration,
	onStop func(),
) *Poller {
	return &Poller{
		workflowID:  workflowID,
		persistence: store,
		publisher:   publisher,
		logger:      logger.With("module", "poller", "workflow_id", workflowID),
		interval:    interval,
		started:     time.Now(),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
		onStop:      onStop,
	}
}

// run drives the poll loop. It owns the ticker and always releases it.
func (p *Poller) run(ctx context.Context) {
	defer close(p.stopped)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Stop()

			return
		case <-p.done:
			return
		case <-ticker.C:
			if p.tick(ctx) {
				p.Stop()

				return
			}
		}
	}
}

// tick performs one reconciliation pass. It reports true when the poller is
// finished, either because the workflow reached a terminal state or because
// the fetch failed.
func (p *Poller) tick(ctx context.Context) bool {
	workflow, err := p.persistence.WorkflowByID(ctx, p.workflowID)
	if err != nil {
		// One failed fetch is terminal for this poller: mark the cached view
		// failed and notify, never retry indefinitely.
		p.logger.ErrorContext(ctx, "Failed to fetch workflow state, stopping poller", "error", err)
		p.markLocalFailed()
		p.publish(ctx, events.WorkflowFailed{
			BaseEvent: events.NewBaseEvent(events.WorkflowFailedEvent, p.workflowID),
			Error:     fmt.Sprintf("failed to fetch workflow state: %v", err),
		})

		return true
	}

	p.setWorkflow(workflow)

	if workflow.Status.Terminal() {
		// Someone else already finalized (the engine finalizes inline when its
		// run loop ends). Nothing left to watch.
		return true
	}

	if !workflow.AllTasksTerminal() {
		return false
	}

	newStatus := workflow.DeriveStatus()

	p.logger.InfoContext(ctx, "All tasks terminal, finalizing workflow", "status", newStatus)

	updated, err := p.persistence.UpdateWorkflow(ctx, p.workflowID, persistence.WorkflowUpdate{Status: &newStatus})
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to persist final workflow status", "error", err)
		p.markLocalFailed()
		p.publish(ctx, events.WorkflowFailed{
			BaseEvent: events.NewBaseEvent(events.WorkflowFailedEvent, p.workflowID),
			Error:     fmt.Sprintf("failed to persist final status: %v", err),
		})

		return true
	}

	p.setWorkflow(updated)

	// Re-fetch once so the cached view is the store's canonical final record.
	if canonical, err := p.persistence.WorkflowByID(ctx, p.workflowID); err == nil {
		p.setWorkflow(canonical)
	}

	workflow = p.Snapshot()

	switch workflow.Status {
	case models.WorkflowStatusFailed:
		p.publish(ctx, events.WorkflowFailed{
			BaseEvent: events.NewBaseEvent(events.WorkflowFailedEvent, p.workflowID),
			Error:     "one or more tasks failed",
		})
	default:
		p.publish(ctx, events.WorkflowCompleted{
			BaseEvent: events.NewBaseEvent(events.WorkflowCompletedEvent, p.workflowID),
			// The poller starts with the run, so its lifetime approximates
			// the run duration.
			Duration: time.Since(p.started),
		})
	}

	return true
}

// Stop halts the poller and releases its timer. Safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)

		if p.onStop != nil {
			p.onStop()
		}
	})
}

// Done is closed once the poll loop has fully exited.
func (p *Poller) Done() <-chan struct{} {
	return p.stopped
}

// Snapshot returns the last fetched view of the workflow, or nil before the
// first successful fetch.
func (p *Poller) Snapshot() *models.Workflow {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.workflow
}

func (p *Poller) setWorkflow(workflow *models.Workflow) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.workflow = workflow
}

// markLocalFailed forces the cached view to failed. When the fetch failed
// before any view was cached, it seeds a minimal one so Snapshot still
// reflects the terminal outcome.
func (p *Poller) markLocalFailed() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.workflow == nil {
		p.workflow = &models.Workflow{ID: p.workflowID}
	}

	p.workflow.Status = models.WorkflowStatusFailed
}

func (p *Poller) publish(ctx context.Context, event eventbus.Event) {
	if p.publisher == nil {
		return
	}

	if err := p.publisher.Publish(ctx, p.workflowID, event); err != nil {
		p.logger.WarnContext(ctx, "Failed to publish workflow notification", "error", err)
	}
}
