package usecases

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"metamarket.backend/internal/domain/entities"
)

// eventBuffer holds every event of a typical attempt so a slow reader never stalls the flow
const eventBuffer = 256

// PurchaseTask is one running purchase attempt. Events is closed when the
// attempt ends; Wait returns its result.
type PurchaseTask struct {
	attemptID uuid.UUID
	events    chan entities.ProgressEvent
	done      chan struct{}
	cancel    context.CancelFunc

	closeOnce sync.Once
	result    *entities.PurchaseResult
}

func newPurchaseTask(attemptID uuid.UUID, cancel context.CancelFunc) *PurchaseTask {
	return &PurchaseTask{
		attemptID: attemptID,
		events:    make(chan entities.ProgressEvent, eventBuffer),
		done:      make(chan struct{}),
		cancel:    cancel,
	}
}

// AttemptID identifies the persisted attempt
func (t *PurchaseTask) AttemptID() uuid.UUID {
	return t.attemptID
}

// Events streams progress. Events that do not fit the buffer are only kept in the result.
func (t *PurchaseTask) Events() <-chan entities.ProgressEvent {
	return t.events
}

// Done is closed once the result is available
func (t *PurchaseTask) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the attempt ends
func (t *PurchaseTask) Wait() *entities.PurchaseResult {
	<-t.done
	return t.result
}

// Cancel aborts the attempt at its next suspend point
func (t *PurchaseTask) Cancel() {
	t.cancel()
}

func (t *PurchaseTask) publish(ev entities.ProgressEvent) bool {
	select {
	case t.events <- ev:
		return true
	default:
		return false
	}
}

func (t *PurchaseTask) finish(result *entities.PurchaseResult) {
	t.closeOnce.Do(func() {
		t.result = result
		close(t.events)
		close(t.done)
		t.cancel()
	})
}
