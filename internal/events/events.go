// Package events publishes domain events after a unit of work commits.
// Publishing is best-effort; callers log failures and carry on.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"rental-billing-engine/internal/logger"
)

type Type string

const (
	RentalCreated   Type = "rental.created"
	RentalActivated Type = "rental.activated"
	RentalCompleted Type = "rental.completed"
	RentalCancelled Type = "rental.cancelled"
	RentalExtended  Type = "rental.extended"
	InvoicePaid     Type = "invoice.paid"
	InvoiceFailed   Type = "invoice.failed"
	InvoiceOverdue  Type = "invoice.overdue"
	PayoutScheduled Type = "payout.scheduled"
	PayoutCompleted Type = "payout.completed"
	PayoutFailed    Type = "payout.failed"
)

// Event is the envelope written to the topic
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	RentalID   int32     `json:"rental_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// New stamps an event with a fresh id and the current time
func New(t Type, rentalID int32, payload any) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       t,
		RentalID:   rentalID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Publisher is the interface used by services to publish events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// LogPublisher writes events to the application log only
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, event Event) error {
	logger.InfoContext(ctx, "Domain event", "event_type", event.Type, "event_id", event.ID, "rental_id", event.RentalID)
	return nil
}

func (LogPublisher) Close() error { return nil }

// Recorder keeps published events in memory for tests and dry runs
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Types lists the published event types in order
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]Type, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}
