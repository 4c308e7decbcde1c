package document

import (
	"context"
	"time"

	"github.com/asaidimu/go-events"
)

// EventType names one document lifecycle event.
type EventType string

const (
	EventEntryCreate       EventType = "entry.create"
	EventEntryUpdate       EventType = "entry.update"
	EventEntryDelete       EventType = "entry.delete"
	EventEntryPublish      EventType = "entry.publish"
	EventEntryUnpublish    EventType = "entry.unpublish"
	EventEntryDraftDiscard EventType = "entry.draft-discard"
)

// Event is the payload emitted on the lifecycle bus. Events fire after the
// enclosing transaction commits, so subscribers never see rolled-back
// state.
type Event struct {
	Type       EventType `json:"type"`
	UID        string    `json:"uid"`
	DocumentID string    `json:"documentId"`
	Locale     string    `json:"locale,omitempty"`
	Entry      any       `json:"entry,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventCallback handles one lifecycle event.
type EventCallback func(ctx context.Context, event Event) error

func newEventBus() (*events.TypedEventBus[Event], error) {
	return events.NewTypedEventBus[Event](events.DefaultConfig())
}

// Subscribe registers a callback for one lifecycle event type and returns
// its unsubscribe function.
func (e *Engine) Subscribe(eventType EventType, callback EventCallback) func() {
	return e.bus.Subscribe(string(eventType), callback)
}

// emitAfterCommit defers the event to the transaction's commit hook.
func emitAfterCommit(tx *Tx, bus *events.TypedEventBus[Event], event Event) {
	if bus == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	tx.OnCommit(func() {
		bus.Emit(string(event.Type), event)
	})
}
