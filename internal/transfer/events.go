package transfer

import "context"

// EventType names a lifecycle notification.
type EventType string

const (
	EventStarted   EventType = "download-started"
	EventProgress  EventType = "download-progress"
	EventPaused    EventType = "download-paused"
	EventResumed   EventType = "download-resumed"
	EventCompleted EventType = "download-completed"
	EventFailed    EventType = "download-failed"
)

// Terminal reports whether no further events follow for the task.
func (t EventType) Terminal() bool {
	return t == EventCompleted || t == EventFailed
}

// Event is a lifecycle notification of one transfer.
type Event struct {
	Type     EventType `json:"type"`
	ID       uint64    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Path     string    `json:"path,omitempty"`
	Size     int64     `json:"size,omitempty"`
	Received int64     `json:"received,omitempty"`
	Total    int64     `json:"total,omitempty"`
	Percent  float64   `json:"percent,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Sink receives lifecycle notifications. Emit must not block for long; it is
// called from the transfer loop.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Emit(ctx context.Context, ev Event) {
	f(ctx, ev)
}

type discard struct{}

func (discard) Emit(context.Context, Event) {}

// Discard drops every event.
var Discard Sink = discard{}
