// Package progress turns stage lifecycle transitions into a monotonic
// overall percentage and a stream of events for a waiting caller.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/yangwenmai/copydeck/internal/model"
)

// EventType names a progress event.
type EventType string

// Event types
const (
	EventStageStart    EventType = "stage_start"
	EventProgress      EventType = "progress"
	EventStageComplete EventType = "stage_complete"
	EventResult        EventType = "result"
	EventError         EventType = "error"
	EventComplete      EventType = "complete"
)

// Event is one message on the progress stream.
type Event struct {
	Type      EventType     `json:"type"`
	RunID     string        `json:"run_id"`
	Stage     model.StageID `json:"stage,omitempty"`
	Progress  int           `json:"progress"`
	Message   string        `json:"message"`
	Payload   any           `json:"payload,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Terminal reports whether no further events follow e for the same run.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Listener receives events in the order transitions happen. OnEvent is
// called with the tracker's lock held and must not call back into it.
type Listener interface {
	OnEvent(e Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// OnEvent calls f(e).
func (f ListenerFunc) OnEvent(e Event) { f(e) }

// Discard drops every event.
var Discard Listener = ListenerFunc(func(Event) {})

// Multi fans an event out to several listeners, in order.
func Multi(ls ...Listener) Listener {
	return ListenerFunc(func(e Event) {
		for _, l := range ls {
			if l != nil {
				l.OnEvent(e)
			}
		}
	})
}

// ChannelListener pushes events onto a channel. Sends block until the
// consumer reads or ctx is done, after which events are dropped so an
// abandoned stream never stalls the run.
type ChannelListener struct {
	ch   chan Event
	done <-chan struct{}

	closeOnce sync.Once
}

// NewChannelListener creates a ChannelListener with the given buffer size.
func NewChannelListener(ctx context.Context, buffer int) *ChannelListener {
	return &ChannelListener{ch: make(chan Event, buffer), done: ctx.Done()}
}

// Events returns the receive side of the stream.
func (c *ChannelListener) Events() <-chan Event {
	return c.ch
}

// OnEvent implements Listener.
func (c *ChannelListener) OnEvent(e Event) {
	select {
	case c.ch <- e:
	case <-c.done:
	}
}

// Close closes the event channel. Call it once the run has returned.
func (c *ChannelListener) Close() {
	c.closeOnce.Do(func() { close(c.ch) })
}

// Recorder keeps every event in memory, mostly for tests and the CLI.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// OnEvent implements Listener.
func (r *Recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
