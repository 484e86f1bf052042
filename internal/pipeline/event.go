package pipeline

import (
	"sync"
	"time"

	"github.com/chaz8081/podcast-zh/internal/download"
	"github.com/chaz8081/podcast-zh/internal/errs"
)

// EventType identifies what happened in a run.
type EventType string

const (
	StageStarted  EventType = "stage_started"
	StageFinished EventType = "stage_finished"
	StageProgress EventType = "stage_progress"
	RunDone       EventType = "run_done"
	RunFailed     EventType = "run_failed"
)

// Event is a progress notification from a running pipeline.
type Event struct {
	RunID    string             `json:"run_id"`
	Type     EventType          `json:"type"`
	State    State              `json:"state"`
	Stage    State              `json:"stage,omitempty"` // failing stage on RunFailed
	Time     time.Time          `json:"time"`
	Elapsed  time.Duration      `json:"elapsed,omitempty"` // stage duration on StageFinished
	Progress *download.Progress `json:"progress,omitempty"`
	Err      error              `json:"-"`
	Error    string             `json:"error,omitempty"`
	Kind     string             `json:"kind,omitempty"`
}

func newEvent(runID string, typ EventType, state State) Event {
	return Event{RunID: runID, Type: typ, State: state, Time: time.Now()}
}

func (e Event) withErr(err error) Event {
	e.Err = err
	e.Error = err.Error()
	e.Kind = errs.KindOf(err).String()
	return e
}

// Observer receives run events. Implementations must be safe for
// concurrent use when shared between runs, and should return quickly:
// events are delivered on the run's goroutine.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Observers fans events out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var list []Observer
	for _, o := range obs {
		if o != nil {
			list = append(list, o)
		}
	}
	return ObserverFunc(func(e Event) {
		for _, o := range list {
			o.OnEvent(e)
		}
	})
}

// subscriberBuffer bounds how far a subscriber may fall behind before
// events are dropped for it.
const subscriberBuffer = 256

// Broadcaster records a run's events and streams them to subscribers.
// A subscriber first receives every event emitted so far.
type Broadcaster struct {
	mu     sync.Mutex
	events []Event
	subs   map[chan Event]struct{}
	closed bool
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// OnEvent implements Observer. Terminal events close the broadcaster.
func (b *Broadcaster) OnEvent(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.events = append(b.events, e)
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Slow subscriber; it can recover state from the run record.
		}
	}
	if e.Type == RunDone || e.Type == RunFailed {
		b.closeLocked()
	}
}

// Subscribe returns a channel that replays past events and then delivers
// live ones. The channel is closed when the run ends or cancel is called.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, len(b.events)+subscriberBuffer)
	for _, e := range b.events {
		ch <- e
	}
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Events returns a copy of the events seen so far.
func (b *Broadcaster) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

func (b *Broadcaster) closeLocked() {
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}
