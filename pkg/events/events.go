package events

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"classroom-capture/pkg/models"
)

type Kind string

const (
	HealthChanged       Kind = "health_changed"
	SettingsLoaded      Kind = "settings_loaded"
	SessionAdopted      Kind = "session_adopted"
	TranscriptDelta     Kind = "transcript_delta"
	GlobalError         Kind = "global_error"
	CameraStreamUpdated Kind = "camera_stream_updated"
	ActiveViewChanged   Kind = "active_view_changed"
	AnalyticsLoading    Kind = "analytics_loading"
	StatisticsUpdated   Kind = "statistics_updated"
	StageChanged        Kind = "stage_changed"
	TabSwitched         Kind = "tab_switched"
	RunInterrupted      Kind = "run_interrupted"
)

// Event is a notification raised towards the presentation layer. Fields
// other than Kind, RunID and At are populated according to Kind.
type Event struct {
	Kind       Kind
	RunID      string
	At         time.Time
	Health     *models.HealthState
	Settings   *models.Settings
	SessionID  string
	Text       string
	Message    string
	Camera     models.Camera
	Endpoint   string
	View       models.ActiveView
	Loading    bool
	Statistics *models.ClassStatistics
	Stage      models.Stage
	Tab        models.Tab
}

type Publisher interface {
	Publish(Event)
}

// Func adapts an ordinary function to a Publisher.
type Func func(Event)

func (f Func) Publish(ev Event) { f(ev) }

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

var (
	ErrBusClosed          = errors.New("event bus closed")
	ErrSubscriberExists   = errors.New("subscriber already exists")
	ErrSubscriberNotFound = errors.New("subscriber not found")
)

type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	ch    chan Event
	stats SubscriberStats
}

// Bus fans events out to subscribers without blocking the publisher. A
// subscriber whose buffer is full loses the event and its drop count grows.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	published   uint64
	closed      bool
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

func (b *Bus) Subscribe(id string, buffer int) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	b.subscribers[id] = sub
	return sub.ch, nil
}

func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	close(sub.ch)
	return nil
}

func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	atomic.AddUint64(&b.published, 1)

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- ev:
			atomic.AddUint64(&sub.stats.Sent, 1)
		default:
			atomic.AddUint64(&sub.stats.Dropped, 1)
		}
	}
}

func (b *Bus) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub, exists := b.subscribers[id]
	if !exists {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return SubscriberStats{
		Sent:    atomic.LoadUint64(&sub.stats.Sent),
		Dropped: atomic.LoadUint64(&sub.stats.Dropped),
	}, nil
}

func (b *Bus) Published() uint64 {
	return atomic.LoadUint64(&b.published)
}

// Close closes every subscriber channel. Publishing afterwards is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) Count(kind Kind) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// Multi publishes to each of its publishers in order.
type Multi []Publisher

func (m Multi) Publish(ev Event) {
	for _, p := range m {
		p.Publish(ev)
	}
}
