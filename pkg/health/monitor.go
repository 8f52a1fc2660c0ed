package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"classroom-capture/pkg/events"
	"classroom-capture/pkg/models"

	"github.com/rs/zerolog/log"
)

var ErrUnavailable = errors.New("backend is not available")

type Pinger interface {
	Ping(ctx context.Context) (bool, error)
}

type Options struct {
	Interval         time.Duration
	RetryInitial     time.Duration
	RetryMax         time.Duration
	FailureThreshold uint

	// OnAvailable runs on the first transition to Available that does not
	// follow an outage (initial settings load).
	OnAvailable func(ctx context.Context)
	// OnResume runs once on the first success after an outage.
	OnResume func(ctx context.Context)
}

// Monitor owns the backend health state. Status becomes Unavailable only
// after more than FailureThreshold consecutive failures and becomes
// Available again on the next success.
type Monitor struct {
	pinger Pinger
	pub    events.Publisher
	opts   Options
	now    func() time.Time
	wake   chan struct{}

	mu               sync.Mutex
	state            models.HealthState
	outage           bool
	unavailablePolls int
}

func NewMonitor(pinger Pinger, pub events.Publisher, opts Options) *Monitor {
	if pub == nil {
		pub = events.Discard
	}
	if opts.FailureThreshold < 2 {
		opts.FailureThreshold = 2
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = time.Second
	}
	if opts.RetryMax < opts.RetryInitial {
		opts.RetryMax = opts.RetryInitial
	}
	return &Monitor{
		pinger: pinger,
		pub:    pub,
		opts:   opts,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
		state:  models.HealthState{Status: models.BackendChecking},
	}
}

func (m *Monitor) Snapshot() models.HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) Available() bool {
	return m.Snapshot().Status == models.BackendAvailable
}

// Require returns ErrUnavailable unless the backend is Available.
func (m *Monitor) Require() error {
	if s := m.Snapshot(); s.Status != models.BackendAvailable {
		return fmt.Errorf("%w: status %s", ErrUnavailable, s.Status)
	}
	return nil
}

// Poll performs one liveness check and applies its outcome.
func (m *Monitor) Poll(ctx context.Context) models.HealthState {
	ok, err := m.pinger.Ping(ctx)
	if err == nil && !ok {
		err = errors.New("backend reported unhealthy")
	}

	m.mu.Lock()
	prev := m.state.Status
	m.state.LastCheck = m.now()
	var hook func(context.Context)

	if err == nil {
		m.state.ConsecutiveFailures = 0
		m.state.LastError = ""
		m.unavailablePolls = 0
		if prev != models.BackendAvailable {
			m.state.Status = models.BackendAvailable
			if m.outage {
				m.outage = false
				hook = m.opts.OnResume
			} else if prev == models.BackendChecking {
				hook = m.opts.OnAvailable
			}
		}
	} else {
		m.state.ConsecutiveFailures++
		m.state.EverUnavailable = true
		m.state.LastError = err.Error()
		if m.state.ConsecutiveFailures > m.opts.FailureThreshold && prev != models.BackendUnavailable {
			m.state.Status = models.BackendUnavailable
			m.outage = true
		}
		if m.state.Status == models.BackendUnavailable {
			m.unavailablePolls++
		}
	}
	state := m.state
	m.mu.Unlock()

	logger := log.With().Str("component", "health").Str("status", string(state.Status)).Uint("failures", state.ConsecutiveFailures).Logger()
	if err != nil {
		logger.Debug().Err(err).Msg("health check failed")
	}
	if state.Status != prev {
		logger.Info().Str("previous", string(prev)).Msg("backend status changed")
		m.pub.Publish(events.Event{Kind: events.HealthChanged, Health: &state})
	}
	if hook != nil {
		hook(ctx)
	}
	return state
}

// RetryNow is the manual retry action: it bumps the visible attempt
// counter, forgets earlier failures and polls immediately.
func (m *Monitor) RetryNow(ctx context.Context) models.HealthState {
	m.mu.Lock()
	m.state.RetryCount++
	m.state.ConsecutiveFailures = 0
	attempt := m.state.RetryCount
	m.mu.Unlock()

	log.Info().Str("component", "health").Uint("attempt", attempt).Msg("manual reconnect attempt")
	state := m.Poll(ctx)
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return state
}

// NextDelay is the wait before the next scheduled poll.
func (m *Monitor) NextDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status != models.BackendUnavailable {
		return m.opts.Interval
	}
	return backoff(m.unavailablePolls, m.opts.RetryInitial, m.opts.RetryMax)
}

// backoff is initial * 2^(attempt-1), capped at max.
func backoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return max
	}
	delay := initial * time.Duration(1<<uint(attempt-1))
	if delay > max {
		delay = max
	}
	return delay
}

// Run polls until ctx is cancelled, starting with an immediate check.
func (m *Monitor) Run(ctx context.Context) {
	m.Poll(ctx)
	for {
		timer := time.NewTimer(m.NextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.wake:
			// a manual retry just polled; restart the schedule from it
			timer.Stop()
		case <-timer.C:
			m.Poll(ctx)
		}
	}
}
