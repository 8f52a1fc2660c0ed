package pipeline

import (
	"context"
	"errors"
	"sync"

	"classroom-capture/pkg/events"
	"classroom-capture/pkg/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrStaleRun          = errors.New("run has been superseded")
	ErrTabDisabled       = errors.New("tab is not enabled")
)

// Run owns the lifetime of everything started for one processing run:
// the transcript stream, the analytics launch and the deferred statistics
// fetch all live on its context.
type Run struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	tasks  *TaskGroup

	mu            sync.Mutex
	streamStarted bool
	sessionHooked bool
}

func newRun(parent context.Context) *Run {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	return &Run{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		tasks:  NewTaskGroup(ctx, id),
	}
}

func (r *Run) ID() string {
	return r.id
}

func (r *Run) Context() context.Context {
	return r.ctx
}

func (r *Run) Done() <-chan struct{} {
	return r.ctx.Done()
}

func (r *Run) Cancelled() bool {
	return r.ctx.Err() != nil
}

// Go starts a task bound to the run context.
func (r *Run) Go(name string, fn func(ctx context.Context)) bool {
	return r.tasks.Go(name, fn)
}

// Wait blocks until every task of the run has returned.
func (r *Run) Wait() { r.tasks.Wait() }

// Cancel aborts every task of the run.
func (r *Run) Cancel() { r.cancel() }

// MarkStreamStarted reports true only for the first caller of the run.
func (r *Run) MarkStreamStarted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streamStarted {
		return false
	}
	r.streamStarted = true
	return true
}

// MarkSessionHandled reports true only for the first caller of the run.
func (r *Run) MarkSessionHandled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionHooked {
		return false
	}
	r.sessionHooked = true
	return true
}

// Handle is what a UI owner holds for a run it started. Releasing a handle
// after HandOff leaves the run running; releasing it before aborts the run.
type Handle struct {
	run *Run

	mu        sync.Mutex
	handedOff bool
}

func NewHandle(run *Run) *Handle {
	return &Handle{run: run}
}

func (h *Handle) Run() *Run { return h.run }

// HandOff marks the run as successfully started; its lifetime no longer
// depends on the handle's owner.
func (h *Handle) HandOff() {
	h.mu.Lock()
	h.handedOff = true
	h.mu.Unlock()
}

// Release is called when the owner goes away.
func (h *Handle) Release() {
	h.mu.Lock()
	handedOff := h.handedOff
	h.mu.Unlock()
	if handedOff {
		log.Debug().Str("component", "pipeline").Str("run_id", h.run.id).Msg("owner released, run continues")
		return
	}
	log.Info().Str("component", "pipeline").Str("run_id", h.run.id).Msg("owner released before hand-off, aborting run")
	h.run.Cancel()
}

// Abort cancels the run regardless of hand-off.
func (h *Handle) Abort() {
	h.run.Cancel()
}

// Machine is the pipeline stage machine. It is the only writer of the
// current PipelineRun.
type Machine struct {
	mu     sync.Mutex
	parent context.Context
	state  models.PipelineRun
	run    *Run
	pub    events.Publisher
}

func NewMachine(parent context.Context, pub events.Publisher) *Machine {
	if pub == nil {
		pub = events.Discard
	}
	return &Machine{
		parent: parent,
		pub:    pub,
		state:  idleState(""),
	}
}

func idleState(id string) models.PipelineRun {
	return models.PipelineRun{ID: id, Stage: models.StageIdle, ActiveTab: models.TabTranscripts}
}

func (m *Machine) Snapshot() models.PipelineRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the active run, or nil before the first StartProcessing.
func (m *Machine) Current() *Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run
}

// StartProcessing begins a new run. Every flag and latch is reset and the
// previous run, if any, is cancelled.
func (m *Machine) StartProcessing() *Run {
	m.mu.Lock()
	prev := m.run
	run := newRun(m.parent)
	m.run = run
	m.state = idleState(run.id)
	m.state.Stage = models.StageProcessing
	m.state.AIProcessing = true
	m.mu.Unlock()

	if prev != nil {
		log.Info().Str("component", "pipeline").Str("run_id", prev.id).Str("superseded_by", run.id).Msg("cancelling previous run")
		prev.Cancel()
	}
	log.Info().Str("component", "pipeline").Str("run_id", run.id).Msg("processing started")
	m.pub.Publish(events.Event{Kind: events.StageChanged, RunID: run.id, Stage: models.StageProcessing})
	return run
}

// Reset cancels the current run and returns to an idle state.
func (m *Machine) Reset() {
	m.mu.Lock()
	prev := m.run
	m.run = nil
	m.state = idleState("")
	m.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
	m.pub.Publish(events.Event{Kind: events.StageChanged, Stage: models.StageIdle})
}

// update applies fn to the state of runID under the lock and publishes the
// events fn returns once the lock is released.
func (m *Machine) update(runID string, fn func(s *models.PipelineRun) ([]events.Event, error)) error {
	m.mu.Lock()
	if m.run == nil || m.run.id != runID {
		m.mu.Unlock()
		return ErrStaleRun
	}
	evs, err := fn(&m.state)
	m.mu.Unlock()

	for _, ev := range evs {
		ev.RunID = runID
		m.pub.Publish(ev)
	}
	return err
}
