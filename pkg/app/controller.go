package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"classroom-capture/pkg/analytics"
	"classroom-capture/pkg/api"
	"classroom-capture/pkg/config"
	"classroom-capture/pkg/events"
	"classroom-capture/pkg/health"
	"classroom-capture/pkg/logging"
	"classroom-capture/pkg/models"
	"classroom-capture/pkg/pipeline"
	"classroom-capture/pkg/session"
	"classroom-capture/pkg/settings"
	"classroom-capture/pkg/storage"
	"classroom-capture/pkg/transcript"

	"github.com/rs/zerolog"
)

var ErrBackendUnavailable = errors.New("backend unavailable")

// Status is a point-in-time view of everything the controller owns.
type Status struct {
	Health     models.HealthState `json:"health"`
	Run        models.PipelineRun `json:"run"`
	Session    models.Session     `json:"session"`
	Analytics  analytics.State    `json:"analytics"`
	Transcript models.Transcript  `json:"transcript"`
	Settings   models.Settings    `json:"settings"`
}

// Controller wires the components of the client together and exposes the
// flows an embedding application drives: uploads, live sessions and the
// health gate in front of both.
type Controller struct {
	cfg         *config.Config
	transport   api.Transport
	disk        storage.DiskStore
	pub         events.Publisher
	logger      zerolog.Logger
	transcripts storage.TranscriptStore

	Health    *health.Monitor
	Settings  *settings.Service
	Sessions  *session.Coordinator
	Stages    *pipeline.Machine
	Consumer  *transcript.Consumer
	Analytics *analytics.Orchestrator

	mu          sync.Mutex
	runID       string
	pipelines   []models.PipelineSpec
	interrupted bool
}

// New builds a controller. ctx bounds every run it starts. disk may be nil.
func New(ctx context.Context, cfg *config.Config, transport api.Transport, disk storage.DiskStore, pub events.Publisher) *Controller {
	if pub == nil {
		pub = events.Discard
	}
	c := &Controller{
		cfg:         cfg,
		transport:   transport,
		disk:        disk,
		pub:         pub,
		logger:      logging.Component("app"),
		transcripts: storage.NewMemoryStore(),
	}

	var local settings.Local
	var stats analytics.StatisticsStore
	if disk != nil {
		local = disk
		stats = disk
	}

	c.Settings = settings.NewService(transport, local, pub)
	c.Health = health.NewMonitor(transport, events.Multi{pub, events.Func(c.observeHealth)}, health.Options{
		Interval:         cfg.Health.Interval,
		RetryInitial:     cfg.Health.RetryInitial,
		RetryMax:         cfg.Health.RetryMax,
		FailureThreshold: cfg.Health.FailureThreshold,
		OnAvailable:      func(ctx context.Context) { c.Settings.Load(ctx) },
		OnResume:         c.resume,
	})
	c.Sessions = session.NewCoordinator(transport, pub)
	c.Stages = pipeline.NewMachine(ctx, pub)
	c.Analytics = analytics.NewOrchestrator(transport, stats, pub, cfg.Pipeline.StatisticsDelay)
	c.Consumer = transcript.NewConsumer(transport, c.transcripts, c.Stages, c.Sessions, pub,
		transcript.WithTokenDelay(cfg.Pipeline.TokenDelay),
		transcript.WithSessionHook(c.sessionAssigned),
	)
	return c
}

// Run polls backend health until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	c.Health.Run(ctx)
}

func (c *Controller) resume(ctx context.Context) {
	c.logger.Info().Msg("backend reachable again, reloading settings")
	c.Settings.Load(ctx)
}

// observeHealth raises RunInterrupted once per run when the backend goes
// away while the run is still in flight.
func (c *Controller) observeHealth(ev events.Event) {
	if ev.Kind != events.HealthChanged || ev.Health == nil || ev.Health.Status != models.BackendUnavailable {
		return
	}
	run := c.Stages.Current()
	if run == nil || run.Cancelled() {
		return
	}
	snap := c.Stages.Snapshot()
	if snap.ID != run.ID() || snap.Stage == models.StageIdle || snap.Stage == models.StageFailed {
		return
	}

	c.mu.Lock()
	if c.runID != run.ID() || c.interrupted {
		c.mu.Unlock()
		return
	}
	c.interrupted = true
	c.mu.Unlock()
	c.logger.Warn().Str("run_id", run.ID()).Str("stage", string(snap.Stage)).Msg("backend lost during run")
	c.pub.Publish(events.Event{Kind: events.RunInterrupted, RunID: run.ID(), Stage: snap.Stage})
}

func (c *Controller) requireBackend() error {
	if err := c.Health.Require(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// recheckBackend polls health right away when err shows the backend is
// unreachable, so the gate does not wait for the next scheduled check.
func (c *Controller) recheckBackend(ctx context.Context, err error) {
	if !api.IsUnavailable(err) {
		return
	}
	s := c.Health.Poll(context.WithoutCancel(ctx))
	c.logger.Warn().Err(err).Str("health", string(s.Status)).Uint("failures", s.ConsecutiveFailures).Msg("backend unreachable mid-flow")
}

// begin starts a new run and scopes every per-run component to it.
func (c *Controller) begin(pipelines []models.PipelineSpec) *pipeline.Run {
	run := c.Stages.StartProcessing()
	c.Sessions.Reset(run.ID())
	c.Analytics.Reset()

	c.mu.Lock()
	if c.runID != "" {
		c.transcripts.Delete(c.runID)
	}
	c.runID = run.ID()
	c.pipelines = pipelines
	c.interrupted = false
	c.mu.Unlock()
	return run
}

// StartUpload uploads an audio file and starts transcription for it. The
// returned handle owns the run until HandOff; analytics for pipelines start
// once the stream announces the session.
func (c *Controller) StartUpload(ctx context.Context, filename string, audio io.Reader, pipelines []models.PipelineSpec) (*pipeline.Handle, error) {
	if err := c.requireBackend(); err != nil {
		return nil, err
	}
	run := c.begin(pipelines)
	h := pipeline.NewHandle(run)
	logger := c.logger.With().Str("run_id", run.ID()).Logger()

	// until the run is handed off the caller's context can still abort it
	stop := context.AfterFunc(ctx, run.Cancel)
	defer stop()

	path, err := c.transport.UploadAudio(run.Context(), filename, audio)
	if err != nil {
		logger.Error().Err(err).Str("file", filename).Msg("audio upload failed")
		c.Stages.ProcessingFailed(run.ID())
		c.recheckBackend(ctx, err)
		return nil, fmt.Errorf("upload audio: %w", err)
	}
	if err := c.Stages.SetUploadedAudioPath(run.ID(), path); err != nil {
		h.Abort()
		return nil, err
	}
	logger.Info().Str("path", path).Msg("audio uploaded")

	started := run.Go("transcript", func(ctx context.Context) {
		err := c.Consumer.Consume(ctx, run, path, "")
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, transcript.ErrStreamFailed):
			logger.Warn().Err(err).Msg("transcription ended with an error")
		default:
			logger.Error().Err(err).Msg("transcription failed")
		}
	})
	if !started {
		return nil, fmt.Errorf("start transcript: %w", context.Canceled)
	}
	if !stop() {
		c.Stages.ProcessingFailed(run.ID())
		return nil, ctx.Err()
	}
	h.HandOff()
	return h, nil
}

// StartLive creates a session for a live class and launches analytics for
// pipelines on it.
func (c *Controller) StartLive(ctx context.Context, pipelines []models.PipelineSpec) (*pipeline.Handle, error) {
	if err := c.requireBackend(); err != nil {
		return nil, err
	}
	run := c.begin(pipelines)
	h := pipeline.NewHandle(run)

	stop := context.AfterFunc(ctx, run.Cancel)
	defer stop()

	id, err := c.Sessions.Ensure(run.Context(), run.ID())
	if err != nil {
		c.logger.Error().Str("run_id", run.ID()).Err(err).Msg("session creation failed")
		c.Stages.ProcessingFailed(run.ID())
		c.recheckBackend(ctx, err)
		return nil, fmt.Errorf("create session: %w", err)
	}
	if run.MarkSessionHandled() {
		c.rememberSession(id)
		c.launch(run, id)
	}
	if !stop() {
		c.Stages.ProcessingFailed(run.ID())
		return nil, ctx.Err()
	}
	h.HandOff()
	return h, nil
}

func (c *Controller) sessionAssigned(ctx context.Context, run *pipeline.Run, sessionID string) {
	c.rememberSession(sessionID)
	c.launch(run, sessionID)
}

func (c *Controller) rememberSession(id string) {
	if c.disk == nil {
		return
	}
	if err := c.disk.SaveLastSession(id); err != nil {
		c.logger.Warn().Err(err).Msg("failed to persist session id")
	}
}

func (c *Controller) launch(run *pipeline.Run, sessionID string) {
	c.mu.Lock()
	var pipelines []models.PipelineSpec
	if c.runID == run.ID() {
		pipelines = c.pipelines
	}
	c.mu.Unlock()
	if len(pipelines) == 0 {
		return
	}
	run.Go("analytics", func(ctx context.Context) {
		if _, err := c.Analytics.Launch(ctx, run.ID(), pipelines, sessionID); err != nil && ctx.Err() == nil {
			c.logger.Warn().Str("run_id", run.ID()).Err(err).Msg("video analytics unavailable")
		}
	})
}

// Cancel aborts the current run. Produced data stays visible.
func (c *Controller) Cancel() error {
	return c.Stages.Cancel()
}

func (c *Controller) SelectView(view models.ActiveView) error {
	return c.Analytics.SelectView(view)
}

// Statistics fetches class statistics for the current session, or for the
// last session seen on this device when there is no current one.
func (c *Controller) Statistics(ctx context.Context) (models.ClassStatistics, error) {
	id := c.Sessions.ID()
	if id == "" && c.disk != nil {
		last, err := c.disk.LoadLastSession()
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return models.ClassStatistics{}, err
		}
		id = last
	}
	runID := c.Stages.Snapshot().ID
	return c.Analytics.FetchStatistics(ctx, runID, id)
}

func (c *Controller) Snapshot() Status {
	run := c.Stages.Snapshot()
	s := Status{
		Health:    c.Health.Snapshot(),
		Run:       run,
		Session:   c.Sessions.Session(),
		Analytics: c.Analytics.Snapshot(),
		Settings:  c.Settings.Current(),
	}
	if run.ID != "" {
		if t, err := c.transcripts.Get(run.ID); err == nil {
			s.Transcript = t
		}
	}
	return s
}
