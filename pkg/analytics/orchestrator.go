package analytics

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

var (
	ErrNoSession       = errors.New("video analytics requires a session id")
	ErrViewLocked      = errors.New("view selection is locked while analytics are loading")
	ErrViewUnavailable = errors.New("no valid stream for view")
)

type Transport interface {
	StartVideoAnalyticsPipeline(ctx context.Context, pipelines []models.PipelineSpec, sessionID string) (models.AnalyticsResponse, error)
	GetClassStatistics(ctx context.Context, sessionID string) (models.ClassStatistics, error)
}

// StatisticsStore keeps the last known statistics of each session.
type StatisticsStore interface {
	SaveStatistics(sessionID string, stats models.ClassStatistics) error
	LoadStatistics(sessionID string) (models.ClassStatistics, error)
}

// State is a snapshot of the orchestrator.
type State struct {
	Streams    models.CameraStreamSet  `json:"streams"`
	View       models.ActiveView       `json:"view"`
	Loading    bool                    `json:"loading"`
	Failures   []models.PipelineResult `json:"failures,omitempty"`
	Statistics *models.ClassStatistics `json:"statistics,omitempty"`
}

// Orchestrator owns the camera stream set, the active view and the class
// statistics of the current run.
type Orchestrator struct {
	transport  Transport
	store      StatisticsStore
	pub        events.Publisher
	statsDelay time.Duration

	mu         sync.Mutex
	generation uint64
	streams    models.CameraStreamSet
	view       models.ActiveView
	loading    bool
	failures   []models.PipelineResult
	statistics *models.ClassStatistics
	statsTimer *time.Timer
}

// NewOrchestrator creates an orchestrator. store may be nil, in which case
// statistics are neither persisted nor recovered.
func NewOrchestrator(transport Transport, store StatisticsStore, pub events.Publisher, statsDelay time.Duration) *Orchestrator {
	if pub == nil {
		pub = events.Discard
	}
	return &Orchestrator{
		transport:  transport,
		store:      store,
		pub:        pub,
		statsDelay: statsDelay,
	}
}

func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := State{
		Streams:  o.streams,
		View:     o.view,
		Loading:  o.loading,
		Failures: append([]models.PipelineResult(nil), o.failures...),
	}
	if o.statistics != nil {
		stats := *o.statistics
		s.Statistics = &stats
	}
	return s
}

func (o *Orchestrator) Failures() []models.PipelineResult {
	return o.Snapshot().Failures
}

// Reset clears streams, view, failures and statistics, and drops any
// response still in flight.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.generation++
	if o.statsTimer != nil {
		o.statsTimer.Stop()
		o.statsTimer = nil
	}
	o.streams = models.CameraStreamSet{}
	o.view = models.ViewNone
	o.loading = false
	o.failures = nil
	o.statistics = nil
}

func (o *Orchestrator) setLoading(runID string, gen uint64, loading bool) {
	o.mu.Lock()
	if gen != o.generation || o.loading == loading {
		o.mu.Unlock()
		return
	}
	o.loading = loading
	o.mu.Unlock()
	o.pub.Publish(events.Event{Kind: events.AnalyticsLoading, RunID: runID, Loading: loading})
}

// Launch starts the analytics pipelines for sessionID and applies the
// per-camera results. A failed pipeline does not fail the launch. After a
// successful call a single statistics fetch is scheduled; it is bound to
// ctx, so cancelling the run drops it.
func (o *Orchestrator) Launch(ctx context.Context, runID string, pipelines []models.PipelineSpec, sessionID string) (models.AnalyticsResponse, error) {
	if sessionID == "" {
		return models.AnalyticsResponse{}, ErrNoSession
	}
	logger := log.With().Str("component", "analytics").Str("run_id", runID).Str("session_id", sessionID).Logger()

	o.mu.Lock()
	gen := o.generation
	o.mu.Unlock()

	o.setLoading(runID, gen, true)
	defer o.setLoading(runID, gen, false)

	logger.Info().Int("pipelines", len(pipelines)).Msg("starting video analytics")
	resp, err := o.transport.StartVideoAnalyticsPipeline(ctx, pipelines, sessionID)
	if err != nil {
		logger.Error().Err(err).Msg("video analytics launch failed")
		return resp, fmt.Errorf("start video analytics: %w", err)
	}

	if !o.apply(runID, gen, resp.Results) {
		logger.Debug().Msg("dropping analytics results for a reset run")
		return resp, nil
	}
	o.scheduleStatistics(ctx, runID, gen, sessionID)
	return resp, nil
}

func (o *Orchestrator) apply(runID string, gen uint64, results []models.PipelineResult) bool {
	var evs []events.Event

	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return false
	}
	for _, r := range results {
		if r.Status == models.PipelineSuccess && r.StreamEndpoint != "" {
			if o.streams.Set(r.PipelineName, r.StreamEndpoint) {
				evs = append(evs, events.Event{Kind: events.CameraStreamUpdated, RunID: runID, Camera: r.PipelineName, Endpoint: r.StreamEndpoint})
				continue
			}
			log.Warn().Str("component", "analytics").Str("pipeline", string(r.PipelineName)).Msg("result for unknown camera")
			continue
		}
		if r.Status != models.PipelineSuccess {
			o.failures = append(o.failures, r)
			log.Warn().Str("component", "analytics").Str("pipeline", string(r.PipelineName)).Str("error", r.Error).Msg("pipeline failed")
		}
	}
	view := models.ViewNone
	if o.streams.AnyValid() {
		view = models.ViewAll
	}
	if view != o.view {
		o.view = view
		evs = append(evs, events.Event{Kind: events.ActiveViewChanged, RunID: runID, View: view})
	}
	o.mu.Unlock()

	for _, ev := range evs {
		o.pub.Publish(ev)
	}
	return true
}

func (o *Orchestrator) scheduleStatistics(ctx context.Context, runID string, gen uint64, sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation {
		return
	}
	if o.statsTimer != nil {
		o.statsTimer.Stop()
	}
	o.statsTimer = time.AfterFunc(o.statsDelay, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := o.fetch(ctx, runID, gen, sessionID); err != nil {
			log.Warn().Str("component", "analytics").Str("session_id", sessionID).Err(err).Msg("deferred statistics fetch failed")
		}
	})
}

// FetchStatistics fetches statistics for sessionID now. When the backend
// cannot answer, the last known statistics of the session are returned.
func (o *Orchestrator) FetchStatistics(ctx context.Context, runID, sessionID string) (models.ClassStatistics, error) {
	if sessionID == "" {
		return models.ClassStatistics{}, ErrNoSession
	}
	o.mu.Lock()
	gen := o.generation
	o.mu.Unlock()

	stats, err := o.fetch(ctx, runID, gen, sessionID)
	if err == nil {
		return stats, nil
	}
	if o.store == nil {
		return models.ClassStatistics{}, err
	}
	last, lerr := o.store.LoadStatistics(sessionID)
	if lerr != nil {
		return models.ClassStatistics{}, err
	}
	log.Warn().Str("component", "analytics").Str("session_id", sessionID).Err(err).Msg("using last known statistics")
	o.applyStatistics(runID, gen, last)
	return last, nil
}

func (o *Orchestrator) fetch(ctx context.Context, runID string, gen uint64, sessionID string) (models.ClassStatistics, error) {
	stats, err := o.transport.GetClassStatistics(ctx, sessionID)
	if err != nil {
		return models.ClassStatistics{}, fmt.Errorf("fetch class statistics: %w", err)
	}
	if !o.applyStatistics(runID, gen, stats) {
		return stats, nil
	}
	if o.store != nil {
		if err := o.store.SaveStatistics(sessionID, stats); err != nil {
			log.Warn().Str("component", "analytics").Err(err).Msg("persist statistics")
		}
	}
	return stats, nil
}

// applyStatistics replaces the statistics wholesale unless the orchestrator
// was reset since gen.
func (o *Orchestrator) applyStatistics(runID string, gen uint64, stats models.ClassStatistics) bool {
	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return false
	}
	o.statistics = &stats
	o.mu.Unlock()

	o.pub.Publish(events.Event{Kind: events.StatisticsUpdated, RunID: runID, Statistics: &stats})
	return true
}

// SelectView switches the displayed camera view. Views without a valid
// stream, and any change while analytics are loading, are refused.
func (o *Orchestrator) SelectView(view models.ActiveView) error {
	o.mu.Lock()
	if o.loading {
		o.mu.Unlock()
		return ErrViewLocked
	}
	if !o.streams.Selectable(view) {
		o.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrViewUnavailable, view)
	}
	changed := o.view != view
	o.view = view
	o.mu.Unlock()

	if changed {
		o.pub.Publish(events.Event{Kind: events.ActiveViewChanged, View: view})
	}
	return nil
}
