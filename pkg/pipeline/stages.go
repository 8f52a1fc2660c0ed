package pipeline

import (
	"fmt"

	"classroom-capture/pkg/events"
	"classroom-capture/pkg/models"

	"github.com/rs/zerolog/log"
)

func stageEvent(stage models.Stage) events.Event {
	return events.Event{Kind: events.StageChanged, Stage: stage}
}

func invalid(op string, from models.Stage) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, from)
}

func (m *Machine) SetUploadedAudioPath(runID, path string) error {
	return m.update(runID, func(s *models.PipelineRun) ([]events.Event, error) {
		s.UploadedAudioPath = path
		return nil, nil
	})
}

// FirstTranscriptToken moves Processing to Transcribing.
func (m *Machine) FirstTranscriptToken(runID string) error {
	return m.update(runID, func(s *models.PipelineRun) ([]events.Event, error) {
		if s.Stage != models.StageProcessing {
			return nil, nil
		}
		s.Stage = models.StageTranscribing
		return []events.Event{stageEvent(s.Stage)}, nil
	})
}

// TranscriptDone enables the summary stage. The switch to the summary tab
// happens at most once per run.
func (m *Machine) TranscriptDone(runID string) error {
	return m.update(runID, func(s *models.PipelineRun) ([]events.Event, error) {
		switch s.Stage {
		case models.StageProcessing, models.StageTranscribing:
		case models.StageSummaryEnabled, models.StageMindmapEnabled:
			return nil, nil
		default:
			return nil, invalid("transcript done", s.Stage)
		}
		s.Stage = models.StageSummaryEnabled
		s.SummaryEnabled = true
		s.SummaryLoading = true
		evs := []events.Event{stageEvent(s.Stage)}
		if !s.AutoSwitchedToSummary {
			s.AutoSwitchedToSummary = true
			s.ActiveTab = models.TabSummary
			evs = append(evs, events.Event{Kind: events.TabSwitched, Tab: models.TabSummary})
		}
		log.Info().Str("component", "pipeline").Str("run_id", s.ID).Msg("transcription complete, summary enabled")
		return evs, nil
	})
}

// FirstSummaryToken ends the summary loading indicator.
func (m *Machine) FirstSummaryToken(runID string) error {
	return m.update(runID, func(s *models.PipelineRun) ([]events.Event, error) {
		if s.Stage != models.StageSummaryEnabled {
			return nil, invalid("first summary token", s.Stage)
		}
		if !s.SummaryLoading {
			return nil, nil
		}
		s.SummaryLoading = false
		return []events.Event{stageEvent(s.Stage)}, nil
	})
}

// SummaryDone enables the mind-map stage. The switch to the mind-map tab
// happens at most once per run.
func (m *Machine) SummaryDone(runID string) error {
	return m.update(runID, func(s *models.PipelineRun) ([]events.Event, error) {
		switch s.Stage {
		case models.StageSummaryEnabled:
		case models.StageMindmapEnabled:
			return nil, nil
		default:
			return nil, invalid("summary done", s.Stage)
		}
		s.Stage = models.StageMindmapEnabled
		s.AIProcessing = false
		s.SummaryLoading = false
		s.MindmapEnabled = true
		s.MindmapLoading = true
		evs := []events.Event{stageEvent(s.Stage)}
		if !s.AutoSwitchedToMindmap {
			s.AutoSwitchedToMindmap = true
			s.ActiveTab = models.TabMindmap
			evs = append(evs, events.Event{Kind: events.TabSwitched, Tab: models.TabMindmap})
		}
		return evs, nil
	})
}

// MindmapStart re-arms the mind-map loading indicator, e.g. for a retry.
func (m *Machine) MindmapStart(runID string) error {
	return m.update(runID, func(s *models.PipelineRun) ([]events.Event, error) {
		if s.Stage != models.StageMindmapEnabled {
			return nil, invalid("mindmap start", s.Stage)
		}
		s.MindmapLoading = true
		return []events.Event{stageEvent(s.Stage)}, nil
	})
}

func (m *Machine) FirstMindmapToken(runID string) error {
	return m.update(runID, func(s *models.PipelineRun) ([]events.Event, error) {
		if s.Stage != models.StageMindmapEnabled {
			return nil, invalid("first mindmap token", s.Stage)
		}
		if !s.MindmapLoading {
			return nil, nil
		}
		s.MindmapLoading = false
		return []events.Event{stageEvent(s.Stage)}, nil
	})
}

// MindmapFailed clears the loading indicator; the stage stays enabled so
// the mind map can be requested again.
func (m *Machine) MindmapFailed(runID string) error {
	return m.update(runID, func(s *models.PipelineRun) ([]events.Event, error) {
		if s.Stage != models.StageMindmapEnabled {
			return nil, invalid("mindmap failed", s.Stage)
		}
		s.MindmapLoading = false
		return []events.Event{stageEvent(s.Stage)}, nil
	})
}

// MindmapDone ends the run successfully.
func (m *Machine) MindmapDone(runID string) error {
	return m.update(runID, func(s *models.PipelineRun) ([]events.Event, error) {
		if s.Stage != models.StageMindmapEnabled {
			return nil, invalid("mindmap done", s.Stage)
		}
		s.Stage = models.StageIdle
		s.MindmapLoading = false
		s.AIProcessing = false
		return []events.Event{stageEvent(s.Stage)}, nil
	})
}

// ProcessingFailed ends the run. Loading indicators are cleared; produced
// data (transcript, camera streams) is left for inspection.
func (m *Machine) ProcessingFailed(runID string) error {
	m.mu.Lock()
	run := m.run
	m.mu.Unlock()

	err := m.update(runID, func(s *models.PipelineRun) ([]events.Event, error) {
		if s.Stage == models.StageFailed {
			return nil, nil
		}
		s.Stage = models.StageFailed
		s.AIProcessing = false
		s.SummaryLoading = false
		s.MindmapLoading = false
		return []events.Event{stageEvent(s.Stage)}, nil
	})
	if err == nil && run != nil && run.id == runID {
		log.Warn().Str("component", "pipeline").Str("run_id", runID).Msg("processing failed, aborting run")
		run.Cancel()
	}
	return err
}

// Cancel aborts the current run on user request.
func (m *Machine) Cancel() error {
	run := m.Current()
	if run == nil {
		return nil
	}
	return m.ProcessingFailed(run.id)
}

// SetActiveTab switches tabs manually. Disabled tabs are refused.
func (m *Machine) SetActiveTab(tab models.Tab) error {
	m.mu.Lock()
	switch tab {
	case models.TabTranscripts:
	case models.TabSummary:
		if !m.state.SummaryEnabled {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrTabDisabled, tab)
		}
	case models.TabMindmap:
		if !m.state.MindmapEnabled {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrTabDisabled, tab)
		}
	default:
		m.mu.Unlock()
		return fmt.Errorf("unknown tab %q", tab)
	}
	m.state.ActiveTab = tab
	runID := m.state.ID
	m.mu.Unlock()

	m.pub.Publish(events.Event{Kind: events.TabSwitched, RunID: runID, Tab: tab})
	return nil
}
