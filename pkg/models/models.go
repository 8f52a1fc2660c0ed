package models

import (
	"strings"
	"time"
)

type BackendStatus string

const (
	BackendChecking    BackendStatus = "checking"
	BackendAvailable   BackendStatus = "available"
	BackendUnavailable BackendStatus = "unavailable"
)

// HealthState is owned by the health monitor. EverUnavailable is a one-way
// latch for the lifetime of the process.
type HealthState struct {
	Status              BackendStatus `json:"status"`
	ConsecutiveFailures uint          `json:"consecutive_failures"`
	RetryCount          uint          `json:"retry_count"`
	EverUnavailable     bool          `json:"ever_unavailable"`
	LastCheck           time.Time     `json:"last_check"`
	LastError           string        `json:"last_error,omitempty"`
}

// Session holds the backend session id for a run. An empty ID means absent.
type Session struct {
	ID string `json:"session_id,omitempty"`
}

func (s Session) Valid() bool {
	return strings.TrimSpace(s.ID) != ""
}

type Stage string

const (
	StageIdle           Stage = "idle"
	StageProcessing     Stage = "processing"
	StageTranscribing   Stage = "transcribing"
	StageSummaryEnabled Stage = "summary_enabled"
	StageMindmapEnabled Stage = "mindmap_enabled"
	StageFailed         Stage = "failed"
)

type Tab string

const (
	TabTranscripts Tab = "transcripts"
	TabSummary     Tab = "summary"
	TabMindmap     Tab = "mindmap"
)

// PipelineRun is a snapshot of the current processing run.
type PipelineRun struct {
	ID                    string `json:"id"`
	Stage                 Stage  `json:"stage"`
	AIProcessing          bool   `json:"ai_processing"`
	SummaryEnabled        bool   `json:"summary_enabled"`
	SummaryLoading        bool   `json:"summary_loading"`
	MindmapEnabled        bool   `json:"mindmap_enabled"`
	MindmapLoading        bool   `json:"mindmap_loading"`
	ActiveTab             Tab    `json:"active_tab"`
	AutoSwitchedToSummary bool   `json:"auto_switched_to_summary"`
	AutoSwitchedToMindmap bool   `json:"auto_switched_to_mindmap"`
	UploadedAudioPath     string `json:"uploaded_audio_path,omitempty"`
}

type StreamEventKind string

const (
	EventToken           StreamEventKind = "transcript"
	EventSessionAssigned StreamEventKind = "session"
	EventError           StreamEventKind = "error"
	EventDone            StreamEventKind = "done"
)

// StreamEvent is one element of a transcript stream. Only the field that
// matches Kind is meaningful.
type StreamEvent struct {
	Kind      StreamEventKind
	Text      string
	SessionID string
	Message   string
}

func Token(text string) StreamEvent { return StreamEvent{Kind: EventToken, Text: text} }

func SessionAssigned(id string) StreamEvent {
	return StreamEvent{Kind: EventSessionAssigned, SessionID: id}
}

func StreamError(message string) StreamEvent {
	return StreamEvent{Kind: EventError, Message: message}
}

func Done() StreamEvent { return StreamEvent{Kind: EventDone} }

func (e StreamEvent) Terminal() bool {
	return e.Kind == EventError || e.Kind == EventDone
}

// Transcript is the accumulated text of one run.
type Transcript struct {
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id,omitempty"`
	Text      string    `json:"text"`
	Tokens    int       `json:"tokens"`
	Started   bool      `json:"started"`
	Terminal  bool      `json:"terminal"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Camera string

const (
	CameraFront   Camera = "front"
	CameraBack    Camera = "back"
	CameraContent Camera = "content"
)

var Cameras = []Camera{CameraFront, CameraBack, CameraContent}

type ActiveView string

const (
	ViewNone    ActiveView = ""
	ViewFront   ActiveView = "front"
	ViewBack    ActiveView = "back"
	ViewContent ActiveView = "content"
	ViewAll     ActiveView = "all"
)

// CameraStreamSet maps each camera slot to its playable endpoint.
type CameraStreamSet struct {
	Front   string `json:"front"`
	Back    string `json:"back"`
	Content string `json:"content"`
}

func (c CameraStreamSet) Get(cam Camera) string {
	switch cam {
	case CameraFront:
		return c.Front
	case CameraBack:
		return c.Back
	case CameraContent:
		return c.Content
	}
	return ""
}

// Set assigns the endpoint for a named camera. Unknown names are ignored
// and reported with false.
func (c *CameraStreamSet) Set(cam Camera, endpoint string) bool {
	switch cam {
	case CameraFront:
		c.Front = endpoint
	case CameraBack:
		c.Back = endpoint
	case CameraContent:
		c.Content = endpoint
	default:
		return false
	}
	return true
}

func (c CameraStreamSet) AnyValid() bool {
	for _, cam := range Cameras {
		if IsValidStreamURL(c.Get(cam)) {
			return true
		}
	}
	return false
}

// Selectable reports whether view can be shown with the current streams.
func (c CameraStreamSet) Selectable(view ActiveView) bool {
	switch view {
	case ViewAll:
		return c.AnyValid()
	case ViewFront, ViewBack, ViewContent:
		return IsValidStreamURL(c.Get(Camera(view)))
	case ViewNone:
		return true
	}
	return false
}

func IsValidStreamURL(s string) bool {
	return strings.HasPrefix(s, "http://") ||
		strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "rtsp://")
}

type StandReID struct {
	StudentID int `json:"student_id"`
	Count     int `json:"count"`
}

type ClassStatistics struct {
	StudentCount int         `json:"student_count"`
	StandCount   int         `json:"stand_count"`
	RaiseUpCount int         `json:"raise_up_count"`
	StandReID    []StandReID `json:"stand_reid"`
}

type Settings struct {
	ProjectName     string `json:"projectName,omitempty"`
	ProjectLocation string `json:"projectLocation,omitempty"`
	Microphone      string `json:"microphone,omitempty"`
	FrontCamera     string `json:"frontCamera,omitempty"`
	BackCamera      string `json:"backCamera,omitempty"`
	BoardCamera     string `json:"boardCamera,omitempty"`
}

// Merge fills empty fields of s from fallback.
func (s Settings) Merge(fallback Settings) Settings {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	return Settings{
		ProjectName:     pick(s.ProjectName, fallback.ProjectName),
		ProjectLocation: pick(s.ProjectLocation, fallback.ProjectLocation),
		Microphone:      pick(s.Microphone, fallback.Microphone),
		FrontCamera:     pick(s.FrontCamera, fallback.FrontCamera),
		BackCamera:      pick(s.BackCamera, fallback.BackCamera),
		BoardCamera:     pick(s.BoardCamera, fallback.BoardCamera),
	}
}

type PipelineSpec struct {
	Name   Camera `json:"pipeline_name"`
	Source string `json:"source"`
}

type PipelineStatus string

const (
	PipelineSuccess PipelineStatus = "success"
	PipelineError   PipelineStatus = "error"
)

type PipelineResult struct {
	PipelineName   Camera         `json:"pipeline_name"`
	Status         PipelineStatus `json:"status"`
	StreamEndpoint string         `json:"hls_stream,omitempty"`
	Error          string         `json:"error,omitempty"`
}

type AnalyticsResponse struct {
	Results []PipelineResult `json:"results"`
}
