package storage

import (
	"errors"
	"strings"
	"sync"
	"time"

	"classroom-capture/pkg/models"
)

var ErrTranscriptTerminal = errors.New("transcript is terminal")

// TranscriptStore holds the transcript text of each run. A run's entry is
// created by Open; writes to a run that was never opened, or was deleted,
// fail with ErrNotFound. Text is only ever appended and a terminal
// transcript rejects further tokens.
type TranscriptStore interface {
	Open(runID string) models.Transcript
	Append(runID, token string) (models.Transcript, error)
	Finish(runID, errMessage string) (models.Transcript, error)
	SetSession(runID, sessionID string) error
	Get(runID string) (models.Transcript, error)
	Delete(runID string)
}

type transcriptEntry struct {
	models.Transcript
	text strings.Builder
}

func (e *transcriptEntry) snapshot() models.Transcript {
	t := e.Transcript
	t.Text = e.text.String()
	return t
}

type memoryStore struct {
	transcripts map[string]*transcriptEntry
	mu          sync.RWMutex
}

func NewMemoryStore() TranscriptStore {
	return &memoryStore{
		transcripts: make(map[string]*transcriptEntry),
	}
}

// Open creates the entry for runID, or returns the existing one.
func (s *memoryStore) Open(runID string) models.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.transcripts[runID]
	if !ok {
		e = &transcriptEntry{Transcript: models.Transcript{RunID: runID, UpdatedAt: time.Now()}}
		s.transcripts[runID] = e
	}
	return e.snapshot()
}

func (s *memoryStore) Append(runID, token string) (models.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.transcripts[runID]
	if !ok {
		return models.Transcript{}, ErrNotFound
	}
	if e.Terminal {
		return e.snapshot(), ErrTranscriptTerminal
	}
	e.Started = true
	e.text.WriteString(token)
	e.Tokens++
	e.UpdatedAt = time.Now()
	return e.snapshot(), nil
}

func (s *memoryStore) Finish(runID, errMessage string) (models.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.transcripts[runID]
	if !ok {
		return models.Transcript{}, ErrNotFound
	}
	if e.Terminal {
		return e.snapshot(), ErrTranscriptTerminal
	}
	e.Terminal = true
	e.Error = errMessage
	e.UpdatedAt = time.Now()
	return e.snapshot(), nil
}

func (s *memoryStore) SetSession(runID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.transcripts[runID]
	if !ok {
		return ErrNotFound
	}
	e.SessionID = sessionID
	return nil
}

func (s *memoryStore) Get(runID string) (models.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.transcripts[runID]
	if !exists {
		return models.Transcript{}, ErrNotFound
	}
	return e.snapshot(), nil
}

func (s *memoryStore) Delete(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transcripts, runID)
}
