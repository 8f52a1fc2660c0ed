package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"classroom-capture/pkg/events"
	"classroom-capture/pkg/models"
	"classroom-capture/pkg/storage"

	"github.com/rs/zerolog/log"
)

type Remote interface {
	GetSettings(ctx context.Context) (models.Settings, error)
	SaveSettings(ctx context.Context, s models.Settings) error
}

type Local interface {
	SaveSettings(s models.Settings) error
	LoadSettings() (models.Settings, error)
}

// Service keeps the project settings. The backend is authoritative; a local
// copy is kept on the device and fills whatever the backend leaves empty.
type Service struct {
	remote Remote
	local  Local
	pub    events.Publisher

	mu      sync.RWMutex
	current models.Settings
}

func NewService(remote Remote, local Local, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Discard
	}
	return &Service{remote: remote, local: local, pub: pub}
}

func (s *Service) Current() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Service) loadLocal() models.Settings {
	if s.local == nil {
		return models.Settings{}
	}
	saved, err := s.local.LoadSettings()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Str("component", "settings").Err(err).Msg("failed to read local settings")
	}
	return saved
}

// Load fetches settings from the backend and merges the local copy in.
// When the backend fails the local copy is used and the error is logged.
func (s *Service) Load(ctx context.Context) models.Settings {
	fallback := s.loadLocal()
	remote, err := s.remote.GetSettings(ctx)
	if err != nil {
		log.Warn().Str("component", "settings").Err(err).Msg("failed to load settings, using local copy")
		remote = models.Settings{}
	}
	merged := remote.Merge(fallback)

	s.mu.Lock()
	s.current = merged
	s.mu.Unlock()

	log.Info().Str("component", "settings").Str("project", merged.ProjectName).Msg("settings loaded")
	s.pub.Publish(events.Event{Kind: events.SettingsLoaded, Settings: &merged})
	return merged
}

// Save stores settings locally, whatever happens remotely, then sends them
// to the backend. Only the remote failure is returned.
func (s *Service) Save(ctx context.Context, settings models.Settings) error {
	s.mu.Lock()
	s.current = settings
	s.mu.Unlock()

	if s.local != nil {
		if err := s.local.SaveSettings(settings); err != nil {
			log.Warn().Str("component", "settings").Err(err).Msg("failed to save settings locally")
		}
	}
	if err := s.remote.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	log.Info().Str("component", "settings").Str("project", settings.ProjectName).Msg("settings saved")
	return nil
}
