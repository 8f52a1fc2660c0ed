package mockserver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"classroom-capture/pkg/config"
	"classroom-capture/pkg/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Script drives what the transcript WebSocket emits for every stream.
type Script struct {
	Tokens []string
	// SessionAfter is the number of tokens sent before the session event.
	// A negative value suppresses the session event.
	SessionAfter int
	// Error, when set, is sent after the tokens instead of "done".
	Error string
	// Hang keeps the stream open after the tokens until the client leaves.
	Hang bool
}

// Server is a scripted fake of the classroom backend.
type Server struct {
	mu          sync.Mutex
	healthy     bool
	settings    models.Settings
	sessions    map[string]time.Time
	uploads     map[string][]byte
	script      Script
	failures    map[models.Camera]string
	stats       models.ClassStatistics
	streamBase  string
	tokenDelay  time.Duration
	calls       map[string]int
	sessionHold chan struct{}
}

func New() *Server {
	return &Server{
		healthy:  true,
		sessions: make(map[string]time.Time),
		uploads:  make(map[string][]byte),
		failures: make(map[models.Camera]string),
		calls:    make(map[string]int),
		script: Script{
			Tokens:       []string{"Good", " morning", " class."},
			SessionAfter: 0,
		},
		streamBase: "http://127.0.0.1:8888",
	}
}

func (s *Server) SetHealthy(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = ok
}

func (s *Server) SetScript(script Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = script
}

// FailPipeline makes the named camera pipeline report an error.
func (s *Server) FailPipeline(cam models.Camera, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[cam] = message
}

func (s *Server) SetStatistics(stats models.ClassStatistics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = stats
}

func (s *Server) SetStreamBase(base string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamBase = base
}

// SetTokenDelay overrides the per-token pacing requested by clients.
func (s *Server) SetTokenDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenDelay = d
}

// HoldSessions blocks session creation until the returned func is called.
func (s *Server) HoldSessions() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.sessionHold = ch
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

func (s *Server) Settings() models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Server) count(route string) {
	s.mu.Lock()
	s.calls[route]++
	s.mu.Unlock()
}

func (s *Server) newSession() string {
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = time.Now()
	s.mu.Unlock()
	return id
}

func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.HealthHandler).Methods("GET")
	router.HandleFunc("/project", s.GetProjectHandler).Methods("GET")
	router.HandleFunc("/project", s.SaveProjectHandler).Methods("POST")
	router.HandleFunc("/sessions", s.CreateSessionHandler).Methods("POST")
	router.HandleFunc("/upload-audio", s.UploadHandler).Methods("POST")
	router.HandleFunc("/start-video-analytics-pipeline", s.StartAnalyticsHandler).Methods("POST")
	router.HandleFunc("/class-statistics", s.ClassStatisticsHandler).Methods("GET")
	router.HandleFunc("/ws/transcript", s.TranscriptWebSocketHandler)
	return router
}

// Run serves the fake backend until ctx is cancelled.
func (s *Server) Run(ctx context.Context, cfg config.MockConfig) error {
	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("component", "mockserver").Str("addr", cfg.Address).Msg("mock backend listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Str("component", "mockserver").Msg("shutting down mock backend")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
