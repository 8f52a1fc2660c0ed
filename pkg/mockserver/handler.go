package mockserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"

	"classroom-capture/pkg/models"

	"github.com/rs/zerolog/log"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	s.count("health")
	s.mu.Lock()
	healthy := s.healthy
	s.mu.Unlock()

	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// refuseWhenDown answers 503 while the server is marked unhealthy.
func (s *Server) refuseWhenDown(w http.ResponseWriter) bool {
	s.mu.Lock()
	healthy := s.healthy
	s.mu.Unlock()
	if healthy {
		return false
	}
	http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
	return true
}

func (s *Server) GetProjectHandler(w http.ResponseWriter, r *http.Request) {
	s.count("get_project")
	writeJSON(w, http.StatusOK, s.Settings())
}

func (s *Server) SaveProjectHandler(w http.ResponseWriter, r *http.Request) {
	s.count("save_project")
	var settings models.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, "invalid settings payload", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	s.count("create_session")
	if s.refuseWhenDown(w) {
		return
	}
	s.mu.Lock()
	hold := s.sessionHold
	s.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	id := s.newSession()
	log.Debug().Str("component", "mockserver").Str("session_id", id).Msg("session created")
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": id})
}

func (s *Server) UploadHandler(w http.ResponseWriter, r *http.Request) {
	s.count("upload_audio")
	if s.refuseWhenDown(w) {
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read audio file", http.StatusInternalServerError)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty audio data", http.StatusBadRequest)
		return
	}

	stored := path.Join("uploads", path.Base(header.Filename))
	s.mu.Lock()
	s.uploads[stored] = data
	s.mu.Unlock()

	log.Debug().Str("component", "mockserver").Str("path", stored).Int("size", len(data)).Msg("audio uploaded")
	writeJSON(w, http.StatusOK, map[string]string{"path": stored})
}

func (s *Server) StartAnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	s.count("start_analytics")
	sessionID := r.Header.Get("X-Session-ID")
	if sessionID == "" {
		http.Error(w, "X-Session-ID header is required", http.StatusBadRequest)
		return
	}

	var req struct {
		Pipelines []models.PipelineSpec `json:"pipelines"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid pipelines payload", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	base := s.streamBase
	failures := make(map[models.Camera]string, len(s.failures))
	for k, v := range s.failures {
		failures[k] = v
	}
	s.mu.Unlock()

	resp := models.AnalyticsResponse{}
	for _, p := range req.Pipelines {
		if msg, failed := failures[p.Name]; failed {
			resp.Results = append(resp.Results, models.PipelineResult{
				PipelineName: p.Name,
				Status:       models.PipelineError,
				Error:        msg,
			})
			continue
		}
		resp.Results = append(resp.Results, models.PipelineResult{
			PipelineName:   p.Name,
			Status:         models.PipelineSuccess,
			StreamEndpoint: fmt.Sprintf("%s/%s/%s/index.m3u8", base, sessionID, p.Name),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) ClassStatisticsHandler(w http.ResponseWriter, r *http.Request) {
	s.count("class_statistics")
	if r.Header.Get("X-Session-ID") == "" {
		http.Error(w, "X-Session-ID header is required", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	stats := s.stats
	s.mu.Unlock()
	if stats.StandReID == nil {
		stats.StandReID = []models.StandReID{}
	}
	writeJSON(w, http.StatusOK, stats)
}
