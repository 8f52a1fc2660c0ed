package mockserver

import (
	"net/http"
	"strconv"
	"time"

	"classroom-capture/pkg/api"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TranscriptWebSocketHandler plays the configured Script to the client.
func (s *Server) TranscriptWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	s.count("stream_transcript")
	audioPath := r.URL.Query().Get("audio_path")
	if audioPath == "" {
		http.Error(w, "audio_path is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.mu.Lock()
	script := s.script
	delay := s.tokenDelay
	s.mu.Unlock()
	if ms, err := strconv.Atoi(r.URL.Query().Get("token_delay_ms")); err == nil && delay == 0 {
		delay = time.Duration(ms) * time.Millisecond
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = s.newSession()
	}

	// Reader loop only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg api.WebSocketMessage) bool {
		if err := conn.WriteJSON(msg); err != nil {
			return false
		}
		return true
	}
	pause := func() bool {
		if delay <= 0 {
			return true
		}
		select {
		case <-time.After(delay):
			return true
		case <-gone:
			return false
		}
	}

	for i, token := range script.Tokens {
		if script.SessionAfter == i {
			if !send(api.WebSocketMessage{Type: "session", SessionID: sessionID}) {
				return
			}
		}
		if !pause() || !send(api.WebSocketMessage{Type: "transcript", Token: token}) {
			return
		}
	}
	if script.SessionAfter >= len(script.Tokens) {
		if !send(api.WebSocketMessage{Type: "session", SessionID: sessionID}) {
			return
		}
	}

	if script.Hang {
		<-gone
		return
	}
	if script.Error != "" {
		send(api.WebSocketMessage{Type: "error", Message: script.Error})
	} else {
		send(api.WebSocketMessage{Type: "done"})
	}
	log.Debug().Str("component", "mockserver").Str("session_id", sessionID).Msg("transcript stream finished")

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	select {
	case <-gone:
	case <-time.After(time.Second):
	}
}
