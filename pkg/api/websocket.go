package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"classroom-capture/pkg/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketMessage is the transcript stream envelope. Type is one of
// "transcript", "session", "error" or "done".
type WebSocketMessage struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (m WebSocketMessage) Event() (models.StreamEvent, bool) {
	switch m.Type {
	case "transcript":
		return models.Token(m.Token), true
	case "session", "session_id":
		return models.SessionAssigned(m.SessionID), true
	case "error":
		msg := m.Message
		if msg == "" {
			msg = "Transcription error"
		}
		return models.StreamError(msg), true
	case "done":
		return models.Done(), true
	}
	return models.StreamEvent{}, false
}

func MessageFor(ev models.StreamEvent) WebSocketMessage {
	switch ev.Kind {
	case models.EventToken:
		return WebSocketMessage{Type: "transcript", Token: ev.Text}
	case models.EventSessionAssigned:
		return WebSocketMessage{Type: "session", SessionID: ev.SessionID}
	case models.EventError:
		return WebSocketMessage{Type: "error", Message: ev.Message}
	default:
		return WebSocketMessage{Type: "done"}
	}
}

type StreamRequest struct {
	AudioPath string
	SessionID string
	// TokenDelay asks the backend to pace tokens; zero leaves it to the server.
	TokenDelay time.Duration
}

// TranscriptStream is a finite, non-restartable sequence of events. Next
// returns io.EOF once a terminal event has been delivered.
type TranscriptStream interface {
	Next() (models.StreamEvent, error)
	Close() error
}

type wsDialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

func newDialer(handshake time.Duration) wsDialer {
	d := *websocket.DefaultDialer
	if handshake > 0 {
		d.HandshakeTimeout = handshake
	}
	return &d
}

func (c *Client) streamURL(req StreamRequest) string {
	q := url.Values{}
	q.Set("audio_path", req.AudioPath)
	if req.SessionID != "" {
		q.Set("session_id", req.SessionID)
	}
	if req.TokenDelay > 0 {
		q.Set("token_delay_ms", strconv.FormatInt(req.TokenDelay.Milliseconds(), 10))
	}
	u := c.endpoint("/ws/transcript", q)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

// StreamTranscript opens the transcript WebSocket. ctx bounds the whole
// stream: cancelling it aborts the connection and unblocks Next.
func (c *Client) StreamTranscript(ctx context.Context, req StreamRequest) (TranscriptStream, error) {
	if req.AudioPath == "" {
		return nil, fmt.Errorf("stream transcript: audio path is required")
	}
	conn, resp, err := c.ws.DialContext(ctx, c.streamURL(req), nil)
	if err != nil {
		if resp != nil {
			return nil, &StatusError{Op: "stream transcript", Code: resp.StatusCode}
		}
		return nil, fmt.Errorf("stream transcript: %w", err)
	}

	s := &wsStream{ctx: ctx, conn: conn, done: make(chan struct{})}
	go s.watch()
	return s, nil
}

type wsStream struct {
	ctx       context.Context
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
	finished  bool
}

func (s *wsStream) watch() {
	select {
	case <-s.ctx.Done():
		_ = s.conn.Close()
	case <-s.done:
	}
}

func (s *wsStream) Next() (models.StreamEvent, error) {
	if s.finished {
		return models.StreamEvent{}, io.EOF
	}
	for {
		if err := s.ctx.Err(); err != nil {
			return models.StreamEvent{}, err
		}
		var msg WebSocketMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return models.StreamEvent{}, ctxErr
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, io.EOF) {
				return models.StreamEvent{}, ErrStreamClosed
			}
			return models.StreamEvent{}, fmt.Errorf("read transcript stream: %w", err)
		}
		ev, ok := msg.Event()
		if !ok {
			log.Debug().Str("component", "api").Str("type", msg.Type).Msg("ignoring unknown transcript message")
			continue
		}
		if ev.Terminal() {
			s.finished = true
		}
		return ev, nil
	}
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
