package transcript

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"classroom-capture/pkg/api"
	"classroom-capture/pkg/events"
	"classroom-capture/pkg/models"
	"classroom-capture/pkg/pipeline"
	"classroom-capture/pkg/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyStarted = errors.New("transcript stream already started for run")
	ErrStreamFailed   = errors.New("transcript stream failed")
)

const streamClosedMessage = "Transcription stream closed unexpectedly"

type Streamer interface {
	StreamTranscript(ctx context.Context, req api.StreamRequest) (api.TranscriptStream, error)
}

// Stages is the part of the stage machine driven by the transcript stream.
type Stages interface {
	FirstTranscriptToken(runID string) error
	TranscriptDone(runID string) error
}

type Adopter interface {
	Adopt(runID, id string) (string, bool)
}

// SessionHook runs once per run with the first session id the run learns.
type SessionHook func(ctx context.Context, run *pipeline.Run, sessionID string)

type Consumer struct {
	streams    Streamer
	store      storage.TranscriptStore
	stages     Stages
	sessions   Adopter
	pub        events.Publisher
	tokenDelay time.Duration
	onSession  SessionHook
}

type Option func(*Consumer)

func WithTokenDelay(d time.Duration) Option {
	return func(c *Consumer) { c.tokenDelay = d }
}

func WithSessionHook(hook SessionHook) Option {
	return func(c *Consumer) { c.onSession = hook }
}

func NewConsumer(streams Streamer, store storage.TranscriptStore, stages Stages, sessions Adopter, pub events.Publisher, opts ...Option) *Consumer {
	if pub == nil {
		pub = events.Discard
	}
	c := &Consumer{
		streams:  streams,
		store:    store,
		stages:   stages,
		sessions: sessions,
		pub:      pub,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Consume drains the transcript stream for run until a terminal event or
// until ctx is cancelled. ctx should be the run's context so that only the
// run, not whoever started it, decides when the stream is aborted.
func (c *Consumer) Consume(ctx context.Context, run *pipeline.Run, audioPath, sessionID string) error {
	if !run.MarkStreamStarted() {
		return ErrAlreadyStarted
	}
	runID := run.ID()
	logger := log.With().Str("component", "transcript").Str("run_id", runID).Logger()

	c.store.Open(runID)
	if sessionID != "" {
		if err := c.store.SetSession(runID, sessionID); err != nil {
			logger.Debug().Err(err).Msg("attach session to transcript")
		}
	}

	stream, err := c.streams.StreamTranscript(ctx, api.StreamRequest{
		AudioPath:  audioPath,
		SessionID:  sessionID,
		TokenDelay: c.tokenDelay,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.fail(runID, err.Error(), &logger)
		return fmt.Errorf("%w: %v", ErrStreamFailed, err)
	}
	defer stream.Close()

	logger.Info().Str("audio_path", audioPath).Msg("transcript stream opened")
	first := true
	for {
		ev, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				logger.Info().Msg("transcript stream cancelled")
				return ctx.Err()
			}
			msg := err.Error()
			if errors.Is(err, api.ErrStreamClosed) {
				msg = streamClosedMessage
			}
			c.fail(runID, msg, &logger)
			return fmt.Errorf("%w: %v", ErrStreamFailed, err)
		}

		switch ev.Kind {
		case models.EventToken:
			c.token(runID, ev.Text, first, &logger)
			first = false

		case models.EventSessionAssigned:
			c.session(ctx, run, ev.SessionID)

		case models.EventError:
			c.fail(runID, ev.Message, &logger)
			return fmt.Errorf("%w: %s", ErrStreamFailed, ev.Message)

		case models.EventDone:
			t, err := c.store.Finish(runID, "")
			if err != nil {
				logger.Warn().Err(err).Msg("finish transcript")
			}
			if err := c.stages.TranscriptDone(runID); err != nil {
				logger.Warn().Err(err).Msg("transcript done transition rejected")
			}
			logger.Info().Int("tokens", t.Tokens).Msg("transcript complete")
			return nil
		}
	}
}

func (c *Consumer) token(runID, text string, first bool, logger *zerolog.Logger) {
	t, err := c.store.Append(runID, text)
	if err != nil {
		logger.Debug().Err(err).Msg("dropping token")
		return
	}
	c.pub.Publish(events.Event{Kind: events.TranscriptDelta, RunID: runID, SessionID: t.SessionID, Text: text})
	if first {
		if err := c.stages.FirstTranscriptToken(runID); err != nil {
			logger.Debug().Err(err).Msg("first token transition rejected")
		}
	}
}

func (c *Consumer) session(ctx context.Context, run *pipeline.Run, announced string) {
	id, _ := c.sessions.Adopt(run.ID(), announced)
	if id == "" {
		return
	}
	if err := c.store.SetSession(run.ID(), id); err != nil {
		log.Debug().Str("component", "transcript").Str("run_id", run.ID()).Err(err).Msg("attach session to transcript")
	}
	if c.onSession != nil && run.MarkSessionHandled() {
		c.onSession(ctx, run, id)
	}
}

// fail marks the transcript terminal and raises the global error once.
func (c *Consumer) fail(runID, message string, logger *zerolog.Logger) {
	if message == "" {
		message = "Transcription error"
	}
	if _, err := c.store.Finish(runID, message); err != nil {
		return
	}
	logger.Error().Str("error", message).Msg("transcript stream failed")
	c.pub.Publish(events.Event{Kind: events.GlobalError, RunID: runID, Message: message})
}
