package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"classroom-capture/pkg/events"
	"classroom-capture/pkg/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNoSession = errors.New("no session")
	ErrStaleRun  = errors.New("session request for a superseded run")
)

type Creator interface {
	CreateSession(ctx context.Context) (string, error)
}

// Coordinator owns the session id of the current run. The first id to
// arrive, from creation or from the transcript stream, wins and is never
// replaced for the rest of the run.
type Coordinator struct {
	creator Creator
	pub     events.Publisher
	group   singleflight.Group

	mu    sync.Mutex
	runID string
	id    string
}

func NewCoordinator(creator Creator, pub events.Publisher) *Coordinator {
	if pub == nil {
		pub = events.Discard
	}
	return &Coordinator{creator: creator, pub: pub}
}

// Reset scopes the coordinator to a new run with no session.
func (c *Coordinator) Reset(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runID = runID
	c.id = ""
}

func (c *Coordinator) Session() models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.Session{ID: c.id}
}

func (c *Coordinator) ID() string {
	return c.Session().ID
}

// Adopt applies a session id announced by the stream. Empty ids and ids
// arriving after one is established are ignored. It returns the
// established id and whether this call set it.
func (c *Coordinator) Adopt(runID, id string) (string, bool) {
	return c.adopt(runID, id, "stream")
}

func (c *Coordinator) adopt(runID, id, source string) (string, bool) {
	id = strings.TrimSpace(id)

	c.mu.Lock()
	if runID != c.runID {
		c.mu.Unlock()
		log.Debug().Str("component", "session").Str("run_id", runID).Str("session_id", id).Msg("ignoring session id for superseded run")
		return "", false
	}
	current := c.id
	if id == "" || current != "" {
		c.mu.Unlock()
		if id != "" && id != current {
			log.Info().Str("component", "session").Str("run_id", runID).Str("session_id", current).Str("announced", id).Str("source", source).Msg("session already established, keeping first id")
		}
		return current, false
	}
	c.id = id
	c.mu.Unlock()

	log.Info().Str("component", "session").Str("run_id", runID).Str("session_id", id).Str("source", source).Msg("session adopted")
	c.pub.Publish(events.Event{Kind: events.SessionAdopted, RunID: runID, SessionID: id})
	return id, true
}

// Ensure returns the run's session id, creating one if none exists.
// Concurrent callers for the same run share a single creation request;
// a caller whose ctx ends stops waiting without failing the others.
func (c *Coordinator) Ensure(ctx context.Context, runID string) (string, error) {
	c.mu.Lock()
	if runID != c.runID {
		c.mu.Unlock()
		return "", ErrStaleRun
	}
	if c.id != "" {
		id := c.id
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	ch := c.group.DoChan(runID, func() (interface{}, error) {
		created, err := c.creator.CreateSession(context.WithoutCancel(ctx))
		if err != nil {
			return "", fmt.Errorf("create session: %w", err)
		}
		id, _ := c.adopt(runID, created, "create")
		if id == "" {
			return "", ErrStaleRun
		}
		return id, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}
