package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"agrolens-go/internal/monitoring"
	"agrolens-go/internal/types"
)

var (
	ErrSessionActive = errors.New("a session is already running")
	ErrNoSession     = errors.New("no session is running")
)

const (
	StateRunning = "running"
	StateStopped = "stopped"
)

type running struct {
	session *Session
	frames  chan types.Frame
	cancel  context.CancelFunc
	done    chan struct{}
}

// Controller starts and stops sessions, at most one at a time, and hands
// incoming frames to the active one.
type Controller struct {
	opts    Options
	onState func(sessionID, state string)

	mu      sync.Mutex
	active  *running
	dropped atomic.Uint64
}

// NewController returns an idle controller. onState, when non-nil, is called
// after every start and stop.
func NewController(opts Options, onState func(sessionID, state string)) *Controller {
	return &Controller{opts: opts, onState: onState}
}

func (c *Controller) Start(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.active != nil {
		id := c.active.session.ID()
		c.mu.Unlock()
		return id, ErrSessionActive
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	r := &running{
		session: New(c.opts),
		frames:  make(chan types.Frame, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.active = r
	c.mu.Unlock()

	go func() {
		defer close(r.done)
		if err := r.session.Run(sessionCtx, r.frames); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("session %s ended: %v", r.session.ID(), err)
		}
	}()

	id := r.session.ID()
	monitoring.Logf("session %s started", id)
	c.notify(id, StateRunning)
	return id, nil
}

// Stop cancels the active session, waits for its loop to exit and discards
// its history.
func (c *Controller) Stop() (string, error) {
	c.mu.Lock()
	r := c.active
	if r == nil {
		c.mu.Unlock()
		return "", ErrNoSession
	}
	c.active = nil
	c.mu.Unlock()

	r.cancel()
	<-r.done

	id := r.session.ID()
	stats := r.session.Stats()
	monitoring.Logf("session %s stopped: ticks=%d skipped=%d corrections=%d", id, stats.Ticks, stats.Skipped, stats.Corrections)
	c.notify(id, StateStopped)
	return id, nil
}

// Toggle stops a running session or starts a new one, returning the
// resulting state.
func (c *Controller) Toggle(ctx context.Context) (string, string, error) {
	if id, err := c.Stop(); err == nil {
		return id, StateStopped, nil
	}
	id, err := c.Start(ctx)
	if err != nil {
		return id, StateRunning, err
	}
	return id, StateRunning, nil
}

// Submit offers a frame to the active session. The session takes the most
// recent frame when it finishes a tick; older unprocessed frames are
// replaced. It reports false when no session is running.
func (c *Controller) Submit(frame types.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return false
	}
	for {
		select {
		case c.active.frames <- frame:
			return true
		default:
		}
		select {
		case <-c.active.frames:
			c.dropped.Add(1)
		default:
		}
	}
}

// Dropped counts frames replaced before a session picked them up.
func (c *Controller) Dropped() uint64 {
	return c.dropped.Load()
}

// Active returns the running session, if any.
func (c *Controller) Active() (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil, false
	}
	return c.active.session, true
}

func (c *Controller) notify(sessionID, state string) {
	if c.onState != nil {
		c.onState(sessionID, state)
	}
}
