// Package voice drives the push-to-talk session: join, publish, floor-hold,
// leave. The controller is the sole owner of the capture and room handles;
// every exit path releases both.
package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dispatchhq/commshub/internal/core"
)

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseJoining Phase = "joining"
	PhaseReady   Phase = "ready"
	PhaseHolding Phase = "holding"
	PhaseLeaving Phase = "leaving"
	PhaseFailed  Phase = "failed"
)

var (
	// ErrVoiceUnavailable means no signaling endpoint is configured; Join is
	// not offered at all rather than failing repeatedly.
	ErrVoiceUnavailable = errors.New("voice not configured")
	// ErrNoMediaCapability means the execution context cannot capture audio.
	ErrNoMediaCapability = errors.New("no media capability in this context")
	ErrSessionActive     = errors.New("voice session already active")
	ErrNotReady          = errors.New("voice session not ready")
)

// Snapshot is the consumer-facing view: render current truth from here
// instead of catching errors from the imperative call chain.
type Snapshot struct {
	Phase     Phase  `json:"phase"`
	FloorHeld bool   `json:"floor_held"`
	LastError string `json:"last_error,omitempty"`
	Enabled   bool   `json:"enabled"`
}

type Option func(*Controller)

// WithPhaseHook registers a callback invoked on every phase transition.
// The hook runs on the transition path and must return quickly.
func WithPhaseHook(fn func(Phase)) Option {
	return func(c *Controller) { c.onPhase = fn }
}

// WithCapabilityCheck installs a probe run before any resource acquisition.
func WithCapabilityCheck(fn func() error) Option {
	return func(c *Controller) { c.capability = fn }
}

// Controller is a single-owner state machine:
// Idle -> Joining -> Ready <-> Holding -> Leaving -> Idle, with Failed
// reachable from any live phase and always draining back to Idle.
type Controller struct {
	room       core.RoomID
	identity   core.Identity
	tokens     core.TokenService
	dialer     core.MediaDialer
	capture    core.CaptureOpener
	capability func() error
	onPhase    func(Phase)
	logger     zerolog.Logger

	mu         sync.Mutex
	phase      Phase
	floorHeld  bool
	lastErr    error
	joinCancel context.CancelFunc
	mediaRoom  core.MediaRoom
	src        core.AudioSource
	pub        core.Publication
}

func NewController(room core.RoomID, identity core.Identity, tokens core.TokenService, dialer core.MediaDialer, capture core.CaptureOpener, opts ...Option) *Controller {
	c := &Controller{
		room:     room,
		identity: identity,
		tokens:   tokens,
		dialer:   dialer,
		capture:  capture,
		phase:    PhaseIdle,
		logger:   log.With().Str("module", "voice").Str("room", string(room)).Str("identity", string(identity)).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether Join can be offered at all.
func (c *Controller) Enabled() bool {
	return c.tokens != nil && c.dialer != nil && c.capture != nil
}

// Join acquires the room and capture handles and publishes the local track
// muted (floor not held). Any failure rolls back whatever was partially
// acquired. A Join while the session is live is rejected, never a second
// acquisition.
func (c *Controller) Join(ctx context.Context) error {
	if !c.Enabled() {
		return ErrVoiceUnavailable
	}

	c.mu.Lock()
	if c.phase != PhaseIdle {
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("%w (phase %s)", ErrSessionActive, phase)
	}
	joinCtx, cancel := context.WithCancel(ctx)
	c.joinCancel = cancel
	c.lastErr = nil
	c.setPhaseLocked(PhaseJoining)
	c.mu.Unlock()
	defer cancel()

	// Capability gate: refuse before touching any resource.
	if c.capability != nil {
		if err := c.capability(); err != nil {
			return c.fail(fmt.Errorf("%w: %w", ErrNoMediaCapability, err))
		}
	}

	tok, err := c.tokens.GetToken(joinCtx, c.room, c.identity)
	if err != nil {
		return c.fail(fmt.Errorf("get token: %w", err))
	}

	room, err := c.dialer.Dial(joinCtx, tok)
	if err != nil {
		return c.fail(fmt.Errorf("dial room: %w", err))
	}

	src, err := c.capture.OpenCapture(joinCtx)
	if err != nil {
		_ = room.Disconnect()
		return c.fail(fmt.Errorf("open capture: %w", err))
	}

	pub, err := room.PublishAudio(joinCtx, src)
	if err != nil {
		_ = src.Close()
		_ = room.Disconnect()
		return c.fail(fmt.Errorf("publish: %w", err))
	}
	if err := pub.Mute(); err != nil {
		_ = src.Close()
		_ = room.Disconnect()
		return c.fail(fmt.Errorf("mute published track: %w", err))
	}

	c.mu.Lock()
	if joinCtx.Err() != nil || c.phase != PhaseJoining {
		// Leave raced the tail of the join; nothing may be kept.
		c.joinCancel = nil
		c.setPhaseLocked(PhaseIdle)
		c.mu.Unlock()
		_ = src.Close()
		_ = room.Disconnect()
		return context.Canceled
	}
	c.mediaRoom = room
	c.src = src
	c.pub = pub
	c.floorHeld = false
	c.joinCancel = nil
	c.setPhaseLocked(PhaseReady)
	c.mu.Unlock()

	c.logger.Info().Msg("joined, track published muted")
	return nil
}

// HoldStart unmutes the local track and takes the floor. A failed unmute is
// non-fatal: the session stays Ready with the floor not held.
func (c *Controller) HoldStart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.phase {
	case PhaseHolding:
		return nil
	case PhaseReady:
	default:
		return fmt.Errorf("%w (phase %s)", ErrNotReady, c.phase)
	}
	if err := c.pub.Unmute(); err != nil {
		c.floorHeld = false
		c.logger.Warn().Err(err).Msg("unmute failed, floor not taken")
		return err
	}
	c.floorHeld = true
	c.setPhaseLocked(PhaseHolding)
	return nil
}

// HoldEnd mutes the local track and releases the floor.
func (c *Controller) HoldEnd() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.phase {
	case PhaseReady:
		return nil
	case PhaseHolding:
	default:
		return fmt.Errorf("%w (phase %s)", ErrNotReady, c.phase)
	}
	if err := c.pub.Mute(); err != nil {
		c.logger.Warn().Err(err).Msg("mute failed, floor still held")
		return err
	}
	c.floorHeld = false
	c.setPhaseLocked(PhaseReady)
	return nil
}

// Leave releases both handles and converges to Idle regardless of individual
// release failures. Callable from any phase, including mid-Joining, where it
// cancels the in-flight join and lets its unwind finish the transition.
func (c *Controller) Leave() error {
	c.mu.Lock()
	switch c.phase {
	case PhaseIdle, PhaseLeaving:
		c.mu.Unlock()
		return nil
	case PhaseJoining:
		// Cancelled under the lock: the join's commit re-checks the context
		// under this same mutex, so it can never land after this cancel.
		if c.joinCancel != nil {
			c.joinCancel()
		}
		c.mu.Unlock()
		return nil
	}
	src, room := c.src, c.mediaRoom
	c.src, c.mediaRoom, c.pub = nil, nil, nil
	c.floorHeld = false
	c.setPhaseLocked(PhaseLeaving)
	c.mu.Unlock()

	// Best effort, capture first then room; leaving must never get stuck.
	if src != nil {
		if err := src.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("capture release failed")
		}
	}
	if room != nil {
		if err := room.Disconnect(); err != nil {
			c.logger.Warn().Err(err).Msg("room disconnect failed")
		}
	}

	c.mu.Lock()
	c.setPhaseLocked(PhaseIdle)
	c.mu.Unlock()
	c.logger.Info().Msg("left")
	return nil
}

// Close is the consumer-teardown path; identical guarantee to Leave.
func (c *Controller) Close() {
	_ = c.Leave()
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) FloorHeld() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.floorHeld
}

func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{Phase: c.phase, FloorHeld: c.floorHeld, Enabled: c.Enabled()}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// fail records the terminal join error and drains Failed back to Idle.
// A join cancelled by Leave converges quietly without setting lastErr.
func (c *Controller) fail(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joinCancel = nil
	if errors.Is(err, context.Canceled) {
		c.setPhaseLocked(PhaseIdle)
		return context.Canceled
	}
	c.lastErr = err
	c.logger.Error().Err(err).Msg("join failed")
	c.setPhaseLocked(PhaseFailed)
	c.setPhaseLocked(PhaseIdle)
	return err
}

func (c *Controller) setPhaseLocked(p Phase) {
	if c.phase == p {
		return
	}
	c.phase = p
	if c.onPhase != nil {
		c.onPhase(p)
	}
}
