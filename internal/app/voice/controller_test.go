package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dispatchhq/commshub/internal/core"
)

type fakeTokens struct {
	err   error
	calls int
}

func (f *fakeTokens) GetToken(_ context.Context, _ core.RoomID, _ core.Identity) (core.VoiceToken, error) {
	f.calls++
	if f.err != nil {
		return core.VoiceToken{}, f.err
	}
	return core.VoiceToken{Token: "tok", URL: "wss://sfu.test"}, nil
}

type fakePub struct {
	mu        sync.Mutex
	muted     bool
	muteErr   error
	unmuteErr error
}

func (p *fakePub) Mute() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.muteErr != nil {
		return p.muteErr
	}
	p.muted = true
	return nil
}

func (p *fakePub) Unmute() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unmuteErr != nil {
		return p.unmuteErr
	}
	p.muted = false
	return nil
}

func (p *fakePub) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

type fakeRoom struct {
	pub          *fakePub
	publishErr   error
	disconnected bool
}

func (r *fakeRoom) PublishAudio(_ context.Context, _ core.AudioSource) (core.Publication, error) {
	if r.publishErr != nil {
		return nil, r.publishErr
	}
	return r.pub, nil
}

func (r *fakeRoom) Disconnect() error {
	r.disconnected = true
	return nil
}

type fakeDialer struct {
	room     *fakeRoom
	err      error
	blocking bool
	gate     chan struct{}
	calls    int
}

func (d *fakeDialer) Dial(ctx context.Context, _ core.VoiceToken) (core.MediaRoom, error) {
	d.calls++
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.blocking {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.room, nil
}

type fakeSource struct {
	closed bool
}

func (s *fakeSource) ReadSample(ctx context.Context) (core.AudioSample, error) {
	<-ctx.Done()
	return core.AudioSample{}, ctx.Err()
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakeCapture struct {
	src    *fakeSource
	err    error
	opened int
}

func (c *fakeCapture) OpenCapture(_ context.Context) (core.AudioSource, error) {
	c.opened++
	if c.err != nil {
		return nil, c.err
	}
	return c.src, nil
}

type fixture struct {
	tokens  *fakeTokens
	pub     *fakePub
	room    *fakeRoom
	dialer  *fakeDialer
	capture *fakeCapture

	mu     sync.Mutex
	phases []Phase
}

func newFixture() *fixture {
	f := &fixture{tokens: &fakeTokens{}, pub: &fakePub{}}
	f.room = &fakeRoom{pub: f.pub}
	f.dialer = &fakeDialer{room: f.room}
	f.capture = &fakeCapture{src: &fakeSource{}}
	return f
}

func (f *fixture) controller(opts ...Option) *Controller {
	opts = append(opts, WithPhaseHook(func(p Phase) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.phases = append(f.phases, p)
	}))
	return NewController("room-1", "driver-12", f.tokens, f.dialer, f.capture, opts...)
}

func (f *fixture) seenPhases() []Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Phase(nil), f.phases...)
}

func TestJoinPublishesMuted(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	c := f.controller()

	req.NoError(c.Join(context.Background()))
	req.Equal(PhaseReady, c.Phase())
	req.False(c.FloorHeld())
	req.True(f.pub.Muted())
	req.NoError(c.LastError())
	req.Equal([]Phase{PhaseJoining, PhaseReady}, f.seenPhases())
}

func TestJoinWhileActiveIsRejected(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	c := f.controller()

	req.NoError(c.Join(context.Background()))
	err := c.Join(context.Background())
	req.ErrorIs(err, ErrSessionActive)
	req.Equal(1, f.dialer.calls)
	req.Equal(1, f.capture.opened)
}

func TestCapabilityGateFailsBeforeAcquisition(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	c := f.controller(WithCapabilityCheck(func() error {
		return errors.New("embedded client has no microphone access")
	}))

	err := c.Join(context.Background())
	req.ErrorIs(err, ErrNoMediaCapability)
	req.Equal(0, f.tokens.calls)
	req.Equal(0, f.dialer.calls)
	req.Equal(0, f.capture.opened)
	req.Equal(PhaseIdle, c.Phase())
	req.ErrorIs(c.LastError(), ErrNoMediaCapability)
	req.Equal([]Phase{PhaseJoining, PhaseFailed, PhaseIdle}, f.seenPhases())
}

func TestVoiceDisabledWithoutConfig(t *testing.T) {
	req := require.New(t)
	c := NewController("room-1", "driver-12", nil, nil, nil)
	req.False(c.Enabled())
	req.ErrorIs(c.Join(context.Background()), ErrVoiceUnavailable)
	req.Equal(PhaseIdle, c.Phase())
	req.NoError(c.LastError())
}

func TestTokenFailureRollsBack(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.tokens.err = errors.New("token service down")
	c := f.controller()

	req.Error(c.Join(context.Background()))
	req.Equal(PhaseIdle, c.Phase())
	req.ErrorContains(c.LastError(), "token service down")
	req.Equal(0, f.dialer.calls)
	req.Equal(0, f.capture.opened)
}

func TestPublishFailureReleasesEverything(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.room.publishErr = errors.New("sfu rejected track")
	c := f.controller()

	req.Error(c.Join(context.Background()))
	req.Equal(PhaseIdle, c.Phase())
	req.True(f.capture.src.closed)
	req.True(f.room.disconnected)
	req.ErrorContains(c.LastError(), "sfu rejected track")
}

func TestCaptureFailureDisconnectsRoom(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.capture.err = errors.New("device busy")
	c := f.controller()

	req.Error(c.Join(context.Background()))
	req.Equal(PhaseIdle, c.Phase())
	req.True(f.room.disconnected)
}

func TestFloorHoldCycle(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	c := f.controller()
	req.NoError(c.Join(context.Background()))

	req.NoError(c.HoldStart())
	req.Equal(PhaseHolding, c.Phase())
	req.True(c.FloorHeld())
	req.False(f.pub.Muted())

	// A second press without release must not double-acquire or error.
	req.NoError(c.HoldStart())
	req.Equal(PhaseHolding, c.Phase())

	req.NoError(c.HoldEnd())
	req.Equal(PhaseReady, c.Phase())
	req.False(c.FloorHeld())
	req.True(f.pub.Muted())

	req.NoError(c.HoldEnd())
	req.Equal(PhaseReady, c.Phase())
}

func TestHoldStartUnmuteFailureStaysReady(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	c := f.controller()
	req.NoError(c.Join(context.Background()))

	f.pub.unmuteErr = errors.New("track gone")
	req.Error(c.HoldStart())
	req.Equal(PhaseReady, c.Phase())
	req.False(c.FloorHeld())
}

func TestHoldBeforeJoinIsRejected(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	c := f.controller()
	req.ErrorIs(c.HoldStart(), ErrNotReady)
	req.ErrorIs(c.HoldEnd(), ErrNotReady)
}

func TestLeaveReleasesHandles(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	c := f.controller()
	req.NoError(c.Join(context.Background()))
	req.NoError(c.HoldStart())

	req.NoError(c.Leave())
	req.Equal(PhaseIdle, c.Phase())
	req.False(c.FloorHeld())
	req.True(f.capture.src.closed)
	req.True(f.room.disconnected)

	// Idempotent.
	req.NoError(c.Leave())
	c.Close()
	req.Equal(PhaseIdle, c.Phase())
}

func TestLeaveCancelsInFlightJoin(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.dialer.blocking = true
	c := f.controller()

	joinErr := make(chan error, 1)
	go func() { joinErr <- c.Join(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for c.Phase() != PhaseJoining {
		if time.Now().After(deadline) {
			t.Fatal("join never started")
		}
		time.Sleep(time.Millisecond)
	}

	req.NoError(c.Leave())

	select {
	case err := <-joinErr:
		req.ErrorIs(err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled join did not return")
	}
	req.Equal(PhaseIdle, c.Phase())
	req.Equal(0, f.capture.opened)
	req.NoError(c.LastError())
}

func TestLeaveRacingJoinCommitNeverLeaksHandles(t *testing.T) {
	req := require.New(t)
	for i := 0; i < 200; i++ {
		f := newFixture()
		gate := make(chan struct{})
		f.dialer.gate = gate
		c := f.controller()

		joinErr := make(chan error, 1)
		go func() { joinErr <- c.Join(context.Background()) }()
		deadline := time.Now().Add(2 * time.Second)
		for c.Phase() != PhaseJoining {
			if time.Now().After(deadline) {
				t.Fatal("join never started")
			}
			time.Sleep(50 * time.Microsecond)
		}

		// Release the dial at the same moment Leave runs, so the commit and
		// the leave interleave in every order across iterations.
		close(gate)
		req.NoError(c.Leave())
		err := <-joinErr

		// Either the leave cancelled the join, or the commit won and the
		// leave tore the session down. Both converge with nothing live.
		if err != nil {
			req.ErrorIs(err, context.Canceled)
		}
		req.Equal(PhaseIdle, c.Phase(), "iteration %d", i)
		req.False(c.FloorHeld())
		if f.capture.opened > 0 {
			req.True(f.capture.src.closed, "iteration %d: capture still live", i)
			req.True(f.room.disconnected, "iteration %d: room still live", i)
		}
	}
}

func TestConsumerTeardownMidJoin(t *testing.T) {
	req := require.New(t)
	f := newFixture()
	f.dialer.blocking = true
	c := f.controller()

	joinErr := make(chan error, 1)
	go func() { joinErr <- c.Join(context.Background()) }()
	for c.Phase() != PhaseJoining {
		time.Sleep(time.Millisecond)
	}

	c.Close()
	select {
	case <-joinErr:
	case <-time.After(2 * time.Second):
		t.Fatal("teardown did not cancel join")
	}
	req.Equal(PhaseIdle, c.Phase())
}
