package core

import (
	"context"
	"time"

	"github.com/dispatchhq/commshub/internal/domain"
)

// Frame is a raw inbound payload from the realtime endpoint.
type Frame []byte

type (
	RoomID   string
	Identity string
)

// ConnState is the lifecycle of one realtime connection.
type ConnState string

const (
	ConnIdle       ConnState = "idle"
	ConnConnecting ConnState = "connecting"
	ConnOpen       ConnState = "open"
	ConnClosing    ConnState = "closing"
	ConnErrored    ConnState = "errored"
)

// RealtimeConn abstracts the persistent push connection.
// Owned by whoever opened it; the owner must Close() it.
type RealtimeConn interface {
	Connect(ctx context.Context) error
	Close()
	State() ConnState
}

// ThreadSummary is a read-only view for thread lists.
type ThreadSummary struct {
	Preview string `json:"preview"`
	Unread  bool   `json:"unread"`
}

// ThreadUpdate is what the synchronizer publishes after applying a frame.
type ThreadUpdate struct {
	Threads  []domain.Thread      `json:"threads"`
	ThreadID domain.ThreadID      `json:"thread_id"`
	Events   []domain.ThreadEvent `json:"events"`
}

// UpdateSink consumes thread updates. Consume must not block; slow consumers
// drop updates rather than stall the realtime path.
type UpdateSink interface {
	Consume(ThreadUpdate)
}

// ThreadDirectory is the external thread listing/history collaborator,
// used for initial hydration and post-reconnect refresh.
type ThreadDirectory interface {
	ListThreads(ctx context.Context, limit int) ([]domain.Thread, error)
	ListEvents(ctx context.Context, id domain.ThreadID) ([]domain.ThreadEvent, error)
}

// OutboundMessage is one payload for a channel provider.
type OutboundMessage struct {
	ThreadID domain.ThreadID
	Target   string
	Subject  string
	Body     string
}

// ChannelSender delivers one outbound payload through a provider API.
// Opaque beyond success/failure.
type ChannelSender interface {
	Channel() domain.Channel
	Send(ctx context.Context, msg OutboundMessage) error
}

// VoiceToken grants access to one SFU room for one identity.
type VoiceToken struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// TokenService is the voice signaling/token collaborator.
type TokenService interface {
	GetToken(ctx context.Context, room RoomID, identity Identity) (VoiceToken, error)
}

// AudioSample is one encoded capture frame.
type AudioSample struct {
	Data     []byte
	Duration time.Duration
}

// AudioSource yields encoded audio and owns the underlying capture resource.
type AudioSource interface {
	ReadSample(ctx context.Context) (AudioSample, error)
	Close() error
}

// CaptureOpener acquires the local audio capture resource. Acquisition fails
// in restricted execution contexts lacking media capability.
type CaptureOpener interface {
	OpenCapture(ctx context.Context) (AudioSource, error)
}

// Publication is a published local track. All mute changes go through here so
// floor state stays consistent with actual track state.
type Publication interface {
	Mute() error
	Unmute() error
	Muted() bool
}

// MediaRoom is a live connection to the SFU for one room/identity.
type MediaRoom interface {
	PublishAudio(ctx context.Context, src AudioSource) (Publication, error)
	Disconnect() error
}

// MediaDialer opens MediaRooms from a signaling token.
type MediaDialer interface {
	Dial(ctx context.Context, tok VoiceToken) (MediaRoom, error)
}
