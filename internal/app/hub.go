// Package app wires the hub core: the synchronizer fed by the realtime
// transport, the outbound dispatcher, and the voice session controller.
package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dispatchhq/commshub/internal/app/voice"
	"github.com/dispatchhq/commshub/internal/core"
	"github.com/dispatchhq/commshub/internal/store"
)

// Hub is one user's communications session: a realtime stream for a room
// identity, the shared event store, and the optional voice session.
type Hub struct {
	Store      *store.Store
	Syncer     *Syncer
	Dispatcher *Dispatcher
	Voice      *voice.Controller
	Registry   *Registry

	room     core.RoomID
	identity core.Identity
	limit    int
	baseCtx  context.Context
}

func NewHub(st *store.Store, syncer *Syncer, dispatcher *Dispatcher, vc *voice.Controller, reg *Registry, room core.RoomID, identity core.Identity, hydrateLimit int) *Hub {
	return &Hub{
		Store:      st,
		Syncer:     syncer,
		Dispatcher: dispatcher,
		Voice:      vc,
		Registry:   reg,
		room:       room,
		identity:   identity,
		limit:      hydrateLimit,
	}
}

// Start hydrates from the thread directory and opens the realtime stream.
// A failed hydration degrades to realtime-only; events still converge through
// the idempotent merge once the backend is reachable again.
func (h *Hub) Start(ctx context.Context) error {
	h.baseCtx = ctx
	if err := h.Syncer.Hydrate(ctx, h.limit); err != nil {
		log.Warn().Err(err).Str("module", "app.hub").Msg("hydration failed, continuing with realtime only")
	}
	if h.Registry == nil {
		log.Info().Str("module", "app.hub").Msg("no realtime endpoint configured, stream disabled")
		return nil
	}
	_, err := h.Registry.Open(ctx, h.room, h.identity)
	return err
}

// ConnState reports the realtime connection state for the status surface.
func (h *Hub) ConnState() core.ConnState {
	if h.Registry == nil {
		return core.ConnIdle
	}
	conn, ok := h.Registry.Get(h.room, h.identity)
	if !ok {
		return core.ConnIdle
	}
	return conn.State()
}

// JoinVoice starts the PTT session on the hub lifetime, not a request's.
func (h *Hub) JoinVoice() error {
	ctx := h.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	return h.Voice.Join(ctx)
}

// Close is the consumer-teardown path: voice first so the microphone never
// outlives the stream, then every tracked connection.
func (h *Hub) Close() {
	h.Voice.Close()
	if h.Registry != nil {
		h.Registry.CloseAll()
	}
}
