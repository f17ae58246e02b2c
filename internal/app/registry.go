package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dispatchhq/commshub/internal/core"
)

type connKey struct {
	Room     core.RoomID
	Identity core.Identity
}

type connEntry struct {
	Conn   core.RealtimeConn
	Cancel context.CancelFunc
}

// ConnFactory builds a transport client for one stream endpoint.
type ConnFactory func(room core.RoomID, identity core.Identity) core.RealtimeConn

// Registry tracks live realtime connections. Exactly one connection may exist
// per (room, identity) pair; opening a replacement tears down the old one
// first so no socket is orphaned.
type Registry struct {
	mu      sync.RWMutex
	conns   map[connKey]*connEntry
	factory ConnFactory
}

func NewRegistry(factory ConnFactory) *Registry {
	return &Registry{
		conns:   make(map[connKey]*connEntry),
		factory: factory,
	}
}

// Open connects a stream for the pair, replacing any existing one.
func (r *Registry) Open(ctx context.Context, room core.RoomID, identity core.Identity) (core.RealtimeConn, error) {
	key := connKey{Room: room, Identity: identity}

	r.mu.Lock()
	old := r.conns[key]
	delete(r.conns, key)
	r.mu.Unlock()
	if old != nil {
		log.Info().Str("module", "app.registry").Str("room", string(room)).Str("identity", string(identity)).Msg("replacing live connection")
		old.Cancel()
		old.Conn.Close()
	}

	connCtx, cancel := context.WithCancel(ctx)
	conn := r.factory(room, identity)
	if err := conn.Connect(connCtx); err != nil {
		cancel()
		return nil, err
	}

	r.mu.Lock()
	prev := r.conns[key]
	r.conns[key] = &connEntry{Conn: conn, Cancel: cancel}
	r.mu.Unlock()
	// A concurrent Open for the same pair may have bound an entry between
	// the teardown above and this insert; the displaced entry closes here.
	if prev != nil {
		prev.Cancel()
		prev.Conn.Close()
	}
	log.Info().Str("module", "app.registry").Str("room", string(room)).Str("identity", string(identity)).Msg("connection bound")
	return conn, nil
}

// Get returns the live connection for the pair, if any.
func (r *Registry) Get(room core.RoomID, identity core.Identity) (core.RealtimeConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connKey{Room: room, Identity: identity}]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

// CloseAll tears down every tracked connection. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := make([]*connEntry, 0, len(r.conns))
	for _, e := range r.conns {
		entries = append(entries, e)
	}
	r.conns = make(map[connKey]*connEntry)
	r.mu.Unlock()

	for _, e := range entries {
		e.Cancel()
		e.Conn.Close()
	}
	log.Info().Str("module", "app.registry").Int("count", len(entries)).Msg("connections closed")
}
