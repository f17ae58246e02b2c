package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/dispatchhq/commshub/internal/core"
	"github.com/dispatchhq/commshub/internal/domain"
	"github.com/dispatchhq/commshub/internal/store"
)

// frameEnvelope is the validated boundary for inbound realtime frames.
// Anything that fails validation is dropped before it reaches the store.
type frameEnvelope struct {
	ThreadID string              `json:"thread_id" validate:"required"`
	Event    *domain.ThreadEvent `json:"event" validate:"required"`
}

// Syncer applies inbound frames to the event store and republishes thread
// summaries to subscribers. It never fails on data-shape problems; bad frames
// are logged and ignored to keep the stream alive.
type Syncer struct {
	store    *store.Store
	dir      core.ThreadDirectory
	validate *validator.Validate
	logger   zerolog.Logger

	mu       sync.Mutex
	sinks    []core.UpdateSink
	degraded bool
}

func NewSyncer(st *store.Store, dir core.ThreadDirectory) *Syncer {
	return &Syncer{
		store:    st,
		dir:      dir,
		validate: validator.New(),
		logger:   log.With().Str("module", "app.syncer").Logger(),
	}
}

// Subscribe registers a sink for subsequent updates.
func (s *Syncer) Subscribe(sink core.UpdateSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// HandleFrame is the transport delivery callback. Called from the single
// reader goroutine, so per-connection application order equals arrival order.
func (s *Syncer) HandleFrame(frame core.Frame) {
	var env frameEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		s.logger.Warn().Err(err).Msg("dropping malformed frame")
		return
	}
	if err := s.validate.Struct(env); err != nil {
		s.logger.Warn().Err(err).Msg("dropping incomplete frame")
		return
	}

	ev := *env.Event
	ev.ThreadID = domain.ThreadID(env.ThreadID)

	// At-least-once delivery: a duplicate frame is a no-op all the way down.
	if !s.store.Upsert(ev) {
		return
	}
	s.publish(ev.ThreadID)
}

// HandleStatus tracks connection health. After a drop, the first transition
// back to open triggers a full re-fetch, since frames are not replayed across
// the gap and the idempotent merge makes refresh safe.
func (s *Syncer) HandleStatus(ctx context.Context, state core.ConnState) {
	s.mu.Lock()
	refresh := false
	switch state {
	case core.ConnErrored:
		s.degraded = true
	case core.ConnOpen:
		refresh = s.degraded
		s.degraded = false
	}
	s.mu.Unlock()

	if refresh {
		s.logger.Info().Msg("reconnected, refreshing thread history")
		s.Refresh(ctx)
	}
}

// Hydrate pre-loads threads and their history from the directory collaborator
// before the realtime stream starts producing updates.
func (s *Syncer) Hydrate(ctx context.Context, limit int) error {
	threads, err := s.dir.ListThreads(ctx, limit)
	if err != nil {
		return err
	}
	for _, t := range threads {
		s.store.SeedThread(t)
		if err := s.refreshThread(ctx, t.ID); err != nil {
			s.logger.Warn().Err(err).Str("thread", string(t.ID)).Msg("history fetch failed")
		}
	}
	s.publishAll()
	return nil
}

// Refresh re-fetches history for every known thread, reconciling any frames
// missed while the connection was down.
func (s *Syncer) Refresh(ctx context.Context) {
	for _, t := range s.store.Threads() {
		if err := s.refreshThread(ctx, t.ID); err != nil {
			s.logger.Warn().Err(err).Str("thread", string(t.ID)).Msg("refresh failed")
		}
	}
	s.publishAll()
}

func (s *Syncer) refreshThread(ctx context.Context, id domain.ThreadID) error {
	events, err := s.dir.ListEvents(ctx, id)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.ThreadID == "" {
			ev.ThreadID = id
		}
		s.store.Upsert(ev)
	}
	return nil
}

func (s *Syncer) publish(id domain.ThreadID) {
	update := core.ThreadUpdate{
		Threads:  s.store.Threads(),
		ThreadID: id,
		Events:   s.store.List(id),
	}
	for _, sink := range s.snapshotSinks() {
		sink.Consume(update)
	}
}

func (s *Syncer) publishAll() {
	update := core.ThreadUpdate{Threads: s.store.Threads()}
	for _, sink := range s.snapshotSinks() {
		sink.Consume(update)
	}
}

func (s *Syncer) snapshotSinks() []core.UpdateSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Map(s.sinks, func(sink core.UpdateSink, _ int) core.UpdateSink { return sink })
}
