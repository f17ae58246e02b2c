package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dispatchhq/commshub/internal/core"
	"github.com/dispatchhq/commshub/internal/domain"
	"github.com/dispatchhq/commshub/internal/store"
)

var (
	ErrUnknownThread  = errors.New("unknown thread")
	ErrUnknownChannel = errors.New("no sender configured for channel")
)

// Dispatcher routes composed messages to the matching channel provider and
// folds the optimistic event into the store on success only.
type Dispatcher struct {
	store   *store.Store
	senders map[domain.Channel]core.ChannelSender
	logger  zerolog.Logger
}

func NewDispatcher(st *store.Store, senders ...core.ChannelSender) *Dispatcher {
	byChannel := make(map[domain.Channel]core.ChannelSender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}
	return &Dispatcher{
		store:   st,
		senders: byChannel,
		logger:  log.With().Str("module", "app.dispatch").Logger(),
	}
}

// SendThreadMessage sends within a known thread. A failed send commits
// nothing: the thread's event list is unchanged.
func (d *Dispatcher) SendThreadMessage(ctx context.Context, threadID domain.ThreadID, body string, channel domain.Channel) (domain.ThreadEvent, error) {
	thread, ok := d.store.GetThread(threadID)
	if !ok {
		return domain.ThreadEvent{}, fmt.Errorf("%w: %s", ErrUnknownThread, threadID)
	}
	sender, ok := d.senders[channel]
	if !ok {
		return domain.ThreadEvent{}, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	ev, err := domain.NewOutboundMessage(threadID, body, channel)
	if err != nil {
		return domain.ThreadEvent{}, err
	}
	if err := sender.Send(ctx, core.OutboundMessage{ThreadID: threadID, Target: thread.Target, Body: body}); err != nil {
		d.logger.Error().Err(err).Str("thread", string(threadID)).Str("channel", string(channel)).Msg("send failed")
		return domain.ThreadEvent{}, err
	}

	d.store.Upsert(ev)
	d.logger.Info().Str("thread", string(threadID)).Str("channel", string(channel)).Str("event", string(ev.ID)).Msg("sent")
	return ev, nil
}

// DirectMessage builds the payload for an off-thread send.
func DirectMessage(subject, body string) core.OutboundMessage {
	return core.OutboundMessage{Subject: subject, Body: body}
}

// SendDirect sends to an arbitrary address outside any thread. The store is
// not touched; the resulting record arrives later via the realtime path.
func (d *Dispatcher) SendDirect(ctx context.Context, channel domain.Channel, target string, msg core.OutboundMessage) error {
	sender, ok := d.senders[channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	msg.Target = target
	if err := sender.Send(ctx, msg); err != nil {
		d.logger.Error().Err(err).Str("channel", string(channel)).Str("target", target).Msg("direct send failed")
		return err
	}
	d.logger.Info().Str("channel", string(channel)).Str("target", target).Msg("direct send ok")
	return nil
}
