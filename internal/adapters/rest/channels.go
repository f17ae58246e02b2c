package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dispatchhq/commshub/internal/core"
	"github.com/dispatchhq/commshub/internal/domain"
)

var ErrMissingTarget = errors.New("send target required")

// SMSSender posts carrier messages, Telnyx-shaped:
// POST {base}/v2/messages {from, to, text} with a bearer key.
type SMSSender struct {
	base string
	from string
	key  string
	http *http.Client
}

func NewSMSSender(base, from, key string) *SMSSender {
	return &SMSSender{
		base: strings.TrimRight(base, "/"),
		from: from,
		key:  key,
		http: &http.Client{Timeout: defaultTimeout},
	}
}

func (s *SMSSender) Channel() domain.Channel { return domain.ChannelSMS }

func (s *SMSSender) Send(ctx context.Context, msg core.OutboundMessage) error {
	if msg.Target == "" {
		return ErrMissingTarget
	}
	body := map[string]string{"from": s.from, "to": msg.Target, "text": msg.Body}
	if err := postJSON(ctx, s.http, s.base+"/v2/messages", s.key, body, nil); err != nil {
		return fmt.Errorf("sms send: %w", err)
	}
	log.Info().Str("module", "rest.sms").Str("to", msg.Target).Msg("sms accepted")
	return nil
}

// CallSender places outbound calls through the carrier:
// POST {base}/v2/calls {from, to}.
type CallSender struct {
	base string
	from string
	key  string
	http *http.Client
}

func NewCallSender(base, from, key string) *CallSender {
	return &CallSender{
		base: strings.TrimRight(base, "/"),
		from: from,
		key:  key,
		http: &http.Client{Timeout: defaultTimeout},
	}
}

func (s *CallSender) Channel() domain.Channel { return domain.ChannelVoice }

func (s *CallSender) Send(ctx context.Context, msg core.OutboundMessage) error {
	if msg.Target == "" {
		return ErrMissingTarget
	}
	body := map[string]string{"from": s.from, "to": msg.Target}
	if err := postJSON(ctx, s.http, s.base+"/v2/calls", s.key, body, nil); err != nil {
		return fmt.Errorf("call create: %w", err)
	}
	log.Info().Str("module", "rest.call").Str("to", msg.Target).Msg("call created")
	return nil
}

// EmailSender posts transactional mail:
// POST {base}/v1/send {from, to, subject, body}.
type EmailSender struct {
	base string
	from string
	key  string
	http *http.Client
}

func NewEmailSender(base, from, key string) *EmailSender {
	return &EmailSender{
		base: strings.TrimRight(base, "/"),
		from: from,
		key:  key,
		http: &http.Client{Timeout: defaultTimeout},
	}
}

func (s *EmailSender) Channel() domain.Channel { return domain.ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, msg core.OutboundMessage) error {
	if msg.Target == "" {
		return ErrMissingTarget
	}
	body := map[string]string{"from": s.from, "to": msg.Target, "subject": msg.Subject, "body": msg.Body}
	if err := postJSON(ctx, s.http, s.base+"/v1/send", s.key, body, nil); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	log.Info().Str("module", "rest.email").Str("to", msg.Target).Msg("email accepted")
	return nil
}

// ChatSender posts in-app messages to the threads backend:
// POST {base}/api/threads/{id}/messages {body, channel}.
type ChatSender struct {
	base string
	http *http.Client
}

func NewChatSender(base string) *ChatSender {
	return &ChatSender{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: defaultTimeout},
	}
}

func (s *ChatSender) Channel() domain.Channel { return domain.ChannelInApp }

func (s *ChatSender) Send(ctx context.Context, msg core.OutboundMessage) error {
	if msg.ThreadID == "" {
		return ErrMissingTarget
	}
	u := fmt.Sprintf("%s/api/threads/%s/messages", s.base, url.PathEscape(string(msg.ThreadID)))
	body := map[string]string{"body": msg.Body, "channel": string(domain.ChannelInApp)}
	if err := postJSON(ctx, s.http, u, "", body, nil); err != nil {
		return fmt.Errorf("chat send: %w", err)
	}
	return nil
}
