// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const MaxBodyLen = 4096

var ErrBodyTooLong = errors.New("body too long")

type (
	EventID  string
	ThreadID string
)

// Channel identifies the provider lane an event travelled on.
type Channel string

const (
	ChannelPTT      Channel = "ptt"
	ChannelVoice    Channel = "voice"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelTelegram Channel = "telegram"
	ChannelEmail    Channel = "email"
	ChannelInApp    Channel = "in_app"
	ChannelWebhook  Channel = "webhook"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionSystem   Direction = "system"
)

type EventType string

const (
	EventMessage    EventType = "message"
	EventVoice      EventType = "voice"
	EventCall       EventType = "call"
	EventVoicemail  EventType = "voicemail"
	EventTranscript EventType = "transcript"
	EventAlert      EventType = "alert"
	EventStatus     EventType = "status"
)

// ThreadEvent is one occurrence within a thread. Immutable once stored;
// corrections arrive as new events.
type ThreadEvent struct {
	ID         EventID   `json:"id" validate:"required"`
	ThreadID   ThreadID  `json:"thread_id,omitempty"`
	Type       EventType `json:"type"`
	Direction  Direction `json:"direction"`
	Body       string    `json:"body"`
	Channel    Channel   `json:"channel"`
	OccurredAt time.Time `json:"at"`
	Meta       string    `json:"meta,omitempty"`
}

// NewOutboundMessage mints a locally-originated message event. The id is
// generated here so optimistic inserts and later provider echoes stay distinct.
func NewOutboundMessage(threadID ThreadID, body string, channel Channel) (ThreadEvent, error) {
	if len(body) > MaxBodyLen {
		return ThreadEvent{}, ErrBodyTooLong
	}
	return ThreadEvent{
		ID:         EventID(uuid.NewString()),
		ThreadID:   threadID,
		Type:       EventMessage,
		Direction:  DirectionOutbound,
		Body:       body,
		Channel:    channel,
		OccurredAt: time.Now().UTC(),
	}, nil
}

// Preview is what a thread list shows for this event.
func (e ThreadEvent) Preview() string {
	if e.Body != "" {
		return e.Body
	}
	return string(e.Type)
}
