package domain

// Thread is a conversation grouped by channel and counterparty.
// Archival and deletion are handled elsewhere; the hub only creates and updates.
type Thread struct {
	ID          ThreadID `json:"id"`
	Title       string   `json:"title"`
	Channel     Channel  `json:"channel"`
	Target      string   `json:"target,omitempty"`
	LastPreview string   `json:"last"`
	HasUnread   bool     `json:"unread,omitempty"`
}

// NewPlaceholderThread covers events whose thread metadata has not arrived
// yet. Events must never be dropped just because the thread list lags.
func NewPlaceholderThread(id ThreadID, channel Channel) Thread {
	if channel == "" {
		channel = ChannelInApp
	}
	return Thread{
		ID:      id,
		Title:   "Thread " + string(id),
		Channel: channel,
	}
}
