package rtc

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/require"
)

func newTestPublication(t *testing.T) *Publication {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "test",
	)
	require.NoError(t, err)
	return NewPublication(track)
}

func TestPublicationStartsLive(t *testing.T) {
	req := require.New(t)
	p := newTestPublication(t)
	req.False(p.Muted())
}

func TestMuteDropsSamplesWithoutError(t *testing.T) {
	req := require.New(t)
	p := newTestPublication(t)

	req.NoError(p.Mute())
	req.True(p.Muted())
	// The pump keeps feeding while muted; the gate swallows the sample.
	req.NoError(p.writeSample(media.Sample{Data: []byte{1, 2, 3}, Duration: 20 * time.Millisecond}))

	req.NoError(p.Unmute())
	req.False(p.Muted())
}

func TestClosedPublicationRejectsEverything(t *testing.T) {
	req := require.New(t)
	p := newTestPublication(t)
	p.markClosed()

	req.True(p.Muted())
	req.ErrorIs(p.Mute(), ErrPublicationClosed)
	req.ErrorIs(p.Unmute(), ErrPublicationClosed)
	req.ErrorIs(p.writeSample(media.Sample{Data: []byte{1}}), ErrPublicationClosed)
}
