package rtc

import (
	"errors"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

var ErrPublicationClosed = errors.New("publication closed")

type pubState int32

const (
	pubLive pubState = iota
	pubMuted
	pubClosed
)

// Publication is the published local track. Muting is a write gate, not a
// renegotiation: while muted, capture samples are drained and dropped.
type Publication struct {
	track *webrtc.TrackLocalStaticSample
	state atomic.Int32 // Zero by default (pubLive)
}

func NewPublication(track *webrtc.TrackLocalStaticSample) *Publication {
	return &Publication{track: track}
}

func (p *Publication) Mute() error {
	if p.getState() == pubClosed {
		return ErrPublicationClosed
	}
	p.state.Store(int32(pubMuted))
	return nil
}

func (p *Publication) Unmute() error {
	if p.getState() == pubClosed {
		return ErrPublicationClosed
	}
	p.state.Store(int32(pubLive))
	return nil
}

func (p *Publication) Muted() bool {
	return p.getState() != pubLive
}

func (p *Publication) markClosed() {
	p.state.Store(int32(pubClosed))
}

// writeSample forwards one capture sample unless the gate is shut.
func (p *Publication) writeSample(s media.Sample) error {
	switch p.getState() {
	case pubLive:
		return p.track.WriteSample(s)
	case pubMuted:
		return nil
	default:
		return ErrPublicationClosed
	}
}

func (p *Publication) getState() pubState {
	return pubState(p.state.Load())
}
