package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dispatchhq/commshub/internal/core"
)

const answerTimeout = 15 * time.Second

var ErrAlreadyPublished = errors.New("audio already published")

// Dialer opens SFU rooms from a signaling token.
type Dialer struct {
	cfg webrtc.Configuration
}

func NewDialer() *Dialer {
	return &Dialer{cfg: DefaultWebRTCConfig()}
}

// Dial connects the signaling socket and prepares a peer connection. Media
// starts flowing only after PublishAudio completes the offer/answer exchange.
func (d *Dialer) Dial(ctx context.Context, tok core.VoiceToken) (core.MediaRoom, error) {
	u := tok.URL + "?token=" + tok.Token
	sig, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial sfu signaling: %w", err)
	}

	pc, err := NewPeerConnection(d.cfg, tok.URL)
	if err != nil {
		_ = sig.Close()
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	roomCtx, cancel := context.WithCancel(context.Background())
	r := &Room{
		sig:     sig,
		pc:      pc,
		cancel:  cancel,
		answers: make(chan webrtc.SessionDescription, 1),
		logger:  log.With().Str("module", "rtc.room").Str("url", tok.URL).Logger(),
	}
	if err := pc.Start(roomCtx); err != nil {
		cancel()
		pc.Close()
		_ = sig.Close()
		return nil, fmt.Errorf("start peer connection: %w", err)
	}

	go r.readSignaling(roomCtx)
	return r, nil
}

// Room is one live SFU connection. It owns the signaling socket and peer
// connection; Disconnect releases both and is idempotent.
type Room struct {
	sig     *websocket.Conn
	pc      *PeerConnection
	cancel  context.CancelFunc
	answers chan webrtc.SessionDescription
	logger  zerolog.Logger

	mu         sync.Mutex
	pub        *Publication
	publishing bool
	closed     sync.Once
}

// reservePublish claims the single publish slot, so concurrent calls cannot
// both negotiate a track.
func (r *Room) reservePublish() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pub != nil || r.publishing {
		return ErrAlreadyPublished
	}
	r.publishing = true
	return nil
}

// finishPublish commits the negotiated publication, or frees the slot again
// when negotiation failed (pub nil).
func (r *Room) finishPublish(pub *Publication) {
	r.mu.Lock()
	r.pub = pub
	r.publishing = false
	r.mu.Unlock()
}

// PublishAudio adds a local Opus track, completes the offer/answer exchange,
// and starts pumping capture samples through the publication's mute gate.
func (r *Room) PublishAudio(ctx context.Context, src core.AudioSource) (core.Publication, error) {
	if err := r.reservePublish(); err != nil {
		return nil, err
	}
	pub, err := r.negotiateAudio(ctx)
	r.finishPublish(pub)
	if err != nil {
		return nil, err
	}

	go r.pump(src, pub)
	r.logger.Info().Msg("audio published")
	return pub, nil
}

func (r *Room) negotiateAudio(ctx context.Context) (*Publication, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "commshub",
	)
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}
	if _, err := r.pc.AddLocalTrack(track); err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}

	offer, err := r.pc.CreateOfferAndGather()
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := r.sendSignal(signalMessage{Type: "offer", SDP: offer.SDP}); err != nil {
		return nil, fmt.Errorf("send offer: %w", err)
	}

	answerCtx, cancel := context.WithTimeout(ctx, answerTimeout)
	defer cancel()
	select {
	case answer := <-r.answers:
		if err := r.pc.ApplyAnswer(answer); err != nil {
			return nil, fmt.Errorf("apply answer: %w", err)
		}
	case <-answerCtx.Done():
		return nil, fmt.Errorf("waiting for answer: %w", answerCtx.Err())
	}

	return NewPublication(track), nil
}

func (r *Room) Disconnect() error {
	r.closed.Do(func() {
		r.mu.Lock()
		if r.pub != nil {
			r.pub.markClosed()
		}
		r.mu.Unlock()
		r.cancel()
		r.pc.Close()
		_ = r.sig.Close()
		r.logger.Info().Msg("disconnected")
	})
	return nil
}

type signalMessage struct {
	Type          string `json:"type"`
	SDP           string `json:"sdp,omitempty"`
	Candidate     string `json:"candidate,omitempty"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

func (r *Room) sendSignal(msg signalMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.sig.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return r.sig.WriteMessage(websocket.TextMessage, b)
}

func (r *Room) readSignaling(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := r.sig.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Error().Err(err).Msg("signaling read error")
			}
			return
		}
		r.handleSignal(data)
	}
}

func (r *Room) handleSignal(data []byte) {
	var msg signalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		r.logger.Warn().Err(err).Msg("bad signaling json")
		return
	}
	switch msg.Type {
	case "answer":
		select {
		case r.answers <- webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}:
		default:
			r.logger.Warn().Msg("unexpected answer dropped")
		}
	case "candidate":
		cand := webrtc.ICECandidateInit{Candidate: msg.Candidate}
		if msg.SDPMid != "" {
			cand.SDPMid = &msg.SDPMid
		}
		idx := msg.SDPMLineIndex
		cand.SDPMLineIndex = &idx
		if err := r.pc.AddICECandidate(cand); err != nil {
			r.logger.Warn().Err(err).Msg("add ice candidate")
		}
	default:
		r.logger.Warn().Str("type", msg.Type).Msg("unknown signal")
	}
}

// pump drains the capture source into the publication until either side
// closes. The source stays drained while muted so device buffers never back
// up between floor holds.
func (r *Room) pump(src core.AudioSource, pub *Publication) {
	ctx := context.Background()
	for {
		sample, err := src.ReadSample(ctx)
		if err != nil {
			r.logger.Info().Err(err).Msg("capture drained, pump stopping")
			return
		}
		if err := pub.writeSample(media.Sample{Data: sample.Data, Duration: sample.Duration}); err != nil {
			if !errors.Is(err, ErrPublicationClosed) {
				r.logger.Error().Err(err).Msg("write sample")
			}
			return
		}
	}
}
