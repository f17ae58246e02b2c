package rtc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"

	"github.com/dispatchhq/commshub/internal/core"
)

const captureSampleRate = 48000

var ErrNoCaptureDevice = errors.New("no capture device configured")

// OggCapture acquires the local audio resource: a pre-encoded Opus stream fed
// by the device bridge (a FIFO on most deployments, a file in tests).
type OggCapture struct {
	path string
}

func NewOggCapture(path string) *OggCapture {
	return &OggCapture{path: path}
}

// Probe is the media capability check: restricted contexts have no bridge
// path at all, so Join can refuse before acquiring anything.
func (c *OggCapture) Probe() error {
	if c.path == "" {
		return ErrNoCaptureDevice
	}
	if _, err := os.Stat(c.path); err != nil {
		return fmt.Errorf("%w: %w", ErrNoCaptureDevice, err)
	}
	return nil
}

func (c *OggCapture) OpenCapture(_ context.Context) (core.AudioSource, error) {
	if c.path == "" {
		return nil, ErrNoCaptureDevice
	}
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("open capture bridge: %w", err)
	}
	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read ogg header: %w", err)
	}
	log.Info().Str("module", "rtc.capture").Str("path", c.path).Msg("capture acquired")
	return &oggSource{f: f, ogg: ogg}, nil
}

// oggSource yields one page per ReadSample; duration derives from the granule
// position delta at the capture sample rate.
type oggSource struct {
	f           *os.File
	ogg         *oggreader.OggReader
	lastGranule uint64
}

func (s *oggSource) ReadSample(_ context.Context) (core.AudioSample, error) {
	data, header, err := s.ogg.ParseNextPage()
	if err != nil {
		return core.AudioSample{}, err
	}
	sampleCount := header.GranulePosition - s.lastGranule
	s.lastGranule = header.GranulePosition
	duration := time.Duration(sampleCount) * time.Second / captureSampleRate
	return core.AudioSample{Data: data, Duration: duration}, nil
}

func (s *oggSource) Close() error {
	log.Info().Str("module", "rtc.capture").Msg("capture released")
	return s.f.Close()
}
