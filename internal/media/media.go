// Package media provides local capture for call sessions as pion local
// tracks.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/peercall/internal/call"
	"github.com/1ureka/peercall/internal/util"
)

// Compile-time interface checks.
var (
	_ call.MediaSource = (*Synthetic)(nil)
	_ call.Media       = (*Capture)(nil)
)

// ErrUnavailable is returned when capture is disabled.
var ErrUnavailable = errors.New("media: capture unavailable")

const frameInterval = 20 * time.Millisecond

// opusSilence is a single Opus frame encoding 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// H264 capability of the local video track: constrained baseline with
// packetization-mode 1, the first profile the codec filter accepts.
var h264Capability = webrtc.RTPCodecCapability{
	MimeType:    webrtc.MimeTypeH264,
	ClockRate:   90000,
	SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f",
}

var opusCapability = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypeOpus,
	ClockRate: 48000,
	Channels:  2,
}

// Synthetic is a capture source without devices: it produces an audio track
// carrying Opus silence and an idle H264 video track. Setting Disabled makes
// every acquisition fail, the way a denied device permission would.
type Synthetic struct {
	Disabled bool
}

// Acquire creates a fresh pair of local tracks and starts the audio pacer.
func (s *Synthetic) Acquire(ctx context.Context) (call.Media, error) {
	if s.Disabled {
		return nil, ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream := "peercall-" + uuid.NewString()
	audio, err := webrtc.NewTrackLocalStaticSample(opusCapability, "audio", stream)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(h264Capability, "video", stream)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}

	c := &Capture{
		audio: audio,
		video: video,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go c.pace()
	util.LogDebug("media acquired (stream %s)", stream)
	return c, nil
}

// Capture is one acquisition of local media.
type Capture struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Tracks returns the local tracks to attach to a peer connection.
func (c *Capture) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{c.audio, c.video}
}

// Stop releases the capture. Safe to call multiple times.
func (c *Capture) Stop() {
	c.once.Do(func() {
		close(c.stop)
		<-c.done
		util.LogDebug("media released")
	})
}

// Stopped reports whether Stop has been called.
func (c *Capture) Stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// pace writes one audio frame per interval until stopped. Writes before the
// track is bound to a connection are dropped by pion.
func (c *Capture) pace() {
	defer close(c.done)

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.audio.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: frameInterval}); err != nil {
				util.LogDebug("audio write: %v", err)
			}
		case <-c.stop:
			return
		}
	}
}
