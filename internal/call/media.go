package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrMediaUnavailable = errors.New("local media unavailable")

// Tracks is the locally captured media for one call. The tracks are shared
// read-only across every peer connection in the call; Release stops capture
// and is called once the last peer connection is gone.
type Tracks struct {
	Audio *webrtc.TrackLocalStaticRTP
	Video *webrtc.TrackLocalStaticRTP

	stop context.CancelFunc
	once sync.Once
}

func (t *Tracks) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		if t.stop != nil {
			t.stop()
		}
		log.Info().Str("module", "call.media").Msg("local capture released")
	})
}

// Capturer acquires local capture devices for a call type.
type Capturer interface {
	Acquire(ctx context.Context, kind domain.CallType) (*Tracks, error)
}

// AcquireMedia runs the degrade-once policy: a failed audio+video grab is
// retried audio-only exactly once; a second failure is fatal for this join
// attempt. The call type actually acquired is returned alongside the tracks.
func AcquireMedia(ctx context.Context, cap Capturer, kind domain.CallType) (*Tracks, domain.CallType, error) {
	tracks, err := cap.Acquire(ctx, kind)
	if err == nil {
		return tracks, kind, nil
	}
	if !kind.WantsVideo() {
		return nil, "", fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	log.Warn().Err(err).Str("module", "call.media").Msg("video capture failed, degrading to audio only")
	tracks, err = cap.Acquire(ctx, domain.CallAudio)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	return tracks, domain.CallAudio, nil
}

// SilenceCapturer synthesizes capture for headless clients: opus silence
// frames and, for video calls, empty VP8 padding. Device-backed capture
// plugs in behind the same Capturer contract.
type SilenceCapturer struct{}

// opus "silence" frame (TOC + two DTX bytes).
var opusSilence = []byte{0xf8, 0xff, 0xfe}

func (SilenceCapturer) Acquire(ctx context.Context, kind domain.CallType) (*Tracks, error) {
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "huddle",
	)
	if err != nil {
		return nil, err
	}
	t := &Tracks{Audio: audio}
	if kind.WantsVideo() {
		video, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", "huddle",
		)
		if err != nil {
			return nil, err
		}
		t.Video = video
	}

	ctx, cancel := context.WithCancel(ctx)
	t.stop = cancel
	go pumpRTP(ctx, audio, opusSilence, 960)
	if t.Video != nil {
		go pumpRTP(ctx, t.Video, []byte{0x10, 0x00}, 1800)
	}
	log.Info().Str("module", "call.media").Str("call_type", string(kind)).Msg("synthetic capture started")
	return t, nil
}

// pumpRTP keeps a local track's timeline alive with one packet per 20ms.
// Sequence numbers and timestamps are ours; pion rewrites SSRC and payload
// type per subscriber binding.
func pumpRTP(ctx context.Context, track *webrtc.TrackLocalStaticRTP, payload []byte, tsStep uint32) {
	const frame = 20 * time.Millisecond
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	var seq uint16
	var ts uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					SequenceNumber: seq,
					Timestamp:      ts,
				},
				Payload: payload,
			}
			if err := track.WriteRTP(pkt); err != nil {
				log.Debug().Err(err).Str("module", "call.media").Msg("capture pump write failed, stopping")
				return
			}
			seq++
			ts += tsStep
		}
	}
}
