// Package media provides the local capture source attached to every
// peer link.
package media

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/core"
)

const (
	frameInterval  = 20 * time.Millisecond
	audioClockRate = 48000
	videoClockRate = 90000
	// Opus per-frame timestamp step at 48kHz / 20ms.
	audioTimestampStep = audioClockRate / 50
	videoTimestampStep = videoClockRate / 50
)

// opusSilence is a minimal valid Opus frame carrying silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Source owns the local audio and video tracks and the pacer goroutine
// feeding them. Enabled flags gate writes without tearing the tracks
// down, so remote links keep their negotiated media sections.
type Source struct {
	audio *webrtc.TrackLocalStaticRTP
	video *webrtc.TrackLocalStaticRTP

	audioOn atomic.Bool
	videoOn atomic.Bool

	stopOnce sync.Once
	done     chan struct{}
}

// NewSource creates the local tracks and starts pacing. withVideo
// controls whether a video track exists at all for this call.
func NewSource(withVideo bool) (*Source, error) {
	streamID := uuid.NewString()

	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audioClockRate, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, err
	}

	s := &Source{
		audio: audio,
		done:  make(chan struct{}),
	}
	s.audioOn.Store(true)

	if withVideo {
		video, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: videoClockRate},
			"video", streamID,
		)
		if err != nil {
			return nil, err
		}
		s.video = video
		s.videoOn.Store(true)
	}

	go s.pace()

	log.Info().Str("module", "media").Bool("video", withVideo).Msg("media source started")
	return s, nil
}

// Factory returns a core.MediaFactory for one-call sources.
func Factory(withVideo bool) core.MediaFactory {
	return func() (core.MediaSource, error) {
		return NewSource(withVideo)
	}
}

func (s *Source) Tracks() []webrtc.TrackLocal {
	tracks := []webrtc.TrackLocal{s.audio}
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	return tracks
}

func (s *Source) SetAudioEnabled(on bool) {
	s.audioOn.Store(on)
	log.Info().Str("module", "media").Bool("enabled", on).Msg("audio toggle")
}

func (s *Source) SetVideoEnabled(on bool) {
	if s.video == nil {
		return
	}
	s.videoOn.Store(on)
	log.Info().Str("module", "media").Bool("enabled", on).Msg("video toggle")
}

func (s *Source) AudioEnabled() bool { return s.audioOn.Load() }

func (s *Source) VideoEnabled() bool { return s.video != nil && s.videoOn.Load() }

// Stop halts the pacer. Idempotent; the session calls it exactly once
// at teardown but adapters may be stopped defensively by callers too.
func (s *Source) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		log.Info().Str("module", "media").Msg("media source stopped")
	})
}

// pace writes one RTP packet per track per frame interval. Muted
// tracks simply skip the write; sequence numbers keep advancing so
// receivers see a plain gap instead of a broken stream.
func (s *Source) pace() {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	var (
		audioSeq, videoSeq uint16
		audioTS, videoTS   uint32
	)

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			audioSeq++
			audioTS += audioTimestampStep
			if s.audioOn.Load() {
				pkt := &rtp.Packet{
					Header: rtp.Header{
						Version:        2,
						SequenceNumber: audioSeq,
						Timestamp:      audioTS,
					},
					Payload: opusSilence,
				}
				if err := s.audio.WriteRTP(pkt); err != nil {
					log.Warn().Err(err).Str("module", "media").Msg("audio write")
				}
			}

			if s.video == nil {
				continue
			}
			videoSeq++
			videoTS += videoTimestampStep
			if s.videoOn.Load() {
				pkt := &rtp.Packet{
					Header: rtp.Header{
						Version:        2,
						SequenceNumber: videoSeq,
						Timestamp:      videoTS,
						Marker:         true,
					},
					Payload: []byte{0x10, 0x00},
				}
				if err := s.video.WriteRTP(pkt); err != nil {
					log.Warn().Err(err).Str("module", "media").Msg("video write")
				}
			}
		}
	}
}
