package usecase

import (
	"time"

	"github.com/rs/zerolog/log"

	"liveline/internal/domain"
	"liveline/internal/pcm"
)

// processBlock runs on the capture goroutine. Blocks are encoded there and
// queued to the loop in capture order.
func (s *liveSession) processBlock(block []float32) {
	chunk, samples := pcm.EncodeChunk(block)
	s.post(audioCaptured{chunk: chunk, samples: samples})
}

func (s *liveSession) onAudioCaptured(e audioCaptured) {
	if s.recorder != nil {
		if err := s.recorder.RecordInput(e.samples); err != nil {
			log.Debug().Err(err).Msg("failed to record microphone audio")
		}
	}

	switch s.currentState() {
	case domain.SessionStateActive:
		s.send(e.chunk)
	case domain.SessionStateStarting:
		s.queuePreOpen(e.chunk)
	}
}

// queuePreOpen keeps the most recent chunks until the channel opens.
func (s *liveSession) queuePreOpen(chunk domain.MediaChunk) {
	if len(s.preOpen) >= s.cfg.PreOpenQueue {
		s.preOpen = append(s.preOpen[:0], s.preOpen[1:]...)
	}
	s.preOpen = append(s.preOpen, chunk)
}

func (s *liveSession) startFrameSampler() {
	stop := make(chan struct{})
	s.frameStop = stop

	go func() {
		ticker := time.NewTicker(s.cfg.FrameInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !s.post(frameTick{}) {
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

// sampleFrame encodes the latest camera frame unless an encode is still running.
func (s *liveSession) sampleFrame() {
	if s.currentState() != domain.SessionStateActive || s.stream == nil || s.stream.Video() == nil {
		return
	}
	if s.encoding {
		s.metrics.framesDropped.Add(s.telemetry, 1)
		return
	}

	frame, ok := s.stream.Video().Snapshot()
	if !ok {
		return
	}
	s.encoding = true
	go func() {
		chunk, err := s.deps.Frames.Encode(frame)
		s.post(frameEncoded{chunk: chunk, err: err})
	}()
}

func (s *liveSession) onFrameEncoded(e frameEncoded) {
	s.encoding = false
	if e.err != nil {
		log.Debug().Err(e.err).Str("session_id", s.id).Msg("skipping camera frame")
		return
	}
	if s.currentState() == domain.SessionStateActive {
		s.send(e.chunk)
	}
}
