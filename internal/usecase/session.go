package usecase

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"liveline/internal/domain"
	"liveline/internal/pcm"
	"liveline/internal/ports"
)

func (s *liveSession) run(reason domain.SessionStateReason) {
	defer s.finish()

	s.setState(domain.SessionStateStarting, reason)
	if err := s.begin(); err != nil {
		s.failStart(err)
		return
	}

	for ev := range s.inbox {
		if s.handle(ev) {
			return
		}
	}
}

// begin acquires devices and audio contexts, then opens the channel in the background.
func (s *liveSession) begin() error {
	stream, err := s.deps.Capture.Acquire(s.ctx, ports.MediaConstraints{Audio: true, Video: s.video})
	if err != nil {
		return err
	}
	s.stream = stream
	if stream.Audio() == nil {
		return errors.New("no microphone track acquired")
	}

	if s.input, err = s.deps.AudioContexts.NewContext(pcm.InputSampleRate); err != nil {
		return fmt.Errorf("create input audio context: %w", err)
	}
	if s.output, err = s.deps.AudioContexts.NewContext(pcm.OutputSampleRate); err != nil {
		return fmt.Errorf("create output audio context: %w", err)
	}
	s.playback.attach(s.output)

	if s.deps.Recorders != nil {
		recorder, err := s.deps.Recorders.NewRecorder(s.id)
		if err != nil {
			log.Warn().Err(err).Str("session_id", s.id).Msg("session recording disabled")
		} else {
			s.recorder = recorder
		}
	}

	if s.node, err = s.input.Connect(stream.Audio(), s.cfg.BlockSize, s.processBlock); err != nil {
		return fmt.Errorf("connect microphone: %w", err)
	}
	if s.video && stream.Video() != nil && s.deps.Frames != nil {
		s.startFrameSampler()
	}

	go s.openChannel()
	return nil
}

func (s *liveSession) openChannel() {
	callbacks := ports.ChannelCallbacks{
		OnMessage: func(msg domain.LiveMessage) {
			s.post(channelMessage{msg: msg})
		},
		OnError: func(err error) {
			s.post(channelFailed{err: err})
		},
		OnClose: func(reason string) {
			s.post(channelClosed{reason: reason})
		},
	}

	channel, err := s.deps.Channels.Open(s.ctx, callbacks)
	if !s.post(channelOpened{channel: channel, err: err}) && channel != nil {
		_ = channel.Close()
	}
}

// handle applies one event and reports whether the session has ended.
func (s *liveSession) handle(ev sessionEvent) bool {
	switch e := ev.(type) {
	case audioCaptured:
		s.onAudioCaptured(e)
	case frameTick:
		s.sampleFrame()
	case frameEncoded:
		s.onFrameEncoded(e)
	case channelOpened:
		return s.onChannelOpened(e)
	case channelMessage:
		s.onMessage(e.msg)
	case channelFailed:
		s.onChannelError(e.err)
		return true
	case channelClosed:
		s.onChannelClose(e.reason)
		return true
	case sourceEnded:
		s.playback.ended(e.id)
	case stopRequested:
		s.onStop(e.reason)
		return true
	}
	return false
}

func (s *liveSession) failStart(err error) {
	if s.ctx.Err() != nil {
		s.teardown()
		s.setState(domain.SessionStateIdle, domain.SessionReasonStartAborted)
		s.settle(fmt.Errorf("%w: %w", ErrStartAborted, err))
		return
	}

	log.Error().Err(err).Str("session_id", s.id).Msg("failed to start live session")
	s.setState(domain.SessionStateError, domain.SessionReasonCaptureDenied)
	s.finalizer.Error(captureErrorText)
	s.teardown()
	s.setState(domain.SessionStateIdle, domain.SessionReasonCaptureDenied)
	s.settle(fmt.Errorf("%w: %w", ErrCaptureDenied, err))
}

func (s *liveSession) onChannelOpened(e channelOpened) bool {
	if e.err != nil {
		if s.ctx.Err() != nil {
			s.onStop(domain.SessionReasonStartAborted)
			return true
		}
		s.onChannelError(e.err)
		return true
	}

	s.channel = e.channel
	s.setState(domain.SessionStateActive, domain.SessionReasonActive)
	for _, chunk := range s.preOpen {
		s.send(chunk)
	}
	s.preOpen = nil
	s.settle(nil)
	log.Info().Str("session_id", s.id).Bool("video", s.video).Msg("live session active")
	return false
}

func (s *liveSession) onChannelError(err error) {
	log.Error().Err(err).Str("session_id", s.id).Msg("live channel error")
	s.setState(domain.SessionStateError, domain.SessionReasonChannelError)
	s.finalizer.Error(channelErrorText)
	s.teardown()
	s.setState(domain.SessionStateIdle, domain.SessionReasonChannelError)
	s.settle(fmt.Errorf("%w: %w", ErrChannel, err))
}

func (s *liveSession) onChannelClose(reason string) {
	log.Info().Str("session_id", s.id).Str("reason", reason).Msg("live channel closed")
	s.setState(domain.SessionStateStopping, domain.SessionReasonChannelClosed)
	s.teardown()
	s.setState(domain.SessionStateIdle, domain.SessionReasonChannelClosed)
	s.settle(fmt.Errorf("%w: closed before becoming active: %s", ErrChannel, reason))
}

func (s *liveSession) onStop(reason domain.SessionStateReason) {
	if !s.settled {
		reason = domain.SessionReasonStartAborted
	}
	s.setState(domain.SessionStateStopping, reason)
	s.teardown()
	s.setState(domain.SessionStateIdle, reason)
	s.settle(ErrStartAborted)
}

// settle reports the outcome of Start exactly once.
func (s *liveSession) settle(err error) {
	if s.settled {
		return
	}
	s.settled = true
	s.started <- err
}

func (s *liveSession) onMessage(msg domain.LiveMessage) {
	s.turn.addInput(msg.InputTranscript)
	s.turn.addOutput(msg.OutputTranscript)
	if msg.TurnComplete {
		s.finalizer.Finalize(&s.turn)
	}

	for _, chunk := range msg.Audio {
		s.playChunk(chunk)
	}

	if msg.Interrupted {
		s.playback.interrupt()
		s.metrics.interruptions.Add(s.telemetry, 1)
	}
}

func (s *liveSession) playChunk(chunk domain.MediaChunk) {
	buf, samples, err := pcm.DecodeBase64(chunk.Data, pcm.OutputSampleRate, 1)
	if err != nil {
		log.Debug().Err(err).Str("session_id", s.id).Msg("skipping undecodable audio")
		return
	}
	if buf.Frames() == 0 {
		return
	}
	if s.recorder != nil {
		if err := s.recorder.RecordOutput(samples); err != nil {
			log.Debug().Err(err).Msg("failed to record model audio")
		}
	}
	if _, err := s.playback.schedule(buf); err != nil {
		log.Warn().Err(err).Str("session_id", s.id).Msg("failed to schedule audio")
		return
	}
	s.metrics.audioUnits.Add(s.telemetry, 1)
}

func (s *liveSession) send(chunk domain.MediaChunk) {
	if s.channel == nil {
		return
	}
	if err := s.channel.Send(chunk); err != nil {
		log.Debug().Err(err).Str("session_id", s.id).Msg("dropping outbound chunk")
		return
	}
	s.metrics.chunksSent.Add(s.telemetry, 1, metric.WithAttributes(attribute.String("mime_type", chunk.MimeType)))
}

// teardown releases everything the session acquired. Each step runs even if
// an earlier one failed.
func (s *liveSession) teardown() {
	s.cancel()
	s.closePosts()

	var errs []error
	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
		s.channel = nil
	}
	if s.stream != nil {
		for _, track := range s.stream.Tracks() {
			if err := track.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop %s track: %w", track.Kind(), err))
			}
		}
		s.stream = nil
	}
	if s.frameStop != nil {
		close(s.frameStop)
		s.frameStop = nil
	}
	if s.node != nil {
		s.node.Disconnect()
		s.node = nil
	}
	for _, ctx := range []ports.AudioContext{s.input, s.output} {
		if ctx == nil {
			continue
		}
		if err := ctx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audio context: %w", err))
		}
	}
	s.input, s.output = nil, nil
	s.playback.interrupt()
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close recorder: %w", err))
		}
		s.recorder = nil
	}
	s.preOpen = nil
	s.drain()

	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Str("session_id", s.id).Msg("live session teardown was not clean")
	}
}

// drain discards events queued before posts were closed.
func (s *liveSession) drain() {
	for {
		select {
		case ev := <-s.inbox:
			if opened, ok := ev.(channelOpened); ok && opened.channel != nil {
				_ = opened.channel.Close()
			}
		default:
			return
		}
	}
}

func (s *liveSession) finish() {
	s.metrics.duration.Record(s.telemetry, s.deps.Now().Sub(s.startedAt).Seconds())
	if s.onFinished != nil {
		s.onFinished(s)
	}
	close(s.done)
}
