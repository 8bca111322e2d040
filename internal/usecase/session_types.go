package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"liveline/internal/domain"
	"liveline/internal/ports"
)

// liveSession is one start-to-teardown lifetime. Fields below the loop marker
// are only touched by the session's event loop goroutine.
type liveSession struct {
	id        string
	video     bool
	deps      LiveDeps
	cfg       Config
	metrics   *liveMetrics
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	// telemetry outlives ctx so teardown can still record.
	telemetry context.Context

	inbox   chan sessionEvent
	quit    chan struct{}
	done    chan struct{}
	started chan error

	postMu sync.RWMutex
	closed bool

	stateMu sync.Mutex
	state   domain.SessionState
	reason  domain.SessionStateReason

	onFinished func(*liveSession)

	// loop
	settled   bool
	stream    ports.MediaStream
	input     ports.AudioContext
	output    ports.AudioContext
	node      ports.AudioNode
	channel   ports.Channel
	recorder  ports.Recorder
	frameStop chan struct{}
	encoding  bool
	preOpen   []domain.MediaChunk
	turn      turnBuffer
	playback  *playbackScheduler
	finalizer transcriptFinalizer
}

func newLiveSession(parent context.Context, deps LiveDeps, cfg Config, metrics *liveMetrics, opts domain.StartOptions) *liveSession {
	ctx, cancel := context.WithCancel(parent)
	s := &liveSession{
		id:        uuid.NewString(),
		video:     opts.Video,
		deps:      deps,
		cfg:       cfg,
		metrics:   metrics,
		startedAt: deps.Now(),
		ctx:       ctx,
		cancel:    cancel,
		telemetry: parent,
		inbox:     make(chan sessionEvent, cfg.InboxSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		started:   make(chan error, 1),
		state:     domain.SessionStateIdle,
		reason:    domain.SessionReasonReady,
	}
	s.finalizer = newTranscriptFinalizer(s.id, deps.Conversation, deps.Now)
	s.playback = newPlaybackScheduler(func(id uint64) {
		s.post(sourceEnded{id: id})
	})
	return s
}

type sessionEvent any

type audioCaptured struct {
	chunk   domain.MediaChunk
	samples []int16
}

type frameTick struct{}

type frameEncoded struct {
	chunk domain.MediaChunk
	err   error
}

type channelOpened struct {
	channel ports.Channel
	err     error
}

type channelMessage struct {
	msg domain.LiveMessage
}

type channelFailed struct {
	err error
}

type channelClosed struct {
	reason string
}

type sourceEnded struct {
	id uint64
}

type stopRequested struct {
	reason domain.SessionStateReason
}

// post queues an event for the loop. It reports false once teardown has begun.
func (s *liveSession) post(ev sessionEvent) bool {
	s.postMu.RLock()
	defer s.postMu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.inbox <- ev:
		return true
	case <-s.quit:
		return false
	}
}

// closePosts rejects further posts and waits for in-flight ones to settle.
func (s *liveSession) closePosts() {
	select {
	case <-s.quit:
		return
	default:
	}
	close(s.quit)
	s.postMu.Lock()
	s.closed = true
	s.postMu.Unlock()
}

func (s *liveSession) stop(reason domain.SessionStateReason) {
	s.cancel()
	s.post(stopRequested{reason: reason})
}

func (s *liveSession) setState(state domain.SessionState, reason domain.SessionStateReason) {
	s.stateMu.Lock()
	s.state = state
	s.reason = reason
	s.stateMu.Unlock()

	if s.deps.Events != nil {
		s.deps.Events.SessionStateChanged(state, reason)
	}
}

func (s *liveSession) getState() (domain.SessionState, domain.SessionStateReason) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state, s.reason
}

func (s *liveSession) currentState() domain.SessionState {
	state, _ := s.getState()
	return state
}
