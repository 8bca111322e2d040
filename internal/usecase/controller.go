package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"liveline/internal/domain"
	"liveline/internal/ports"
)

var (
	ErrCaptureDenied = errors.New("media capture failed")
	ErrChannel       = errors.New("realtime channel failed")
	ErrStartAborted  = errors.New("live session start aborted")
)

const (
	captureErrorText = "Failed to access microphone. Please grant permission and try again."
	channelErrorText = "The voice system encountered an error."
)

// Config controls live session behavior.
type Config struct {
	// BlockSize is the number of captured samples per outbound audio chunk.
	BlockSize     int
	FrameInterval time.Duration
	// PreOpenQueue bounds the audio chunks held while the channel is opening.
	PreOpenQueue int
	InboxSize    int
}

func (c Config) withDefaults() Config {
	if c.BlockSize < 256 {
		c.BlockSize = 4096
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = 250 * time.Millisecond
	}
	if c.PreOpenQueue <= 0 {
		c.PreOpenQueue = 16
	}
	if c.InboxSize < 16 {
		c.InboxSize = 256
	}
	return c
}

// LiveDeps are the collaborators a LiveController drives. Recorders, Tracer,
// Meter and Now are optional.
type LiveDeps struct {
	Capture       ports.MediaCapture
	AudioContexts ports.AudioContextFactory
	Channels      ports.ChannelFactory
	Frames        ports.FrameEncoder
	Conversation  ports.ConversationLog
	Events        ports.EventSink
	Recorders     ports.RecorderFactory

	Tracer trace.Tracer
	Meter  metric.Meter
	Now    func() time.Time
}

// LiveController owns at most one live session at a time.
type LiveController struct {
	deps    LiveDeps
	cfg     Config
	metrics *liveMetrics

	startMu sync.Mutex

	mu      sync.Mutex
	current *liveSession
	// handoff is set while Start waits for the previous session to tear down.
	// A Stop in that window sets handoffStopped and the restart is abandoned.
	handoff        bool
	handoffStopped bool
}

func NewLiveController(deps LiveDeps, cfg Config) *LiveController {
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("liveline/usecase")
	}
	if deps.Meter == nil {
		deps.Meter = otel.Meter("liveline/usecase")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &LiveController{
		deps:    deps,
		cfg:     cfg.withDefaults(),
		metrics: newLiveMetrics(deps.Meter),
	}
}

// Start stops any current session and starts a new one. It returns once the
// realtime channel is open or the start has failed.
func (c *LiveController) Start(ctx context.Context, opts domain.StartOptions) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	ctx, span := c.deps.Tracer.Start(ctx, "live.start", trace.WithAttributes(attribute.Bool("live.video", opts.Video)))
	defer span.End()

	c.mu.Lock()
	previous := c.current
	c.handoff = previous != nil
	c.handoffStopped = false
	c.mu.Unlock()

	reason := domain.SessionReasonStarting
	if previous != nil {
		previous.stop(domain.SessionReasonRestarted)
		<-previous.done
		reason = domain.SessionReasonRestarted
	}

	c.mu.Lock()
	stopped := c.handoffStopped
	c.handoff, c.handoffStopped = false, false
	c.mu.Unlock()
	if stopped {
		err := fmt.Errorf("%w: stopped while replacing the previous session", ErrStartAborted)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	session := newLiveSession(context.WithoutCancel(ctx), c.deps, c.cfg, c.metrics, opts)
	session.onFinished = c.release
	span.SetAttributes(attribute.String("live.session_id", session.id))

	c.mu.Lock()
	c.current = session
	c.mu.Unlock()

	go session.run(reason)

	var err error
	select {
	case err = <-session.started:
	case <-ctx.Done():
		session.stop(domain.SessionReasonStartAborted)
		<-session.done
		err = fmt.Errorf("%w: %w", ErrStartAborted, ctx.Err())
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	c.metrics.sessions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("live.video", opts.Video)))
	return nil
}

// Stop tears down the current session. Without one it is a no-op.
func (c *LiveController) Stop(ctx context.Context) error {
	return c.StopWithReason(ctx, domain.SessionReasonStoppedByUser)
}

// StopWithReason is Stop with the reason reported on the stopping and idle transitions.
func (c *LiveController) StopWithReason(ctx context.Context, reason domain.SessionStateReason) error {
	c.mu.Lock()
	session := c.current
	if c.handoff {
		c.handoffStopped = true
	}
	c.mu.Unlock()
	if session == nil {
		return nil
	}

	session.stop(reason)
	select {
	case <-session.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current backend status.
func (c *LiveController) Status() domain.Status {
	c.mu.Lock()
	session := c.current
	c.mu.Unlock()
	if session == nil {
		return domain.Status{State: domain.SessionStateIdle}
	}

	state, reason := session.getState()
	return domain.Status{
		State:     state,
		Active:    state == domain.SessionStateActive,
		SessionID: session.id,
		Video:     session.video,
		Message:   string(reason),
	}
}

// Done is closed when the current session has been torn down.
func (c *LiveController) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.current.done
}

func (c *LiveController) release(session *liveSession) {
	c.mu.Lock()
	if c.current == session {
		c.current = nil
	}
	c.mu.Unlock()
}
