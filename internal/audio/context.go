package audio

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"liveline/internal/domain"
	"liveline/internal/pcm"
	"liveline/internal/ports"
)

var ErrContextClosed = errors.New("audio context is closed")

const (
	// playbackSlice is the unit handed to the sink; Stop takes effect between slices.
	playbackSlice = 20 * time.Millisecond
	// playbackLead is how far ahead of the clock slices are written.
	playbackLead = 40 * time.Millisecond
)

// Context is a realtime audio context. Its clock starts at zero on creation and
// advances with wall time. Scheduled sources are written to the sink as PCM16 in
// short slices paced by the clock, from their start time on.
type Context struct {
	sampleRate int
	sink       io.WriteCloser
	now        func() time.Time
	origin     time.Time

	mu      sync.Mutex
	writeMu sync.Mutex
	closed  bool
	nodes   map[*processorNode]struct{}
	sources map[*source]struct{}
}

// NewContext creates a context. sink may be nil for capture-only contexts.
func NewContext(sampleRate int, sink io.WriteCloser) *Context {
	return newContextWithClock(sampleRate, sink, time.Now)
}

func newContextWithClock(sampleRate int, sink io.WriteCloser, now func() time.Time) *Context {
	return &Context{
		sampleRate: sampleRate,
		sink:       sink,
		now:        now,
		origin:     now(),
		nodes:      make(map[*processorNode]struct{}),
		sources:    make(map[*source]struct{}),
	}
}

func (c *Context) SampleRate() int {
	return c.sampleRate
}

func (c *Context) CurrentTime() float64 {
	return c.now().Sub(c.origin).Seconds()
}

// Connect starts pulling fixed-size blocks from track and hands copies to process
// until the track ends or the node is disconnected.
func (c *Context) Connect(track ports.AudioTrack, blockSize int, process func(block []float32)) (ports.AudioNode, error) {
	if track == nil {
		return nil, errors.New("no audio track to connect")
	}
	if blockSize <= 0 {
		blockSize = 4096
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrContextClosed
	}

	node := &processorNode{ctx: c, stop: make(chan struct{})}
	c.nodes[node] = struct{}{}
	go node.run(track, blockSize, process)
	return node, nil
}

func (c *Context) CreateSource(buf *domain.AudioBuffer, onEnded func()) ports.AudioSource {
	return &source{ctx: c, buf: buf, onEnded: onEnded, halt: make(chan struct{})}
}

// Close stops every source and node and closes the sink.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	nodes := c.nodes
	sources := c.sources
	c.nodes = map[*processorNode]struct{}{}
	c.sources = map[*source]struct{}{}
	c.mu.Unlock()

	for node := range nodes {
		node.Disconnect()
	}
	for src := range sources {
		src.Stop()
	}

	if c.sink == nil {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sink.Close()
}

func (c *Context) write(p []byte) error {
	if c.sink == nil {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.sink.Write(p)
	return err
}

func (c *Context) forget(src *source) {
	c.mu.Lock()
	delete(c.sources, src)
	c.mu.Unlock()
}

func interleave(buf *domain.AudioBuffer) []byte {
	frames := buf.Frames()
	channels := len(buf.Channels)
	flat := make([]float32, 0, frames*channels)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			flat = append(flat, buf.Channels[ch][i])
		}
	}
	return pcm.Pack(pcm.Quantize(flat))
}

type processorNode struct {
	ctx      *Context
	stop     chan struct{}
	stopOnce sync.Once
}

func (n *processorNode) run(track ports.AudioTrack, blockSize int, process func([]float32)) {
	buf := make([]float32, blockSize)
	for {
		read, err := track.ReadBlock(buf)
		if read > 0 {
			select {
			case <-n.stop:
				return
			default:
			}
			block := make([]float32, read)
			copy(block, buf[:read])
			process(block)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Msg("audio capture node ended")
			}
			return
		}
	}
}

func (n *processorNode) Disconnect() {
	n.stopOnce.Do(func() {
		close(n.stop)
		n.ctx.mu.Lock()
		delete(n.ctx.nodes, n)
		n.ctx.mu.Unlock()
	})
}

type source struct {
	ctx     *Context
	buf     *domain.AudioBuffer
	onEnded func()

	mu      sync.Mutex
	started bool
	stopped bool
	timer   *time.Timer
	// halt is closed once the source is stopped or finished.
	halt chan struct{}
}

func (s *source) Duration() float64 {
	return s.buf.Duration()
}

// Start schedules playback at the given context time. Times in the past start immediately.
func (s *source) Start(at float64) error {
	s.ctx.mu.Lock()
	if s.ctx.closed {
		s.ctx.mu.Unlock()
		return ErrContextClosed
	}
	s.ctx.sources[s] = struct{}{}
	s.ctx.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("audio source already started")
	}
	s.started = true

	delay := secondsToDuration(at - s.ctx.CurrentTime())
	s.timer = time.AfterFunc(delay, s.play)
	return nil
}

// play writes the buffer one slice at a time, keeping at most playbackLead of
// audio ahead of the clock, then waits for the last slice to drain.
func (s *source) play() {
	if s.buf.SampleRate <= 0 || len(s.buf.Channels) == 0 {
		s.finish()
		return
	}
	data := interleave(s.buf)
	frameBytes := 2 * len(s.buf.Channels)
	sliceBytes := frameBytes * int(int64(s.buf.SampleRate)*int64(playbackSlice)/int64(time.Second))
	if sliceBytes <= 0 {
		sliceBytes = len(data)
	}
	bytesPerSecond := float64(frameBytes * s.buf.SampleRate)
	offset := func(n int) time.Duration {
		return time.Duration(float64(n) / bytesPerSecond * float64(time.Second))
	}

	begin := s.ctx.now()
	for off := 0; off < len(data); off += sliceBytes {
		if !s.sleepUntil(begin.Add(offset(off) - playbackLead)) {
			return
		}
		end := min(off+sliceBytes, len(data))
		if err := s.ctx.write(data[off:end]); err != nil {
			log.Warn().Err(err).Msg("failed to write audio to playback device")
			break
		}
	}

	if s.sleepUntil(begin.Add(offset(len(data)))) {
		s.finish()
	}
}

// sleepUntil waits for the context clock to reach t. It reports false if the
// source was stopped first.
func (s *source) sleepUntil(t time.Time) bool {
	if wait := t.Sub(s.ctx.now()); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-s.halt:
			return false
		case <-timer.C:
		}
	}
	select {
	case <-s.halt:
		return false
	default:
		return true
	}
}

func (s *source) finish() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.halt)
	s.mu.Unlock()

	s.ctx.forget(s)
	if s.onEnded != nil {
		s.onEnded()
	}
}

// Stop cancels playback, including the unwritten part of a source that is
// already playing. The end callback is not invoked for stopped sources.
func (s *source) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.halt)
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.ctx.forget(s)
}

func secondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// ContextFactory builds contexts, attaching a playback device to output contexts.
type ContextFactory struct {
	player *Player
}

func NewContextFactory(player *Player) *ContextFactory {
	return &ContextFactory{player: player}
}

// NewContext returns a capture-only context for the input rate and a playback
// context for any other rate.
func (f *ContextFactory) NewContext(sampleRate int) (ports.AudioContext, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	if f.player == nil || sampleRate == pcm.InputSampleRate {
		return NewContext(sampleRate, nil), nil
	}
	sink, err := f.player.Open(sampleRate, 1)
	if err != nil {
		return nil, err
	}
	return NewContext(sampleRate, sink), nil
}
