package usecase

import (
	"context"
	"image"
	"io"
	"sync"
	"testing"
	"time"

	"liveline/internal/domain"
	"liveline/internal/ports"
)

type fakeTrack struct {
	kind string

	mu    sync.Mutex
	stops int
}

func (t *fakeTrack) Kind() string {
	return t.kind
}

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	return nil
}

func (t *fakeTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

type fakeAudioTrack struct {
	fakeTrack
}

func (t *fakeAudioTrack) ReadBlock(dst []float32) (int, error) {
	return 0, io.EOF
}

type fakeVideoTrack struct {
	fakeTrack
	frame image.Image
}

func (t *fakeVideoTrack) Snapshot() (image.Image, bool) {
	return t.frame, t.frame != nil
}

type fakeStream struct {
	audio *fakeAudioTrack
	video *fakeVideoTrack
}

func (s *fakeStream) Audio() ports.AudioTrack {
	if s.audio == nil {
		return nil
	}
	return s.audio
}

func (s *fakeStream) Video() ports.VideoTrack {
	if s.video == nil {
		return nil
	}
	return s.video
}

func (s *fakeStream) Tracks() []ports.Track {
	var tracks []ports.Track
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	return tracks
}

type fakeCapture struct {
	mu      sync.Mutex
	err     error
	block   bool
	streams []*fakeStream
	entered chan struct{}
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{entered: make(chan struct{}, 8)}
}

func (c *fakeCapture) Acquire(ctx context.Context, constraints ports.MediaConstraints) (ports.MediaStream, error) {
	c.mu.Lock()
	err := c.err
	block := c.block
	c.mu.Unlock()
	c.entered <- struct{}{}

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	stream := &fakeStream{audio: &fakeAudioTrack{fakeTrack{kind: "audio"}}}
	if constraints.Video {
		frame := image.NewRGBA(image.Rect(0, 0, 4, 4))
		stream.video = &fakeVideoTrack{fakeTrack: fakeTrack{kind: "video"}, frame: frame}
	}
	c.mu.Lock()
	c.streams = append(c.streams, stream)
	c.mu.Unlock()
	return stream, nil
}

func (c *fakeCapture) stream(i int) *fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.streams) {
		return nil
	}
	return c.streams[i]
}

type fakeSource struct {
	buf     *domain.AudioBuffer
	onEnded func()

	mu      sync.Mutex
	startAt float64
	started bool
	stopped bool
}

func (s *fakeSource) Start(at float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startAt = at
	s.started = true
	return nil
}

func (s *fakeSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *fakeSource) Duration() float64 {
	return s.buf.Duration()
}

func (s *fakeSource) snapshot() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startAt, s.stopped
}

type fakeNode struct {
	mu           sync.Mutex
	disconnected int
}

func (n *fakeNode) Disconnect() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnected++
}

type fakeAudioContext struct {
	rate int

	mu      sync.Mutex
	now     float64
	process func([]float32)
	node    *fakeNode
	sources []*fakeSource
	closes  int
}

func (c *fakeAudioContext) SampleRate() int {
	return c.rate
}

func (c *fakeAudioContext) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeAudioContext) setNow(now float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *fakeAudioContext) Connect(track ports.AudioTrack, blockSize int, process func([]float32)) (ports.AudioNode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.process = process
	c.node = &fakeNode{}
	return c.node, nil
}

func (c *fakeAudioContext) CreateSource(buf *domain.AudioBuffer, onEnded func()) ports.AudioSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := &fakeSource{buf: buf, onEnded: onEnded}
	c.sources = append(c.sources, src)
	return src
}

func (c *fakeAudioContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeAudioContext) push(block []float32) {
	c.mu.Lock()
	process := c.process
	c.mu.Unlock()
	process(block)
}

func (c *fakeAudioContext) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.process != nil
}

func (c *fakeAudioContext) sourceList() []*fakeSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeSource(nil), c.sources...)
}

func (c *fakeAudioContext) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type fakeAudioFactory struct {
	mu       sync.Mutex
	errs     map[int]error
	contexts map[int][]*fakeAudioContext
	// now seeds CurrentTime of new output contexts.
	now float64
}

func newFakeAudioFactory() *fakeAudioFactory {
	return &fakeAudioFactory{errs: map[int]error{}, contexts: map[int][]*fakeAudioContext{}}
}

func (f *fakeAudioFactory) NewContext(sampleRate int) (ports.AudioContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[sampleRate]; err != nil {
		return nil, err
	}
	ctx := &fakeAudioContext{rate: sampleRate, now: f.now}
	f.contexts[sampleRate] = append(f.contexts[sampleRate], ctx)
	return ctx, nil
}

func (f *fakeAudioFactory) latest(sampleRate int) *fakeAudioContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.contexts[sampleRate]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

type fakeChannel struct {
	mu     sync.Mutex
	sent   []domain.MediaChunk
	closes int

	// closing is signalled on every Close, which then blocks until closeGate is closed.
	closing   chan struct{}
	closeGate chan struct{}
}

func (c *fakeChannel) Send(chunk domain.MediaChunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, chunk)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()

	if c.closing != nil {
		select {
		case c.closing <- struct{}{}:
		default:
		}
	}
	if c.closeGate != nil {
		<-c.closeGate
	}
	return nil
}

func (c *fakeChannel) sentChunks() []domain.MediaChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.MediaChunk(nil), c.sent...)
}

func (c *fakeChannel) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type fakeChannelFactory struct {
	mu        sync.Mutex
	err       error
	gate      chan struct{}
	calls     int
	channels  []*fakeChannel
	callbacks ports.ChannelCallbacks
	entered   chan struct{}
	closing   chan struct{}
	closeGate chan struct{}
}

func newFakeChannelFactory() *fakeChannelFactory {
	return &fakeChannelFactory{entered: make(chan struct{}, 8), closing: make(chan struct{}, 8)}
}

func (f *fakeChannelFactory) Open(ctx context.Context, callbacks ports.ChannelCallbacks) (ports.Channel, error) {
	f.mu.Lock()
	f.calls++
	f.callbacks = callbacks
	gate := f.gate
	err := f.err
	f.mu.Unlock()
	f.entered <- struct{}{}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	ch := &fakeChannel{closing: f.closing, closeGate: f.closeGate}
	f.channels = append(f.channels, ch)
	f.mu.Unlock()
	return ch, nil
}

func (f *fakeChannelFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeChannelFactory) latest() *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.channels) == 0 {
		return nil
	}
	return f.channels[len(f.channels)-1]
}

func (f *fakeChannelFactory) currentCallbacks() ports.ChannelCallbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callbacks
}

type fakeConversation struct {
	mu      sync.Mutex
	entries []domain.ChatEntry
}

func (c *fakeConversation) Append(entry domain.ChatEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return nil
}

func (c *fakeConversation) snapshot() []domain.ChatEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ChatEntry(nil), c.entries...)
}

type stateChange struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type fakeEventSink struct {
	mu     sync.Mutex
	states []stateChange
}

func (s *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, stateChange{state: state, reason: reason})
}

func (s *fakeEventSink) snapshotStates() []stateChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stateChange(nil), s.states...)
}

type fakeEncoder struct {
	gate chan struct{}

	mu        sync.Mutex
	calls     int
	active    int
	maxActive int
}

func (e *fakeEncoder) Encode(frame image.Image) (domain.MediaChunk, error) {
	e.mu.Lock()
	e.calls++
	e.active++
	if e.active > e.maxActive {
		e.maxActive = e.active
	}
	gate := e.gate
	e.mu.Unlock()

	if gate != nil {
		<-gate
	}

	e.mu.Lock()
	e.active--
	e.mu.Unlock()
	return domain.MediaChunk{Data: "frame", MimeType: "image/jpeg"}, nil
}

func (e *fakeEncoder) counts() (calls int, maxActive int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls, e.maxActive
}

type fakeRecorder struct {
	mu     sync.Mutex
	input  []int16
	output []int16
	closes int
}

func (r *fakeRecorder) RecordInput(samples []int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.input = append(r.input, samples...)
	return nil
}

func (r *fakeRecorder) RecordOutput(samples []int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output = append(r.output, samples...)
	return nil
}

func (r *fakeRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

type fakeRecorderFactory struct {
	recorder *fakeRecorder
}

func (f *fakeRecorderFactory) NewRecorder(sessionID string) (ports.Recorder, error) {
	return f.recorder, nil
}

type harness struct {
	controller   *LiveController
	capture      *fakeCapture
	audio        *fakeAudioFactory
	channels     *fakeChannelFactory
	encoder      *fakeEncoder
	conversation *fakeConversation
	events       *fakeEventSink
	recorder     *fakeRecorder
}

func newHarness(t *testing.T, cfg Config, configure func(h *harness)) *harness {
	t.Helper()

	h := &harness{
		capture:      newFakeCapture(),
		audio:        newFakeAudioFactory(),
		channels:     newFakeChannelFactory(),
		encoder:      &fakeEncoder{},
		conversation: &fakeConversation{},
		events:       &fakeEventSink{},
		recorder:     &fakeRecorder{},
	}
	if configure != nil {
		configure(h)
	}

	h.controller = NewLiveController(LiveDeps{
		Capture:       h.capture,
		AudioContexts: h.audio,
		Channels:      h.channels,
		Frames:        h.encoder,
		Conversation:  h.conversation,
		Events:        h.events,
		Recorders:     &fakeRecorderFactory{recorder: h.recorder},
		Now:           func() time.Time { return time.Unix(1700000000, 0) },
	}, cfg)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.controller.Stop(ctx)
	})
	return h
}

func (r *fakeRecorder) snapshotOutput() []int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int16(nil), r.output...)
}
