package ports

import (
	"context"
	"image"

	"liveline/internal/domain"
)

// MediaConstraints selects the devices to acquire.
type MediaConstraints struct {
	Audio bool
	Video bool
}

// Track is one acquired device handle.
type Track interface {
	Kind() string
	Stop() error
}

// AudioTrack yields captured float samples in [-1, 1].
type AudioTrack interface {
	Track
	// ReadBlock fills dst and returns the number of samples written.
	ReadBlock(dst []float32) (int, error)
}

// VideoTrack exposes the most recent camera frame.
type VideoTrack interface {
	Track
	Snapshot() (image.Image, bool)
}

// MediaStream is the set of tracks acquired for one session.
type MediaStream interface {
	Audio() AudioTrack
	// Video is nil when no camera was requested.
	Video() VideoTrack
	Tracks() []Track
}

// MediaCapture acquires microphone and camera devices.
type MediaCapture interface {
	Acquire(ctx context.Context, constraints MediaConstraints) (MediaStream, error)
}

// AudioNode is a processing node connected to a capture track.
type AudioNode interface {
	Disconnect()
}

// AudioSource is one scheduled unit of output audio.
type AudioSource interface {
	Start(at float64) error
	Stop()
	Duration() float64
}

// AudioContext supplies a sample-rate bound clock, capture processing and scheduled playback.
type AudioContext interface {
	SampleRate() int
	// CurrentTime is the context clock in seconds.
	CurrentTime() float64
	Connect(track AudioTrack, blockSize int, process func(block []float32)) (AudioNode, error)
	CreateSource(buf *domain.AudioBuffer, onEnded func()) AudioSource
	Close() error
}

// AudioContextFactory creates audio contexts at a fixed sample rate.
type AudioContextFactory interface {
	NewContext(sampleRate int) (AudioContext, error)
}

// ChannelCallbacks receive inbound realtime channel traffic.
type ChannelCallbacks struct {
	OnMessage func(msg domain.LiveMessage)
	OnError   func(err error)
	OnClose   func(reason string)
}

// Channel is an open realtime connection to the inference provider.
type Channel interface {
	Send(chunk domain.MediaChunk) error
	Close() error
}

// ChannelFactory opens realtime channels.
type ChannelFactory interface {
	Open(ctx context.Context, callbacks ChannelCallbacks) (Channel, error)
}

// FrameEncoder turns a camera frame into a media chunk.
type FrameEncoder interface {
	Encode(frame image.Image) (domain.MediaChunk, error)
}

// Recorder stores the PCM exchanged during a session.
type Recorder interface {
	RecordInput(samples []int16) error
	RecordOutput(samples []int16) error
	Close() error
}

// RecorderFactory opens a recorder per session.
type RecorderFactory interface {
	NewRecorder(sessionID string) (Recorder, error)
}

// ConversationLog receives finalized chat entries. It is append-only.
type ConversationLog interface {
	Append(entry domain.ChatEntry) error
}

// EventSink emits backend state to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
}
