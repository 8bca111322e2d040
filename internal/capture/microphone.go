package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"strconv"
	"sync"
)

// MicrophoneConfig describes how the microphone should be captured.
type MicrophoneConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	SampleRate  int
}

func (c MicrophoneConfig) withDefaults() MicrophoneConfig {
	if c.Command == "" {
		c.Command = "ffmpeg"
	}
	if c.InputFormat == "" {
		c.InputFormat = "pulse"
	}
	if c.InputDevice == "" {
		c.InputDevice = "default"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	return c
}

func microphoneArgs(cfg MicrophoneConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", "1",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "f32le",
		"-",
	}
}

// microphoneTrack reads mono little-endian float32 samples from ffmpeg.
type microphoneTrack struct {
	proc *ffmpegProcess

	mu  sync.Mutex
	raw []byte
}

func openMicrophone(ctx context.Context, cfg MicrophoneConfig) (*microphoneTrack, error) {
	cfg = cfg.withDefaults()
	proc, err := startFFMPEG(ctx, cfg.Command, microphoneArgs(cfg))
	if err != nil {
		return nil, err
	}
	return &microphoneTrack{proc: proc}, nil
}

func (t *microphoneTrack) Kind() string {
	return "audio"
}

// ReadBlock blocks until dst is full or the stream ends.
func (t *microphoneTrack) ReadBlock(dst []float32) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	need := len(dst) * 4
	if cap(t.raw) < need {
		t.raw = make([]byte, need)
	}
	raw := t.raw[:need]

	n, err := io.ReadFull(t.proc, raw)
	samples := n / 4
	for i := 0; i < samples; i++ {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return samples, err
}

func (t *microphoneTrack) Stop() error {
	return t.proc.Stop()
}
