package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog/log"

	"liveline/internal/pcm"
	"liveline/internal/ports"
)

// WavRecorderFactory writes one WAV file per direction for every session.
type WavRecorderFactory struct {
	dir string
}

func NewWavRecorderFactory(dir string) *WavRecorderFactory {
	return &WavRecorderFactory{dir: dir}
}

func (f *WavRecorderFactory) NewRecorder(sessionID string) (ports.Recorder, error) {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}

	input, err := newWavTrack(filepath.Join(f.dir, sessionID+"-user.wav"), pcm.InputSampleRate)
	if err != nil {
		return nil, err
	}
	output, err := newWavTrack(filepath.Join(f.dir, sessionID+"-model.wav"), pcm.OutputSampleRate)
	if err != nil {
		_ = input.Close()
		return nil, err
	}

	log.Debug().Str("session", sessionID).Str("dir", f.dir).Msg("recording live session")
	return &wavRecorder{input: input, output: output}, nil
}

type wavRecorder struct {
	input  *wavTrack
	output *wavTrack
}

func (r *wavRecorder) RecordInput(samples []int16) error {
	return r.input.Write(samples)
}

func (r *wavRecorder) RecordOutput(samples []int16) error {
	return r.output.Write(samples)
}

func (r *wavRecorder) Close() error {
	return errors.Join(r.input.Close(), r.output.Close())
}

type wavTrack struct {
	mu     sync.Mutex
	file   *os.File
	enc    *wav.Encoder
	format *goaudio.Format
	closed bool
}

func newWavTrack(path string, sampleRate int) (*wavTrack, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording %q: %w", path, err)
	}
	return &wavTrack{
		file:   file,
		enc:    wav.NewEncoder(file, sampleRate, 16, 1, 1),
		format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
	}, nil
}

func (t *wavTrack) Write(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("recording is closed")
	}
	return t.enc.Write(&goaudio.IntBuffer{Format: t.format, Data: data, SourceBitDepth: 16})
}

// Close finalizes the WAV headers and closes the file.
func (t *wavTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return errors.Join(t.enc.Close(), t.file.Close())
}
