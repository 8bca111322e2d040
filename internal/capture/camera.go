package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
)

// CameraConfig describes how camera frames should be captured.
type CameraConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	Width       int
	Height      int
	FrameRate   int
}

func (c CameraConfig) withDefaults() CameraConfig {
	if c.Command == "" {
		c.Command = "ffmpeg"
	}
	if c.InputFormat == "" {
		c.InputFormat = "v4l2"
	}
	if c.InputDevice == "" {
		c.InputDevice = "/dev/video0"
	}
	if c.Width <= 0 {
		c.Width = 640
	}
	if c.Height <= 0 {
		c.Height = 480
	}
	if c.FrameRate <= 0 {
		c.FrameRate = 4
	}
	return c
}

func cameraArgs(cfg CameraConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-vf", fmt.Sprintf("scale=%d:%d", cfg.Width, cfg.Height),
		"-r", strconv.Itoa(cfg.FrameRate),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-",
	}
}

// cameraTrack keeps only the most recent decoded frame.
type cameraTrack struct {
	proc   *ffmpegProcess
	width  int
	height int

	mu     sync.Mutex
	latest *image.RGBA
	done   chan struct{}
}

func openCamera(ctx context.Context, cfg CameraConfig) (*cameraTrack, error) {
	cfg = cfg.withDefaults()
	proc, err := startFFMPEG(ctx, cfg.Command, cameraArgs(cfg))
	if err != nil {
		return nil, err
	}
	track := &cameraTrack{
		proc:   proc,
		width:  cfg.Width,
		height: cfg.Height,
		done:   make(chan struct{}),
	}
	go track.readFrames()
	return track, nil
}

func (t *cameraTrack) readFrames() {
	defer close(t.done)

	size := t.width * t.height * 4
	for {
		frame := image.NewRGBA(image.Rect(0, 0, t.width, t.height))
		if _, err := io.ReadFull(t.proc, frame.Pix[:size]); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				log.Debug().Err(err).Msg("camera stream ended")
			}
			return
		}
		t.mu.Lock()
		t.latest = frame
		t.mu.Unlock()
	}
}

func (t *cameraTrack) Kind() string {
	return "video"
}

// Snapshot returns the last complete frame, if any arrived yet.
func (t *cameraTrack) Snapshot() (image.Image, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.latest == nil {
		return nil, false
	}
	return t.latest, true
}

func (t *cameraTrack) Stop() error {
	err := t.proc.Stop()
	<-t.done
	return err
}
