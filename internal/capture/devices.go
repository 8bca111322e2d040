package capture

import (
	"context"
	"errors"
	"fmt"

	"liveline/internal/ports"
)

// Devices acquires the microphone and, on request, the camera.
type Devices struct {
	Microphone MicrophoneConfig
	Camera     CameraConfig
}

func NewDevices(mic MicrophoneConfig, camera CameraConfig) *Devices {
	return &Devices{Microphone: mic, Camera: camera}
}

func (d *Devices) Acquire(ctx context.Context, constraints ports.MediaConstraints) (ports.MediaStream, error) {
	if !constraints.Audio && !constraints.Video {
		return nil, errors.New("no devices requested")
	}

	stream := &deviceStream{}
	if constraints.Audio {
		mic, err := openMicrophone(ctx, d.Microphone)
		if err != nil {
			return nil, fmt.Errorf("open microphone: %w", err)
		}
		stream.audio = mic
	}
	if constraints.Video {
		camera, err := openCamera(ctx, d.Camera)
		if err != nil {
			stream.stopAll()
			return nil, fmt.Errorf("open camera: %w", err)
		}
		stream.video = camera
	}
	return stream, nil
}

type deviceStream struct {
	audio *microphoneTrack
	video *cameraTrack
}

func (s *deviceStream) Audio() ports.AudioTrack {
	if s.audio == nil {
		return nil
	}
	return s.audio
}

func (s *deviceStream) Video() ports.VideoTrack {
	if s.video == nil {
		return nil
	}
	return s.video
}

func (s *deviceStream) Tracks() []ports.Track {
	tracks := make([]ports.Track, 0, 2)
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	return tracks
}

func (s *deviceStream) stopAll() {
	for _, track := range s.Tracks() {
		_ = track.Stop()
	}
}
