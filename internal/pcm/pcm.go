// Package pcm converts between float audio samples and the PCM16/base64
// payloads exchanged with the realtime provider.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"

	"liveline/internal/domain"
)

const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000

	InputMimeType = "audio/pcm;rate=16000"

	scale = 32768.0
)

// Quantize scales samples by 32768 and truncates toward zero into int16.
// Values outside [-1, 1) saturate instead of wrapping.
func Quantize(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Trunc(float64(s) * scale)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		case math.IsNaN(v):
			v = 0
		}
		out[i] = int16(v)
	}
	return out
}

// Pack writes samples as little-endian 16-bit integers.
func Pack(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Unpack reads little-endian 16-bit integers. A trailing odd byte is ignored.
func Unpack(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// EncodeChunk turns one captured block into an outbound realtime audio chunk.
func EncodeChunk(samples []float32) (domain.MediaChunk, []int16) {
	quantized := Quantize(samples)
	return domain.MediaChunk{
		Data:     base64.StdEncoding.EncodeToString(Pack(quantized)),
		MimeType: InputMimeType,
	}, quantized
}

// ToBuffer de-interleaves PCM16 samples into a playable buffer.
// Incomplete trailing frames are dropped.
func ToBuffer(samples []int16, sampleRate int, channels int) *domain.AudioBuffer {
	if channels <= 0 {
		channels = 1
	}
	frames := len(samples) / channels
	buf := &domain.AudioBuffer{
		SampleRate: sampleRate,
		Channels:   make([][]float32, channels),
	}
	for ch := 0; ch < channels; ch++ {
		data := make([]float32, frames)
		for i := 0; i < frames; i++ {
			data[i] = float32(float64(samples[i*channels+ch]) / scale)
		}
		buf.Channels[ch] = data
	}
	return buf
}

// DecodeBase64 decodes an inbound audio payload into a playable buffer and the raw samples.
func DecodeBase64(payload string, sampleRate int, channels int) (*domain.AudioBuffer, []int16, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid base64 audio payload: %w", err)
	}
	samples := Unpack(raw)
	return ToBuffer(samples, sampleRate, channels), samples, nil
}
