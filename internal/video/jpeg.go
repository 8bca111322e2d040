// Package video encodes camera frames for the realtime channel.
package video

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"liveline/internal/domain"
)

const (
	MimeType       = "image/jpeg"
	DefaultQuality = 80
)

// JPEGEncoder compresses frames to base64 JPEG.
type JPEGEncoder struct {
	Quality int
}

func NewJPEGEncoder(quality int) JPEGEncoder {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return JPEGEncoder{Quality: quality}
}

func (e JPEGEncoder) Encode(frame image.Image) (domain.MediaChunk, error) {
	if frame == nil {
		return domain.MediaChunk{}, errors.New("nil frame")
	}
	quality := e.Quality
	if quality <= 0 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: quality}); err != nil {
		return domain.MediaChunk{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return domain.MediaChunk{
		Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType: MimeType,
	}, nil
}
