package usecase

import (
	"errors"
	"math"

	"liveline/internal/domain"
	"liveline/internal/ports"
)

// playbackScheduler queues output audio back to back on the output clock.
type playbackScheduler struct {
	output  ports.AudioContext
	clock   float64
	nextID  uint64
	pending map[uint64]ports.AudioSource
	onEnded func(id uint64)
}

func newPlaybackScheduler(onEnded func(id uint64)) *playbackScheduler {
	return &playbackScheduler{
		pending: make(map[uint64]ports.AudioSource),
		onEnded: onEnded,
	}
}

func (p *playbackScheduler) attach(output ports.AudioContext) {
	p.output = output
}

// schedule starts buf at the later of the playback clock and the context time
// and advances the clock by its duration.
func (p *playbackScheduler) schedule(buf *domain.AudioBuffer) (float64, error) {
	if p.output == nil {
		return 0, errors.New("no output audio context")
	}

	p.nextID++
	id := p.nextID
	src := p.output.CreateSource(buf, func() {
		if p.onEnded != nil {
			p.onEnded(id)
		}
	})
	p.pending[id] = src

	start := math.Max(p.clock, p.output.CurrentTime())
	if err := src.Start(start); err != nil {
		delete(p.pending, id)
		return 0, err
	}
	p.clock = start + src.Duration()
	return start, nil
}

func (p *playbackScheduler) ended(id uint64) {
	delete(p.pending, id)
}

// interrupt stops everything queued and rewinds the clock.
func (p *playbackScheduler) interrupt() {
	for id, src := range p.pending {
		src.Stop()
		delete(p.pending, id)
	}
	p.clock = 0
}
