package usecase

import (
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type liveMetrics struct {
	sessions      metric.Int64Counter
	chunksSent    metric.Int64Counter
	framesDropped metric.Int64Counter
	audioUnits    metric.Int64Counter
	interruptions metric.Int64Counter
	duration      metric.Float64Histogram
}

func newLiveMetrics(meter metric.Meter) *liveMetrics {
	duration, err := meter.Float64Histogram(
		"liveline.session.duration",
		metric.WithDescription("Live session lifetime"),
		metric.WithUnit("s"),
	)
	if err != nil {
		log.Warn().Err(err).Msg("failed to create session duration histogram")
		duration = noop.Float64Histogram{}
	}

	return &liveMetrics{
		sessions:      newCounter(meter, "liveline.sessions", "Live sessions that became active"),
		chunksSent:    newCounter(meter, "liveline.chunks.sent", "Media chunks sent on the realtime channel"),
		framesDropped: newCounter(meter, "liveline.frames.dropped", "Camera frames skipped while an encode was running"),
		audioUnits:    newCounter(meter, "liveline.audio.scheduled", "Output audio units scheduled for playback"),
		interruptions: newCounter(meter, "liveline.interruptions", "Model turns interrupted by the user"),
		duration:      duration,
	}
}

func newCounter(meter metric.Meter, name string, description string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("failed to create counter")
		return noop.Int64Counter{}
	}
	return counter
}
