package audiolat

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of all audiolat metrics.
const meterName = "github.com/gen2brain/audiolat"

// StatsSource provides session snapshots. [Controller] and [Session]
// implement it.
type StatsSource interface {
	Stats() Stats
}

var (
	attrRecord  = metric.WithAttributes(attribute.String("stream", "record"))
	attrPlayout = metric.WithAttributes(attribute.String("stream", "playout"))
)

// RegisterMetrics registers observable instruments that read src on every
// collection. Nothing is recorded from the audio callbacks. Unregister the
// returned registration when the run is over.
func RegisterMetrics(mp metric.MeterProvider, src StatsSource) (metric.Registration, error) {
	meter := mp.Meter(meterName)

	frames, err := meter.Int64ObservableCounter("audiolat.capture.frames",
		metric.WithDescription("Frames written to the capture artifact."),
		metric.WithUnit("{frame}"))
	if err != nil {
		return nil, err
	}

	rounds, err := meter.Int64ObservableCounter("audiolat.rounds",
		metric.WithDescription("Measurement rounds armed."),
		metric.WithUnit("{round}"))
	if err != nil {
		return nil, err
	}

	truncated, err := meter.Int64ObservableCounter("audiolat.rounds.truncated",
		metric.WithDescription("Rounds armed while the previous round was still draining."),
		metric.WithUnit("{round}"))
	if err != nil {
		return nil, err
	}

	xruns, err := meter.Int64ObservableCounter("audiolat.xruns",
		metric.WithDescription("Overruns (record) and underruns (playout) observed."),
		metric.WithUnit("{xrun}"))
	if err != nil {
		return nil, err
	}

	buffer, err := meter.Int64ObservableGauge("audiolat.buffer.size",
		metric.WithDescription("Current stream buffer size."),
		metric.WithUnit("{frame}"))
	if err != nil {
		return nil, err
	}

	running, err := meter.Int64ObservableGauge("audiolat.running",
		metric.WithDescription("1 while a measurement is running."))
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := src.Stats()

		o.ObserveInt64(frames, st.FramesCaptured)
		o.ObserveInt64(rounds, st.RoundsArmed)
		o.ObserveInt64(truncated, st.RoundsTruncated)
		o.ObserveInt64(xruns, st.RecordXRuns, attrRecord)
		o.ObserveInt64(xruns, st.PlayoutXRuns, attrPlayout)
		o.ObserveInt64(buffer, int64(st.RecordBuffer), attrRecord)
		o.ObserveInt64(buffer, int64(st.PlayoutBuffer), attrPlayout)

		var r int64
		if st.Running {
			r = 1
		}
		o.ObserveInt64(running, r)

		return nil
	}, frames, rounds, truncated, xruns, buffer, running)
}
