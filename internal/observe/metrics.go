// Package observe keeps the assistant's counters and latency histograms.
//
// Instruments are OpenTelemetry metrics read through a manual reader; there
// is no exporter, the control socket asks for a [Metrics.Snapshot] instead.
package observe

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const meterName = "github.com/MrZloHex/vox"

type Metrics struct {
	FramesDropped     metric.Int64Counter
	AudioFaults       metric.Int64Counter
	RecognitionFaults metric.Int64Counter
	Utterances        metric.Int64Counter
	Discarded         metric.Int64Counter
	// Matches use attribute.String("intent", ...).
	Matches          metric.Int64Counter
	NoMatches        metric.Int64Counter
	DispatchFailures metric.Int64Counter
	Wakes            metric.Int64Counter

	ResolveDuration  metric.Float64Histogram
	DispatchDuration metric.Float64Histogram
	SpeakDuration    metric.Float64Histogram

	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// New returns metrics backed by an in-process reader.
func New() (*Metrics, error) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewMetrics(mp)
	if err != nil {
		return nil, err
	}
	m.reader = reader
	m.provider = mp
	return m, nil
}

// Noop returns metrics that record nothing.
func Noop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesDropped, "vox.audio.frames_dropped", "Capture frames evicted from a full queue."},
		{&met.AudioFaults, "vox.audio.faults", "Recoverable capture faults."},
		{&met.RecognitionFaults, "vox.stt.faults", "Frames the recognizer failed to decode."},
		{&met.Utterances, "vox.segment.utterances", "Utterances handed to the resolver."},
		{&met.Discarded, "vox.segment.discarded", "Speech segments dropped by the segmenter."},
		{&met.Matches, "vox.intent.matches", "Resolved intents by name."},
		{&met.NoMatches, "vox.intent.no_matches", "Utterances below the confidence threshold."},
		{&met.DispatchFailures, "vox.action.failures", "Actions that failed or timed out."},
		{&met.Wakes, "vox.wakes", "Wake events."},
	}
	for _, c := range counters {
		var err error
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("counter %s: %w", c.name, err)
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.ResolveDuration, "vox.intent.duration", "Latency of intent resolution."},
		{&met.DispatchDuration, "vox.action.duration", "Latency of action dispatch."},
		{&met.SpeakDuration, "vox.tts.duration", "Time spent synthesizing and playing a reply."},
	}
	for _, h := range histograms {
		var err error
		if *h.dst, err = meter.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, fmt.Errorf("histogram %s: %w", h.name, err)
		}
	}

	return met, nil
}

// Snapshot flattens every collected data point into name{attrs} -> value.
// Histograms yield a .count and a .sum entry.
func (m *Metrics) Snapshot(ctx context.Context) (map[string]float64, error) {
	out := map[string]float64{}
	if m.reader == nil {
		return out, nil
	}

	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}

	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[key(md.Name, dp.Attributes)] += float64(dp.Value)
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					k := key(md.Name, dp.Attributes)
					out[k+".count"] += float64(dp.Count)
					out[k+".sum"] += dp.Sum
				}
			}
		}
	}
	return out, nil
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func key(name string, set attribute.Set) string {
	if set.Len() == 0 {
		return name
	}
	var parts []string
	for it := set.Iter(); it.Next(); {
		kv := it.Attribute()
		parts = append(parts, string(kv.Key)+"="+kv.Value.Emit())
	}
	slices.Sort(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}
