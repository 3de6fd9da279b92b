package main

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetricsRegistry(t *testing.T) {
	m := NewPipelineMetrics()

	m.FramesRead.Inc()
	m.DetectionsSkip.WithLabelValues(skipShortText).Inc()
	m.Records.WithLabelValues(Authorized.String()).Add(2)
	m.FrameLatency.Observe(0.02)

	require.Equal(t, 1.0, testutil.ToFloat64(m.FramesRead))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Records.WithLabelValues("ACCESS GRANTED")))

	families, err := m.registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"plategate_frames_read_total",
		"plategate_detections_skipped_total",
		"plategate_records_total",
		"plategate_frame_processing_seconds",
	} {
		require.True(t, names[want], "missing %s", want)
	}
}

func TestPipelineMetricsIndependentRegistries(t *testing.T) {
	a, b := NewPipelineMetrics(), NewPipelineMetrics()
	a.FramesWritten.Inc()
	require.Equal(t, 0.0, testutil.ToFloat64(b.FramesWritten))
}
