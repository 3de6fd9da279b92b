package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reasons a single detection is dropped without producing a record.
const (
	skipEmptyCrop = "empty_crop"
	skipOCRError  = "ocr_error"
	skipNoText    = "no_text"
	skipShortText = "short_text"
)

// PipelineMetrics tracks run health in a private Prometheus registry.
type PipelineMetrics struct {
	FramesRead      prometheus.Counter
	FramesProcessed prometheus.Counter
	FramesWritten   prometheus.Counter
	Detections      prometheus.Counter
	DetectionsSkip  *prometheus.CounterVec
	Records         *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
	FrameLatency    prometheus.Histogram

	registry *prometheus.Registry
}

// NewPipelineMetrics creates and registers all collectors.
func NewPipelineMetrics() *PipelineMetrics {
	m := &PipelineMetrics{
		FramesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plategate_frames_read_total",
			Help: "Frames decoded from the input video.",
		}),
		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plategate_frames_processed_total",
			Help: "Frames passed through the plate detector.",
		}),
		FramesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plategate_frames_written_total",
			Help: "Frames written to the output video.",
		}),
		Detections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plategate_detections_total",
			Help: "Candidate plate regions returned by the detector.",
		}),
		DetectionsSkip: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plategate_detections_skipped_total",
			Help: "Detections dropped before classification, by reason.",
		}, []string{"reason"}),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plategate_records_total",
			Help: "Detection records appended to the log, by status.",
		}, []string{"status"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plategate_notifications_total",
			Help: "Authorized-plate notifications, by outcome.",
		}, []string{"outcome"}),
		FrameLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "plategate_frame_processing_seconds",
			Help:    "Wall time spent detecting and annotating one frame.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.FramesRead,
		m.FramesProcessed,
		m.FramesWritten,
		m.Detections,
		m.DetectionsSkip,
		m.Records,
		m.Notifications,
		m.FrameLatency,
	)
	return m
}

// Serve exposes the registry on addr at /metrics until ctx is done.
func (m *PipelineMetrics) Serve(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server failed", "error", err)
	}
}
