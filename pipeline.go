package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gocv.io/x/gocv"
)

// PipelineState is a step of the per-run state machine.
type PipelineState int

const (
	StateInit PipelineState = iota
	StateStreaming
	StateDetect
	StateExtract
	StateRecognize
	StateNormalize
	StateMatch
	StateAnnotate
	StateWriteFrame
	StateDrain
	StateExport
	StateDone
	StateAborted
)

var stateNames = map[PipelineState]string{
	StateInit:       "INIT",
	StateStreaming:  "STREAMING",
	StateDetect:     "DETECT",
	StateExtract:    "EXTRACT",
	StateRecognize:  "RECOGNIZE",
	StateNormalize:  "NORMALIZE",
	StateMatch:      "MATCH",
	StateAnnotate:   "ANNOTATE",
	StateWriteFrame: "WRITE_FRAME",
	StateDrain:      "DRAIN",
	StateExport:     "EXPORT",
	StateDone:       "DONE",
	StateAborted:    "ABORTED",
}

func (s PipelineState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Preview shows annotated frames to an operator. Show returns true when the
// operator asked to stop.
type Preview interface {
	Show(frame gocv.Mat) bool
}

// PipelineDeps are the collaborators a Pipeline drives. Notifier, Preview and
// Clock are optional.
type PipelineDeps struct {
	Source     FrameSource
	Sink       FrameSink
	Detector   PlateDetector
	Recognizer TextRecognizer
	Metrics    *PipelineMetrics
	Notifier   Notifier
	Preview    Preview
	Clock      func() time.Time
}

// Summary describes a finished run.
type Summary struct {
	FramesRead    int64
	FramesWritten int64
	Records       int
	Authorized    int
	// ReportPath is empty when no report was written.
	ReportPath string
	State      PipelineState
}

// Pipeline processes a video one frame at a time: detect, crop, recognize,
// normalize, match, annotate and log every detection of a frame, then write
// the frame. It is single-threaded; Run must not be called concurrently.
type Pipeline struct {
	config     *Config
	logger     *slog.Logger
	source     FrameSource
	sink       FrameSink
	detector   PlateDetector
	recognizer TextRecognizer
	matcher    *Matcher
	annotator  Annotator
	metrics    *PipelineMetrics
	notifier   Notifier
	preview    Preview
	now        func() time.Time

	records  DetectionLog
	notified map[string]struct{}
	state    PipelineState
}

// NewPipeline wires a pipeline from an immutable configuration.
func NewPipeline(config *Config, deps PipelineDeps, logger *slog.Logger) *Pipeline {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewPipelineMetrics()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Pipeline{
		config:     config,
		logger:     logger,
		source:     deps.Source,
		sink:       deps.Sink,
		detector:   deps.Detector,
		recognizer: deps.Recognizer,
		matcher:    NewMatcher(config.Reference, config.SimilarityThreshold),
		metrics:    metrics,
		notifier:   deps.Notifier,
		preview:    deps.Preview,
		now:        clock,
		notified:   make(map[string]struct{}),
		state:      StateInit,
	}
}

// State returns the current state of the run.
func (p *Pipeline) State() PipelineState {
	return p.state
}

// Records returns the detection log accumulated so far.
func (p *Pipeline) Records() []DetectionRecord {
	return p.records.Records()
}

func (p *Pipeline) transition(next PipelineState) {
	if p.state == next {
		return
	}
	p.logger.Debug("Pipeline state transition", "from", p.state.String(), "to", next.String())
	p.state = next
}

// Run streams every frame from the source to the sink and exports the
// detection log at the end.
//
// Cancelling ctx stops the run before the next frame is read; the frame in
// flight is always finished. Whether the run ends normally, is stopped, or
// the stream fails, accumulated records are exported before Run returns.
//
// The returned error is nil for a clean or stopped run, wraps
// ErrStreamInterrupted when decoding failed mid-stream, and wraps the
// detector or sink error when one of those failed.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	p.transition(StateStreaming)

	// Per-frame work is never cancelled halfway.
	frameCtx := context.WithoutCancel(ctx)

	var (
		summary       Summary
		runErr        error
		aborted       bool
		stopRequested bool
	)

	for {
		if ctx.Err() != nil || stopRequested {
			p.logger.Info("Processing interrupted by user", "frames_read", summary.FramesRead)
			aborted = true
			break
		}

		frame, err := p.source.Read()
		if errors.Is(err, io.EOF) {
			p.logger.Info("End of video stream", "frames_read", summary.FramesRead)
			break
		}
		if err != nil {
			p.logger.Warn("Video stream ended unexpectedly", "error", err, "frames_read", summary.FramesRead)
			runErr = err
			aborted = true
			break
		}
		summary.FramesRead++
		p.metrics.FramesRead.Inc()

		detectErr := p.processFrame(frameCtx, &frame)

		p.transition(StateWriteFrame)
		writeErr := p.sink.Write(frame.Image)
		if writeErr == nil {
			summary.FramesWritten++
			p.metrics.FramesWritten.Inc()
			if p.preview != nil && p.preview.Show(frame.Image) {
				stopRequested = true
			}
		}
		frame.Image.Close()

		if detectErr != nil || writeErr != nil {
			runErr = errors.Join(detectErr, writeErr)
			p.logger.Error("Frame processing failed", "error", runErr, "frame_index", frame.Index)
			aborted = true
			break
		}
		p.transition(StateStreaming)
	}

	p.transition(StateDrain)
	summary.Records = p.records.Len()
	for _, r := range p.records.records {
		if r.Status == Authorized {
			summary.Authorized++
		}
	}

	p.transition(StateExport)
	switch err := p.records.Export(p.config.ReportPath); {
	case errors.Is(err, ErrNothingToExport):
		p.logger.Info("No plates detected in the video")
	case err != nil:
		p.logger.Error("Failed to export report", "error", err, "path", p.config.ReportPath)
		runErr = errors.Join(runErr, fmt.Errorf("export report: %w", err))
	default:
		summary.ReportPath = p.config.ReportPath
		p.logger.Info("Report exported", "path", p.config.ReportPath, "records", summary.Records)
	}

	if aborted {
		p.transition(StateAborted)
	} else {
		p.transition(StateDone)
	}
	summary.State = p.state

	return &summary, runErr
}

// processFrame runs detection on a sampled frame and handles every returned
// detection, in detector order, before returning. Only a detector failure is
// returned; per-detection problems are logged and skipped.
func (p *Pipeline) processFrame(ctx context.Context, frame *Frame) error {
	if stride := int64(p.config.Stride); stride > 1 && frame.Index%stride != 0 {
		return nil
	}

	p.transition(StateDetect)
	start := time.Now()
	defer func() {
		p.metrics.FrameLatency.Observe(time.Since(start).Seconds())
	}()

	detections, err := p.detector.Detect(ctx, frame.Image, p.config.DetectionConfidence)
	if err != nil {
		return fmt.Errorf("detect frame %d: %w", frame.Index, err)
	}
	p.metrics.FramesProcessed.Inc()
	p.metrics.Detections.Add(float64(len(detections)))

	width, height := frame.Image.Cols(), frame.Image.Rows()
	for i, det := range detections {
		p.processDetection(ctx, frame, i, det, width, height)
	}
	return nil
}

func (p *Pipeline) processDetection(ctx context.Context, frame *Frame, n int, det Detection, width, height int) {
	p.transition(StateExtract)
	box := det.Box.Clamp(width, height)
	if box.Empty() {
		p.skip(skipEmptyCrop, frame.Index, n, "raw_box", det.Box)
		return
	}

	p.transition(StateRecognize)
	text, err := p.recognize(ctx, frame.Image, box)
	if err != nil {
		p.metrics.DetectionsSkip.WithLabelValues(skipOCRError).Inc()
		p.logger.Warn("Text recognition failed",
			"frame_index", frame.Index,
			"detection", n,
			"error", err)
		return
	}
	if text == "" {
		p.skip(skipNoText, frame.Index, n)
		return
	}

	p.transition(StateNormalize)
	plate, ok := NormalizePlate(text, p.config.MinTextLength)
	if !ok {
		p.skip(skipShortText, frame.Index, n, "text", text)
		return
	}

	p.transition(StateMatch)
	result := p.matcher.Classify(plate)

	p.transition(StateAnnotate)
	p.annotator.Annotate(&frame.Image, box, plate, result.Status)

	record := NewDetectionRecord(p.now(), frame.Index, plate, result.Status, det.Confidence)
	p.records.Append(record)
	p.metrics.Records.WithLabelValues(result.Status.String()).Inc()

	p.logger.Info("Plate detected",
		"frame_index", record.FrameID,
		"plate", record.Plate,
		"status", record.Status.String(),
		"similarity", result.Similarity,
		"confidence", record.Confidence)

	if result.Status == Authorized {
		p.notify(ctx, record)
	}
}

// recognize crops box out of img and runs the recognizer on it. A panic from
// the engine is converted into an error so one bad crop cannot end the run.
func (p *Pipeline) recognize(ctx context.Context, img gocv.Mat, box BoundingBox) (text string, err error) {
	region := img.Region(box.Rect())
	defer region.Close()

	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("recognizer panic: %v", r)
		}
	}()

	return p.recognizer.Recognize(ctx, region)
}

func (p *Pipeline) skip(reason string, frameIndex int64, n int, attrs ...any) {
	p.metrics.DetectionsSkip.WithLabelValues(reason).Inc()
	args := append([]any{"reason", reason, "frame_index", frameIndex, "detection", n}, attrs...)
	p.logger.Debug("Detection skipped", args...)
}

// notify sends at most one notification per distinct plate per run.
// Failures are logged and otherwise ignored.
func (p *Pipeline) notify(ctx context.Context, record DetectionRecord) {
	if p.notifier == nil {
		return
	}
	if _, seen := p.notified[record.Plate]; seen {
		p.metrics.Notifications.WithLabelValues("suppressed").Inc()
		return
	}
	p.notified[record.Plate] = struct{}{}

	if err := p.notifier.Notify(ctx, record); err != nil {
		p.metrics.Notifications.WithLabelValues("failed").Inc()
		p.logger.Warn("Notification failed", "plate", record.Plate, "error", err)
		return
	}
	p.metrics.Notifications.WithLabelValues("sent").Inc()
}
