package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gocv.io/x/gocv"
)

// Frame represents a decoded video frame with metadata for plate processing.
type Frame struct {
	// Image holds the OpenCV Mat containing the raw frame pixels.
	// The pipeline annotates it in place and closes it after writing.
	Image gocv.Mat

	// Index is a monotonically increasing counter starting from 1.
	Index int64
}

// FrameSource supplies frames in stream order. Read returns io.EOF at a clean
// end of stream and a *StreamError when decoding stops early.
type FrameSource interface {
	Read() (Frame, error)
}

// FrameSink consumes annotated frames in stream order.
type FrameSink interface {
	Write(frame gocv.Mat) error
}

// ErrStreamInterrupted is wrapped by StreamError.
var ErrStreamInterrupted = errors.New("video stream interrupted")

// StreamError reports that the container stopped yielding frames before the
// frame count it advertised.
type StreamError struct {
	FramesRead     int64
	FramesExpected int64
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("video stream interrupted after %d of %d frames", e.FramesRead, e.FramesExpected)
}

func (e *StreamError) Unwrap() error {
	return ErrStreamInterrupted
}

// VideoFileSource decodes frames from a video container with OpenCV.
type VideoFileSource struct {
	capture    *gocv.VideoCapture
	width      int
	height     int
	fps        float64
	frameCount int64
	index      int64
}

// defaultFPS is used when the container does not report a frame rate.
const defaultFPS = 25.0

// OpenVideoFile opens path for decoding. A missing file is reported before
// OpenCV is asked to open it so the error names the real cause.
func OpenVideoFile(path string) (*VideoFileSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("video file: %w", err)
	}

	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video capture: %w", err)
	}

	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("video capture is not opened")
	}

	fps := capture.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = defaultFPS
	}

	return &VideoFileSource{
		capture:    capture,
		width:      int(capture.Get(gocv.VideoCaptureFrameWidth)),
		height:     int(capture.Get(gocv.VideoCaptureFrameHeight)),
		fps:        fps,
		frameCount: int64(capture.Get(gocv.VideoCaptureFrameCount)),
	}, nil
}

// Width returns the frame width in pixels.
func (s *VideoFileSource) Width() int { return s.width }

// Height returns the frame height in pixels.
func (s *VideoFileSource) Height() int { return s.height }

// FPS returns the container frame rate, or defaultFPS when unknown.
func (s *VideoFileSource) FPS() float64 { return s.fps }

// FrameCount returns the frame count advertised by the container, 0 if unknown.
func (s *VideoFileSource) FrameCount() int64 { return s.frameCount }

// Read decodes the next frame. The returned Frame owns a fresh Mat.
func (s *VideoFileSource) Read() (Frame, error) {
	img := gocv.NewMat()
	if ok := s.capture.Read(&img); !ok || img.Empty() {
		img.Close()
		// Containers often round their advertised count; only a shortfall of
		// more than one frame is treated as a failure.
		if s.frameCount > 0 && s.index < s.frameCount-1 {
			return Frame{}, &StreamError{FramesRead: s.index, FramesExpected: s.frameCount}
		}
		return Frame{}, io.EOF
	}

	s.index++
	return Frame{Image: img, Index: s.index}, nil
}

// Close releases the capture.
func (s *VideoFileSource) Close() error {
	return s.capture.Close()
}

// VideoFileSink encodes frames into a video container with OpenCV.
type VideoFileSink struct {
	writer  *gocv.VideoWriter
	written int64
}

// CreateVideoFile opens path for writing with the given FourCC codec, frame
// rate and frame size.
func CreateVideoFile(path, codec string, fps float64, width, height int) (*VideoFileSink, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid output frame size %dx%d", width, height)
	}

	writer, err := gocv.VideoWriterFile(path, codec, fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open video writer: %w", err)
	}

	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("video writer is not opened for %q (codec %s)", path, codec)
	}

	return &VideoFileSink{writer: writer}, nil
}

// Write appends one frame to the container.
func (s *VideoFileSink) Write(frame gocv.Mat) error {
	if err := s.writer.Write(frame); err != nil {
		return fmt.Errorf("write frame %d: %w", s.written+1, err)
	}
	s.written++
	return nil
}

// Close finalizes the container.
func (s *VideoFileSink) Close() error {
	return s.writer.Close()
}
