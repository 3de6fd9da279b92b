package main

import (
	"image"

	"gocv.io/x/gocv"
)

const (
	previewTitle  = "License Plate Recognition"
	previewWidth  = 1024
	previewHeight = 600
	previewStop   = 'q'
)

// WindowPreview displays a downscaled copy of each written frame in a
// HighGUI window. Pressing q requests a graceful stop.
type WindowPreview struct {
	window *gocv.Window
	scaled gocv.Mat
}

// NewWindowPreview opens the preview window.
func NewWindowPreview() *WindowPreview {
	return &WindowPreview{
		window: gocv.NewWindow(previewTitle),
		scaled: gocv.NewMat(),
	}
}

// Show renders frame and polls the keyboard for one millisecond.
func (w *WindowPreview) Show(frame gocv.Mat) bool {
	gocv.Resize(frame, &w.scaled, image.Pt(previewWidth, previewHeight), 0, 0, gocv.InterpolationArea)
	w.window.IMShow(w.scaled)
	return w.window.WaitKey(1)&0xFF == previewStop
}

// Close destroys the window.
func (w *WindowPreview) Close() error {
	w.scaled.Close()
	return w.window.Close()
}
