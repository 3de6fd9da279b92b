package main

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	colorAuthorized = color.RGBA{G: 255, A: 255}
	colorUnknown    = color.RGBA{R: 255, A: 255}
	colorLabelText  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

const (
	boxThickness    = 3
	labelBandHeight = 40
	labelTextInset  = 5
	labelBaseline   = 10
	labelFontScale  = 0.8
	labelFontWeight = 2
)

// Annotator draws classification outcomes onto frames.
type Annotator struct{}

// statusColor returns the box and label colour for a classification.
func statusColor(status Classification) color.RGBA {
	if status == Authorized {
		return colorAuthorized
	}
	return colorUnknown
}

// Annotate draws the box outline and a filled label band above it holding
// label. box must already be clamped to the frame and non-empty. When the box
// touches the top edge the band is clipped to the frame.
func (Annotator) Annotate(frame *gocv.Mat, box BoundingBox, label string, status Classification) {
	c := statusColor(status)

	gocv.Rectangle(frame, box.Rect(), c, boxThickness)

	band := image.Rect(box.X1, max(box.Y1-labelBandHeight, 0), box.X2, box.Y1)
	if band.Dy() > 0 {
		gocv.Rectangle(frame, band, c, -1)
	}

	baseline := box.Y1 - labelBaseline
	if baseline < labelBandHeight-labelBaseline {
		// Not enough room above the box; write inside its top edge instead.
		baseline = min(box.Y1+labelBandHeight-labelBaseline, frame.Rows()-1)
	}
	origin := image.Pt(box.X1+labelTextInset, baseline)
	gocv.PutText(frame, label, origin, gocv.FontHersheySimplex, labelFontScale, colorLabelText, labelFontWeight)
}
