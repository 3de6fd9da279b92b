package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"

	"gocv.io/x/gocv"
)

// Detection is one candidate plate region returned by a PlateDetector for a
// single frame. Box coordinates are raw detector output and may lie outside
// the frame or be inverted; callers must clamp before cropping.
type Detection struct {
	Box        BoundingBox
	ClassID    int
	Confidence float64
}

// PlateDetector finds candidate plate regions in a frame.
// Implementations must not modify the frame.
type PlateDetector interface {
	Detect(ctx context.Context, frame gocv.Mat, minConfidence float64) ([]Detection, error)
}

const (
	// defaultInputSize is the square input resolution of YOLOv8 exports.
	defaultInputSize = 640
	// defaultNMSThreshold is the IoU above which overlapping boxes are suppressed.
	defaultNMSThreshold = 0.45
)

// YOLODetector runs a YOLOv8-style ONNX model through the OpenCV DNN module.
// The model output is expected as [1, 4+classes, anchors] (or its transpose),
// where the first four rows are centre-x, centre-y, width and height in input
// pixels and the remaining rows are per-class scores.
type YOLODetector struct {
	net          gocv.Net
	inputSize    int
	nmsThreshold float64
}

// NewYOLODetector loads the ONNX model at modelPath. It returns an error if the
// model cannot be parsed; the caller owns the detector and must Close it.
func NewYOLODetector(modelPath string) (*YOLODetector, error) {
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("failed to load detection model %q", modelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLODetector{
		net:          net,
		inputSize:    defaultInputSize,
		nmsThreshold: defaultNMSThreshold,
	}, nil
}

// Close releases the underlying network.
func (d *YOLODetector) Close() error {
	return d.net.Close()
}

// Detect runs one forward pass over frame and returns the detections whose
// confidence is at least minConfidence, after non-maximum suppression.
func (d *YOLODetector) Detect(ctx context.Context, frame gocv.Mat, minConfidence float64) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame.Empty() {
		return nil, errors.New("detector: empty frame")
	}

	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(d.inputSize, d.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("detector: unexpected output shape %v", dims)
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("detector: read output tensor: %w", err)
	}

	layout := tensorLayout{channels: dims[1], anchors: dims[2]}
	if dims[1] > dims[2] {
		// Some exports emit [1, anchors, 4+classes].
		layout = tensorLayout{channels: dims[2], anchors: dims[1], anchorsMajor: true}
	}

	sx := float64(frame.Cols()) / float64(d.inputSize)
	sy := float64(frame.Rows()) / float64(d.inputSize)

	candidates, err := decodeYOLO(data, layout, sx, sy, minConfidence)
	if err != nil {
		return nil, err
	}
	return suppressOverlaps(candidates, d.nmsThreshold), nil
}

// tensorLayout describes how a YOLO output tensor is laid out in memory.
type tensorLayout struct {
	channels     int
	anchors      int
	anchorsMajor bool
}

func (l tensorLayout) at(data []float32, channel, anchor int) float64 {
	if l.anchorsMajor {
		return float64(data[anchor*l.channels+channel])
	}
	return float64(data[channel*l.anchors+anchor])
}

// decodeYOLO converts a raw output tensor into detections in frame pixel space.
// sx and sy scale input-space coordinates back to the frame.
func decodeYOLO(data []float32, layout tensorLayout, sx, sy, minConfidence float64) ([]Detection, error) {
	if layout.channels < 5 {
		return nil, fmt.Errorf("detector: output has %d channels, need at least 5", layout.channels)
	}
	if len(data) < layout.channels*layout.anchors {
		return nil, fmt.Errorf("detector: output tensor too short (%d < %d)", len(data), layout.channels*layout.anchors)
	}

	var detections []Detection
	for a := 0; a < layout.anchors; a++ {
		classID, score := 0, layout.at(data, 4, a)
		for c := 5; c < layout.channels; c++ {
			if s := layout.at(data, c, a); s > score {
				classID, score = c-4, s
			}
		}
		if score < minConfidence {
			continue
		}

		cx, cy := layout.at(data, 0, a), layout.at(data, 1, a)
		w, h := layout.at(data, 2, a), layout.at(data, 3, a)

		detections = append(detections, Detection{
			Box: BoundingBox{
				X1: int((cx - w/2) * sx),
				Y1: int((cy - h/2) * sy),
				X2: int((cx + w/2) * sx),
				Y2: int((cy + h/2) * sy),
			},
			ClassID:    classID,
			Confidence: score,
		})
	}
	return detections, nil
}

// suppressOverlaps applies greedy non-maximum suppression per class. The result
// is ordered by descending confidence; ties keep their decode order.
func suppressOverlaps(detections []Detection, iouThreshold float64) []Detection {
	if len(detections) < 2 {
		return detections
	}

	sorted := make([]Detection, len(detections))
	copy(sorted, detections)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]Detection, 0, len(sorted))
	for _, cand := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.ClassID == cand.ClassID && k.Box.IoU(cand.Box) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, cand)
		}
	}
	return kept
}
