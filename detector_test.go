package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// channelMajor lays anchors out as [channel][anchor], the usual YOLOv8 export.
func channelMajor(anchors [][]float32) []float32 {
	channels := len(anchors[0])
	data := make([]float32, channels*len(anchors))
	for a, values := range anchors {
		for c, v := range values {
			data[c*len(anchors)+a] = v
		}
	}
	return data
}

func anchorMajor(anchors [][]float32) []float32 {
	var data []float32
	for _, values := range anchors {
		data = append(data, values...)
	}
	return data
}

func TestDecodeYOLO(t *testing.T) {
	anchors := [][]float32{
		{100, 100, 40, 20, 0.90},
		{300, 200, 60, 30, 0.10},
		{50, 50, 10, 10, 0.25},
	}

	tests := []struct {
		name   string
		data   []float32
		layout tensorLayout
	}{
		{"channel major", channelMajor(anchors), tensorLayout{channels: 5, anchors: 3}},
		{"anchor major", anchorMajor(anchors), tensorLayout{channels: 5, anchors: 3, anchorsMajor: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeYOLO(tt.data, tt.layout, 2.0, 0.5, 0.25)
			require.NoError(t, err)
			require.Len(t, got, 2)

			require.Equal(t, BoundingBox{X1: 160, Y1: 45, X2: 240, Y2: 55}, got[0].Box)
			require.InDelta(t, 0.90, got[0].Confidence, 1e-6)
			require.Equal(t, 0, got[0].ClassID)

			// A score equal to the threshold is kept.
			require.InDelta(t, 0.25, got[1].Confidence, 1e-6)
		})
	}
}

func TestDecodeYOLOPicksBestClass(t *testing.T) {
	anchors := [][]float32{{10, 10, 4, 4, 0.2, 0.7, 0.3}}
	got, err := decodeYOLO(channelMajor(anchors), tensorLayout{channels: 7, anchors: 1}, 1, 1, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 1, got[0].ClassID)
	require.InDelta(t, 0.7, got[0].Confidence, 1e-6)
}

func TestDecodeYOLOErrors(t *testing.T) {
	_, err := decodeYOLO(make([]float32, 8), tensorLayout{channels: 4, anchors: 2}, 1, 1, 0.25)
	require.Error(t, err)

	_, err = decodeYOLO(make([]float32, 9), tensorLayout{channels: 5, anchors: 2}, 1, 1, 0.25)
	require.Error(t, err)
}

func TestSuppressOverlaps(t *testing.T) {
	dets := []Detection{
		{Box: BoundingBox{0, 0, 100, 50}, Confidence: 0.6},
		{Box: BoundingBox{5, 0, 105, 50}, Confidence: 0.9},
		{Box: BoundingBox{200, 200, 300, 250}, Confidence: 0.4},
		{Box: BoundingBox{2, 0, 102, 50}, ClassID: 1, Confidence: 0.5},
	}

	got := suppressOverlaps(dets, 0.45)
	require.Len(t, got, 3)
	require.InDelta(t, 0.9, got[0].Confidence, 1e-9)
	require.Equal(t, 1, got[1].ClassID)
	require.Equal(t, BoundingBox{200, 200, 300, 250}, got[2].Box)

	// Input is not reordered in place.
	require.InDelta(t, 0.6, dets[0].Confidence, 1e-9)
}

func TestSuppressOverlapsSmallInputs(t *testing.T) {
	require.Empty(t, suppressOverlaps(nil, 0.45))

	one := []Detection{{Box: BoundingBox{0, 0, 1, 1}, Confidence: 0.3}}
	require.Equal(t, one, suppressOverlaps(one, 0.45))
}

func BenchmarkDecodeYOLO(b *testing.B) {
	const anchors = 8400
	data := make([]float32, 5*anchors)
	for a := 0; a < anchors; a++ {
		data[a] = float32(a % 640)
		data[anchors+a] = float32(a % 480)
		data[2*anchors+a] = 40
		data[3*anchors+a] = 20
		data[4*anchors+a] = float32(a%100) / 100
	}
	layout := tensorLayout{channels: 5, anchors: anchors}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dets, _ := decodeYOLO(data, layout, 3, 1.6875, 0.25)
		suppressOverlaps(dets, defaultNMSThreshold)
	}
}
