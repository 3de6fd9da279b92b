package main

import (
	"image"
	"testing"

	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestUpscaledSize(t *testing.T) {
	tests := []struct {
		name string
		w, h int
		want image.Point
	}{
		{"doubles small crops", 120, 30, image.Pt(240, 60)},
		{"caps the long side", 4096, 300, image.Pt(2048, 150)},
		{"never collapses to zero", 1, 1, image.Pt(2, 2)},
		{"thin crop keeps one pixel", 8192, 1, image.Pt(2048, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, upscaledSize(tt.w, tt.h))
		})
	}
}

func TestFirstLine(t *testing.T) {
	require.Equal(t, "34 IST 34", firstLine("\n  34 IST 34  \nnoise\n"))
	require.Equal(t, "", firstLine(" \n\t\n"))
	require.Equal(t, "", firstLine(""))
}

func TestSplitLanguages(t *testing.T) {
	require.Equal(t, []string{"eng"}, splitLanguages(""))
	require.Equal(t, []string{"eng", "tur"}, splitLanguages("eng+tur"))
	require.Equal(t, []string{"eng", "deu"}, splitLanguages(" eng , deu,"))
}

func TestPreprocessCrop(t *testing.T) {
	crop := gocv.NewMatWithSize(30, 120, gocv.MatTypeCV8UC3)
	defer crop.Close()

	out := preprocessCrop(crop)
	defer out.Close()

	require.Equal(t, 1, out.Channels())
	require.Equal(t, 240, out.Cols())
	require.Equal(t, 60, out.Rows())

	gray := gocv.NewMatWithSize(10, 40, gocv.MatTypeCV8UC1)
	defer gray.Close()
	out2 := preprocessCrop(gray)
	defer out2.Close()
	require.Equal(t, 80, out2.Cols())
}

func TestUsesWhitelist(t *testing.T) {
	require.True(t, usesWhitelist([]string{"eng"}))
	require.False(t, usesWhitelist([]string{"tur"}))
	require.False(t, usesWhitelist([]string{"eng", "tur"}))
}
