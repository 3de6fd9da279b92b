package main

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"
)

// TextRecognizer extracts the best-effort text from a cropped plate region.
//
// An empty string with a nil error means no text was found. A non-nil error
// means the engine itself failed. Both outcomes only skip the one detection.
type TextRecognizer interface {
	Recognize(ctx context.Context, region gocv.Mat) (string, error)
}

// plateWhitelist restricts the English model to Latin plate characters. Other
// language packs run unrestricted so their letters can reach the normalizer.
const plateWhitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789 "

// TesseractRecognizer runs Tesseract on a single plate crop at a time.
// It is not safe for concurrent use; the pipeline is single-threaded.
type TesseractRecognizer struct {
	client *gosseract.Client
}

// NewTesseractRecognizer creates a Tesseract client for the given language
// codes (comma or plus separated) in single-line page segmentation mode.
func NewTesseractRecognizer(language string) (*TesseractRecognizer, error) {
	langs := splitLanguages(language)
	client := gosseract.NewClient()
	if err := client.SetLanguage(langs...); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}

	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}

	if usesWhitelist(langs) {
		if err := client.SetWhitelist(plateWhitelist); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to set OCR whitelist: %w", err)
		}
	}

	return &TesseractRecognizer{client: client}, nil
}

// Close releases the Tesseract client.
func (r *TesseractRecognizer) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Recognize preprocesses the crop and returns the first non-empty line of text.
func (r *TesseractRecognizer) Recognize(ctx context.Context, region gocv.Mat) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if region.Empty() {
		return "", fmt.Errorf("tesseract: empty region")
	}

	processed := preprocessCrop(region)
	defer processed.Close()

	imgBytes, err := gocv.IMEncode(".png", processed)
	if err != nil {
		return "", fmt.Errorf("tesseract: encode crop: %w", err)
	}
	defer imgBytes.Close()

	if err := r.client.SetImageFromBytes(imgBytes.GetBytes()); err != nil {
		return "", fmt.Errorf("tesseract: set image: %w", err)
	}

	text, err := r.client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract: extract text: %w", err)
	}

	return firstLine(text), nil
}

// preprocessCrop prepares a plate crop for OCR: grayscale, 2x upscale capped
// at maxCropDimension on the longer side, then mean adaptive thresholding
// (11x11 block, offset 2). The caller must close the returned Mat.
func preprocessCrop(src gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	if src.Channels() == 1 {
		src.CopyTo(&gray)
	} else {
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, upscaledSize(gray.Cols(), gray.Rows()), 0, 0, gocv.InterpolationLinear)

	thresholded := gocv.NewMat()
	gocv.AdaptiveThreshold(resized, &thresholded, 255, gocv.AdaptiveThresholdMean, gocv.ThresholdBinary, 11, 2)

	return thresholded
}

const (
	cropScaleFactor  = 2.0
	maxCropDimension = 2048
)

// upscaledSize returns the OCR working size for a crop of width x height.
func upscaledSize(width, height int) image.Point {
	scale := cropScaleFactor
	if float64(width)*scale > maxCropDimension || float64(height)*scale > maxCropDimension {
		scale = math.Min(float64(maxCropDimension)/float64(width), float64(maxCropDimension)/float64(height))
	}
	w := int(float64(width) * scale)
	h := int(float64(height) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return image.Pt(w, h)
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func usesWhitelist(langs []string) bool {
	return len(langs) == 1 && langs[0] == "eng"
}

func splitLanguages(language string) []string {
	fields := strings.FieldsFunc(language, func(r rune) bool {
		return r == ',' || r == '+'
	})
	langs := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			langs = append(langs, f)
		}
	}
	if len(langs) == 0 {
		return []string{"eng"}
	}
	return langs
}
