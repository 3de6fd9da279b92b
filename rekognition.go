package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"gocv.io/x/gocv"
)

// rekognitionAPI is the subset of the Rekognition client used for plate OCR.
type rekognitionAPI interface {
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

// RekognitionRecognizer sends plate crops to AWS Rekognition DetectText and
// keeps the line with the highest confidence.
type RekognitionRecognizer struct {
	client rekognitionAPI
}

// NewRekognitionRecognizer builds a recognizer from the default AWS credential
// chain. An empty region defers to AWS_REGION and the shared config files.
func NewRekognitionRecognizer(ctx context.Context, region string) (*RekognitionRecognizer, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &RekognitionRecognizer{client: rekognition.NewFromConfig(cfg)}, nil
}

// Recognize encodes the crop as PNG and returns the most confident LINE.
func (r *RekognitionRecognizer) Recognize(ctx context.Context, region gocv.Mat) (string, error) {
	if region.Empty() {
		return "", fmt.Errorf("rekognition: empty region")
	}

	imgBytes, err := gocv.IMEncode(".png", region)
	if err != nil {
		return "", fmt.Errorf("rekognition: encode crop: %w", err)
	}
	defer imgBytes.Close()

	// GetBytes aliases native memory, so copy before handing it to the SDK.
	payload := append([]byte(nil), imgBytes.GetBytes()...)

	out, err := r.client.DetectText(ctx, &rekognition.DetectTextInput{
		Image: &types.Image{Bytes: payload},
	})
	if err != nil {
		return "", fmt.Errorf("rekognition: detect text: %w", err)
	}

	return bestLine(out.TextDetections), nil
}

// bestLine returns the LINE detection with the highest confidence, or "".
func bestLine(detections []types.TextDetection) string {
	var (
		best     string
		bestConf float32 = -1
	)
	for _, td := range detections {
		if td.Type != types.TextTypesLine || td.DetectedText == nil {
			continue
		}
		conf := aws.ToFloat32(td.Confidence)
		if conf > bestConf {
			best, bestConf = *td.DetectedText, conf
		}
	}
	return best
}
