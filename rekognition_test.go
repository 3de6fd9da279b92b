package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type fakeRekognition struct {
	out   *rekognition.DetectTextOutput
	err   error
	input *rekognition.DetectTextInput
}

func (f *fakeRekognition) DetectText(_ context.Context, params *rekognition.DetectTextInput, _ ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error) {
	f.input = params
	return f.out, f.err
}

func textDetection(kind types.TextTypes, text string, conf float32) types.TextDetection {
	return types.TextDetection{
		Type:         kind,
		DetectedText: aws.String(text),
		Confidence:   aws.Float32(conf),
	}
}

func TestBestLine(t *testing.T) {
	tests := []struct {
		name string
		in   []types.TextDetection
		want string
	}{
		{
			name: "highest confidence line wins",
			in: []types.TextDetection{
				textDetection(types.TextTypesLine, "34 IST 84", 71),
				textDetection(types.TextTypesLine, "34 IST 34", 98),
				textDetection(types.TextTypesWord, "IST", 99.9),
			},
			want: "34 IST 34",
		},
		{
			name: "words only",
			in:   []types.TextDetection{textDetection(types.TextTypesWord, "IST", 99)},
			want: "",
		},
		{
			name: "nil text skipped",
			in:   []types.TextDetection{{Type: types.TextTypesLine, Confidence: aws.Float32(90)}},
			want: "",
		},
		{
			name: "empty",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, bestLine(tt.in))
		})
	}
}

func TestRekognitionRecognizer(t *testing.T) {
	crop := gocv.NewMatWithSize(20, 60, gocv.MatTypeCV8UC3)
	defer crop.Close()

	fake := &fakeRekognition{out: &rekognition.DetectTextOutput{
		TextDetections: []types.TextDetection{textDetection(types.TextTypesLine, "06 ABC 123", 93)},
	}}
	r := &RekognitionRecognizer{client: fake}

	text, err := r.Recognize(context.Background(), crop)
	require.NoError(t, err)
	require.Equal(t, "06 ABC 123", text)
	require.NotNil(t, fake.input.Image)
	require.NotEmpty(t, fake.input.Image.Bytes)
}

func TestRekognitionRecognizerErrors(t *testing.T) {
	crop := gocv.NewMatWithSize(20, 60, gocv.MatTypeCV8UC3)
	defer crop.Close()

	r := &RekognitionRecognizer{client: &fakeRekognition{err: errors.New("throttled")}}
	_, err := r.Recognize(context.Background(), crop)
	require.ErrorContains(t, err, "throttled")

	empty := gocv.NewMat()
	defer empty.Close()
	_, err = r.Recognize(context.Background(), empty)
	require.Error(t, err)
}
