// Package main implements a license plate access-control CLI that scans a
// recorded video for plates, compares each one against an authorized
// reference plate, and writes an annotated video plus a detection report.
//
// Every frame of the input is decoded, passed through a YOLO plate detector,
// and each detected plate region is read with Tesseract OCR (or Amazon
// Rekognition). Recognized text is normalized and classified as ACCESS GRANTED
// or UNKNOWN by fuzzy similarity to the reference.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config holds the application configuration parsed from command-line flags
// and environment defaults. It is immutable after parseFlags returns.
type Config struct {
	VideoPath  string
	ModelPath  string
	OutputPath string
	ReportPath string
	Reference  string

	DetectionConfidence float64
	SimilarityThreshold float64
	MinTextLength       int
	Stride              int

	OCREngine string
	Language  string
	Codec     string

	Preview     bool
	MetricsAddr string
	LogFormat   string
	Verbose     bool

	TelegramToken  string
	TelegramChatID int64
	AWSRegion      string
}

const (
	ocrTesseract   = "tesseract"
	ocrRekognition = "rekognition"
)

// getEnv returns the value of key or fallback when it is unset or empty.
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// parseFlags parses args on top of defaults taken from the environment (and a
// .env file when present) and validates the result.
func parseFlags(args []string) (*Config, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	detConf, err := getEnvFloat("PLATE_DET_CONF", 0.25)
	if err != nil {
		return nil, err
	}
	similarity, err := getEnvFloat("PLATE_SIMILARITY", 0.7)
	if err != nil {
		return nil, err
	}
	minLen, err := getEnvInt("PLATE_MIN_LEN", 4)
	if err != nil {
		return nil, err
	}
	stride, err := getEnvInt("PLATE_STRIDE", 1)
	if err != nil {
		return nil, err
	}
	previewEnv, err := getEnvBool("PLATE_PREVIEW", false)
	if err != nil {
		return nil, err
	}
	verboseEnv, err := getEnvBool("PLATE_VERBOSE", false)
	if err != nil {
		return nil, err
	}
	var chatID int64
	if v := getEnv("TELEGRAM_CHAT_ID", ""); v != "" {
		if chatID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
	}

	// Create a new FlagSet to avoid global flag conflicts in tests
	fs := flag.NewFlagSet("plate-gate", flag.ContinueOnError)

	var (
		video       = fs.String("video", getEnv("PLATE_VIDEO", "video.mp4"), "Input video file")
		model       = fs.String("model", getEnv("PLATE_MODEL", "plate_model.onnx"), "Plate detector model (YOLO ONNX)")
		out         = fs.String("out", getEnv("PLATE_OUTPUT_VIDEO", "result_video.mp4"), "Annotated output video file")
		report      = fs.String("report", getEnv("PLATE_REPORT", "plate_report.csv"), "Detection report file (.csv or .xlsx)")
		reference   = fs.String("reference", getEnv("PLATE_REFERENCE", "34 IST 34"), "Authorized reference plate")
		detConfFlag = fs.Float64("det-conf", detConf, "Minimum detector confidence")
		simFlag     = fs.Float64("similarity", similarity, "Similarity above which a plate is authorized")
		minLenFlag  = fs.Int("min-len", minLen, "Recognized text must be longer than this")
		strideFlag  = fs.Int("stride", stride, "Run detection on every Nth frame")
		ocr         = fs.String("ocr", getEnv("PLATE_OCR", ocrTesseract), "Text recognizer: tesseract or rekognition")
		lang        = fs.String("lang", getEnv("PLATE_LANG", "eng"), "Tesseract language codes (comma-separated)")
		codec       = fs.String("codec", getEnv("PLATE_CODEC", "mp4v"), "FourCC codec of the output video")
		preview     = fs.Bool("preview", previewEnv, "Show annotated frames in a window (q to stop)")
		metricsAddr = fs.String("metrics-addr", getEnv("PLATE_METRICS_ADDR", ""), "Serve Prometheus metrics on this address")
		logfmt      = fs.String("logfmt", getEnv("PLATE_LOGFMT", "json"), "Log format: json or kv")
		verbose     = fs.Bool("verbose", verboseEnv, "Enable debug logging")
	)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *video == "" {
		return nil, fmt.Errorf("video flag is required")
	}

	if *model == "" {
		return nil, fmt.Errorf("model flag is required")
	}

	if strings.TrimSpace(*reference) == "" {
		return nil, fmt.Errorf("reference must not be empty")
	}

	if *logfmt != "json" && *logfmt != "kv" {
		return nil, fmt.Errorf("logfmt must be 'json' or 'kv'")
	}

	if *ocr != ocrTesseract && *ocr != ocrRekognition {
		return nil, fmt.Errorf("ocr must be '%s' or '%s'", ocrTesseract, ocrRekognition)
	}

	if *detConfFlag < 0.0 || *detConfFlag > 1.0 {
		return nil, fmt.Errorf("det-conf must be between 0.0 and 1.0")
	}

	if *simFlag < 0.0 || *simFlag > 1.0 {
		return nil, fmt.Errorf("similarity must be between 0.0 and 1.0")
	}

	if *minLenFlag < 0 {
		return nil, fmt.Errorf("min-len must not be negative")
	}

	if *strideFlag < 1 {
		return nil, fmt.Errorf("stride must be at least 1")
	}

	if len(*codec) != 4 {
		return nil, fmt.Errorf("codec must be a four character code")
	}

	return &Config{
		VideoPath:           *video,
		ModelPath:           *model,
		OutputPath:          *out,
		ReportPath:          *report,
		Reference:           *reference,
		DetectionConfidence: *detConfFlag,
		SimilarityThreshold: *simFlag,
		MinTextLength:       *minLenFlag,
		Stride:              *strideFlag,
		OCREngine:           *ocr,
		Language:            *lang,
		Codec:               *codec,
		Preview:             *preview,
		MetricsAddr:         *metricsAddr,
		LogFormat:           *logfmt,
		Verbose:             *verbose,
		TelegramToken:       getEnv("TELEGRAM_TOKEN", ""),
		TelegramChatID:      chatID,
		AWSRegion:           getEnv("AWS_REGION", ""),
	}, nil
}

// setupLogger configures structured logging based on the specified format.
// Every line carries the run_id of this invocation.
func setupLogger(format string, verbose bool) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if verbose {
		opts.Level = slog.LevelDebug
	}

	switch format {
	case "kv":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With("run_id", uuid.NewString())
}

// checkInputs verifies that the input files exist before anything is opened
// or created.
func checkInputs(config *Config) error {
	for _, p := range []struct{ name, path string }{
		{"video", config.VideoPath},
		{"model", config.ModelPath},
	} {
		info, err := os.Stat(p.path)
		if err != nil {
			return fmt.Errorf("%s file: %w", p.name, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%s file %q is a directory", p.name, p.path)
		}
	}
	return nil
}

// newRecognizer builds the configured text recognizer wrapped in a circuit
// breaker. The returned close function releases engine resources.
func newRecognizer(ctx context.Context, config *Config, logger *slog.Logger) (TextRecognizer, func(), error) {
	var (
		engine  TextRecognizer
		closeFn = func() {}
	)

	switch config.OCREngine {
	case ocrRekognition:
		r, err := NewRekognitionRecognizer(ctx, config.AWSRegion)
		if err != nil {
			return nil, nil, err
		}
		engine = r
	default:
		t, err := NewTesseractRecognizer(config.Language)
		if err != nil {
			return nil, nil, err
		}
		engine = t
		closeFn = func() { t.Close() }
	}

	breaker := NewCircuitBreaker(5, 30*time.Second, 3, logger)
	return newBreakerRecognizer(engine, breaker), closeFn, nil
}

func run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if err := checkInputs(config); err != nil {
		return err
	}

	source, err := OpenVideoFile(config.VideoPath)
	if err != nil {
		return err
	}
	defer source.Close()

	detector, err := NewYOLODetector(config.ModelPath)
	if err != nil {
		return err
	}
	defer detector.Close()

	recognizer, closeRecognizer, err := newRecognizer(ctx, config, logger)
	if err != nil {
		return err
	}
	defer closeRecognizer()

	sink, err := CreateVideoFile(config.OutputPath, config.Codec, source.FPS(), source.Width(), source.Height())
	if err != nil {
		return err
	}
	defer sink.Close()

	logger.Info("Video opened",
		"width", source.Width(),
		"height", source.Height(),
		"fps", source.FPS(),
		"frame_count", source.FrameCount(),
	)

	metrics := NewPipelineMetrics()
	if config.MetricsAddr != "" {
		go metrics.Serve(ctx, config.MetricsAddr, logger)
	}

	deps := PipelineDeps{
		Source:     source,
		Sink:       sink,
		Detector:   detector,
		Recognizer: recognizer,
		Metrics:    metrics,
	}

	if config.TelegramToken != "" && config.TelegramChatID != 0 {
		notifier, err := NewTelegramNotifier(config.TelegramToken, config.TelegramChatID)
		if err != nil {
			logger.Warn("Telegram notifications disabled", "error", err)
		} else {
			deps.Notifier = notifier
		}
	}

	if config.Preview {
		preview := NewWindowPreview()
		defer preview.Close()
		deps.Preview = preview
	}

	pipeline := NewPipeline(config, deps, logger)
	summary, err := pipeline.Run(ctx)
	if summary != nil {
		logger.Info("Processing finished",
			"state", summary.State.String(),
			"frames_read", summary.FramesRead,
			"frames_written", summary.FramesWritten,
			"records", summary.Records,
			"authorized", summary.Authorized,
			"report", summary.ReportPath,
			"output", config.OutputPath,
		)
	}
	return err
}

func main() {
	config, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(config.LogFormat, config.Verbose)
	slog.SetDefault(logger)

	logger.Info("Starting Plate Gate",
		"video", config.VideoPath,
		"model", config.ModelPath,
		"output", config.OutputPath,
		"report", config.ReportPath,
		"reference", config.Reference,
		"det_conf", config.DetectionConfidence,
		"similarity", config.SimilarityThreshold,
		"min_len", config.MinTextLength,
		"stride", config.Stride,
		"ocr", config.OCREngine,
		"log_format", config.LogFormat,
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal, finishing current frame...")
		cancel()
	}()

	err = run(ctx, config, logger)
	switch {
	case err == nil:
	case errors.Is(err, ErrStreamInterrupted):
		logger.Warn("Video ended before its advertised length", "error", err)
	default:
		logger.Error("Plate Gate failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Plate Gate stopped")
}
