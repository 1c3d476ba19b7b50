// internal/lama/session.go

// Package lama runs the LaMa inpainting network on one photo and one mask.
//
// A Session is either Uninitialized or Ready. New initializes eagerly; Run
// initializes again lazily when no engine handle exists, for example after Close.
// Initialization failures are returned as-is and never retried.
package lama

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/lama-service/internal/assets"
	"github.com/SyedDaiam9101/lama-service/internal/codec"
	"github.com/SyedDaiam9101/lama-service/internal/inference"
	"github.com/SyedDaiam9101/lama-service/internal/logging"
	"github.com/SyedDaiam9101/lama-service/internal/metrics"
)

const (
	// ImageInput is the engine input name of the photo tensor
	ImageInput = "image"
	// MaskInput is the engine input name of the mask tensor
	MaskInput = "mask"
)

// ErrInitialize wraps every failure to load the model or create the engine.
var ErrInitialize = errors.New("failed to initialize inference session")

// State is the lifecycle state of a Session.
type State int

const (
	Uninitialized State = iota
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Timings holds the wall time of each stage of a run.
type Timings struct {
	Initialize  time.Duration
	Preprocess  time.Duration
	Session     time.Duration
	Postprocess time.Duration
}

// Result is the outcome of a run. Image is nil when the engine produced no output.
type Result struct {
	Image   *image.NRGBA
	Timings Timings
}

// Empty reports whether the run produced no image.
func (r Result) Empty() bool {
	return r.Image == nil
}

// Session owns the engine handle for one loaded model. Runs are serialized.
type Session struct {
	mu        sync.Mutex
	model     assets.ModelSource
	newEngine inference.Factory
	engine    inference.Engine
	tracer    trace.Tracer
}

// New creates a Session and initializes it.
func New(ctx context.Context, model assets.ModelSource, newEngine inference.Factory) (*Session, error) {
	s := &Session{
		model:     model,
		newEngine: newEngine,
		tracer:    otel.Tracer("github.com/SyedDaiam9101/lama-service/internal/lama"),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.initialize(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine == nil {
		return Uninitialized
	}
	return Ready
}

// Initialize moves the session to Ready. It is a no-op when already Ready.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.initialize(ctx)
	return err
}

// initialize must be called with s.mu held. It returns the time spent, zero when
// the session was already Ready.
func (s *Session) initialize(ctx context.Context) (time.Duration, error) {
	if s.engine != nil {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	_, span := s.tracer.Start(ctx, "lama.initialize")
	defer span.End()

	start := time.Now()

	model, err := s.model.Model()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model load failed")
		return 0, fmt.Errorf("%w: %w", ErrInitialize, err)
	}

	engine, err := s.newEngine(model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "engine creation failed")
		return 0, fmt.Errorf("%w: %w", ErrInitialize, err)
	}
	s.engine = engine

	elapsed := time.Since(start)
	metrics.RecordStage("initialize", elapsed.Seconds())
	metrics.SetSessionReady(true)
	span.SetAttributes(attribute.Int("model.bytes", len(model)))
	logging.L().Debug("inference session initialized",
		zap.Int("model_bytes", len(model)),
		zap.Duration("elapsed", elapsed))

	return elapsed, nil
}

// Run inpaints the regions of img selected by mask. Both are resized to 512x512
// first. If the engine returns no outputs the Result is Empty and err is nil.
func (s *Session) Run(ctx context.Context, img, mask image.Image) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res Result

	ctx, span := s.tracer.Start(ctx, "lama.run")
	defer span.End()

	initElapsed, err := s.initialize(ctx)
	if err != nil {
		return s.fail(span, res, err)
	}
	res.Timings.Initialize = initElapsed

	preStart := time.Now()
	imageData, err := codec.EncodeImage(codec.Resize(img))
	if err != nil {
		return s.fail(span, res, fmt.Errorf("failed to encode image: %w", err))
	}
	maskData, err := codec.EncodeMask(codec.Resize(mask))
	if err != nil {
		return s.fail(span, res, fmt.Errorf("failed to encode mask: %w", err))
	}
	res.Timings.Preprocess = time.Since(preStart)

	if err := ctx.Err(); err != nil {
		return s.fail(span, res, err)
	}

	sessionStart := time.Now()
	outputs, err := s.engine.Forward(map[string]inference.Tensor{
		ImageInput: {Shape: codec.ImageShape, Data: imageData},
		MaskInput:  {Shape: codec.MaskShape, Data: maskData},
	})
	res.Timings.Session = time.Since(sessionStart)
	if err != nil {
		return s.fail(span, res, err)
	}

	if len(outputs) < 1 {
		span.SetAttributes(attribute.Bool("inpaint.result", false))
		metrics.RecordStage("preprocess", res.Timings.Preprocess.Seconds())
		metrics.RecordStage("session", res.Timings.Session.Seconds())
		metrics.RecordRun("no_result")
		logging.L().Warn("inference returned no outputs")
		return res, nil
	}

	postStart := time.Now()
	out, err := codec.DecodeOutput(outputs[0].Data)
	if err != nil {
		return s.fail(span, res, fmt.Errorf("failed to decode output: %w", err))
	}
	res.Timings.Postprocess = time.Since(postStart)
	res.Image = out

	metrics.RecordStage("preprocess", res.Timings.Preprocess.Seconds())
	metrics.RecordStage("session", res.Timings.Session.Seconds())
	metrics.RecordStage("postprocess", res.Timings.Postprocess.Seconds())
	metrics.RecordRun("ok")
	span.SetAttributes(attribute.Bool("inpaint.result", true))

	logging.L().Debug("inpaint run finished",
		zap.Duration("preprocess", res.Timings.Preprocess),
		zap.Duration("session", res.Timings.Session),
		zap.Duration("postprocess", res.Timings.Postprocess))

	return res, nil
}

func (s *Session) fail(span trace.Span, res Result, err error) (Result, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.RecordRun("error")
	return res, err
}

// Close releases the engine and returns the session to Uninitialized. A later
// Run initializes it again.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine == nil {
		return nil
	}

	err := s.engine.Close()
	s.engine = nil
	metrics.SetSessionReady(false)
	if err != nil {
		return fmt.Errorf("failed to close engine: %w", err)
	}
	return nil
}
