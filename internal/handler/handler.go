// internal/handler/handler.go
package handler

import (
	"context"
	"image"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/SyedDaiam9101/lama-service/internal/assets"
	"github.com/SyedDaiam9101/lama-service/internal/cache"
	"github.com/SyedDaiam9101/lama-service/internal/lama"
	"github.com/SyedDaiam9101/lama-service/internal/logging"
	"github.com/SyedDaiam9101/lama-service/internal/metrics"
	"github.com/SyedDaiam9101/lama-service/internal/middleware"
)

// Runner runs one inpainting pass. *lama.Session implements it.
type Runner interface {
	Run(ctx context.Context, img, mask image.Image) (lama.Result, error)
}

// ResultCache stores encoded output images by input key. A miss returns nil, nil.
// *cache.Cache implements it.
type ResultCache interface {
	GetResult(ctx context.Context, key string) ([]byte, error)
	SetResult(ctx context.Context, key string, png []byte) error
}

// Handler implements the InpainterServer interface.
// It uses the Runner interface for flexibility and testability.
type Handler struct {
	runner Runner
	cache  ResultCache
}

// New creates a new Handler with the given runner and cache. cache may be nil.
func New(runner Runner, cache ResultCache) *Handler {
	return &Handler{
		runner: runner,
		cache:  cache,
	}
}

// Inpaint decodes the photo and mask, runs the session and returns the PNG result.
// An empty engine result is reported with has_result=false, not as an error.
func (h *Handler) Inpaint(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	start := time.Now()

	// Get request ID for logging
	requestID := middleware.GetRequestID(ctx)
	if requestID == "" {
		requestID = "unknown"
	}
	log := logging.L().With(zap.String("request_id", requestID))

	req, err := ParseInpaintRequest(in)
	if err != nil {
		return nil, invalidArgumentError("%v", err)
	}

	if h.runner == nil {
		return nil, failedPreconditionError("inference session not initialized")
	}

	key := cache.Key(req.Image, req.Mask)
	if h.cache != nil {
		if data, err := h.cache.GetResult(ctx, key); err != nil {
			metrics.RecordCacheLookup("error")
			log.Warn("cache lookup failed", zap.Error(err))
		} else if data != nil {
			metrics.RecordCacheLookup("hit")
			return InpaintResponse{Image: data, HasResult: true, Cached: true}.Proto(), nil
		} else {
			metrics.RecordCacheLookup("miss")
		}
	}

	img, err := assets.Bytes(req.Image).Image()
	if err != nil {
		return nil, invalidArgumentError("image: %v", err)
	}
	mask, err := assets.Bytes(req.Mask).Image()
	if err != nil {
		return nil, invalidArgumentError("mask: %v", err)
	}

	res, err := h.runner.Run(ctx, img, mask)
	if err != nil {
		log.Error("inpaint failed", zap.Error(err))
		return nil, grpcError(err)
	}

	resp := InpaintResponse{
		HasResult: !res.Empty(),
		SessionMs: float64(res.Timings.Session.Microseconds()) / 1000.0,
	}
	if res.Empty() {
		log.Info("inpaint produced no result")
		return resp.Proto(), nil
	}

	resp.Image, err = assets.EncodePNG(res.Image)
	if err != nil {
		return nil, internalError("%v", err)
	}

	if h.cache != nil {
		if err := h.cache.SetResult(ctx, key, resp.Image); err != nil {
			log.Warn("cache store failed", zap.Error(err))
		}
	}

	log.Info("inpaint finished",
		zap.Float64("session_ms", resp.SessionMs),
		zap.Float64("total_ms", float64(time.Since(start).Microseconds())/1000.0),
		zap.Int("png_bytes", len(resp.Image)))

	return resp.Proto(), nil
}

var (
	_ InpainterServer = (*Handler)(nil)
	_ ResultCache     = (*cache.Cache)(nil)
)
