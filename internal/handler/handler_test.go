// internal/handler/handler_test.go
package handler

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"fmt"
	"image"
	"image/color"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/SyedDaiam9101/lama-service/internal/assets"
	"github.com/SyedDaiam9101/lama-service/internal/cache"
	"github.com/SyedDaiam9101/lama-service/internal/codec"
	"github.com/SyedDaiam9101/lama-service/internal/inference"
	"github.com/SyedDaiam9101/lama-service/internal/lama"
	"github.com/SyedDaiam9101/lama-service/internal/middleware"
)

func encoded(t *testing.T, c color.Color, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	data, err := assets.EncodePNG(img)
	if err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}
	return data
}

func newSession(t *testing.T, mock *inference.MockEngine) *lama.Session {
	t.Helper()
	s, err := lama.New(context.Background(), assets.Bytes("model"), mock.Factory())
	if err != nil {
		t.Fatalf("lama.New failed: %v", err)
	}
	return s
}

func echoMock() *inference.MockEngine {
	return inference.NewPassthroughMock(lama.ImageInput)
}

func validRequest(t *testing.T) *structpb.Struct {
	return InpaintRequest{
		Image: encoded(t, color.NRGBA{R: 40, G: 80, B: 120, A: 255}, 64, 64),
		Mask:  encoded(t, color.White, 64, 64),
	}.Proto()
}

func requireCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %v error, got nil", want)
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("Expected gRPC status error, got: %v", err)
	}
	if st.Code() != want {
		t.Errorf("Expected %v, got: %v (%s)", want, st.Code(), st.Message())
	}
}

func TestInpaintWithNilRunner(t *testing.T) {
	h := New(nil, nil)

	_, err := h.Inpaint(context.Background(), validRequest(t))
	requireCode(t, err, codes.FailedPrecondition)
}

func TestInpaintWithNilRequest(t *testing.T) {
	h := New(newSession(t, echoMock()), nil)

	_, err := h.Inpaint(context.Background(), nil)
	requireCode(t, err, codes.InvalidArgument)
}

func TestInpaintWithMissingMask(t *testing.T) {
	h := New(newSession(t, echoMock()), nil)

	req := validRequest(t)
	delete(req.Fields, "mask")

	_, err := h.Inpaint(context.Background(), req)
	requireCode(t, err, codes.InvalidArgument)
}

func TestInpaintWithUndecodableImage(t *testing.T) {
	mock := echoMock()
	h := New(newSession(t, mock), nil)

	req := InpaintRequest{Image: []byte("not an image"), Mask: encoded(t, color.White, 8, 8)}.Proto()
	_, err := h.Inpaint(context.Background(), req)
	requireCode(t, err, codes.InvalidArgument)

	if mock.CallCount != 0 {
		t.Errorf("Expected engine not to be called, got CallCount=%d", mock.CallCount)
	}
}

func TestInpaintWithOversizedImage(t *testing.T) {
	mock := echoMock()
	h := New(newSession(t, mock), nil)

	// 1x1 PNG whose header claims 16000x16000
	data := encoded(t, color.Black, 1, 1)
	binary.BigEndian.PutUint32(data[16:20], 16000)
	binary.BigEndian.PutUint32(data[20:24], 16000)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))

	req := InpaintRequest{Image: data, Mask: encoded(t, color.White, 8, 8)}.Proto()
	_, err := h.Inpaint(context.Background(), req)
	requireCode(t, err, codes.InvalidArgument)

	req = InpaintRequest{Image: encoded(t, color.White, 8, 8), Mask: data}.Proto()
	_, err = h.Inpaint(context.Background(), req)
	requireCode(t, err, codes.InvalidArgument)

	if mock.CallCount != 0 {
		t.Errorf("Expected engine not to be called, got CallCount=%d", mock.CallCount)
	}
}

func TestInpaintWithMockInference(t *testing.T) {
	mock := echoMock()
	h := New(newSession(t, mock), nil)

	out, err := h.Inpaint(context.Background(), validRequest(t))
	if err != nil {
		t.Fatalf("Inpaint failed: %v", err)
	}

	resp, err := ParseInpaintResponse(out)
	if err != nil {
		t.Fatalf("ParseInpaintResponse failed: %v", err)
	}
	if !resp.HasResult || resp.Cached {
		t.Fatalf("Expected a fresh result, got %+v", resp)
	}

	img, err := assets.Bytes(resp.Image).Image()
	if err != nil {
		t.Fatalf("Result is not a decodable image: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 512, 512) {
		t.Errorf("Expected 512x512 result, got %v", img.Bounds())
	}
	got := color.NRGBAModel.Convert(img.At(256, 256)).(color.NRGBA)
	if got != (color.NRGBA{R: 40, G: 80, B: 120, A: 255}) {
		t.Errorf("Expected echoed color, got %+v", got)
	}

	// Verify engine was called
	if mock.CallCount != 1 {
		t.Errorf("Expected mock.CallCount=1, got %d", mock.CallCount)
	}
}

func TestInpaintWithEmptyResult(t *testing.T) {
	s := newSession(t, inference.NewEmptyMock())
	h := New(s, nil)

	out, err := h.Inpaint(context.Background(), validRequest(t))
	if err != nil {
		t.Fatalf("Expected no error for empty result, got %v", err)
	}

	resp, err := ParseInpaintResponse(out)
	if err != nil {
		t.Fatalf("ParseInpaintResponse failed: %v", err)
	}
	if resp.HasResult || resp.Image != nil {
		t.Errorf("Expected has_result=false and no image, got %+v", resp)
	}
	if s.State() != lama.Ready {
		t.Errorf("Expected session to stay ready, got %v", s.State())
	}
}

func TestInpaintWithInferenceError(t *testing.T) {
	mock := echoMock()
	mock.SetError("inference failed: model execution failed")
	h := New(newSession(t, mock), nil)

	_, err := h.Inpaint(context.Background(), validRequest(t))

	// Should be mapped to Internal error
	requireCode(t, err, codes.Internal)
}

func TestInpaintWithRequestID(t *testing.T) {
	h := New(newSession(t, echoMock()), nil)

	// Simulate request with request ID in context
	testRequestID := "test-request-id-123"
	md := metadata.Pairs(middleware.RequestIDHeader, testRequestID)
	ctx := metadata.NewIncomingContext(context.Background(), md)

	interceptor := middleware.UnaryRequestIDInterceptor()
	var capturedCtx context.Context

	wrappedHandler := func(ctx context.Context, req interface{}) (interface{}, error) {
		capturedCtx = ctx
		return h.Inpaint(ctx, req.(*structpb.Struct))
	}

	info := &grpc.UnaryServerInfo{FullMethod: InpaintMethod}
	if _, err := interceptor(ctx, validRequest(t), info, wrappedHandler); err != nil {
		t.Fatalf("Handler failed: %v", err)
	}

	if extractedID := middleware.GetRequestID(capturedCtx); extractedID != testRequestID {
		t.Errorf("Expected request ID %s, got %s", testRequestID, extractedID)
	}
}

func TestGRPCErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{context.Canceled, codes.Canceled},
		{fmt.Errorf("run: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
		{fmt.Errorf("%w: boom", lama.ErrInitialize), codes.FailedPrecondition},
		{fmt.Errorf("encode: %w", codec.ErrBadDimensions), codes.InvalidArgument},
		{fmt.Errorf("decode: %w", codec.ErrShortTensor), codes.Internal},
		{errors.New("inference session is nil"), codes.FailedPrecondition},
		{errors.New(`input "mask" has wrong size: got 1, expected 4`), codes.InvalidArgument},
		{errors.New("failed to create input tensor \"image\": oom"), codes.Internal},
		{errors.New("something else"), codes.Internal},
	}

	for _, tt := range tests {
		requireCode(t, grpcError(tt.err), tt.want)
	}

	if grpcError(nil) != nil {
		t.Error("Expected nil for nil error")
	}
}

func TestRequestResponseStructs(t *testing.T) {
	req := InpaintRequest{Image: []byte{1, 2}, Mask: []byte{3}}
	got, err := ParseInpaintRequest(req.Proto())
	if err != nil {
		t.Fatalf("ParseInpaintRequest failed: %v", err)
	}
	if string(got.Image) != "\x01\x02" || string(got.Mask) != "\x03" {
		t.Errorf("Unexpected request %+v", got)
	}

	bad := req.Proto()
	bad.Fields["image"] = structpb.NewNumberValue(7)
	if _, err := ParseInpaintRequest(bad); err == nil {
		t.Error("Expected error for non-string image field")
	}

	bad.Fields["image"] = structpb.NewStringValue("%%%")
	if _, err := ParseInpaintRequest(bad); err == nil {
		t.Error("Expected error for invalid base64")
	}

	resp, err := ParseInpaintResponse(InpaintResponse{HasResult: false}.Proto())
	if err != nil || resp.HasResult || resp.Image != nil {
		t.Errorf("Expected empty response, got %+v, %v", resp, err)
	}
}

func TestInpaintOverGRPC(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		middleware.UnaryRequestIDInterceptor(),
		middleware.UnaryMetricsInterceptor(),
	))
	RegisterInpainterServer(srv, New(newSession(t, echoMock()), nil))
	go srv.Serve(lis)
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	var header metadata.MD
	resp, err := NewClient(conn).Inpaint(context.Background(), InpaintRequest{
		Image: encoded(t, color.NRGBA{R: 9, G: 9, B: 9, A: 255}, 32, 32),
		Mask:  encoded(t, color.Black, 32, 32),
	}, grpc.Header(&header))
	if err != nil {
		t.Fatalf("Inpaint RPC failed: %v", err)
	}

	if !resp.HasResult || len(resp.Image) == 0 {
		t.Fatalf("Expected an image, got %+v", resp)
	}
	if ids := header.Get(middleware.RequestIDHeader); len(ids) != 1 || ids[0] == "" {
		t.Errorf("Expected a request ID response header, got %v", ids)
	}
}

type memoryCache struct {
	data   map[string][]byte
	getErr error
	sets   int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (c *memoryCache) GetResult(_ context.Context, key string) ([]byte, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.data[key], nil
}

func (c *memoryCache) SetResult(_ context.Context, key string, png []byte) error {
	c.sets++
	c.data[key] = png
	return nil
}

func cachedRequest(t *testing.T) (InpaintRequest, string) {
	req := InpaintRequest{
		Image: encoded(t, color.NRGBA{R: 40, G: 80, B: 120, A: 255}, 64, 64),
		Mask:  encoded(t, color.White, 64, 64),
	}
	return req, cache.Key(req.Image, req.Mask)
}

func TestInpaintCacheHit(t *testing.T) {
	mock := echoMock()
	rc := newMemoryCache()
	req, key := cachedRequest(t)
	rc.data[key] = []byte("cached-png")

	out, err := New(newSession(t, mock), rc).Inpaint(context.Background(), req.Proto())
	if err != nil {
		t.Fatalf("Inpaint failed: %v", err)
	}

	resp, err := ParseInpaintResponse(out)
	if err != nil {
		t.Fatalf("ParseInpaintResponse failed: %v", err)
	}
	if !resp.HasResult || !resp.Cached || string(resp.Image) != "cached-png" {
		t.Errorf("Expected cached result, got %+v", resp)
	}
	if mock.CallCount != 0 {
		t.Errorf("Expected engine not to be called, got CallCount=%d", mock.CallCount)
	}
}

func TestInpaintCacheMissStoresResult(t *testing.T) {
	mock := echoMock()
	rc := newMemoryCache()
	req, key := cachedRequest(t)

	out, err := New(newSession(t, mock), rc).Inpaint(context.Background(), req.Proto())
	if err != nil {
		t.Fatalf("Inpaint failed: %v", err)
	}

	resp, err := ParseInpaintResponse(out)
	if err != nil {
		t.Fatalf("ParseInpaintResponse failed: %v", err)
	}
	if resp.Cached || !resp.HasResult {
		t.Fatalf("Expected a fresh result, got %+v", resp)
	}
	if stored := rc.data[key]; string(stored) != string(resp.Image) {
		t.Errorf("Expected the returned PNG to be stored under %s", key)
	}
	if mock.CallCount != 1 {
		t.Errorf("Expected mock.CallCount=1, got %d", mock.CallCount)
	}
}

func TestInpaintEmptyResultNotCached(t *testing.T) {
	rc := newMemoryCache()
	req, _ := cachedRequest(t)

	out, err := New(newSession(t, inference.NewEmptyMock()), rc).Inpaint(context.Background(), req.Proto())
	if err != nil {
		t.Fatalf("Inpaint failed: %v", err)
	}

	resp, err := ParseInpaintResponse(out)
	if err != nil {
		t.Fatalf("ParseInpaintResponse failed: %v", err)
	}
	if resp.HasResult {
		t.Fatalf("Expected has_result=false, got %+v", resp)
	}
	if rc.sets != 0 || len(rc.data) != 0 {
		t.Errorf("Expected nothing cached, got %d sets", rc.sets)
	}
}

func TestInpaintCacheErrorFallsThrough(t *testing.T) {
	mock := echoMock()
	rc := newMemoryCache()
	rc.getErr = errors.New("connection refused")
	req, _ := cachedRequest(t)

	out, err := New(newSession(t, mock), rc).Inpaint(context.Background(), req.Proto())
	if err != nil {
		t.Fatalf("Expected cache errors to be ignored, got %v", err)
	}

	resp, err := ParseInpaintResponse(out)
	if err != nil {
		t.Fatalf("ParseInpaintResponse failed: %v", err)
	}
	if !resp.HasResult || resp.Cached || len(resp.Image) == 0 {
		t.Errorf("Expected a fresh result, got %+v", resp)
	}
	if mock.CallCount != 1 {
		t.Errorf("Expected mock.CallCount=1, got %d", mock.CallCount)
	}
}
