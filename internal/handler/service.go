// internal/handler/service.go
package handler

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name
	ServiceName = "lama.v1.Inpainter"

	// InpaintMethod is the full method name of the Inpaint RPC
	InpaintMethod = "/" + ServiceName + "/Inpaint"
)

// InpainterServer is the server API for the Inpainter service.
// Messages are google.protobuf.Struct values; see InpaintRequest and InpaintResponse
// for the field layout.
type InpainterServer interface {
	Inpaint(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func inpaintHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InpainterServer).Inpaint(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: InpaintMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(InpainterServer).Inpaint(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// InpainterServiceDesc describes the Inpainter service for grpc.Server.
var InpainterServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InpainterServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Inpaint",
			Handler:    inpaintHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lama/v1/inpainter.proto",
}

// RegisterInpainterServer registers srv with s.
func RegisterInpainterServer(s grpc.ServiceRegistrar, srv InpainterServer) {
	s.RegisterService(&InpainterServiceDesc, srv)
}

// InpaintRequest carries an encoded photo and mask (PNG, JPEG, WebP, BMP, TIFF or GIF).
type InpaintRequest struct {
	Image []byte
	Mask  []byte
}

// InpaintResponse carries the PNG-encoded result. Image is nil when HasResult is false.
type InpaintResponse struct {
	Image     []byte
	HasResult bool
	Cached    bool
	SessionMs float64
}

// Proto encodes the request as a Struct.
func (r InpaintRequest) Proto() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"image": structpb.NewStringValue(base64.StdEncoding.EncodeToString(r.Image)),
		"mask":  structpb.NewStringValue(base64.StdEncoding.EncodeToString(r.Mask)),
	}}
}

// ParseInpaintRequest decodes a request Struct.
func ParseInpaintRequest(s *structpb.Struct) (InpaintRequest, error) {
	var req InpaintRequest
	if s == nil {
		return req, fmt.Errorf("request cannot be nil")
	}

	var err error
	if req.Image, err = bytesField(s, "image"); err != nil {
		return req, err
	}
	if req.Mask, err = bytesField(s, "mask"); err != nil {
		return req, err
	}
	return req, nil
}

// Proto encodes the response as a Struct.
func (r InpaintResponse) Proto() *structpb.Struct {
	fields := map[string]*structpb.Value{
		"has_result": structpb.NewBoolValue(r.HasResult),
		"cached":     structpb.NewBoolValue(r.Cached),
		"session_ms": structpb.NewNumberValue(r.SessionMs),
	}
	if r.Image != nil {
		fields["image"] = structpb.NewStringValue(base64.StdEncoding.EncodeToString(r.Image))
	}
	return &structpb.Struct{Fields: fields}
}

// ParseInpaintResponse decodes a response Struct.
func ParseInpaintResponse(s *structpb.Struct) (InpaintResponse, error) {
	var resp InpaintResponse
	if s == nil {
		return resp, fmt.Errorf("response cannot be nil")
	}

	resp.HasResult = s.GetFields()["has_result"].GetBoolValue()
	resp.Cached = s.GetFields()["cached"].GetBoolValue()
	resp.SessionMs = s.GetFields()["session_ms"].GetNumberValue()
	if !resp.HasResult {
		return resp, nil
	}

	img, err := bytesField(s, "image")
	if err != nil {
		return resp, err
	}
	resp.Image = img
	return resp, nil
}

func bytesField(s *structpb.Struct, name string) ([]byte, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return nil, fmt.Errorf("missing field %q", name)
	}
	str, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return nil, fmt.Errorf("field %q must be a base64 string", name)
	}
	data, err := base64.StdEncoding.DecodeString(str.StringValue)
	if err != nil {
		return nil, fmt.Errorf("field %q is not valid base64: %w", name, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("field %q is empty", name)
	}
	return data, nil
}

// Client calls the Inpainter service over a client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Inpaint sends one request and decodes the reply.
func (c *Client) Inpaint(ctx context.Context, req InpaintRequest, opts ...grpc.CallOption) (InpaintResponse, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, InpaintMethod, req.Proto(), out, opts...); err != nil {
		return InpaintResponse{}, err
	}
	return ParseInpaintResponse(out)
}
