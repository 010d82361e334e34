package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// SpeechServer is the server API for zahl.v1.Speech
type SpeechServer interface {
	Start(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Stop(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Toggle(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	AcceptConsent(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	DeclineConsent(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ResetError(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ParseNumber(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Events(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterSpeechServer registers srv on s
func RegisterSpeechServer(s grpc.ServiceRegistrar, srv SpeechServer) {
	s.RegisterService(&speechServiceDesc, srv)
}

type emptyCall func(SpeechServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)

func emptyHandler(method string, call emptyCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(emptypb.Empty)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SpeechServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SpeechServer), ctx, req.(*emptypb.Empty))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func parseNumberHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SpeechServer).ParseNumber(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ParseNumber"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SpeechServer).ParseNumber(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func eventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SpeechServer).Events(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

var speechServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SpeechServer)(nil),
	Methods: []grpc.MethodDesc{
		emptyHandler("Start", SpeechServer.Start),
		emptyHandler("Stop", SpeechServer.Stop),
		emptyHandler("Toggle", SpeechServer.Toggle),
		emptyHandler("AcceptConsent", SpeechServer.AcceptConsent),
		emptyHandler("DeclineConsent", SpeechServer.DeclineConsent),
		emptyHandler("ResetError", SpeechServer.ResetError),
		emptyHandler("GetStatus", SpeechServer.GetStatus),
		{MethodName: "ParseNumber", Handler: parseNumberHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Events", Handler: eventsHandler, ServerStreams: true},
	},
	Metadata: "zahl/v1/speech.proto",
}

// SpeechClient calls zahl.v1.Speech
type SpeechClient struct {
	cc grpc.ClientConnInterface
}

// NewSpeechClient creates a client on cc
func NewSpeechClient(cc grpc.ClientConnInterface) *SpeechClient {
	return &SpeechClient{cc: cc}
}

// Call invokes a command method (Start, Stop, Toggle, AcceptConsent,
// DeclineConsent, ResetError or GetStatus) and returns the status
func (c *SpeechClient) Call(ctx context.Context, method string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseNumber parses text on the server
func (c *SpeechClient) ParseNumber(ctx context.Context, text string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"text": text})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ParseNumber", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Events subscribes to the server's event stream
func (c *SpeechClient) Events(ctx context.Context, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &speechServiceDesc.Streams[0], "/"+ServiceName+"/Events", opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
