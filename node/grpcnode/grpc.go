package grpcnode

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// NodeServer is the server API for the Node gRPC service.
//
// Messages are protobuf well-known types so no codegen step is needed.
//
// Proto definition: node.proto.
type NodeServer interface {
	Info(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ConnectPeer(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Peers(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	Subscriptions(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	Subscribers(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
	ResolveName(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Fetch(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	ListDirectory(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
	Add(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error)
	AddDirectory(context.Context, *structpb.ListValue) (*wrapperspb.StringValue, error)
	PublishName(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Publish(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Subscribe(*wrapperspb.StringValue, Node_SubscribeServer) error
}

// UnimplementedNodeServer can be embedded to have forward compatible implementations.
type UnimplementedNodeServer struct{}

func unimplemented(m string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", m)
}

func (UnimplementedNodeServer) Info(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, unimplemented("Info")
}
func (UnimplementedNodeServer) ConnectPeer(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return nil, unimplemented("ConnectPeer")
}
func (UnimplementedNodeServer) Peers(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return nil, unimplemented("Peers")
}
func (UnimplementedNodeServer) Subscriptions(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return nil, unimplemented("Subscriptions")
}
func (UnimplementedNodeServer) Subscribers(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error) {
	return nil, unimplemented("Subscribers")
}
func (UnimplementedNodeServer) ResolveName(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return nil, unimplemented("ResolveName")
}
func (UnimplementedNodeServer) Fetch(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("Fetch")
}
func (UnimplementedNodeServer) ListDirectory(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error) {
	return nil, unimplemented("ListDirectory")
}
func (UnimplementedNodeServer) Add(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	return nil, unimplemented("Add")
}
func (UnimplementedNodeServer) AddDirectory(context.Context, *structpb.ListValue) (*wrapperspb.StringValue, error) {
	return nil, unimplemented("AddDirectory")
}
func (UnimplementedNodeServer) PublishName(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return nil, unimplemented("PublishName")
}
func (UnimplementedNodeServer) Publish(context.Context, *structpb.Struct) (*emptypb.Empty, error) {
	return nil, unimplemented("Publish")
}
func (UnimplementedNodeServer) Subscribe(*wrapperspb.StringValue, Node_SubscribeServer) error {
	return unimplemented("Subscribe")
}

// RegisterNodeServer registers the Node service on a gRPC server.
func RegisterNodeServer(s grpc.ServiceRegistrar, srv NodeServer) {
	s.RegisterService(&Node_ServiceDesc, srv)
}

const serviceName = "xdao.boards.node.v1.Node"

func method(name string) string { return "/" + serviceName + "/" + name }

// Node_SubscribeServer is the server side of the Subscribe stream.
type Node_SubscribeServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type nodeSubscribeServer struct{ grpc.ServerStream }

func (x *nodeSubscribeServer) Send(m *structpb.Struct) error { return x.ServerStream.SendMsg(m) }

// Node_SubscribeClient is the client side of the Subscribe stream.
type Node_SubscribeClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type nodeSubscribeClient struct{ grpc.ClientStream }

func (x *nodeSubscribeClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// NodeClient is the client API for the Node gRPC service.
type NodeClient interface {
	Info(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	ConnectPeer(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Peers(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
	Subscriptions(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
	Subscribers(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.ListValue, error)
	ResolveName(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	Fetch(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	ListDirectory(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.ListValue, error)
	Add(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	AddDirectory(ctx context.Context, in *structpb.ListValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	PublishName(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Publish(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Subscribe(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (Node_SubscribeClient, error)
}

type nodeClient struct{ cc grpc.ClientConnInterface }

func NewNodeClient(cc grpc.ClientConnInterface) NodeClient { return &nodeClient{cc: cc} }

func invoke[Out any](ctx context.Context, cc grpc.ClientConnInterface, name string, in any, opts []grpc.CallOption) (*Out, error) {
	out := new(Out)
	if err := cc.Invoke(ctx, method(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *nodeClient) Info(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "Info", in, opts)
}
func (c *nodeClient) ConnectPeer(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "ConnectPeer", in, opts)
}
func (c *nodeClient) Peers(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c.cc, "Peers", in, opts)
}
func (c *nodeClient) Subscriptions(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c.cc, "Subscriptions", in, opts)
}
func (c *nodeClient) Subscribers(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c.cc, "Subscribers", in, opts)
}
func (c *nodeClient) ResolveName(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, "ResolveName", in, opts)
}
func (c *nodeClient) Fetch(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return invoke[wrapperspb.BytesValue](ctx, c.cc, "Fetch", in, opts)
}
func (c *nodeClient) ListDirectory(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c.cc, "ListDirectory", in, opts)
}
func (c *nodeClient) Add(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, "Add", in, opts)
}
func (c *nodeClient) AddDirectory(ctx context.Context, in *structpb.ListValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, "AddDirectory", in, opts)
}
func (c *nodeClient) PublishName(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "PublishName", in, opts)
}
func (c *nodeClient) Publish(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "Publish", in, opts)
}

func (c *nodeClient) Subscribe(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (Node_SubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &Node_ServiceDesc.Streams[0], method("Subscribe"), opts...)
	if err != nil {
		return nil, err
	}
	x := &nodeSubscribeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// unaryHandler adapts a typed server method to a grpc.MethodDesc handler.
func unaryHandler[In any, Out any](name string, call func(NodeServer, context.Context, *In) (*Out, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(In)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(NodeServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method(name)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(NodeServer), ctx, req.(*In))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func _Node_Subscribe_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(NodeServer).Subscribe(m, &nodeSubscribeServer{stream})
}

// Node_ServiceDesc is the grpc.ServiceDesc for the Node service.
var Node_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*NodeServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Info", NodeServer.Info),
		unaryHandler("ConnectPeer", NodeServer.ConnectPeer),
		unaryHandler("Peers", NodeServer.Peers),
		unaryHandler("Subscriptions", NodeServer.Subscriptions),
		unaryHandler("Subscribers", NodeServer.Subscribers),
		unaryHandler("ResolveName", NodeServer.ResolveName),
		unaryHandler("Fetch", NodeServer.Fetch),
		unaryHandler("ListDirectory", NodeServer.ListDirectory),
		unaryHandler("Add", NodeServer.Add),
		unaryHandler("AddDirectory", NodeServer.AddDirectory),
		unaryHandler("PublishName", NodeServer.PublishName),
		unaryHandler("Publish", NodeServer.Publish),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: _Node_Subscribe_Handler, ServerStreams: true},
	},
	Metadata: "node.proto",
}
