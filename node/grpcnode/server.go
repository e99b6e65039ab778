package grpcnode

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/boards/node"
)

// Server exposes a node.Node over the Node gRPC service. Publishing and
// pubsub methods need the node to implement node.Publisher and node.PubSub.
type Server struct {
	UnimplementedNodeServer
	Node node.Node
	Log  *logrus.Entry

	mu     sync.Mutex
	topics map[string]*fanout
}

// fanout relays one node subscription to every stream watching the topic.
// The node subscription stays in place once made.
type fanout struct {
	mu    sync.Mutex
	next  int
	sinks map[int]chan node.Message
}

func (f *fanout) deliver(m node.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.sinks {
		select {
		case ch <- m:
		default:
		}
	}
}

func (s *Server) node() (node.Node, error) {
	if s == nil || s.Node == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing node")
	}
	return s.Node, nil
}

func (s *Server) publisher() (node.Publisher, error) {
	n, err := s.node()
	if err != nil {
		return nil, err
	}
	p, ok := n.(node.Publisher)
	if !ok {
		return nil, status.Error(codes.Unimplemented, "node cannot publish content")
	}
	return p, nil
}

func (s *Server) pubsub() (node.PubSub, error) {
	n, err := s.node()
	if err != nil {
		return nil, err
	}
	p, ok := n.(node.PubSub)
	if !ok {
		return nil, status.Error(codes.Unimplemented, "node has no pubsub")
	}
	return p, nil
}

func stringList(vals []string) *structpb.ListValue {
	l := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(vals))}
	for _, v := range vals {
		l.Values = append(l.Values, structpb.NewStringValue(v))
	}
	return l
}

func (s *Server) Info(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	n, err := s.node()
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":    structpb.NewStringValue(n.ID()),
		"addrs": structpb.NewListValue(stringList(n.Addrs())),
	}}, nil
}

func (s *Server) ConnectPeer(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	n, err := s.node()
	if err != nil {
		return nil, err
	}
	if err := n.ConnectPeer(ctx, in.GetValue()); err != nil {
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Peers(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	n, err := s.node()
	if err != nil {
		return nil, err
	}
	ps, err := n.Peers(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	return stringList(ps), nil
}

func (s *Server) Subscriptions(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	n, err := s.node()
	if err != nil {
		return nil, err
	}
	ts, err := n.Subscriptions(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	return stringList(ts), nil
}

func (s *Server) Subscribers(ctx context.Context, in *wrapperspb.StringValue) (*structpb.ListValue, error) {
	n, err := s.node()
	if err != nil {
		return nil, err
	}
	ps, err := n.Subscribers(ctx, in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	return stringList(ps), nil
}

func (s *Server) ResolveName(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	n, err := s.node()
	if err != nil {
		return nil, err
	}
	p, err := n.ResolveName(ctx, in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.String(p), nil
}

func (s *Server) Fetch(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	n, err := s.node()
	if err != nil {
		return nil, err
	}
	b, err := n.Fetch(ctx, in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) ListDirectory(ctx context.Context, in *wrapperspb.StringValue) (*structpb.ListValue, error) {
	n, err := s.node()
	if err != nil {
		return nil, err
	}
	links, err := n.ListDirectory(ctx, in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	return encodeLinks(links), nil
}

func (s *Server) Add(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	p, err := s.publisher()
	if err != nil {
		return nil, err
	}
	path, err := p.Add(ctx, in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.String(path), nil
}

func (s *Server) AddDirectory(ctx context.Context, in *structpb.ListValue) (*wrapperspb.StringValue, error) {
	p, err := s.publisher()
	if err != nil {
		return nil, err
	}
	links, err := decodeLinks(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	path, err := p.AddDirectory(ctx, links)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.String(path), nil
}

func (s *Server) PublishName(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	p, err := s.publisher()
	if err != nil {
		return nil, err
	}
	if err := p.PublishName(ctx, in.GetValue()); err != nil {
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Publish(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	ps, err := s.pubsub()
	if err != nil {
		return nil, err
	}
	m, err := decodeMessage(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := ps.Publish(ctx, m.Topic, m.Data); err != nil {
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

// Subscribe streams messages on a topic. The first message sent is an
// acknowledgement with no topic, sent once delivery is set up.
func (s *Server) Subscribe(in *wrapperspb.StringValue, stream Node_SubscribeServer) error {
	topic := in.GetValue()
	ctx := stream.Context()
	f, err := s.fanout(ctx, topic)
	if err != nil {
		return err
	}

	ch := make(chan node.Message, 64)
	f.mu.Lock()
	id := f.next
	f.next++
	f.sinks[id] = ch
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.sinks, id)
		f.mu.Unlock()
	}()

	if err := stream.Send(&structpb.Struct{Fields: map[string]*structpb.Value{}}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-ch:
			if err := stream.Send(encodeMessage(m)); err != nil {
				return err
			}
		}
	}
}

func (s *Server) fanout(ctx context.Context, topic string) (*fanout, error) {
	ps, err := s.pubsub()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.topics[topic]; ok {
		return f, nil
	}
	f := &fanout{sinks: map[int]chan node.Message{}}
	if err := ps.Subscribe(ctx, topic, f.deliver); err != nil {
		return nil, mapErr(err)
	}
	if s.topics == nil {
		s.topics = map[string]*fanout{}
	}
	s.topics[topic] = f
	if s.Log != nil {
		s.Log.WithField("topic", topic).Debug("relaying topic to remote subscribers")
	}
	return f, nil
}
