// Package grpcnode serves a node.Node over gRPC and attaches to one served
// by another process.
package grpcnode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/boards/node"
)

// Client implements node.Node, node.Publisher and node.PubSub against a
// remote Node service. Closing the client leaves the remote node running.
type Client struct {
	cc     *grpc.ClientConn
	client NodeClient
	log    *logrus.Entry

	id    string
	addrs []string

	// Timeout applies per unary RPC when non-zero.
	Timeout time.Duration

	mu     sync.Mutex
	closed bool
	subs   map[string][]context.CancelFunc
}

var (
	_ node.Node      = (*Client)(nil)
	_ node.Publisher = (*Client)(nil)
	_ node.PubSub    = (*Client)(nil)
)

type DialOptions struct {
	// Timeout applies to the initial dial and handshake when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int

	// Extra dial options, e.g. a custom dialer.
	Extra []grpc.DialOption

	Log *logrus.Entry
}

// Dial connects to target and fetches the remote node's identity.
func Dial(ctx context.Context, target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}
	dialOpts = append(dialOpts, opts.Extra...)

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Client{cc: cc, client: NewNodeClient(cc), log: log.WithField("component", "grpcnode"), subs: map[string][]context.CancelFunc{}}

	info, err := c.client.Info(ctx, &emptypb.Empty{})
	if err != nil {
		_ = cc.Close()
		return nil, fmt.Errorf("grpcnode: handshake with %s: %w", target, mapRPC(err))
	}
	c.id = info.GetFields()["id"].GetStringValue()
	c.addrs, err = listStrings(info.GetFields()["addrs"].GetListValue())
	if err != nil || c.id == "" {
		_ = cc.Close()
		return nil, fmt.Errorf("grpcnode: malformed node info from %s", target)
	}
	return c, nil
}

// Factory returns a node.Factory that attaches to target instead of
// constructing a node. Construction options are ignored.
func Factory(target string, opts DialOptions) node.Factory {
	return func(ctx context.Context, _ node.Options) (node.Node, error) {
		return Dial(ctx, target, opts)
	}
}

func (c *Client) ID() string      { return c.id }
func (c *Client) Addrs() []string { return append([]string(nil), c.addrs...) }

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}

func (c *Client) ConnectPeer(ctx context.Context, addr string) error {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	_, err := c.client.ConnectPeer(ctx, wrapperspb.String(addr))
	return mapRPC(err)
}

func (c *Client) list(ctx context.Context, call func(context.Context) (*structpb.ListValue, error)) ([]string, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	l, err := call(ctx)
	if err != nil {
		return nil, mapRPC(err)
	}
	return listStrings(l)
}

func (c *Client) Peers(ctx context.Context) ([]string, error) {
	return c.list(ctx, func(ctx context.Context) (*structpb.ListValue, error) {
		return c.client.Peers(ctx, &emptypb.Empty{})
	})
}

func (c *Client) Subscriptions(ctx context.Context) ([]string, error) {
	return c.list(ctx, func(ctx context.Context) (*structpb.ListValue, error) {
		return c.client.Subscriptions(ctx, &emptypb.Empty{})
	})
}

func (c *Client) Subscribers(ctx context.Context, topic string) ([]string, error) {
	return c.list(ctx, func(ctx context.Context) (*structpb.ListValue, error) {
		return c.client.Subscribers(ctx, wrapperspb.String(topic))
	})
}

func (c *Client) ResolveName(ctx context.Context, name string) (string, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.ResolveName(ctx, wrapperspb.String(name))
	if err != nil {
		return "", mapRPC(err)
	}
	return reply.GetValue(), nil
}

func (c *Client) Fetch(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.Fetch(ctx, wrapperspb.String(path))
	if err != nil {
		return nil, mapRPC(err)
	}
	return reply.GetValue(), nil
}

func (c *Client) ListDirectory(ctx context.Context, path string) ([]node.Link, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.ListDirectory(ctx, wrapperspb.String(path))
	if err != nil {
		return nil, mapRPC(err)
	}
	return decodeLinks(reply)
}

func (c *Client) Add(ctx context.Context, data []byte) (string, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.Add(ctx, wrapperspb.Bytes(data))
	if err != nil {
		return "", mapRPC(err)
	}
	return reply.GetValue(), nil
}

func (c *Client) AddDirectory(ctx context.Context, links []node.Link) (string, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.AddDirectory(ctx, encodeLinks(links))
	if err != nil {
		return "", mapRPC(err)
	}
	return reply.GetValue(), nil
}

func (c *Client) PublishName(ctx context.Context, path string) error {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	_, err := c.client.PublishName(ctx, wrapperspb.String(path))
	return mapRPC(err)
}

func (c *Client) Publish(ctx context.Context, topic string, data []byte) error {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	_, err := c.client.Publish(ctx, encodeMessage(node.Message{From: c.id, Topic: topic, Data: data}))
	return mapRPC(err)
}

// Subscribe opens a stream for topic and returns once the remote node has
// started relaying it. handler runs on the stream's goroutine.
func (c *Client) Subscribe(ctx context.Context, topic string, handler func(node.Message)) error {
	if handler == nil {
		return errors.New("grpcnode: nil handler")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return node.ErrClosed
	}
	c.mu.Unlock()

	// The stream outlives ctx; it ends on Unsubscribe or Close.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := c.client.Subscribe(sctx, wrapperspb.String(topic))
	if err != nil {
		cancel()
		return mapRPC(err)
	}
	if _, err := stream.Recv(); err != nil {
		cancel()
		return mapRPC(err)
	}

	c.mu.Lock()
	c.subs[topic] = append(c.subs[topic], cancel)
	c.mu.Unlock()

	go func() {
		for {
			msg, err := stream.Recv()
			if err != nil {
				if err != io.EOF && sctx.Err() == nil {
					c.log.WithError(err).WithField("topic", topic).Debug("subscription ended")
				}
				return
			}
			if sctx.Err() != nil {
				return
			}
			m, err := decodeMessage(msg)
			if err != nil {
				c.log.WithError(err).Debug("dropping malformed message")
				continue
			}
			handler(m)
		}
	}()
	return nil
}

func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	cancels := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = map[string][]context.CancelFunc{}
	c.mu.Unlock()

	for _, cancels := range subs {
		for _, cancel := range cancels {
			cancel()
		}
	}
	if c.cc == nil {
		return nil
	}
	return c.cc.Close()
}
