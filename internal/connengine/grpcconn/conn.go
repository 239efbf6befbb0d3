// Package grpcconn is a trunk.Connection engine that dials a destination
// over google.golang.org/grpc and opens one bidirectional-streaming RPC per
// tconn, mirroring the teacher's internal/tnet/grpc (a raw framed byte
// stream riding gRPC's HTTP/2 transport, rather than a service described by
// generated protobuf message types — the trunk's request/response payloads
// are already opaque bytes by the time they reach RequestMux/RequestDemux,
// so there is nothing for .proto-generated structs to describe).
//
// Framing rides grpc's codec plug-in point: rawCodec below marshals and
// unmarshals the wire type directly as a plain []byte, adding no framing of
// its own (gRPC's message framing delimits each message), the same
// trick reverse-proxying gRPC servers use to forward arbitrary payloads
// without depending on the generated service code in
// google.golang.org/protobuf and google.golang.org/genproto.
package grpcconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"trunk"
	"trunk/internal/flog"
)

const codecName = "trunk-raw-bytes"

// rawCodec marshals/unmarshals the wire type as raw bytes with no framing
// of its own, deferring to grpc's own length-prefixed HTTP/2 framing.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("grpcconn: rawCodec.Marshal: want *[]byte, got %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("grpcconn: rawCodec.Unmarshal: want *[]byte, got %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

func (rawCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// streamDesc describes a generic bidi-streaming method; the trunk never
// calls through a generated client, so there is no service/method name that
// means anything beyond routing on the server.
var streamDesc = &grpc.StreamDesc{
	StreamName:    "Pipe",
	ServerStreams: true,
	ClientStreams: true,
}

// Config holds the dial-time parameters for a Conn.
type Config struct {
	Addr        string
	DialTimeout time.Duration
	// FullMethod is the RPC path the server's handler is registered under,
	// e.g. "/trunk.Tunnel/Pipe".
	FullMethod string
	DialOpts   []grpc.DialOption
}

// Conn is a trunk.Connection backed by one gRPC channel carrying one bidi
// stream, which RequestMux/RequestDemux read and write framed requests on
// via Stream().
type Conn struct {
	cfg Config
	w   trunk.Watcher

	mu     sync.Mutex
	cc     *grpc.ClientConn
	stream grpc.ClientStream
	closed bool
}

// New constructs a Conn for cfg.
func New(cfg Config, w trunk.Watcher) *Conn {
	return &Conn{cfg: cfg, w: w}
}

// Stream returns the active bidi stream. SendMsg(buf *[]byte)/RecvMsg(buf
// *[]byte) move raw bytes through it; only valid once the Watcher has
// received OnActive.
func (c *Conn) Stream() grpc.ClientStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

func (c *Conn) Start() error {
	c.w.OnConnecting()
	go c.dial()
	return nil
}

func (c *Conn) Reconnect(reason trunk.Reason) error {
	c.mu.Lock()
	cc, stream := c.cc, c.stream
	c.cc, c.stream = nil, nil
	c.mu.Unlock()

	closeQuietly(cc, stream)

	c.w.OnConnecting()
	go c.dial()
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cc, stream := c.cc, c.stream
	c.mu.Unlock()

	err := closeQuietly(cc, stream)
	c.w.OnClosed()
	return err
}

func (c *Conn) dial() {
	timeout := c.cfg.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, c.cfg.DialOpts...)

	flog.Debugf("grpcconn: dialing %s", c.cfg.Addr)
	cc, err := grpc.NewClient(c.cfg.Addr, opts...)
	if err != nil {
		c.fail(fmt.Errorf("grpcconn: dial %s: %w", c.cfg.Addr, err))
		return
	}

	method := c.cfg.FullMethod
	if method == "" {
		method = "/trunk.Tunnel/Pipe"
	}
	stream, err := cc.NewStream(ctx, streamDesc, method)
	if err != nil {
		_ = cc.Close()
		c.fail(fmt.Errorf("grpcconn: open stream: %w", err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = cc.Close()
		return
	}
	c.cc, c.stream = cc, stream
	c.mu.Unlock()

	flog.Debugf("grpcconn: connected to %s", c.cfg.Addr)
	c.w.OnActive()
}

func (c *Conn) fail(err error) {
	flog.Warnf("grpcconn: %v", err)
	c.w.OnFailed(err)
}

func closeQuietly(cc *grpc.ClientConn, stream grpc.ClientStream) error {
	var firstErr error
	if stream != nil {
		if err := stream.CloseSend(); err != nil {
			firstErr = err
		}
	}
	if cc != nil {
		if err := cc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
