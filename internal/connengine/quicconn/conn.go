// Package quicconn is a trunk.Connection engine that dials QUIC via
// github.com/quic-go/quic-go and opens one long-lived bidirectional stream
// per tconn, the QUIC-native analogue of smuxtcp's one-stream-per-session
// shape. QUIC's own stream flow control and 0-RTT resumption stand in for
// what smux/kcp-go provide the TCP/KCP engines.
//
// Grounded on the teacher's internal/tnet/quic/{dial,conn}.go (TLS config
// generation, context-scoped dial/open-stream calls); the trunk's single
// destination means there is no packet-stats or multi-stream bookkeeping to
// carry over, just dial, open stream, watch for loss.
package quicconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"trunk"
	"trunk/internal/flog"
)

// Config holds the dial-time parameters for a Conn.
type Config struct {
	Addr        string
	DialTimeout time.Duration
	TLS         *tls.Config // nil uses ALPN "trunk-demo", TLS 1.3 minimum, normal certificate verification
	QUIC        *quic.Config
}

// Conn is a trunk.Connection backed by one QUIC connection carrying one
// bidirectional stream, which RequestMux/RequestDemux read and write framed
// requests on via Stream().
type Conn struct {
	cfg Config
	w   trunk.Watcher

	mu     sync.Mutex
	qconn  *quic.Conn
	stream *quic.Stream
	closed bool
}

// New constructs a Conn for cfg.
func New(cfg Config, w trunk.Watcher) *Conn {
	return &Conn{cfg: cfg, w: w}
}

// Stream returns the QUIC stream requests are framed over. Only valid once
// the Watcher has received OnActive; nil otherwise.
func (c *Conn) Stream() *quic.Stream {
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
	qconn, stream := c.qconn, c.stream
	c.qconn, c.stream = nil, nil
	c.mu.Unlock()

	closeQuietly(qconn, stream)

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
	qconn, stream := c.qconn, c.stream
	c.mu.Unlock()

	err := closeQuietly(qconn, stream)
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

	tlsConf := c.cfg.TLS
	if tlsConf == nil {
		tlsConf = &tls.Config{NextProtos: []string{"trunk-demo"}, MinVersion: tls.VersionTLS13}
	}

	flog.Debugf("quicconn: dialing %s", c.cfg.Addr)
	qconn, err := quic.DialAddr(ctx, c.cfg.Addr, tlsConf, c.cfg.QUIC)
	if err != nil {
		c.fail(fmt.Errorf("quicconn: dial %s: %w", c.cfg.Addr, err))
		return
	}

	openCtx, openCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer openCancel()
	stream, err := qconn.OpenStreamSync(openCtx)
	if err != nil {
		_ = qconn.CloseWithError(0, "open stream failed")
		c.fail(fmt.Errorf("quicconn: open stream: %w", err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = stream.Close()
		_ = qconn.CloseWithError(0, "conn closed before handshake finished")
		return
	}
	c.qconn, c.stream = qconn, stream
	c.mu.Unlock()

	flog.Debugf("quicconn: connected to %s", c.cfg.Addr)
	c.w.OnActive()
}

func (c *Conn) fail(err error) {
	flog.Warnf("quicconn: %v", err)
	c.w.OnFailed(err)
}

func closeQuietly(qconn *quic.Conn, stream *quic.Stream) error {
	var firstErr error
	if stream != nil {
		if err := stream.Close(); err != nil {
			firstErr = err
		}
	}
	if qconn != nil {
		if err := qconn.CloseWithError(0, "connection closed"); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
