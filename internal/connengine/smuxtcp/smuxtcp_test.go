package smuxtcp

import (
	"net"
	"testing"
	"time"

	"github.com/xtaci/smux"

	"trunk/internal/demoproto"
)

// TestDemoprotoOverSmuxStream exercises the framing this engine carries
// requests on, without a real TCP dial: two smux sessions over a net.Pipe,
// one stream opened on each side, one demoproto request/response round trip.
func TestDemoprotoOverSmuxStream(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientSess, err := smux.Client(clientConn, smux.DefaultConfig())
	if err != nil {
		t.Fatalf("smux.Client: %v", err)
	}
	defer clientSess.Close()

	serverSess, err := smux.Server(serverConn, smux.DefaultConfig())
	if err != nil {
		t.Fatalf("smux.Server: %v", err)
	}
	defer serverSess.Close()

	done := make(chan error, 1)
	go func() {
		strm, err := serverSess.AcceptStream()
		if err != nil {
			done <- err
			return
		}
		defer strm.Close()

		req, err := demoproto.ReadRequest(strm)
		if err != nil {
			done <- err
			return
		}
		done <- demoproto.WriteResponse(strm, demoproto.Response{
			ID:      req.ID,
			Status:  demoproto.StatusOK,
			Payload: req.Payload,
		})
	}()

	clientStrm, err := clientSess.OpenStream()
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer clientStrm.Close()

	want := demoproto.Request{ID: 7, Op: 1, Payload: []byte("ping")}
	if err := demoproto.WriteRequest(clientStrm, want); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}

	resp, err := demoproto.ReadResponse(clientStrm)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.ID != want.ID || resp.Status != demoproto.StatusOK || string(resp.Payload) != "ping" {
		t.Fatalf("got %+v, want echo of %+v", resp, want)
	}

	if err := <-done; err != nil {
		t.Fatalf("server goroutine: %v", err)
	}
}

func TestReconnectBeforeDialDoesNotPanic(t *testing.T) {
	var watched []string
	w := &recordingWatcher{events: &watched}
	c := New(Config{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond}, w)

	// Reconnect before Start has ever produced a session: must not panic
	// on nil sess/stream/tcpConn, since nothing has connected yet.
	if err := c.Reconnect(0); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
}

type recordingWatcher struct{ events *[]string }

func (w *recordingWatcher) OnConnecting()      { *w.events = append(*w.events, "connecting") }
func (w *recordingWatcher) OnActive()          { *w.events = append(*w.events, "active") }
func (w *recordingWatcher) OnFailed(err error) { *w.events = append(*w.events, "failed") }
func (w *recordingWatcher) OnClosed()          { *w.events = append(*w.events, "closed") }
