// Command trunkctl drives a trunk against a demoproto echo endpoint and
// prints periodic stats, the way cmd/run drives a client or server off a
// YAML config file. It owns the trunk single-threadedly: every Signal*/
// Enqueue/Tick call happens on the one goroutine inside runTrunk. The
// smuxtcp engine's dial goroutine reports state transitions from a
// different goroutine, so ConnectionAlloc wraps the Watcher the trunk
// hands it in chanWatcher, which posts a closure onto events instead of
// calling the trunk directly; the main loop drains events on the owning
// goroutine.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"trunk"
	"trunk/internal/connengine/smuxtcp"
	"trunk/internal/demoproto"
	"trunk/internal/flog"
)

var (
	confPath string
	addr     string
	pingN    int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "trunkctl",
	Short: "Demos a trunk connection pool against a demoproto echo endpoint.",
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&confPath, "config", "c", "trunkctl.yaml", "Path to the trunk configuration file.")
	runCmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9443", "Destination address to dial.")
	runCmd.Flags().IntVar(&pingN, "pings", 8, "Number of demo ping requests to send at startup.")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Starts a trunk and prints periodic stats until interrupted.",
	RunE:  runTrunk,
}

// tconnEngine bundles one tconn's connection engine with the correlation
// table RequestMux/RequestDemux use to match responses back to requests.
type tconnEngine struct {
	conn     *smuxtcp.Conn
	inflight map[uint64]*trunk.Request
}

// demoPayload is the preq every request carries in this demo.
type demoPayload struct {
	id      uint64
	payload []byte
}

// chanWatcher adapts a trunk.Watcher so calls arriving from a connection
// engine's own goroutine (smuxtcp's dial loop) are replayed on the trunk's
// owning goroutine instead of racing it.
type chanWatcher struct {
	inner  trunk.Watcher
	events chan func()
}

func (w *chanWatcher) OnConnecting()      { w.events <- w.inner.OnConnecting }
func (w *chanWatcher) OnActive()          { w.events <- w.inner.OnActive }
func (w *chanWatcher) OnFailed(err error) { w.events <- func() { w.inner.OnFailed(err) } }
func (w *chanWatcher) OnClosed()          { w.events <- w.inner.OnClosed }

func runTrunk(cmd *cobra.Command, args []string) error {
	cfg, err := trunk.LoadFromFile(confPath)
	if err != nil {
		flog.Warnf("trunkctl: could not load %s (%v), using built-in defaults", confPath, err)
		cfg = &trunk.Config{
			Start:          2,
			Min:            1,
			Max:            4,
			Connecting:     2,
			AlwaysWritable: true,
			ManageInterval: 500 * time.Millisecond,
			ReqPoolHeaders: 64,
		}
	}
	flog.SetLevel(int(flog.Info))

	var (
		mu      sync.Mutex
		engines = make(map[uint64]*tconnEngine)
		nextID  uint64
		events  = make(chan func(), 256)
	)

	var tr *trunk.Trunk

	cb := &trunk.Callbacks{
		ConnectionAlloc: func(tc *trunk.Tconn, w trunk.Watcher) (trunk.Connection, error) {
			cw := &chanWatcher{inner: w, events: events}
			eng := smuxtcp.New(smuxtcp.Config{Addr: addr, DialTimeout: 5 * time.Second}, cw)
			mu.Lock()
			engines[tc.ID()] = &tconnEngine{conn: eng, inflight: make(map[uint64]*trunk.Request)}
			mu.Unlock()
			return eng, nil
		},
		ConnectionNotify: func(tc *trunk.Tconn, events trunk.IOEvents) {
			flog.Debugf("trunkctl: tconn %d wants events=%v", tc.ID(), events)
		},
		ConnectionPrioritise: func(a, b *trunk.Tconn) bool { return a.Load() < b.Load() },
		RequestPrioritise:    func(a, b any) bool { return false }, // FIFO

		RequestMux: func(tc *trunk.Tconn) error {
			mu.Lock()
			eng := engines[tc.ID()]
			mu.Unlock()
			stream := eng.conn.Stream()
			if stream == nil {
				return nil
			}
			for {
				r := tc.PopRequest()
				if r == nil {
					return nil
				}
				dp := r.Preq().(demoPayload)
				if err := demoproto.WriteRequest(stream, demoproto.Request{ID: dp.id, Op: 1, Payload: dp.payload}); err != nil {
					tr.SignalFail(r, err)
					continue
				}
				mu.Lock()
				eng.inflight[dp.id] = r
				mu.Unlock()
				tr.SignalSent(r)
			}
		},
		RequestDemux: func(tc *trunk.Tconn) error {
			mu.Lock()
			eng := engines[tc.ID()]
			mu.Unlock()
			stream := eng.conn.Stream()
			if stream == nil {
				return nil
			}
			// No real readiness notification is wired for this demo engine,
			// so each poll uses a short deadline instead of blocking the
			// single-threaded loop indefinitely.
			_ = stream.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
			resp, err := demoproto.ReadResponse(stream)
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					return nil
				}
				// A hard read error here means the stream is wedged; leave
				// it for the connection engine's own failure path rather
				// than tearing the tconn down from inside demux.
				return nil
			}
			mu.Lock()
			r := eng.inflight[resp.ID]
			delete(eng.inflight, resp.ID)
			mu.Unlock()
			if r == nil {
				return nil
			}
			if resp.Status == demoproto.StatusOK {
				tr.SignalComplete(r)
			} else {
				tr.SignalFail(r, fmt.Errorf("trunkctl: remote reported status %d", resp.Status))
			}
			return nil
		},

		RequestCancel:   func(r *trunk.Request, reason trunk.Reason) { flog.Debugf("trunkctl: cancelling request (%s)", reason) },
		RequestComplete: func(r *trunk.Request) {
			dp := r.Preq().(demoPayload)
			flog.Infof("trunkctl: request %d complete", dp.id)
		},
		RequestFail: func(r *trunk.Request, err error) {
			dp := r.Preq().(demoPayload)
			flog.Warnf("trunkctl: request %d failed: %v", dp.id, err)
		},
		RequestFree: func(r *trunk.Request) {},
	}

	tr, err = trunk.New(cfg, cb)
	if err != nil {
		return fmt.Errorf("trunkctl: %w", err)
	}
	if err := tr.Start(); err != nil {
		return fmt.Errorf("trunkctl: start: %w", err)
	}

	for i := 0; i < pingN; i++ {
		nextID++
		r := tr.Alloc(demoPayload{id: nextID, payload: []byte(fmt.Sprintf("ping-%d", nextID))}, nil)
		switch tr.Enqueue(r) {
		case trunk.Ok, trunk.InBacklog:
		default:
			flog.Warnf("trunkctl: could not enqueue ping %d", nextID)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ticker := time.NewTicker(cfg.ManageInterval)
	defer ticker.Stop()

	lastStats := time.Time{}
	for {
		select {
		case <-ctx.Done():
			flog.Infof("trunkctl: shutting down")
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			return tr.Stop(stopCtx)
		case fn := <-events:
			fn()
		case now := <-ticker.C:
			tr.Tick(now)
			tr.EachActive(func(tc *trunk.Tconn) {
				_ = tr.SignalReadable(tc)
			})
			if now.Sub(lastStats) >= 2*time.Second {
				lastStats = now
				s := tr.Stats()
				flog.Infof("trunkctl: active=%d connecting=%d failed=%d backlog=%d pending=%d sent=%d",
					s.Active, s.Connecting, s.Failed, s.Backlog, s.Pending, s.Sent)
			}
		}
	}
}
