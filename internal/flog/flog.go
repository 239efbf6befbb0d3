// Package flog is the trunk's internal structured logger, adapted from the
// teacher's internal/flog: a tiny leveled logger backed by a buffered
// channel so a slow sink can never block the single-threaded, non-
// suspending trunk call path (spec.md §5). A library has no business
// calling os.Exit on a caller's behalf, so the teacher's Fatalf is dropped;
// everything else — the channel-buffered sink, the WErr suppression hook —
// is kept.
package flog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

type Level int

const None Level = -1

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var (
	minLevel  = Warn
	logCh     = make(chan string, 1024)
	sinkStart sync.Once
)

// SetLevel sets the minimum level that reaches the sink and starts (once,
// regardless of how many times SetLevel is called) the background
// goroutine that drains logCh to stdout.
func SetLevel(l int) {
	minLevel = Level(l)
	sinkStart.Do(func() {
		go func() {
			for msg := range logCh {
				fmt.Fprint(os.Stdout, msg)
			}
		}()
	})
}

// Suppressor lets a call site mark certain errors as expected and
// non-actionable (e.g. io.EOF on a peer-initiated close) so they never hit
// the log. The zero value suppresses nothing.
type Suppressor func(error) bool

var suppressor Suppressor

// SetSuppressor installs a Suppressor; passing nil disables suppression.
func SetSuppressor(s Suppressor) { suppressor = s }

// WErr applies the installed Suppressor to err, returning nil if err should
// be dropped from the log rather than reported.
func WErr(err error) error {
	if err == nil || suppressor == nil {
		return err
	}
	if suppressor(err) {
		return nil
	}
	return err
}

func logf(level Level, format string, args ...any) {
	if level < minLevel || minLevel == None {
		return
	}

	for _, arg := range args {
		if err, ok := arg.(error); ok {
			if WErr(err) == nil {
				return
			}
		}
	}

	now := time.Now().Format("2006-01-02 15:04:05.000")
	line := fmt.Sprintf("%s [%s] %s\n", now, level.String(), fmt.Sprintf(format, args...))

	select {
	case logCh <- line:
	default:
	}
}

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case None:
		return "None"
	default:
		return "UNKNOWN"
	}
}

func Debugf(format string, args ...any) { logf(Debug, format, args...) }
func Infof(format string, args ...any)  { logf(Info, format, args...) }
func Warnf(format string, args ...any)  { logf(Warn, format, args...) }
func Errorf(format string, args ...any) { logf(Error, format, args...) }

func Close() { close(logCh) }
