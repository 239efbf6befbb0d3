package flog

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w

	outCh := make(chan string, 1)
	go func() {
		var buf bytes.Buffer
		io.Copy(&buf, r)
		outCh <- buf.String()
	}()

	fn()
	time.Sleep(50 * time.Millisecond)

	w.Close()
	os.Stdout = old
	return <-outCh
}

func TestLevelFiltering(t *testing.T) {
	out := captureStdout(t, func() {
		SetLevel(int(Warn))
		Debugf("should not appear")
		Infof("should not appear either")
		Warnf("warn message %d", 1)
		Errorf("error message %d", 2)
	})

	if strings.Contains(out, "should not appear") {
		t.Errorf("expected Debug/Info to be filtered out at Warn level, got: %s", out)
	}
	if !strings.Contains(out, "[WARN] warn message 1") {
		t.Errorf("expected warn message in output, got: %s", out)
	}
	if !strings.Contains(out, "[ERROR] error message 2") {
		t.Errorf("expected error message in output, got: %s", out)
	}
}

func TestSuppressorDropsMatchedErrors(t *testing.T) {
	boring := errors.New("boring expected error")
	SetSuppressor(func(err error) bool { return errors.Is(err, boring) })
	defer SetSuppressor(nil)

	out := captureStdout(t, func() {
		SetLevel(int(Debug))
		Errorf("saw error: %v", boring)
		Errorf("saw error: %v", errors.New("unexpected error"))
	})

	if strings.Contains(out, "boring expected error") {
		t.Errorf("suppressed error should not have been logged, got: %s", out)
	}
	if !strings.Contains(out, "unexpected error") {
		t.Errorf("non-suppressed error should have been logged, got: %s", out)
	}
}

func TestWErr(t *testing.T) {
	boring := errors.New("boring")
	SetSuppressor(func(err error) bool { return errors.Is(err, boring) })
	defer SetSuppressor(nil)

	if got := WErr(boring); got != nil {
		t.Errorf("WErr(boring) = %v, want nil", got)
	}
	other := errors.New("other")
	if got := WErr(other); got != other {
		t.Errorf("WErr(other) = %v, want %v", got, other)
	}
	if got := WErr(nil); got != nil {
		t.Errorf("WErr(nil) = %v, want nil", got)
	}
}

func TestSetLevelNoneSilencesEverything(t *testing.T) {
	out := captureStdout(t, func() {
		SetLevel(int(None))
		Errorf("nothing should reach the sink")
		SetLevel(int(Debug))
	})
	if strings.Contains(out, "nothing should reach the sink") {
		t.Errorf("expected None level to suppress all output, got: %s", out)
	}
}
