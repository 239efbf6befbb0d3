package reqpool

import (
	"testing"
	"time"
)

func TestGetReturnsUsableZeroLengthBuffer(t *testing.T) {
	p := New(64, 4, time.Minute)
	buf := p.Get()
	if len(*buf) != 0 {
		t.Fatalf("len(*buf) = %d, want 0", len(*buf))
	}
	*buf = append(*buf, 1, 2, 3)
	if cap(*buf) < 3 {
		t.Fatalf("cap(*buf) = %d, want >= 3", cap(*buf))
	}
}

func TestReleaseThenReclaimReturnsBufferToPool(t *testing.T) {
	p := New(64, 0, time.Minute)
	buf := p.Get()
	*buf = append(*buf, 9, 9, 9)

	p.Release(42, buf)
	p.Reclaim(42)

	// The buffer is back in the underlying sync.Pool; a Get may or may not
	// return this exact slice (sync.Pool makes no promise), but the pool
	// must still hand back a usable zero-length buffer either way.
	got := p.Get()
	if len(*got) != 0 {
		t.Fatalf("len(*got) = %d, want 0", len(*got))
	}
}

func TestReclaimWithoutReleaseIsANoOp(t *testing.T) {
	p := New(64, 0, time.Minute)
	p.Reclaim(999) // never released; must not panic
}
