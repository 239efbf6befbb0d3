package kcp

import "testing"

func TestPadKeyTruncatesAndStretches(t *testing.T) {
	short := padKey([]byte("abc"))
	if len(short) != 16 {
		t.Fatalf("len = %d, want 16", len(short))
	}
	if string(short[:3]) != "abc" {
		t.Fatalf("prefix = %q, want %q", short[:3], "abc")
	}
	for _, b := range short[3:] {
		if b != 0 {
			t.Fatalf("padding byte = %d, want 0", b)
		}
	}

	long := padKey([]byte("0123456789abcdefGHIJ"))
	if len(long) != 16 {
		t.Fatalf("len = %d, want 16", len(long))
	}
	if string(long) != "0123456789abcdef" {
		t.Fatalf("truncated key = %q, want %q", long, "0123456789abcdef")
	}
}

func TestNewWithoutKeySkipsBlockCrypt(t *testing.T) {
	c, err := New(Config{Addr: "127.0.0.1:0"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.blockKey != nil {
		t.Fatalf("blockKey = %v, want nil when Config.Key is empty", c.blockKey)
	}
}
