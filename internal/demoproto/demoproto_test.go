package demoproto

import (
	"bytes"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Request{ID: 42, Op: 7, Payload: []byte("hello")}

	if err := WriteRequest(&buf, want); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	got, err := ReadRequest(&buf)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if got.ID != want.ID || got.Op != want.Op || !bytes.Equal(got.Payload, want.Payload) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Response{ID: 9, Status: StatusError, Payload: nil}

	if err := WriteResponse(&buf, want); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	got, err := ReadResponse(&buf)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if got.ID != want.ID || got.Status != want.Status || len(got.Payload) != 0 {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	reqs := []Request{
		{ID: 1, Op: 1, Payload: []byte("a")},
		{ID: 2, Op: 2, Payload: []byte("bb")},
		{ID: 3, Op: 3, Payload: nil},
	}
	for _, r := range reqs {
		if err := WriteRequest(&buf, r); err != nil {
			t.Fatalf("WriteRequest(%d): %v", r.ID, err)
		}
	}
	for _, want := range reqs {
		got, err := ReadRequest(&buf)
		if err != nil {
			t.Fatalf("ReadRequest: %v", err)
		}
		if got.ID != want.ID {
			t.Errorf("got id %d, want %d", got.ID, want.ID)
		}
	}
}

func TestReadRequestShortFrame(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 2, 1, 1})
	if _, err := ReadRequest(buf); err == nil {
		t.Fatal("expected an error for a too-short frame")
	}
}
