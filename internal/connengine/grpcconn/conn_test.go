package grpcconn

import "testing"

func TestRawCodecRoundTrip(t *testing.T) {
	want := []byte("ping-1")
	var c rawCodec

	wire, err := c.Marshal(&want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got []byte
	if err := c.Unmarshal(wire, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("round trip = %q, want %q", got, want)
	}
}

func TestRawCodecWrongType(t *testing.T) {
	var c rawCodec
	if _, err := c.Marshal("not a *[]byte"); err == nil {
		t.Fatalf("Marshal: want error for wrong type")
	}
	var dst []byte
	if err := c.Unmarshal([]byte("x"), &dst); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if err := c.Unmarshal([]byte("x"), "not a *[]byte"); err == nil {
		t.Fatalf("Unmarshal: want error for wrong type")
	}
}
