// Package demoproto is a small length-prefixed request/response codec used
// by cmd/trunkctl and the smuxtcp integration tests to give the trunk
// library something concrete to multiplex. It is not part of the trunk
// package itself: the trunk has no idea what bytes its callbacks push onto
// the wire, only that PopRequest/PopCancel hand it *trunk.Request values.
//
// Framing is grounded on the teacher pack's jseow5177-tcp_pool
// internal/tcp/pool.go: a fixed-size big-endian length prefix followed by
// the payload, read with io.ReadFull so short reads never corrupt framing.
package demoproto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Status is the outcome byte on a Response.
type Status uint8

const (
	StatusOK Status = iota
	StatusError
	StatusCancelled
)

const headerSize = 8 + 1 + 4 // request id + op/status byte + payload length

// Request is one application request frame: an id the peer must echo back
// on its Response so demux can correlate it, an opcode, and an opaque
// payload.
type Request struct {
	ID      uint64
	Op      uint8
	Payload []byte
}

// Response is the corresponding reply frame.
type Response struct {
	ID      uint64
	Status  Status
	Payload []byte
}

// WriteRequest writes r to w as one length-prefixed frame.
func WriteRequest(w io.Writer, r Request) error {
	return writeFrame(w, r.ID, r.Op, r.Payload)
}

// ReadRequest reads one Request frame from r.
func ReadRequest(r io.Reader) (Request, error) {
	id, op, payload, err := readFrame(r)
	if err != nil {
		return Request{}, err
	}
	return Request{ID: id, Op: op, Payload: payload}, nil
}

// WriteResponse writes resp to w as one length-prefixed frame.
func WriteResponse(w io.Writer, resp Response) error {
	return writeFrame(w, resp.ID, uint8(resp.Status), resp.Payload)
}

// ReadResponse reads one Response frame from r.
func ReadResponse(r io.Reader) (Response, error) {
	id, status, payload, err := readFrame(r)
	if err != nil {
		return Response{}, err
	}
	return Response{ID: id, Status: Status(status), Payload: payload}, nil
}

func writeFrame(w io.Writer, id uint64, tag uint8, payload []byte) error {
	buf := make([]byte, 4+headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(headerSize+len(payload)))
	binary.BigEndian.PutUint64(buf[4:12], id)
	buf[12] = tag
	binary.BigEndian.PutUint32(buf[13:17], uint32(len(payload)))
	copy(buf[17:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("demoproto: write: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) (id uint64, tag uint8, payload []byte, err error) {
	var lenBuf [4]byte
	if _, err = io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, 0, nil, fmt.Errorf("demoproto: read length: %w", err)
	}
	total := binary.BigEndian.Uint32(lenBuf[:])
	if total < headerSize {
		return 0, 0, nil, fmt.Errorf("demoproto: frame too short: %d", total)
	}

	rest := make([]byte, total)
	if _, err = io.ReadFull(r, rest); err != nil {
		return 0, 0, nil, fmt.Errorf("demoproto: read body: %w", err)
	}

	id = binary.BigEndian.Uint64(rest[0:8])
	tag = rest[8]
	plen := binary.BigEndian.Uint32(rest[9:13])
	if uint32(len(rest)-13) != plen {
		return 0, 0, nil, fmt.Errorf("demoproto: payload length mismatch: header says %d, got %d", plen, len(rest)-13)
	}
	payload = rest[13:]
	return id, tag, payload, nil
}
