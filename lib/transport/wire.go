// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/credcourier/courier/lib/codec"
	"github.com/credcourier/courier/lib/secret"
)

// Frame types. Every frame is a CBOR map with a "type" field.
const (
	frameHello   = "hello"
	frameWelcome = "welcome"
	frameDeliver = "deliver"
	frameStatus  = "status"
)

// handshakeTimeout bounds the hello/welcome exchange. A helper that
// accepts the connection but never answers is treated as refusing it.
const handshakeTimeout = 10 * time.Second

// writeTimeout is how long a single frame write may take.
const writeTimeout = 10 * time.Second

// maxFrameSize is the largest frame either side accepts. Delivery
// frames carry a handful of short strings; 64 KiB leaves room for
// sealed fields and long entry titles.
const maxFrameSize = 64 * 1024

// header is decoded first to route a frame.
type header struct {
	Type string `cbor:"type"`
}

// helloFrame opens a session and names the endpoint to bind to.
type helloFrame struct {
	Type     string `cbor:"type"`
	Endpoint string `cbor:"endpoint"`
}

// welcomeFrame accepts or refuses the bind.
type welcomeFrame struct {
	Type  string `cbor:"type"`
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`
}

// deliverFrame carries one credential. When Sealed is set, Secret
// and OTP are age ciphertext for the endpoint's recipient.
type deliverFrame struct {
	Type       string `cbor:"type"`
	RequestID  string `cbor:"request_id"`
	Mode       string `cbor:"mode"`
	Username   string `cbor:"username,omitempty"`
	Secret     []byte `cbor:"secret,omitempty"`
	OTP        []byte `cbor:"otp,omitempty"`
	EntryTitle string `cbor:"entry_title,omitempty"`
	EntryID    string `cbor:"entry_id,omitempty"`
	Sealed     bool   `cbor:"sealed,omitempty"`
}

// statusFrame answers a deliver frame with the same request ID. A
// non-empty Error means the endpoint could not process the frame at
// all; otherwise Status is the endpoint's verdict, zero for success.
type statusFrame struct {
	Type      string `cbor:"type"`
	RequestID string `cbor:"request_id"`
	Status    int    `cbor:"status"`
	Error     string `cbor:"error,omitempty"`
}

// result is the outcome a status frame reports to the caller.
func (f statusFrame) result() (int, error) {
	if f.Error != "" {
		return 0, &RemoteError{Op: "deliver", Message: f.Error}
	}
	return f.Status, nil
}

// errFrameTooLarge is returned when one frame exceeds maxFrameSize,
// by frameReader on the receiving side and by encodeFrame before
// anything is sent.
var errFrameTooLarge = errors.New("frame exceeds size limit")

// frameReader limits how much of a persistent stream one frame may
// consume. The budget is reset after every decoded frame.
type frameReader struct {
	reader    io.Reader
	remaining int
}

func newFrameReader(reader io.Reader) *frameReader {
	return &frameReader{reader: reader, remaining: maxFrameSize}
}

func (f *frameReader) Read(p []byte) (int, error) {
	if f.remaining <= 0 {
		return 0, errFrameTooLarge
	}
	if len(p) > f.remaining {
		p = p[:f.remaining]
	}
	n, err := f.reader.Read(p)
	f.remaining -= n
	return n, err
}

func (f *frameReader) reset() {
	f.remaining = maxFrameSize
}

// frameDecoder reads successive frames from one connection.
type frameDecoder struct {
	limit   *frameReader
	decoder *codec.Decoder
}

func newFrameDecoder(reader io.Reader) *frameDecoder {
	limit := newFrameReader(reader)
	return &frameDecoder{limit: limit, decoder: codec.NewDecoder(limit)}
}

// next returns the raw bytes and type of the next frame. The caller
// zeroes raw when it may hold secret material.
func (d *frameDecoder) next() (codec.RawMessage, string, error) {
	var raw codec.RawMessage
	if err := d.decoder.Decode(&raw); err != nil {
		return nil, "", err
	}
	d.limit.reset()

	var head header
	if err := codec.Unmarshal(raw, &head); err != nil {
		return raw, "", fmt.Errorf("decoding frame header: %w", err)
	}
	if head.Type == "" {
		return raw, "", errors.New("frame has no type")
	}
	return raw, head.Type, nil
}

// expect decodes the next frame into v, which must be of frame type
// want.
func (d *frameDecoder) expect(want string, v any) error {
	raw, frameType, err := d.next()
	if err != nil {
		return err
	}
	if frameType != want {
		return fmt.Errorf("expected %s frame, got %q", want, frameType)
	}
	if err := codec.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding %s frame: %w", want, err)
	}
	return nil
}

// encodeFrame encodes v and refuses frames the peer would reject as
// too large. The caller zeroes the result when it holds credentials.
func encodeFrame(v any) ([]byte, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	if len(data) > maxFrameSize {
		secret.Zero(data)
		return nil, fmt.Errorf("%w: %d bytes, limit %d", errFrameTooLarge, len(data), maxFrameSize)
	}
	return data, nil
}

// writeFrame encodes v and writes it to conn in one write. The
// encoded bytes are zeroed afterwards because deliver frames carry
// credentials. Callers serialize writes on a shared connection.
func writeFrame(conn net.Conn, v any) error {
	data, err := encodeFrame(v)
	if err != nil {
		return err
	}
	defer secret.Zero(data)
	return writeEncoded(conn, data)
}

// writeEncoded writes one already encoded frame.
func writeEncoded(conn net.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}
