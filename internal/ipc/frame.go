// Package ipc implements the agent's framed transport: each message is a
// UTF-8 JSON object terminated by a single NUL byte, at most 256 KiB. The
// same framing runs over the agent's unix socket and over the pipe pair
// to the frontend prompter.
package ipc

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the maximum serialized message size, terminator
// excluded.
const MaxFrameSize = 256 * 1024

// ErrFrameTooLarge is returned when a peer sends or requests a frame over
// MaxFrameSize. The connection is unusable afterwards.
var ErrFrameTooLarge = errors.New("ipc: frame exceeds 256 KiB")

// Framer reads and writes framed messages on a stream.
type Framer struct {
	r *bufio.Reader
	w io.Writer
}

// NewFramer wraps a duplex stream.
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{r: bufio.NewReaderSize(rw, 4096), w: rw}
}

// NewFramerPair wraps separate read and write halves (the pipe pair to
// the frontend).
func NewFramerPair(r io.Reader, w io.Writer) *Framer {
	return &Framer{r: bufio.NewReaderSize(r, 4096), w: w}
}

// ReadMessage reads one frame, excluding the terminator. io.EOF before
// any byte means the peer closed cleanly; a mid-frame close is
// io.ErrUnexpectedEOF. Reading stops as soon as an unterminated frame
// exceeds MaxFrameSize, so a peer cannot grow the buffer without bound.
func (f *Framer) ReadMessage() ([]byte, error) {
	var msg []byte
	for {
		chunk, err := f.r.ReadSlice(0)
		msg = append(msg, chunk...)
		switch {
		case err == nil:
			msg = msg[:len(msg)-1]
			if len(msg) > MaxFrameSize {
				return nil, ErrFrameTooLarge
			}
			return msg, nil
		case errors.Is(err, bufio.ErrBufferFull):
			if len(msg) > MaxFrameSize {
				return nil, ErrFrameTooLarge
			}
		case errors.Is(err, io.EOF):
			if len(msg) == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, fmt.Errorf("ipc: reading frame: %w", err)
		}
	}
}

// WriteMessage writes one frame. The payload must not contain NUL, which
// valid JSON text never does.
func (f *Framer) WriteMessage(payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	if bytes.IndexByte(payload, 0) >= 0 {
		return errors.New("ipc: payload contains NUL")
	}

	out := make([]byte, len(payload)+1)
	copy(out, payload)
	if _, err := f.w.Write(out); err != nil {
		return fmt.Errorf("ipc: writing frame: %w", err)
	}
	return nil
}
