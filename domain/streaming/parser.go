package streaming

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/creatuluw/exploring.fyi-sub000/domain/config"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

const (
	dataPrefix     = "data: "
	frameDelimiter = "\n\n"
)

// Decoder reconstructs protocol messages from a chunked byte stream.
// Chunk boundaries carry no meaning: a frame may arrive split across
// any number of reads, and one read may carry any number of frames.
//
// The decoder is a pull-based state machine: Next blocks on the
// underlying reader until a complete frame is buffered, then yields its
// message. A malformed frame yields a frame-scoped parse error and
// leaves the buffer positioned at the next frame, so one bad message
// never corrupts the rest of the stream.
type Decoder struct {
	r    io.Reader
	buf  bytes.Buffer
	read []byte
	done bool

	maxFrameBytes  int
	maxBufferBytes int
}

// NewDecoder creates a decoder over a raw frame stream
func NewDecoder(r io.Reader, cfg *config.DomainConfig) *Decoder {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &Decoder{
		r:              r,
		read:           make([]byte, 4096),
		maxFrameBytes:  cfg.MaxFrameBytes,
		maxBufferBytes: cfg.MaxBufferBytes,
	}
}

// Next returns the next decoded message in stream order.
//
// It returns io.EOF once the stream is exhausted or a terminal message
// (complete or error) has been yielded; every call after that keeps
// returning io.EOF. A frame parse error is recoverable: log it and call
// Next again. Any other error is terminal for the stream.
func (d *Decoder) Next(ctx context.Context) (Message, error) {
	if d.done {
		return nil, io.EOF
	}

	for {
		if err := ctx.Err(); err != nil {
			d.done = true
			return nil, err
		}

		if frame, ok := d.nextFrame(); ok {
			msg, err := d.decodeFrame(frame)
			if err != nil {
				return nil, err
			}
			if msg == nil {
				// Frame with no data line, e.g. a keep-alive comment.
				continue
			}
			if IsTerminal(msg) {
				d.done = true
			}
			return msg, nil
		}

		if d.buf.Len() > d.maxBufferBytes {
			d.done = true
			return nil, pkgerrors.NewTransportError("stream buffer limit exceeded without a frame delimiter", nil)
		}

		n, err := d.r.Read(d.read)
		if n > 0 {
			d.buf.Write(d.read[:n])
		}
		if err == io.EOF {
			for {
				frame, ok := d.nextFrame()
				if !ok {
					break
				}
				msg, derr := d.decodeFrame(frame)
				if derr != nil {
					return nil, derr
				}
				if msg == nil {
					continue
				}
				if IsTerminal(msg) {
					d.done = true
				}
				return msg, nil
			}
			// A trailing partial frame is dropped: without its
			// delimiter it was never completely transmitted.
			d.done = true
			return nil, io.EOF
		}
		if err != nil {
			d.done = true
			return nil, pkgerrors.NewTransportError("reading generation stream failed", err)
		}
	}
}

// nextFrame extracts one complete frame from the buffer, consuming it
// and its delimiter.
func (d *Decoder) nextFrame() ([]byte, bool) {
	data := d.buf.Bytes()
	idx := bytes.Index(data, []byte(frameDelimiter))
	if idx < 0 {
		return nil, false
	}

	frame := make([]byte, idx)
	copy(frame, data[:idx])
	d.buf.Next(idx + len(frameDelimiter))
	return frame, true
}

// decodeFrame parses the data lines of one frame. A frame with no data
// line decodes to (nil, nil) and is skipped.
func (d *Decoder) decodeFrame(frame []byte) (Message, error) {
	if len(frame) > d.maxFrameBytes {
		return nil, pkgerrors.NewFrameParseError(previewFrame(frame), nil).WithCode("FRAME_TOO_LARGE")
	}

	var body []byte
	for _, line := range strings.Split(string(frame), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		value := strings.TrimPrefix(line, "data:")
		value = strings.TrimPrefix(value, " ")
		if len(body) > 0 {
			body = append(body, '\n')
		}
		body = append(body, value...)
	}

	if len(body) == 0 {
		return nil, nil
	}

	msg, err := Decode(body)
	if err != nil {
		return nil, pkgerrors.NewFrameParseError(previewFrame(frame), err)
	}
	return msg, nil
}

// previewFrame truncates a frame for error details
func previewFrame(frame []byte) string {
	const max = 256
	if len(frame) <= max {
		return string(frame)
	}
	return string(frame[:max]) + "..."
}
