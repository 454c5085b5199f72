package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultMaxFrame bounds a single request line.
const DefaultMaxFrame = 16 << 20

// ErrFrameTooLarge is matched by the error LineBuffer.Feed returns when a
// line exceeds the limit.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// FrameTooLargeError reports how many lines a Feed call dropped. Each dropped
// line is counted once, when the limit is first crossed.
type FrameTooLargeError struct {
	Lines int
	Max   int
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("frame exceeds maximum size of %d bytes", e.Max)
}

func (e *FrameTooLargeError) Is(target error) bool { return target == ErrFrameTooLarge }

// LineBuffer accumulates bytes from a stream and splits them into
// newline-delimited frames. It is not safe for concurrent use; each
// connection owns one.
type LineBuffer struct {
	buf bytes.Buffer
	max int

	// discarding is set while the rest of an oversized line is skipped.
	discarding bool
}

// NewLineBuffer returns a buffer that rejects lines longer than max bytes.
// A max of zero uses DefaultMaxFrame.
func NewLineBuffer(max int) *LineBuffer {
	if max <= 0 {
		max = DefaultMaxFrame
	}
	return &LineBuffer{max: max}
}

// Feed appends raw bytes and returns every complete, non-blank frame. A
// partial trailing line stays buffered. A line longer than the limit is
// dropped up to and including its newline, however many reads it spans, and
// a *FrameTooLargeError is returned alongside the frames that were within it.
func (b *LineBuffer) Feed(raw []byte) ([][]byte, error) {
	if b.discarding {
		i := bytes.IndexByte(raw, '\n')
		if i < 0 {
			return nil, nil
		}
		b.discarding = false
		raw = raw[i+1:]
	}
	b.buf.Write(raw)

	var (
		frames  [][]byte
		dropped int
	)
	for {
		data := b.buf.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		if i > b.max {
			dropped++
			b.buf.Next(i + 1)
			continue
		}
		line := bytes.TrimSpace(data[:i])
		if len(line) > 0 {
			frame := make([]byte, len(line))
			copy(frame, line)
			frames = append(frames, frame)
		}
		b.buf.Next(i + 1)
	}

	if b.buf.Len() > b.max {
		b.buf.Reset()
		b.discarding = true
		dropped++
	}
	if dropped > 0 {
		return frames, &FrameTooLargeError{Lines: dropped, Max: b.max}
	}
	return frames, nil
}

// Pending returns the number of buffered bytes not yet forming a frame.
func (b *LineBuffer) Pending() int {
	return b.buf.Len()
}

// Encode marshals v as a single frame terminated by a newline.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
