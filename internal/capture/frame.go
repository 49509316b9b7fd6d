package capture

import (
	"errors"
	"sync"
	"time"
)

// ErrNoFrame is returned when the buffer has never been published to.
// Absence of a frame is an expected startup condition, not a failure of
// the buffer itself.
var ErrNoFrame = errors.New("no frame available yet")

// Frame is one still image sample from the video source. The Data slice
// holds the encoded (JPEG) image. Frames are treated as immutable once
// published; consumers get their own copy.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Seq       uint64
	Timestamp time.Time
}

// Clone returns a deep copy of the frame
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return &Frame{
		Data:      data,
		Width:     f.Width,
		Height:    f.Height,
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
	}
}

// FrameBuffer is a single-slot holder for the most recent frame.
// Publish overwrites unconditionally; there is no queue and no
// backpressure. Readers never observe a partially written frame because
// the slot is swapped whole under the lock and reads hand out copies.
type FrameBuffer struct {
	mu    sync.RWMutex
	frame *Frame
}

// NewFrameBuffer creates an empty frame buffer
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Publish replaces the held frame. The buffer takes ownership of the
// given frame; the publisher must not mutate it afterwards.
func (b *FrameBuffer) Publish(f *Frame) {
	if f == nil {
		return
	}
	b.mu.Lock()
	b.frame = f
	b.mu.Unlock()
}

// Read returns a copy of the current frame, or ErrNoFrame if capture has
// not produced one yet.
func (b *FrameBuffer) Read() (*Frame, error) {
	b.mu.RLock()
	f := b.frame
	b.mu.RUnlock()

	if f == nil {
		return nil, ErrNoFrame
	}
	return f.Clone(), nil
}

// Seq returns the sequence number of the current frame, 0 when empty.
// Stream consumers use it to skip frames they have already sent.
func (b *FrameBuffer) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.frame == nil {
		return 0
	}
	return b.frame.Seq
}
