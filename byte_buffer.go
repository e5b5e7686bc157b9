package xnio

import (
	"io"

	"github.com/benothman/xnio/xnioerrors"
)

// ByteBuffer is a fixed-capacity byte buffer for non-blocking networking code.
//
// Bytes written by the caller, either directly or by reading from a
// descriptor, are appended to the readable region returned by Data. Bytes
// handled by the caller are discarded with Consume. The buffer never grows:
// a write which does not fit stores what it can and reports
// xnioerrors.ErrNoBufferSpaceAvailable.
type ByteBuffer struct {
	data []byte

	oneByte [1]byte
}

// Interfaces which ByteBuffer implements.
var (
	_ io.Reader     = &ByteBuffer{}
	_ io.ByteReader = &ByteBuffer{}

	_ io.Writer       = &ByteBuffer{}
	_ io.ByteWriter   = &ByteBuffer{}
	_ io.StringWriter = &ByteBuffer{}

	_ io.ReaderFrom = &ByteBuffer{}
	_ io.WriterTo   = &ByteBuffer{}
)

func NewByteBuffer(capacity int) *ByteBuffer {
	return &ByteBuffer{
		data: make([]byte, 0, capacity),
	}
}

// Data returns the readable bytes. The slice aliases the buffer and is only
// valid until the next mutating call.
func (b *ByteBuffer) Data() []byte {
	return b.data
}

// Len returns the number of readable bytes.
func (b *ByteBuffer) Len() int {
	return len(b.data)
}

// Cap returns the fixed capacity of the buffer.
func (b *ByteBuffer) Cap() int {
	return cap(b.data)
}

// Remaining returns the number of bytes which can still be written.
func (b *ByteBuffer) Remaining() int {
	return cap(b.data) - len(b.data)
}

// Full reports whether no more bytes can be written.
func (b *ByteBuffer) Full() bool {
	return len(b.data) == cap(b.data)
}

// Consume removes the first n readable bytes.
func (b *ByteBuffer) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= len(b.data) {
		b.data = b.data[:0]
		return
	}

	m := copy(b.data, b.data[n:])
	b.data = b.data[:m]
}

// Reset discards all readable bytes.
func (b *ByteBuffer) Reset() {
	b.data = b.data[:0]
}

// Read reads and consumes readable bytes into dst.
func (b *ByteBuffer) Read(dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}

	if len(b.data) == 0 {
		return 0, io.EOF
	}

	n := copy(dst, b.data)
	b.Consume(n)

	return n, nil
}

// ReadByte reads and consumes one readable byte.
func (b *ByteBuffer) ReadByte() (byte, error) {
	_, err := b.Read(b.oneByte[:])
	return b.oneByte[0], err
}

// ReadFrom performs a single read from r into the free space of the buffer.
// Unlike io.Copy style readers it does not loop, so it never blocks more than
// once on a blocking reader and never spins on a non-blocking one.
func (b *ByteBuffer) ReadFrom(r io.Reader) (int64, error) {
	if b.Full() {
		return 0, xnioerrors.ErrNoBufferSpaceAvailable
	}

	n, err := r.Read(b.data[len(b.data):cap(b.data)])
	if n > 0 {
		b.data = b.data[:len(b.data)+n]
	}
	return int64(n), err
}

// Write appends as many bytes of bb as fit.
func (b *ByteBuffer) Write(bb []byte) (int, error) {
	n := copy(b.data[len(b.data):cap(b.data)], bb)
	b.data = b.data[:len(b.data)+n]
	if n < len(bb) {
		return n, xnioerrors.ErrNoBufferSpaceAvailable
	}
	return n, nil
}

func (b *ByteBuffer) WriteByte(bb byte) error {
	if b.Full() {
		return xnioerrors.ErrNoBufferSpaceAvailable
	}
	b.data = append(b.data, bb)
	return nil
}

// WriteString appends as many bytes of s as fit.
func (b *ByteBuffer) WriteString(s string) (int, error) {
	n := copy(b.data[len(b.data):cap(b.data)], s)
	b.data = b.data[:len(b.data)+n]
	if n < len(s) {
		return n, xnioerrors.ErrNoBufferSpaceAvailable
	}
	return n, nil
}

// WriteTo consumes and writes the readable bytes to w until they are all
// written or w fails.
func (b *ByteBuffer) WriteTo(w io.Writer) (int64, error) {
	var (
		n            int
		err          error
		writtenBytes = 0
	)

	for writtenBytes < len(b.data) {
		n, err = w.Write(b.data[writtenBytes:])
		writtenBytes += n
		if err != nil {
			break
		}
	}
	b.Consume(writtenBytes)
	return int64(writtenBytes), err
}
