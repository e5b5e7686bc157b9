package server

import (
	"fmt"

	"github.com/benothman/xnio"
	"github.com/benothman/xnio/xnioerrors"
)

// WritePlan is an in-flight response: the payload and its delimiter laid out
// over pooled buffers of equal capacity, and the number of bytes the
// transport already accepted.
//
// A WritePlan is never mutated once built. Advance returns a new plan which
// shares the buffers of the old one, so only the last plan of a chain may be
// released.
type WritePlan struct {
	pool    *xnio.BufferPool
	buffers []*xnio.ByteBuffer

	capacity int
	total    int
	written  int
}

// PlanBuffers returns the number of buffers a response of total bytes
// occupies when split in buffers of the given capacity.
func PlanBuffers(total, capacity int) int {
	return (total + capacity - 1) / capacity
}

// NewWritePlan copies payload followed by delimiter into buffers acquired
// from pool. Every buffer but the last is full; the last one holds the
// remainder, which is the delimiter alone when the payload length is a
// multiple of the buffer capacity.
//
// The buffers are acquired all at once, blocking until the pool can hand
// out every one of them. A response needing more buffers than the pool can
// ever hold is rejected instead.
func NewWritePlan(pool *xnio.BufferPool, payload []byte, delimiter string) (*WritePlan, error) {
	capacity := pool.BufferCapacity()
	total := len(payload) + len(delimiter)
	if total == 0 {
		return nil, fmt.Errorf("%w: empty response", xnioerrors.ErrInvalidArgument)
	}

	n := PlanBuffers(total, capacity)
	if n > pool.MaxBuffers() {
		return nil, fmt.Errorf(
			"%w: response of %d bytes needs %d buffers, pool holds at most %d",
			xnioerrors.ErrInvalidArgument, total, n, pool.MaxBuffers())
	}

	buffers, err := pool.AcquireN(n)
	if err != nil {
		return nil, err
	}

	p := &WritePlan{
		pool:     pool,
		buffers:  buffers,
		capacity: capacity,
		total:    total,
	}

	rest, delim := payload, delimiter
	for _, b := range p.buffers {

		m, _ := b.Write(rest)
		rest = rest[m:]

		m, _ = b.WriteString(delim)
		delim = delim[m:]
	}

	return p, nil
}

// Advance returns the plan which results from the transport accepting n more
// bytes.
func (p *WritePlan) Advance(n int) (*WritePlan, error) {
	if n < 0 || p.written+n > p.total {
		return p, fmt.Errorf(
			"%w: advance by %d with %d of %d bytes written",
			xnioerrors.ErrInvalidArgument, n, p.written, p.total)
	}
	if n == 0 {
		return p, nil
	}

	next := *p
	next.written += n
	return &next, nil
}

// AppendSegments appends the unwritten bytes of the plan to dst, one segment
// per buffer, starting at byte Offset of buffer Index. At most xnio.IOVMax
// segments are appended.
func (p *WritePlan) AppendSegments(dst [][]byte) [][]byte {
	if p.Done() {
		return dst
	}

	index := p.Index()
	dst = append(dst, p.buffers[index].Data()[p.Offset():])
	for i := index + 1; i < len(p.buffers) && len(dst) < xnio.IOVMax; i++ {
		dst = append(dst, p.buffers[i].Data())
	}
	return dst
}

// Index is the buffer holding the next byte to write.
func (p *WritePlan) Index() int {
	return p.written / p.capacity
}

// Offset is the position of the next byte to write within buffer Index.
func (p *WritePlan) Offset() int {
	return p.written % p.capacity
}

func (p *WritePlan) Done() bool {
	return p.written == p.total
}

func (p *WritePlan) Written() int {
	return p.written
}

func (p *WritePlan) Total() int {
	return p.total
}

func (p *WritePlan) Remaining() int {
	return p.total - p.written
}

// Buffers returns the buffers of the plan. Callers must not modify them.
func (p *WritePlan) Buffers() []*xnio.ByteBuffer {
	return p.buffers
}

// Release hands the buffers of the plan back to their pool.
func (p *WritePlan) Release() {
	for _, b := range p.buffers {
		_ = p.pool.Release(b)
	}
	p.buffers = nil
}
