package xnio

import (
	"fmt"
	"sync"

	"github.com/benothman/xnio/xnioerrors"
	"github.com/eapache/queue"
)

const (
	DefaultBufferCapacity      = 8 * 1024
	DefaultMaxBuffers          = 256
	DefaultReadBufferCapacity  = 512
	DefaultWriteBufferCapacity = 16 * 1024
)

// PoolStats is a point in time view of a BufferPool.
type PoolStats struct {
	Capacity int
	Max      int
	Created  int
	InUse    int
	Free     int
	Waiters  int
}

// BufferPool is a bounded pool of fixed-capacity ByteBuffers shared by many
// connections.
//
// Buffers are created lazily, up to max, and are never destroyed. Once max
// buffers are live, Acquire blocks the calling goroutine until another holder
// releases one. Free buffers are handed out in the order they were released.
//
// BufferPool is safe for concurrent use.
type BufferPool struct {
	capacity int
	max      int

	mu      sync.Mutex
	cond    *sync.Cond
	free    *queue.Queue
	created int
	inUse   int
	waiters int
}

func NewBufferPool(capacity, max int) (*BufferPool, error) {
	if capacity <= 0 || max <= 0 {
		return nil, fmt.Errorf(
			"%w: buffer pool capacity=%d max=%d",
			xnioerrors.ErrInvalidArgument, capacity, max)
	}

	p := &BufferPool{
		capacity: capacity,
		max:      max,
		free:     queue.New(),
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// Acquire returns an empty buffer, blocking while the pool is exhausted.
func (p *BufferPool) Acquire() *ByteBuffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if b := p.tryAcquire(); b != nil {
			return b
		}

		p.waiters++
		p.cond.Wait()
		p.waiters--
	}
}

// AcquireN returns n empty buffers at once, blocking until the pool can hand
// out all of them together. No buffer is held while waiting, so callers
// needing several buffers cannot starve each other of a partial share.
func (p *BufferPool) AcquireN(n int) ([]*ByteBuffer, error) {
	if n <= 0 || n > p.max {
		return nil, fmt.Errorf(
			"%w: acquire %d buffers from a pool of %d",
			xnioerrors.ErrInvalidArgument, n, p.max)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for p.available() < n {
		p.waiters++
		p.cond.Wait()
		p.waiters--
	}

	bs := make([]*ByteBuffer, n)
	for i := range bs {
		bs[i] = p.tryAcquire()
	}
	return bs, nil
}

// available is the number of buffers which can be handed out without
// waiting.
func (p *BufferPool) available() int {
	return p.free.Length() + p.max - p.created
}

// TryAcquire is the non-blocking variant of Acquire. It returns false when
// the pool is exhausted.
func (p *BufferPool) TryAcquire() (*ByteBuffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := p.tryAcquire()
	return b, b != nil
}

func (p *BufferPool) tryAcquire() *ByteBuffer {
	if p.free.Length() > 0 {
		p.inUse++
		return p.free.Remove().(*ByteBuffer)
	}

	if p.created < p.max {
		p.created++
		p.inUse++
		return NewByteBuffer(p.capacity)
	}

	return nil
}

// Release resets b and returns it to the pool, waking the blocked acquirers.
// Releasing the same buffer twice without acquiring it in between is a
// programming error.
func (p *BufferPool) Release(b *ByteBuffer) error {
	if b == nil {
		return fmt.Errorf("%w: nil buffer", xnioerrors.ErrInvalidArgument)
	}
	if b.Cap() != p.capacity {
		return fmt.Errorf(
			"%w: buffer capacity %d does not belong to pool of capacity %d",
			xnioerrors.ErrInvalidArgument, b.Cap(), p.capacity)
	}

	b.Reset()

	p.mu.Lock()
	p.free.Add(b)
	p.inUse--
	p.mu.Unlock()

	// Waiters differ in how many buffers they need, so a single wakeup could
	// land on one which still cannot proceed.
	p.cond.Broadcast()
	return nil
}

// BufferCapacity returns the capacity of every buffer handed out by the pool.
func (p *BufferPool) BufferCapacity() int {
	return p.capacity
}

// MaxBuffers returns the maximum number of live buffers.
func (p *BufferPool) MaxBuffers() int {
	return p.max
}

func (p *BufferPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PoolStats{
		Capacity: p.capacity,
		Max:      p.max,
		Created:  p.created,
		InUse:    p.inUse,
		Free:     p.free.Length(),
		Waiters:  p.waiters,
	}
}
