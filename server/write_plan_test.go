package server

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benothman/xnio"
	"github.com/benothman/xnio/xnioerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, capacity, max int) *xnio.BufferPool {
	t.Helper()
	pool, err := xnio.NewBufferPool(capacity, max)
	require.NoError(t, err)
	return pool
}

func planBytes(p *WritePlan) []byte {
	var out []byte
	for _, b := range p.Buffers() {
		out = append(out, b.Data()...)
	}
	return out
}

func TestWritePlanLayout(t *testing.T) {
	const capacity = 8

	tests := []struct {
		name    string
		payload string
		buffers int
		last    int
	}{
		{"shorter than a buffer", "abc", 1, 5},
		{"delimiter crosses a buffer", "abcdefg", 2, 1},
		{"payload fills a buffer", "abcdefgh", 2, 2},
		{"payload fills two buffers", strings.Repeat("x", 16), 3, 2},
		{"several buffers", strings.Repeat("y", 21), 3, 7},
		{"exact fit with delimiter", strings.Repeat("z", 14), 2, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := newPool(t, capacity, 8)
			plan, err := NewWritePlan(pool, []byte(tt.payload), xnio.CRLF)
			require.NoError(t, err)

			total := len(tt.payload) + len(xnio.CRLF)
			assert.Equal(t, total, plan.Total())
			assert.Equal(t, PlanBuffers(total, capacity), len(plan.Buffers()))
			assert.Equal(t, tt.buffers, len(plan.Buffers()))

			sum := 0
			for i, b := range plan.Buffers() {
				if i < len(plan.Buffers())-1 {
					assert.Equal(t, capacity, b.Len(), "buffer %d must be full", i)
				}
				sum += b.Len()
			}
			assert.Equal(t, total, sum)
			assert.Equal(t, tt.last, plan.Buffers()[len(plan.Buffers())-1].Len())
			assert.Equal(t, tt.payload+xnio.CRLF, string(planBytes(plan)))

			plan.Release()
			assert.Equal(t, 0, pool.Stats().InUse)
		})
	}
}

func TestWritePlanDivisiblePayload(t *testing.T) {
	const capacity = 16

	pool := newPool(t, capacity, 8)
	payload := bytes.Repeat([]byte{'a'}, 3*capacity)

	plan, err := NewWritePlan(pool, payload, "\n")
	require.NoError(t, err)

	require.Len(t, plan.Buffers(), 4)
	last := plan.Buffers()[3]
	assert.Equal(t, "\n", string(last.Data()))
}

func TestWritePlanTooLargeForPool(t *testing.T) {
	pool := newPool(t, 4, 2)

	_, err := NewWritePlan(pool, []byte("0123456789"), xnio.CRLF)
	assert.ErrorIs(t, err, xnioerrors.ErrInvalidArgument)
	assert.Equal(t, 0, pool.Stats().Created)
}

func waitGroupTimeout(t *testing.T, wg *sync.WaitGroup, pool *xnio.BufferPool) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("plan builders did not finish: %+v", pool.Stats())
	}
}

func TestWritePlanConcurrentBuildersOnExhaustedPool(t *testing.T) {
	pool := newPool(t, 4, 4)

	held := make([]*xnio.ByteBuffer, 4)
	for i := range held {
		held[i] = pool.Acquire()
	}

	// Each plan needs 3 of the 4 buffers.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			plan, err := NewWritePlan(pool, make([]byte, 10), xnio.CRLF)
			if !assert.NoError(t, err) {
				return
			}
			assert.Len(t, plan.Buffers(), 3)
			plan.Release()
		}()
	}

	assert.Eventually(t, func() bool {
		return pool.Stats().Waiters == 2
	}, time.Second, time.Millisecond)

	for _, b := range held {
		require.NoError(t, pool.Release(b))
	}

	waitGroupTimeout(t, &wg, pool)
	assert.Equal(t, 0, pool.Stats().InUse)
}

func TestWritePlanContention(t *testing.T) {
	const (
		builders = 8
		rounds   = 100
	)

	// Every plan needs 3 buffers, two plans never fit together.
	pool := newPool(t, 4, 5)
	payload := []byte("0123456789")

	var wg sync.WaitGroup
	for i := 0; i < builders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				plan, err := NewWritePlan(pool, payload, xnio.CRLF)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, string(payload)+xnio.CRLF, string(planBytes(plan)))
				plan.Release()
			}
		}()
	}

	waitGroupTimeout(t, &wg, pool)

	stats := pool.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.LessOrEqual(t, stats.Created, 5)
	assert.Equal(t, 0, stats.Waiters)
}

func TestWritePlanEmpty(t *testing.T) {
	pool := newPool(t, 4, 2)

	_, err := NewWritePlan(pool, nil, "")
	assert.ErrorIs(t, err, xnioerrors.ErrInvalidArgument)
}

func TestWritePlanAdvanceIsImmutable(t *testing.T) {
	pool := newPool(t, 4, 4)
	plan, err := NewWritePlan(pool, []byte("hello world"), xnio.CRLF)
	require.NoError(t, err)

	next, err := plan.Advance(6)
	require.NoError(t, err)

	assert.Equal(t, 0, plan.Written())
	assert.Equal(t, 6, next.Written())
	assert.Equal(t, 1, next.Index())
	assert.Equal(t, 2, next.Offset())
	assert.Equal(t, 7, next.Remaining())

	same, err := next.Advance(0)
	require.NoError(t, err)
	assert.Same(t, next, same)

	_, err = next.Advance(8)
	assert.ErrorIs(t, err, xnioerrors.ErrInvalidArgument)
	_, err = next.Advance(-1)
	assert.ErrorIs(t, err, xnioerrors.ErrInvalidArgument)

	done, err := next.Advance(7)
	require.NoError(t, err)
	assert.True(t, done.Done())
	assert.Empty(t, done.AppendSegments(nil))
}

func TestWritePlanSegments(t *testing.T) {
	pool := newPool(t, 4, 4)
	plan, err := NewWritePlan(pool, []byte("abcdefghij"), xnio.CRLF)
	require.NoError(t, err)

	plan, err = plan.Advance(5)
	require.NoError(t, err)

	segs := plan.AppendSegments(nil)
	require.Len(t, segs, 2)
	assert.Equal(t, "fgh", string(segs[0]))
	assert.Equal(t, "ij\r\n", string(segs[1]))
}

func TestWritePlanSegmentsBoundedByIOVMax(t *testing.T) {
	pool := newPool(t, 1, xnio.IOVMax+10)
	plan, err := NewWritePlan(pool, bytes.Repeat([]byte{'x'}, xnio.IOVMax+5), "\n")
	require.NoError(t, err)

	assert.Len(t, plan.AppendSegments(nil), xnio.IOVMax)
}

// limitedWriter accepts at most k bytes per call.
type limitedWriter struct {
	k   int
	out bytes.Buffer
}

func (w *limitedWriter) Writev(bs [][]byte) (int, error) {
	left := w.k
	n := 0
	for _, b := range bs {
		if left == 0 {
			break
		}
		m := min(left, len(b))
		w.out.Write(b[:m])
		left -= m
		n += m
	}
	return n, nil
}

func TestWritePlanResumption(t *testing.T) {
	const capacity = 5

	payload := []byte("the quick brown fox jumps over the lazy dog")
	total := len(payload) + len(xnio.CRLF)

	for k := 1; k <= total; k++ {
		pool := newPool(t, capacity, 16)
		plan, err := NewWritePlan(pool, payload, xnio.CRLF)
		require.NoError(t, err)

		w := &limitedWriter{k: k}
		calls := 0
		for !plan.Done() {
			before := plan.Written()
			n, err := w.Writev(plan.AppendSegments(nil))
			require.NoError(t, err)

			plan, err = plan.Advance(n)
			require.NoError(t, err)
			require.Greater(t, plan.Written(), before, "k=%d progress must be monotonic", k)
			calls++
		}

		assert.Equal(t, string(payload)+xnio.CRLF, w.out.String(), "k=%d", k)
		assert.Equal(t, (total+k-1)/k, calls, "k=%d", k)
		plan.Release()
		assert.Equal(t, 0, pool.Stats().InUse)
	}
}
