//go:build darwin || netbsd || freebsd || openbsd || dragonfly || linux

package internal

import (
	"testing"

	"github.com/benothman/xnio/xnioerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_EmptyPollTimesOut(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	assert.ErrorIs(t, p.Poll(0), xnioerrors.ErrTimeout)
	assert.Equal(t, int64(0), p.Pending())
}

func TestPoller_PostRunsHandlers(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	ran := 0
	require.NoError(t, p.Post(func() { ran++ }))
	require.NoError(t, p.Post(func() { ran++ }))
	assert.Equal(t, int64(2), p.Pending())

	require.NoError(t, p.Poll(-1))
	assert.Equal(t, 2, ran)
	assert.Equal(t, int64(0), p.Pending())
}

func TestPoller_PostFromHandler(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	second := false
	require.NoError(t, p.Post(func() {
		_ = p.Post(func() { second = true })
	}))

	require.NoError(t, p.Poll(-1))
	assert.False(t, second)
	assert.Equal(t, int64(1), p.Pending())

	require.NoError(t, p.Poll(-1))
	assert.True(t, second)
}

func TestPoller_ReadIsOneShot(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	pipe, err := NewPipe()
	require.NoError(t, err)
	defer pipe.Close()
	require.NoError(t, pipe.SetReadNonblock())

	fired := 0
	pd := pipe.PollData()
	pd.Set(ReadEvent, func(err error) {
		assert.NoError(t, err)
		fired++
	})
	require.NoError(t, p.SetRead(pipe.ReadFd(), pd))
	assert.Equal(t, int64(1), p.Pending())

	_, err = pipe.Write([]byte("x"))
	require.NoError(t, err)

	require.NoError(t, p.Poll(-1))
	assert.Equal(t, 1, fired)
	assert.Equal(t, PollFlags(0), pd.Flags)
	assert.Equal(t, int64(0), p.Pending())

	// The byte was not drained but the registration was consumed.
	assert.ErrorIs(t, p.Poll(0), xnioerrors.ErrTimeout)
	assert.Equal(t, 1, fired)
}

func TestPoller_WriteReady(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	pipe, err := NewPipe()
	require.NoError(t, err)
	defer pipe.Close()
	require.NoError(t, pipe.SetWriteNonblock())

	pd := &PollData{Fd: pipe.WriteFd()}
	fired := false
	pd.Set(WriteEvent, func(err error) {
		assert.NoError(t, err)
		fired = true
	})
	require.NoError(t, p.SetWrite(pipe.WriteFd(), pd))

	require.NoError(t, p.Poll(-1))
	assert.True(t, fired)
	assert.Equal(t, int64(0), p.Pending())
}

func TestPoller_DelIsIdempotent(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	pipe, err := NewPipe()
	require.NoError(t, err)
	defer pipe.Close()

	pd := pipe.PollData()
	require.NoError(t, p.SetRead(pipe.ReadFd(), pd))
	require.NoError(t, p.SetRead(pipe.ReadFd(), pd))
	assert.Equal(t, int64(1), p.Pending())

	require.NoError(t, p.Del(pipe.ReadFd(), pd))
	require.NoError(t, p.Del(pipe.ReadFd(), pd))
	assert.Equal(t, int64(0), p.Pending())
}

func TestPoller_PostAfterClose(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.True(t, p.Closed())
	assert.Error(t, p.Post(func() {}))
}
