package xnio

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/benothman/xnio/internal"
	"github.com/benothman/xnio/xnioerrors"
	"github.com/benothman/xnio/xnioopts"
	"golang.org/x/sys/unix"
)

var _ FileDescriptor = &nonblockingFd{}

// nonblockingFd is a FileDescriptor whose reads and writes never block.
// Readiness registrations go through the owning IO's poller, so all methods
// must be called from the IO goroutine.
type nonblockingFd struct {
	ioc   *IO
	rawFd int

	pd     internal.PollData
	closed uint32
}

func newNonblockingFd(ioc *IO, rawFd int, opts ...xnioopts.Option) (*nonblockingFd, error) {
	fd := &nonblockingFd{
		ioc:   ioc,
		rawFd: rawFd,
	}
	fd.pd.Fd = rawFd

	opts = xnioopts.AddOption(xnioopts.Nonblocking(true), opts)
	if err := internal.ApplyOpts(rawFd, opts...); err != nil {
		return nil, err
	}

	return fd, nil
}

func (fd *nonblockingFd) Read(b []byte) (int, error) {
	n, err := unix.Read(fd.rawFd, b)

	if err != nil {
		if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
			return 0, xnioerrors.ErrWouldBlock
		}

		return 0, os.NewSyscallError("read", err)
	}

	if n == 0 && len(b) > 0 {
		return 0, io.EOF
	}

	if n < 0 {
		n = 0
	}

	return n, nil
}

func (fd *nonblockingFd) Write(b []byte) (int, error) {
	n, err := unix.Write(fd.rawFd, b)

	if err != nil {
		if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
			return 0, xnioerrors.ErrWouldBlock
		}

		return 0, os.NewSyscallError("write", err)
	}

	if n < 0 {
		n = 0
	}

	return n, nil
}

func (fd *nonblockingFd) Writev(bs [][]byte) (int, error) {
	if len(bs) > IOVMax {
		bs = bs[:IOVMax]
	}

	n, err := unix.Writev(fd.rawFd, bs)

	if err != nil {
		if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
			return 0, xnioerrors.ErrWouldBlock
		}

		return 0, os.NewSyscallError("writev", err)
	}

	if n < 0 {
		n = 0
	}

	return n, nil
}

func (fd *nonblockingFd) AsyncReadReady(cb ReadyCallback) {
	if fd.Closed() {
		cb(io.EOF)
		return
	}

	fd.pd.Set(internal.ReadEvent, internal.Handler(cb))
	if err := fd.ioc.poller.SetRead(fd.rawFd, &fd.pd); err != nil {
		cb(err)
	}
}

func (fd *nonblockingFd) AsyncWriteReady(cb ReadyCallback) {
	if fd.Closed() {
		cb(io.EOF)
		return
	}

	fd.pd.Set(internal.WriteEvent, internal.Handler(cb))
	if err := fd.ioc.poller.SetWrite(fd.rawFd, &fd.pd); err != nil {
		cb(err)
	}
}

func (fd *nonblockingFd) Cancel() {
	fd.CancelReads()
	fd.CancelWrites()
}

func (fd *nonblockingFd) CancelReads() {
	if fd.pd.Flags&internal.ReadFlags == internal.ReadFlags {
		err := fd.ioc.poller.DelRead(fd.rawFd, &fd.pd)
		if err == nil {
			err = xnioerrors.ErrCancelled
		}
		fd.pd.Cbs[internal.ReadEvent](err)
	}
}

func (fd *nonblockingFd) CancelWrites() {
	if fd.pd.Flags&internal.WriteFlags == internal.WriteFlags {
		err := fd.ioc.poller.DelWrite(fd.rawFd, &fd.pd)
		if err == nil {
			err = xnioerrors.ErrCancelled
		}
		fd.pd.Cbs[internal.WriteEvent](err)
	}
}

// Close deregisters the descriptor without invoking pending callbacks and
// closes it. Closing twice returns io.EOF.
func (fd *nonblockingFd) Close() error {
	if !atomic.CompareAndSwapUint32(&fd.closed, 0, 1) {
		return io.EOF
	}

	_ = fd.ioc.poller.Del(fd.rawFd, &fd.pd)
	fd.pd.Cbs = [internal.MaxEvent]internal.Handler{}

	return unix.Close(fd.rawFd)
}

func (fd *nonblockingFd) Closed() bool {
	return atomic.LoadUint32(&fd.closed) == 1
}

func (fd *nonblockingFd) RawFd() int {
	return fd.rawFd
}
