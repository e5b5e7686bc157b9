//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package internal

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/benothman/xnio/xnioerrors"
	"golang.org/x/sys/unix"
)

type Poller struct {
	kq int

	eventlist []unix.Kevent_t

	// slots maps a registered file descriptor to its PollData. Only the
	// goroutine calling Poll touches it.
	slots map[int]*PollData

	// waker is a pipe whose read end is registered with kqueue. Post writes
	// a single byte to the write end.
	waker *Pipe

	handlers []func()
	running  []func()
	lck      sync.Mutex

	pending int64

	closed uint32

	wakerBytes [128]byte
}

func NewPoller() (*Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}

	waker, err := NewPipe()
	if err != nil {
		_ = unix.Close(kq)
		return nil, err
	}
	if err := waker.SetReadNonblock(); err != nil {
		_ = waker.Close()
		_ = unix.Close(kq)
		return nil, err
	}
	if err := waker.SetWriteNonblock(); err != nil {
		_ = waker.Close()
		_ = unix.Close(kq)
		return nil, err
	}

	p := &Poller{
		kq:        kq,
		waker:     waker,
		eventlist: make([]unix.Kevent_t, 128),
		slots:     make(map[int]*PollData),
	}

	// The waker stays registered: it is not one-shot.
	var ev unix.Kevent_t
	unix.SetKevent(&ev, waker.ReadFd(), unix.EVFILT_READ, unix.EV_ADD)
	if _, err := unix.Kevent(kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		_ = waker.Close()
		_ = unix.Close(kq)
		return nil, os.NewSyscallError("kevent_add", err)
	}

	return p, nil
}

func (p *Poller) Pending() int64 {
	return atomic.LoadInt64(&p.pending)
}

func (p *Poller) Close() error {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return io.EOF
	}

	p.eventlist = nil
	atomic.StoreInt64(&p.pending, 0)

	_ = p.waker.Close()
	return unix.Close(p.kq)
}

func (p *Poller) Closed() bool {
	return atomic.LoadUint32(&p.closed) == 1
}

func (p *Poller) Post(handler func()) error {
	if p.Closed() {
		return io.EOF
	}

	p.lck.Lock()
	p.handlers = append(p.handlers, handler)
	atomic.AddInt64(&p.pending, 1)
	p.lck.Unlock()

	_, err := p.waker.Write([]byte{1})
	if errors.Is(err, unix.EAGAIN) {
		// The pipe is full, a wakeup is already pending.
		return nil
	}
	return err
}

func (p *Poller) Poll(timeoutMs int) error {
	var timeout *unix.Timespec
	if timeoutMs >= 0 { // 0 does a poll
		ts := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		timeout = &ts
	}

	n, err := unix.Kevent(p.kq, nil, p.eventlist, timeout)
	if err != nil {
		return err
	}

	if n == 0 && timeoutMs >= 0 {
		return xnioerrors.ErrTimeout
	}

	for i := 0; i < n; i++ {
		event := &p.eventlist[i]
		fd := int(event.Ident)

		if fd == p.waker.ReadFd() {
			p.dispatch()
			continue
		}

		pd, ok := p.slots[fd]
		if !ok {
			continue
		}

		switch event.Filter {
		case unix.EVFILT_READ:
			if pd.Flags&ReadFlags != 0 {
				p.clear(pd, ReadFlags)
				pd.dispatch(ReadEvent, nil)
			}
		case unix.EVFILT_WRITE:
			if pd.Flags&WriteFlags != 0 {
				p.clear(pd, WriteFlags)
				pd.dispatch(WriteEvent, nil)
			}
		}
	}

	return nil
}

func (p *Poller) dispatch() {
	for {
		_, err := p.waker.Read(p.wakerBytes[:])
		if err != nil {
			break
		}
	}

	p.lck.Lock()
	p.running, p.handlers = p.handlers, p.running[:0]
	p.lck.Unlock()

	for _, handler := range p.running {
		atomic.AddInt64(&p.pending, -1)
		handler()
	}
}

// clear drops a flag the kernel already removed because the filter fired.
func (p *Poller) clear(pd *PollData, flag PollFlags) {
	atomic.AddInt64(&p.pending, -1)
	pd.Flags &^= flag
	if pd.Flags == 0 {
		delete(p.slots, pd.Fd)
	}
}

func (p *Poller) SetRead(fd int, pd *PollData) error {
	return p.set(fd, pd, ReadFlags, unix.EVFILT_READ)
}

func (p *Poller) SetWrite(fd int, pd *PollData) error {
	return p.set(fd, pd, WriteFlags, unix.EVFILT_WRITE)
}

func (p *Poller) set(fd int, pd *PollData, flag PollFlags, filter int) error {
	if pd.Flags&flag == flag {
		return nil
	}

	var ev unix.Kevent_t
	unix.SetKevent(&ev, fd, filter, unix.EV_ADD|unix.EV_ONESHOT)
	if _, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		return os.NewSyscallError("kevent_add", err)
	}

	pd.Flags |= flag
	p.slots[fd] = pd
	atomic.AddInt64(&p.pending, 1)
	return nil
}

func (p *Poller) Del(fd int, pd *PollData) error {
	if err := p.DelRead(fd, pd); err != nil {
		return err
	}
	return p.DelWrite(fd, pd)
}

func (p *Poller) DelRead(fd int, pd *PollData) error {
	return p.del(fd, pd, ReadFlags, unix.EVFILT_READ)
}

func (p *Poller) DelWrite(fd int, pd *PollData) error {
	return p.del(fd, pd, WriteFlags, unix.EVFILT_WRITE)
}

func (p *Poller) del(fd int, pd *PollData, flag PollFlags, filter int) error {
	if pd.Flags&flag != flag {
		return nil
	}

	p.clear(pd, flag)

	var ev unix.Kevent_t
	unix.SetKevent(&ev, fd, filter, unix.EV_DELETE)
	if _, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil); err != nil && !errors.Is(err, unix.ENOENT) {
		return os.NewSyscallError("kevent_delete", err)
	}
	return nil
}
