//go:build linux

package internal

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/benothman/xnio/xnioerrors"
	"golang.org/x/sys/unix"
)

type Poller struct {
	// fd is the file descriptor returned by calling epoll_create1(0).
	fd int

	// events is filled by epoll_wait with the descriptors that are ready.
	events []unix.EpollEvent

	// slots maps a registered file descriptor to its PollData. Only the
	// goroutine calling Poll touches it.
	slots map[int]*PollData

	// waker is used to wake up the process when the client
	// calls ioc.Post(...), thus dispatching the provided handler.
	waker *EventFd

	// handlers maintains the handlers set by the client to be
	// executed in the Poller's goroutine.
	handlers []func()
	running  []func()

	// lck synchronizes access to handlers. Multiple goroutines can call
	// ioc.Post(...) on the same IO object.
	lck sync.Mutex

	// pending is the number of registered events plus posted handlers not
	// yet executed.
	pending int64

	closed uint32

	wakerBytes [8]byte
}

func NewPoller() (*Poller, error) {
	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	eventFd, err := NewEventFd(true)
	if err != nil {
		_ = unix.Close(epollFd)
		return nil, err
	}

	p := &Poller{
		fd:     epollFd,
		waker:  eventFd,
		events: make([]unix.EpollEvent, 128),
		slots:  make(map[int]*PollData),
	}

	if err := p.SetRead(p.waker.Fd(), p.waker.PollData()); err != nil {
		_ = p.waker.Close()
		_ = unix.Close(p.fd)
		return nil, err
	}
	// ignore the waker
	atomic.AddInt64(&p.pending, -1)

	return p, nil
}

func (p *Poller) Pending() int64 {
	return atomic.LoadInt64(&p.pending)
}

func (p *Poller) Close() error {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return io.EOF
	}

	p.events = nil
	atomic.StoreInt64(&p.pending, 0)

	_ = p.waker.Close()
	return unix.Close(p.fd)
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

	_, err := p.waker.Write(1)
	return err
}

func (p *Poller) Poll(timeoutMs int) error {
	n, err := unix.EpollWait(p.fd, p.events, timeoutMs)
	if err != nil {
		return err
	}

	if n == 0 && timeoutMs >= 0 {
		return xnioerrors.ErrTimeout
	}

	for i := 0; i < n; i++ {
		event := p.events[i]
		fd := int(event.Fd)

		if fd == p.waker.Fd() {
			p.dispatch()
			continue
		}

		pd, ok := p.slots[fd]
		if !ok {
			continue
		}

		failed := event.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0

		if (failed || event.Events&unix.EPOLLIN != 0) && pd.Flags&ReadFlags != 0 {
			_ = p.DelRead(pd.Fd, pd)
			pd.dispatch(ReadEvent, nil)
		}

		// The read handler may have closed the descriptor.
		if (failed || event.Events&unix.EPOLLOUT != 0) && pd.Flags&WriteFlags != 0 {
			_ = p.DelWrite(pd.Fd, pd)
			pd.dispatch(WriteEvent, nil)
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

	// Handlers run without the lock so they can Post again.
	for _, handler := range p.running {
		atomic.AddInt64(&p.pending, -1)
		handler()
	}
}

func (p *Poller) SetRead(fd int, pd *PollData) error {
	return p.setRW(fd, pd, ReadFlags)
}

func (p *Poller) SetWrite(fd int, pd *PollData) error {
	return p.setRW(fd, pd, WriteFlags)
}

func (p *Poller) setRW(fd int, pd *PollData, flag PollFlags) error {
	if pd.Flags&flag == flag {
		return nil
	}

	oldFlags := pd.Flags
	pd.Flags |= flag

	var err error
	if oldFlags == 0 {
		err = p.ctl(unix.EPOLL_CTL_ADD, fd, pd.Flags)
		if err == nil {
			p.slots[fd] = pd
		}
	} else {
		err = p.ctl(unix.EPOLL_CTL_MOD, fd, pd.Flags)
	}

	if err != nil {
		pd.Flags = oldFlags
		return err
	}

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
	return p.del(fd, pd, ReadFlags)
}

func (p *Poller) DelWrite(fd int, pd *PollData) error {
	return p.del(fd, pd, WriteFlags)
}

func (p *Poller) del(fd int, pd *PollData, flag PollFlags) error {
	if pd.Flags&flag != flag {
		return nil
	}

	atomic.AddInt64(&p.pending, -1)
	pd.Flags &^= flag

	if pd.Flags != 0 {
		return p.ctl(unix.EPOLL_CTL_MOD, fd, pd.Flags)
	}

	delete(p.slots, fd)
	return p.ctl(unix.EPOLL_CTL_DEL, fd, 0)
}

func (p *Poller) ctl(op int, fd int, flags PollFlags) error {
	event := unix.EpollEvent{Fd: int32(fd)}
	if flags&ReadFlags != 0 {
		event.Events |= unix.EPOLLIN
	}
	if flags&WriteFlags != 0 {
		event.Events |= unix.EPOLLOUT
	}

	var ev *unix.EpollEvent
	if op != unix.EPOLL_CTL_DEL {
		ev = &event
	}

	if err := unix.EpollCtl(p.fd, op, fd, ev); err != nil {
		switch op {
		case unix.EPOLL_CTL_ADD:
			return os.NewSyscallError("epoll_ctl_add", err)
		case unix.EPOLL_CTL_MOD:
			return os.NewSyscallError("epoll_ctl_mod", err)
		default:
			return os.NewSyscallError("epoll_ctl_del", err)
		}
	}
	return nil
}
