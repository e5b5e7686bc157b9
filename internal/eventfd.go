//go:build linux

package internal

import (
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"
)

type EventFd struct {
	fd int
	pd PollData
	b  [8]byte
}

func NewEventFd(nonBlocking bool) (*EventFd, error) {
	flags := unix.EFD_CLOEXEC
	if nonBlocking {
		flags |= unix.EFD_NONBLOCK
	}

	fd, err := unix.Eventfd(0, flags)
	if err != nil {
		return nil, os.NewSyscallError("eventfd", err)
	}
	e := &EventFd{
		fd: fd,
	}
	e.pd.Fd = e.fd
	return e, nil
}

// Write adds x to the eventfd counter. Any non-zero value wakes up the poller.
func (e *EventFd) Write(x uint64) (int, error) {
	binary.NativeEndian.PutUint64(e.b[:], x)
	return unix.Write(e.fd, e.b[:])
}

func (e *EventFd) Read(b []byte) (int, error) {
	return unix.Read(e.fd, b)
}

func (e *EventFd) Fd() int {
	return e.fd
}

func (e *EventFd) PollData() *PollData {
	return &e.pd
}

func (e *EventFd) Close() error {
	return unix.Close(e.fd)
}
