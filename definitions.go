package xnio

import (
	"io"
	"net"
)

const (
	// MaxCallbackDispatch is the maximum number of callbacks which can be
	// placed onto the stack for immediate invocation.
	MaxCallbackDispatch int = 32

	// IOVMax bounds the number of segments handed to a single Writev call.
	IOVMax int = 1024

	CRLF = "\r\n"
)

type ReadyCallback func(error)
type AcceptCallback func(error, Conn)

// ReadyNotifier is the interface that wraps the readiness registrations of a
// non-blocking file descriptor.
//
// Registrations are one-shot: the callback runs at most once, on the IO
// goroutine, after which the descriptor must be registered again to receive
// further notifications. Not registering for writability is how a caller
// suspends write notifications.
type ReadyNotifier interface {
	// AsyncReadReady calls cb once the descriptor is readable, or with a
	// non-nil error if the registration failed.
	AsyncReadReady(cb ReadyCallback)

	// AsyncWriteReady calls cb once the descriptor is writable, or with a
	// non-nil error if the registration failed.
	AsyncWriteReady(cb ReadyCallback)
}

// VectorWriter is implemented by descriptors supporting scatter/gather writes.
type VectorWriter interface {
	// Writev writes the segments of bs in order and returns the number of
	// bytes the kernel accepted, which can be anything from 0 to the sum of
	// the segment lengths. A non-blocking descriptor which can accept nothing
	// returns xnioerrors.ErrWouldBlock.
	Writev(bs [][]byte) (int, error)
}

type AsyncCanceller interface {
	// Cancel cancels all pending readiness registrations. Their callbacks
	// are invoked with xnioerrors.ErrCancelled.
	Cancel()
}

type FileDescriptor interface {
	RawFd() int

	io.Closer
	io.ReadWriter
	VectorWriter
	ReadyNotifier
	AsyncCanceller

	Closed() bool
}

// Conn is a non-blocking, stream-oriented network connection.
type Conn interface {
	FileDescriptor

	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Listener is a non-blocking network listener for stream-oriented protocols.
type Listener interface {
	// Accept returns the next pending connection or
	// xnioerrors.ErrWouldBlock if there is none.
	Accept() (Conn, error)

	// AsyncAccept waits for and returns the next connection to the listener
	// asynchronously.
	AsyncAccept(AcceptCallback)

	// Close closes the listener.
	Close() error

	// Addr returns the listener's network address.
	Addr() net.Addr

	RawFd() int
}
