package xnioerrors

import "errors"

var (
	ErrWouldBlock             = errors.New("operation would block")
	ErrCancelled              = errors.New("operation cancelled")
	ErrTimeout                = errors.New("operation timed out")
	ErrNeedMore               = errors.New("need to read/write more bytes")
	ErrNoBufferSpaceAvailable = errors.New("no buffer space available")
	ErrInvalidArgument        = errors.New("invalid argument")

	// ErrConnectionSetup marks a connection abandoned during the session
	// handshake. It is never retried.
	ErrConnectionSetup = errors.New("connection setup failed")

	// ErrReadFailure and ErrWriteFailure mark mid-session I/O errors. They
	// terminate only the connection they happened on.
	ErrReadFailure  = errors.New("read failed")
	ErrWriteFailure = errors.New("write failed")
)
