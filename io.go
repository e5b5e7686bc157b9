package xnio

import (
	"context"
	"errors"
	"io"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/benothman/xnio/internal"
	"github.com/benothman/xnio/xnioerrors"
	"golang.org/x/sys/unix"
)

// IO is a single threaded event loop. Every handler registered on an IO,
// either through a readiness notification or through Post, runs on the
// goroutine calling one of the Run or Poll methods.
type IO struct {
	poller *internal.Poller

	closed uint32
}

func NewIO() (*IO, error) {
	poller, err := internal.NewPoller()
	if err != nil {
		return nil, err
	}

	return &IO{
		poller: poller,
	}, nil
}

func MustIO() *IO {
	ioc, err := NewIO()
	if err != nil {
		panic(err)
	}
	return ioc
}

// Run runs the event processing loop until an error occurs.
func (ioc *IO) Run() error {
	for {
		if err := ioc.RunOne(); err != nil && !errors.Is(err, xnioerrors.ErrTimeout) {
			return err
		}
	}
}

// RunContext runs the event processing loop until ctx is done. It returns
// nil on cancellation.
func (ioc *IO) RunContext(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		// Wake the loop so it notices the cancellation.
		_ = ioc.Post(func() {})
	})
	defer stop()

	for ctx.Err() == nil {
		if err := ioc.RunOne(); err != nil && !errors.Is(err, xnioerrors.ErrTimeout) {
			if ioc.Closed() && ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return nil
}

// RunPending runs the event processing loop until no readiness notification
// or posted handler is left. Handlers that register again keep it running.
func (ioc *IO) RunPending() error {
	for ioc.poller.Pending() > 0 {
		if err := ioc.RunOne(); err != nil && !errors.Is(err, xnioerrors.ErrTimeout) {
			return err
		}
	}
	return nil
}

// RunOne runs the event processing loop to execute at most one handler
// note: this blocks the calling goroutine until one event is ready to process
func (ioc *IO) RunOne() error {
	return ioc.poll(-1)
}

// RunOneFor runs the event processing loop for a specified duration to execute at
// most one handler.
// note: this blocks the calling goroutine until one event is ready to process
func (ioc *IO) RunOneFor(timeout time.Duration) error {
	return ioc.poll(int(timeout.Milliseconds()))
}

// Poll runs the event processing loop to execute ready handlers
// note: this will return immediately in case there is no event to process
func (ioc *IO) Poll() error {
	for {
		if err := ioc.PollOne(); err != nil {
			return err
		}
	}
}

// PollOne runs the event processing loop to execute one ready handler
// note: this will return immediately in case there is no event to process
func (ioc *IO) PollOne() error {
	return ioc.poll(0)
}

func (ioc *IO) poll(timeoutMs int) error {
	if err := ioc.poller.Poll(timeoutMs); err != nil {
		if errors.Is(err, unix.EINTR) {
			if timeoutMs >= 0 {
				return xnioerrors.ErrTimeout
			}

			runtime.Gosched()
			return nil
		}

		if errors.Is(err, xnioerrors.ErrTimeout) {
			return err
		}

		return os.NewSyscallError("poll_wait", err)
	}

	return nil
}

// Post schedules the provided handler to be run immediately by the event
// processing loop in its own thread. It is safe to call this concurrently.
func (ioc *IO) Post(handler func()) error {
	return ioc.poller.Post(handler)
}

// Pending returns the number of registered readiness notifications and posted
// handlers which have not run yet.
func (ioc *IO) Pending() int64 {
	return ioc.poller.Pending()
}

func (ioc *IO) Close() error {
	if !atomic.CompareAndSwapUint32(&ioc.closed, 0, 1) {
		return io.EOF
	}

	return ioc.poller.Close()
}

func (ioc *IO) Closed() bool {
	return atomic.LoadUint32(&ioc.closed) == 1
}
