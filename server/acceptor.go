package server

import (
	"errors"
	"fmt"

	"github.com/benothman/xnio"
	"github.com/benothman/xnio/xnioerrors"
	"github.com/rs/zerolog"
)

// worker is one event loop serving connections, along with the drivers
// installed on it. drivers is only touched from the loop goroutine.
type worker struct {
	ioc     *xnio.IO
	drivers map[*driver]struct{}
}

func newWorker(ioc *xnio.IO) *worker {
	return &worker{
		ioc:     ioc,
		drivers: make(map[*driver]struct{}),
	}
}

// closeAll closes every connection of the worker. It must run on the loop
// goroutine, or after the loop stopped.
func (w *worker) closeAll() {
	for d := range w.drivers {
		d.close()
	}
}

// Acceptor accepts connections on its listener and hands each of them to the
// next worker loop, round-robin.
type Acceptor struct {
	ln      xnio.Listener
	workers []*worker
	next    int

	opts    HandlerOptions
	log     zerolog.Logger
	metrics *Metrics

	onAccept xnio.AcceptCallback
	closed   bool
}

func NewAcceptor(ln xnio.Listener, loops []*xnio.IO, opts HandlerOptions) (*Acceptor, error) {
	if len(loops) == 0 {
		return nil, fmt.Errorf("%w: acceptor needs at least one loop", xnioerrors.ErrInvalidArgument)
	}

	a := &Acceptor{
		ln:      ln,
		opts:    opts,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	for _, ioc := range loops {
		a.workers = append(a.workers, newWorker(ioc))
	}
	a.onAccept = a.accepted
	return a, nil
}

// Start arms the listener. It must be called from the goroutine running the
// listener's IO, or before that IO runs.
func (a *Acceptor) Start() {
	a.ln.AsyncAccept(a.onAccept)
}

// Stop stops accepting. It must be called from the goroutine running the
// listener's IO, or after that IO stopped.
func (a *Acceptor) Stop() error {
	if a.closed {
		return nil
	}
	a.closed = true
	return a.ln.Close()
}

func (a *Acceptor) accepted(err error, conn xnio.Conn) {
	if a.closed {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}

	if err != nil {
		a.log.Error().Err(err).Msg("accept failed")
	} else {
		a.dispatch(conn)
	}

	a.ln.AsyncAccept(a.onAccept)
}

func (a *Acceptor) dispatch(conn xnio.Conn) {
	a.metrics.accepted()

	w := a.workers[a.next]
	a.next = (a.next + 1) % len(a.workers)

	if err := xnio.Transfer(conn, w.ioc); err != nil {
		a.log.Error().Err(err).Msg("could not hand over connection")
		_ = conn.Close()
		a.metrics.closed()
		return
	}

	if err := w.ioc.Post(func() { a.install(w, conn) }); err != nil {
		a.log.Error().Err(err).Msg("could not hand over connection")
		_ = conn.Close()
		a.metrics.closed()
	}
}

// install runs on the worker loop. It attempts the handshake right away:
// the request is often already there by the time the connection is
// accepted.
func (a *Acceptor) install(w *worker, conn xnio.Conn) {
	log := a.log
	if addr := conn.RemoteAddr(); addr != nil {
		log = log.With().Str("remote", addr.String()).Logger()
	}

	opts := a.opts
	opts.Logger = log

	h, err := NewHandler(conn, opts)
	if err != nil {
		log.Error().Err(err).Msg("could not create handler")
		_ = conn.Close()
		a.metrics.closed()
		return
	}

	d := newDriver(w, conn, h, log, a.metrics)
	w.drivers[d] = struct{}{}
	d.handle(h.OnReadable())
}

// driver re-arms the poller with the interest returned by its Handler.
type driver struct {
	w       *worker
	conn    xnio.Conn
	h       *Handler
	log     zerolog.Logger
	metrics *Metrics

	onRead  xnio.ReadyCallback
	onWrite xnio.ReadyCallback
}

func newDriver(w *worker, conn xnio.Conn, h *Handler, log zerolog.Logger, metrics *Metrics) *driver {
	d := &driver{
		w:       w,
		conn:    conn,
		h:       h,
		log:     log,
		metrics: metrics,
	}
	d.onRead = d.readable
	d.onWrite = d.writable
	return d
}

func (d *driver) readable(err error) {
	if err != nil {
		d.fail(fmt.Errorf("%w: %w", d.failure(xnioerrors.ErrReadFailure), err))
		return
	}
	d.handle(d.h.OnReadable())
}

func (d *driver) writable(err error) {
	if err != nil {
		d.fail(fmt.Errorf("%w: %w", d.failure(xnioerrors.ErrWriteFailure), err))
		return
	}
	d.handle(d.h.OnWritable())
}

func (d *driver) handle(interest Interest, err error) {
	if err != nil {
		d.fail(err)
		return
	}

	if d.h.State() == StateClosed {
		d.release()
		return
	}

	if interest&InterestRead != 0 {
		d.conn.AsyncReadReady(d.onRead)
	}
	if interest&InterestWrite != 0 {
		d.conn.AsyncWriteReady(d.onWrite)
	}
}

func (d *driver) failure(kind error) error {
	if d.h.Session() == nil {
		return xnioerrors.ErrConnectionSetup
	}
	return kind
}

// fail abandons the connection. Nothing is retried.
func (d *driver) fail(err error) {
	switch {
	case errors.Is(err, xnioerrors.ErrConnectionSetup):
		d.metrics.handshakeFailed()
		d.log.Warn().Err(err).Msg("handshake failed")
	case errors.Is(err, xnioerrors.ErrReadFailure):
		d.metrics.connectionError("read")
		d.log.Error().Err(err).Msg("closing connection")
	case errors.Is(err, xnioerrors.ErrWriteFailure):
		d.metrics.connectionError("write")
		d.log.Error().Err(err).Msg("closing connection")
	default:
		d.log.Error().Err(err).Msg("closing connection")
	}
	d.close()
}

func (d *driver) close() {
	_ = d.h.Close()
	d.release()
}

func (d *driver) release() {
	if _, ok := d.w.drivers[d]; !ok {
		return
	}
	delete(d.w.drivers, d)
	d.metrics.closed()
}
