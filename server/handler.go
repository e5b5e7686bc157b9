package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/benothman/xnio"
	"github.com/benothman/xnio/xnioerrors"
	"github.com/rs/zerolog"
)

type State uint8

const (
	StateAwaitingHandshake State = iota
	StateEstablished
	StateStreaming
	StateIdle
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateEstablished:
		return "established"
	case StateStreaming:
		return "streaming"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Interest is the readiness a Handler waits for before it can make progress.
type Interest uint8

const (
	InterestNone  Interest = 0
	InterestRead  Interest = 1
	InterestWrite Interest = 2
)

// Channel is the non-blocking transport under a Handler. Read and Writev
// return xnioerrors.ErrWouldBlock when they cannot make progress, and Read
// returns io.EOF once the peer closed its side.
type Channel interface {
	io.Reader
	xnio.VectorWriter
	io.Closer
}

type HandlerOptions struct {
	// ReadPool provides the scratch buffer requests are reassembled in. Its
	// buffer capacity bounds the length of a request line.
	ReadPool *xnio.BufferPool

	// WritePool provides the buffers of every response.
	WritePool *xnio.BufferPool

	Responder Responder

	// Delimiter terminates every response. Defaults to CRLF.
	Delimiter string

	Logger  zerolog.Logger
	Metrics *Metrics
}

// Handler is the state machine of one server connection.
//
// It never touches the poller. OnReadable and OnWritable are called by a
// driver when the channel is ready, do as much work as possible without
// blocking on the channel, and return the readiness the driver must wait for
// next. InterestNone is only returned once the handler is closed.
//
// A Handler is not safe for concurrent use.
type Handler struct {
	ch   Channel
	opts HandlerOptions
	log  zerolog.Logger

	state State

	// next is the state entered once the plan in flight is written.
	next State

	scratch *xnio.ByteBuffer
	session *Session

	iov [][]byte
}

func NewHandler(ch Channel, opts HandlerOptions) (*Handler, error) {
	if ch == nil || opts.ReadPool == nil || opts.WritePool == nil || opts.Responder == nil {
		return nil, fmt.Errorf("%w: incomplete handler options", xnioerrors.ErrInvalidArgument)
	}
	if opts.Delimiter == "" {
		opts.Delimiter = xnio.CRLF
	}

	h := &Handler{
		ch:      ch,
		opts:    opts,
		log:     opts.Logger,
		state:   StateAwaitingHandshake,
		scratch: opts.ReadPool.Acquire(),
	}
	return h, nil
}

func (h *Handler) State() State {
	return h.state
}

// Session returns nil until the handshake request was read.
func (h *Handler) Session() *Session {
	return h.session
}

// OnReadable reads what the channel has and answers every complete request.
func (h *Handler) OnReadable() (Interest, error) {
	switch h.state {
	case StateClosed:
		return InterestNone, nil
	case StateStreaming:
		// One response in flight per session.
		return InterestWrite, nil
	}

	n, err := h.scratch.ReadFrom(h.ch)
	if err != nil {
		if errors.Is(err, xnioerrors.ErrWouldBlock) {
			return InterestRead, nil
		}

		if errors.Is(err, io.EOF) {
			if h.state == StateAwaitingHandshake {
				return InterestNone, h.closeWith(xnioerrors.ErrConnectionSetup, err)
			}
			h.log.Debug().Str("state", h.state.String()).Msg("connection closed by peer")
			_ = h.Close()
			return InterestNone, nil
		}

		if h.state == StateAwaitingHandshake {
			return InterestNone, h.closeWith(xnioerrors.ErrConnectionSetup, err)
		}
		return InterestNone, h.closeWith(xnioerrors.ErrReadFailure, err)
	}

	if n == 0 {
		return InterestRead, nil
	}

	return h.serve()
}

// OnWritable resumes the response in flight.
func (h *Handler) OnWritable() (Interest, error) {
	switch h.state {
	case StateClosed:
		return InterestNone, nil
	case StateStreaming:
	default:
		return InterestRead, nil
	}

	done, err := h.writeStep()
	if err != nil {
		return InterestNone, err
	}
	if !done {
		return InterestWrite, nil
	}
	return h.serve()
}

// Close releases every buffer held by the connection and closes the channel.
// Closing a closed handler does nothing.
func (h *Handler) Close() error {
	if h.state == StateClosed {
		return nil
	}
	h.state = StateClosed

	if h.session != nil && h.session.Plan != nil {
		h.session.Plan.Release()
		h.session.Plan = nil
	}
	if h.scratch != nil {
		_ = h.opts.ReadPool.Release(h.scratch)
		h.scratch = nil
		if h.session != nil {
			h.session.Scratch = nil
		}
	}
	h.iov = nil

	return h.ch.Close()
}

func (h *Handler) closeWith(kind, cause error) error {
	err := fmt.Errorf("%w: %w", kind, cause)
	_ = h.Close()
	return err
}

// serve answers the buffered requests until a response cannot be written
// in full or no complete request is left.
func (h *Handler) serve() (Interest, error) {
	for {
		line, ok := h.nextLine()
		if !ok {
			return InterestRead, nil
		}

		var err error
		if h.state == StateAwaitingHandshake {
			err = h.handshake(line)
		} else {
			err = h.respond(line)
		}
		if err != nil {
			return InterestNone, err
		}

		done, err := h.writeStep()
		if err != nil {
			return InterestNone, err
		}
		if !done {
			return InterestWrite, nil
		}
	}
}

// nextLine pops one request from the scratch buffer. A scratch buffer filled
// without a line feed is taken as a whole request.
func (h *Handler) nextLine() (string, bool) {
	data := h.scratch.Data()
	if len(data) == 0 {
		return "", false
	}

	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		if !h.scratch.Full() {
			return "", false
		}
		line := string(data)
		h.scratch.Reset()
		return line, true
	}

	line := string(bytes.TrimSuffix(data[:i], []byte{'\r'}))
	h.scratch.Consume(i + 1)
	return line, true
}

func (h *Handler) handshake(line string) error {
	h.session = newSession(ParseClientID(line), h.scratch)
	h.log = h.log.With().Str("session", h.session.ID).Logger()

	plan, err := NewWritePlan(h.opts.WritePool, []byte("jSessionId: "+h.session.ID), h.opts.Delimiter)
	if err != nil {
		return h.closeWith(xnioerrors.ErrConnectionSetup, err)
	}

	h.session.Plan = plan
	h.state = StateStreaming
	h.next = StateEstablished
	h.opts.Metrics.handshake()

	h.log.Debug().Str("client", h.session.ClientID).Msg("session opened")
	return nil
}

func (h *Handler) respond(line string) error {
	payload, err := h.opts.Responder.Respond(h.session, line)
	if err != nil {
		return h.closeWith(xnioerrors.ErrWriteFailure, err)
	}

	plan, err := NewWritePlan(h.opts.WritePool, payload, h.opts.Delimiter)
	if err != nil {
		return h.closeWith(xnioerrors.ErrWriteFailure, err)
	}

	h.session.Plan = plan
	h.state = StateStreaming
	h.next = StateIdle
	h.opts.Metrics.request()
	return nil
}

// writeStep hands the unwritten part of the plan to the channel in a single
// call. It reports whether the plan was written in full, in which case the
// plan is retired.
func (h *Handler) writeStep() (bool, error) {
	plan := h.session.Plan

	h.iov = plan.AppendSegments(h.iov[:0])
	n, err := h.ch.Writev(h.iov)
	h.iov = h.iov[:0]

	if err != nil && !errors.Is(err, xnioerrors.ErrWouldBlock) {
		return false, h.closeWith(h.writeFailure(), err)
	}

	if n > 0 {
		next, err := plan.Advance(n)
		if err != nil {
			return false, h.closeWith(h.writeFailure(), err)
		}
		plan = next
		h.session.Plan = plan
	}

	// Only bytes the transport accepted count as a write.
	if n > 0 {
		h.opts.Metrics.written(n, !plan.Done())
	}

	if !plan.Done() {
		// Zero bytes or would-block included: wait for the next writable
		// event and resume from plan.Written().
		return false, nil
	}

	plan.Release()
	h.session.Plan = nil
	h.state = h.next

	return true, nil
}

func (h *Handler) writeFailure() error {
	if h.next == StateEstablished {
		return xnioerrors.ErrConnectionSetup
	}
	return xnioerrors.ErrWriteFailure
}
