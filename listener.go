package xnio

import (
	"errors"
	"net"

	"github.com/benothman/xnio/internal"
	"github.com/benothman/xnio/xnioerrors"
	"github.com/benothman/xnio/xnioopts"
	"golang.org/x/sys/unix"
)

var _ Listener = &listener{}

type listener struct {
	ioc  *IO
	pd   internal.PollData
	fd   int
	addr net.Addr

	// connOpts are applied to every accepted connection.
	connOpts []xnioopts.Option

	dispatched int
}

// Listen creates a non-blocking Listener on the local address. Accepted
// connections are non-blocking and bound to ioc.
//
// Options are applied to the listening socket. Options which only make sense
// on a connected socket, such as NoDelay, are applied to every accepted
// connection instead.
func Listen(
	ioc *IO,
	network,
	addr string,
	opts ...xnioopts.Option,
) (Listener, error) {
	var listenOpts, connOpts []xnioopts.Option
	for _, opt := range opts {
		switch opt.Type() {
		case xnioopts.TypeNoDelay, xnioopts.TypeSendBuffer:
			connOpts = append(connOpts, opt)
		default:
			listenOpts = append(listenOpts, opt)
		}
	}
	listenOpts = xnioopts.AddOption(xnioopts.Nonblocking(true), listenOpts)

	fd, listenAddr, err := internal.Listen(network, addr, listenOpts...)
	if err != nil {
		return nil, err
	}

	l := &listener{
		ioc:      ioc,
		pd:       internal.PollData{Fd: fd},
		fd:       fd,
		addr:     listenAddr,
		connOpts: connOpts,
	}
	return l, nil
}

func (l *listener) Accept() (Conn, error) {
	return l.accept()
}

func (l *listener) AsyncAccept(cb AcceptCallback) {
	if l.dispatched >= MaxCallbackDispatch {
		l.asyncAccept(cb)
	} else {
		conn, err := l.accept()
		if errors.Is(err, xnioerrors.ErrWouldBlock) {
			l.asyncAccept(cb)
		} else {
			l.dispatched++
			cb(err, conn)
			l.dispatched--
		}
	}
}

func (l *listener) asyncAccept(cb AcceptCallback) {
	l.pd.Set(internal.ReadEvent, l.handleAsyncAccept(cb))

	if err := l.ioc.poller.SetRead(l.fd, &l.pd); err != nil {
		cb(err, nil)
	}
}

func (l *listener) handleAsyncAccept(cb AcceptCallback) internal.Handler {
	return func(err error) {
		if err != nil {
			cb(err, nil)
		} else {
			conn, err := l.accept()
			if errors.Is(err, xnioerrors.ErrWouldBlock) {
				// Another process sharing the socket won the race.
				l.asyncAccept(cb)
				return
			}
			cb(err, conn)
		}
	}
}

func (l *listener) accept() (Conn, error) {
	fd, remoteAddr, err := internal.Accept(l.fd)
	if err != nil {
		return nil, err
	}

	localAddr, err := internal.SocketAddress(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	conn, err := newConn(l.ioc, fd, localAddr, remoteAddr, l.connOpts...)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return conn, nil
}

func (l *listener) Close() error {
	_ = l.ioc.poller.Del(l.fd, &l.pd)
	return unix.Close(l.fd)
}

func (l *listener) Addr() net.Addr {
	return l.addr
}

func (l *listener) RawFd() int {
	return l.fd
}
