package xnio

import (
	"fmt"
	"net"
	"os"

	"github.com/benothman/xnio/internal"
	"github.com/benothman/xnio/xnioerrors"
	"github.com/benothman/xnio/xnioopts"
	"golang.org/x/sys/unix"
)

var _ Conn = &conn{}

type conn struct {
	*nonblockingFd

	localAddr  net.Addr
	remoteAddr net.Addr
}

func newConn(
	ioc *IO,
	rawFd int,
	localAddr, remoteAddr net.Addr,
	opts ...xnioopts.Option,
) (*conn, error) {
	fd, err := newNonblockingFd(ioc, rawFd, opts...)
	if err != nil {
		return nil, err
	}

	return &conn{
		nonblockingFd: fd,
		localAddr:     localAddr,
		remoteAddr:    remoteAddr,
	}, nil
}

// Dial connects to addr and returns a non-blocking Conn bound to ioc. The
// connect itself blocks.
func Dial(
	ioc *IO,
	network string,
	addr string,
	opts ...xnioopts.Option,
) (Conn, error) {
	rawFd, localAddr, remoteAddr, err := internal.Connect(network, addr)
	if err != nil {
		return nil, err
	}

	c, err := newConn(ioc, rawFd, localAddr, remoteAddr, opts...)
	if err != nil {
		_ = unix.Close(rawFd)
		return nil, err
	}
	return c, nil
}

// Adopt wraps an already connected socket, such as one end of a socketpair,
// in a non-blocking Conn bound to ioc. Ownership of rawFd moves to the Conn.
func Adopt(ioc *IO, rawFd int, opts ...xnioopts.Option) (Conn, error) {
	localAddr, _ := internal.SocketAddress(rawFd)
	remoteAddr, _ := internal.PeerAddress(rawFd)

	c, err := newConn(ioc, rawFd, localAddr, remoteAddr, opts...)
	if err != nil {
		return nil, os.NewSyscallError("adopt", err)
	}
	return c, nil
}

func (c *conn) LocalAddr() net.Addr {
	return c.localAddr
}

func (c *conn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// Transfer binds an idle connection to another IO. The connection must not
// have a pending readiness registration. Once transferred it must only be
// used from the goroutine running ioc.
func Transfer(c Conn, ioc *IO) error {
	cc, ok := c.(*conn)
	if !ok || cc.pd.Flags != 0 {
		return fmt.Errorf("%w: connection cannot be transferred", xnioerrors.ErrInvalidArgument)
	}
	cc.ioc = ioc
	return nil
}
