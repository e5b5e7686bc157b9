//go:build darwin || netbsd || freebsd || openbsd || dragonfly || linux

package internal

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/benothman/xnio/xnioerrors"
	"github.com/benothman/xnio/xnioopts"
	"golang.org/x/sys/unix"
)

var (
	ListenBacklog int = 2048

	errUnknownNetwork = errors.New("unknown network argument")
)

func createSocket(addr *net.TCPAddr) (int, error) {
	domain := unix.AF_INET
	if addr.IP != nil && addr.IP.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)

	return fd, nil
}

// Listen creates a listening stream socket bound to addr. Only tcp networks
// are supported.
func Listen(network, addr string, opts ...xnioopts.Option) (fd int, listenAddr net.Addr, err error) {
	if len(network) < 3 {
		return -1, nil, errUnknownNetwork
	}

	switch network[:3] {
	case "tcp":
		return ListenTCP(network, addr, opts...)
	case "udp":
		return -1, nil, fmt.Errorf("udp not supported")
	case "uni":
		return -1, nil, fmt.Errorf("unix domain not supported")
	default:
		return -1, nil, errUnknownNetwork
	}
}

func ListenTCP(network, addr string, opts ...xnioopts.Option) (fd int, listenAddr net.Addr, err error) {
	localAddr, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return -1, nil, err
	}

	fd, err = createSocket(localAddr)
	if err != nil {
		return -1, nil, err
	}

	if err := ApplyOpts(fd, opts...); err != nil {
		_ = unix.Close(fd)
		return -1, nil, err
	}

	if err := unix.Bind(fd, ToSockaddr(localAddr)); err != nil {
		_ = unix.Close(fd)
		return -1, nil, os.NewSyscallError("bind", err)
	}

	if err := unix.Listen(fd, ListenBacklog); err != nil {
		_ = unix.Close(fd)
		return -1, nil, os.NewSyscallError("listen", err)
	}

	listenAddr, err = SocketAddress(fd)
	if err != nil {
		_ = unix.Close(fd)
		return -1, nil, err
	}

	return fd, listenAddr, nil
}

// Accept accepts one pending connection from the listening socket fd. The
// returned descriptor is non-blocking.
func Accept(fd int) (nfd int, remoteAddr net.Addr, err error) {
	nfd, sa, err := unix.Accept(fd)
	if err != nil {
		if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
			return -1, nil, xnioerrors.ErrWouldBlock
		}
		return -1, nil, os.NewSyscallError("accept", err)
	}
	unix.CloseOnExec(nfd)

	if err := unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return -1, nil, os.NewSyscallError("set_nonblock", err)
	}

	return nfd, FromSockaddr(sa), nil
}

func ApplyOpts(fd int, opts ...xnioopts.Option) error {
	for _, opt := range opts {
		switch t := opt.Type(); t {
		case xnioopts.TypeNonblocking:
			v := opt.Value().(bool)
			if err := unix.SetNonblock(fd, v); err != nil {
				return os.NewSyscallError(fmt.Sprintf("set_nonblock(%v)", v), err)
			}
		case xnioopts.TypeReusePort:
			v := opt.Value().(bool)
			if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolToInt(v)); err != nil {
				return os.NewSyscallError(fmt.Sprintf("reuse_port(%v)", v), err)
			}
		case xnioopts.TypeReuseAddr:
			v := opt.Value().(bool)
			if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolToInt(v)); err != nil {
				return os.NewSyscallError(fmt.Sprintf("reuse_address(%v)", v), err)
			}
		case xnioopts.TypeNoDelay:
			v := opt.Value().(bool)
			if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolToInt(v)); err != nil {
				return os.NewSyscallError(fmt.Sprintf("tcp_no_delay(%v)", v), err)
			}
		case xnioopts.TypeSendBuffer:
			v := opt.Value().(int)
			if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, v); err != nil {
				return os.NewSyscallError(fmt.Sprintf("send_buffer(%d)", v), err)
			}
		case xnioopts.TypeReceiveBuffer:
			v := opt.Value().(int)
			if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, v); err != nil {
				return os.NewSyscallError(fmt.Sprintf("receive_buffer(%d)", v), err)
			}
		default:
			return fmt.Errorf("unsupported socket option %s", t)
		}
	}

	return nil
}

func SocketAddress(fd int) (net.Addr, error) {
	addr, err := unix.Getsockname(fd)
	if err != nil {
		return nil, os.NewSyscallError("getsockname", err)
	}
	return FromSockaddr(addr), nil
}

func PeerAddress(fd int) (net.Addr, error) {
	addr, err := unix.Getpeername(fd)
	if err != nil {
		return nil, os.NewSyscallError("getpeername", err)
	}
	return FromSockaddr(addr), nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// Connect opens a stream socket and connects it to addr. The connect blocks;
// the returned descriptor is left blocking and callers switch it to
// non-blocking mode through ApplyOpts.
func Connect(network, addr string) (fd int, localAddr, remoteAddr net.Addr, err error) {
	if len(network) < 3 || network[:3] != "tcp" {
		return -1, nil, nil, errUnknownNetwork
	}

	tcpAddr, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return -1, nil, nil, err
	}

	fd, err = createSocket(tcpAddr)
	if err != nil {
		return -1, nil, nil, err
	}

	for {
		err = unix.Connect(fd, ToSockaddr(tcpAddr))
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		_ = unix.Close(fd)
		return -1, nil, nil, os.NewSyscallError("connect", err)
	}

	localAddr, err = SocketAddress(fd)
	if err != nil {
		_ = unix.Close(fd)
		return -1, nil, nil, err
	}

	return fd, localAddr, tcpAddr, nil
}

// Socketpair returns a connected pair of unix stream sockets.
func Socketpair() (fds [2]int, err error) {
	fds, err = unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return fds, os.NewSyscallError("socketpair", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	return fds, nil
}
