package xnioopts

type boolOption struct {
	t OptionType
	v bool
}

func (o *boolOption) Type() OptionType {
	return o.t
}

func (o *boolOption) Value() interface{} {
	return o.v
}

type intOption struct {
	t OptionType
	v int
}

func (o *intOption) Type() OptionType {
	return o.t
}

func (o *intOption) Value() interface{} {
	return o.v
}

// Nonblocking puts the socket in non-blocking mode. Reads and writes on a
// non-blocking descriptor return xnioerrors.ErrWouldBlock instead of waiting.
func Nonblocking(v bool) Option {
	return &boolOption{t: TypeNonblocking, v: v}
}

func ReusePort(v bool) Option {
	return &boolOption{t: TypeReusePort, v: v}
}

func ReuseAddr(v bool) Option {
	return &boolOption{t: TypeReuseAddr, v: v}
}

// NoDelay disables Nagle's algorithm on TCP sockets.
func NoDelay(v bool) Option {
	return &boolOption{t: TypeNoDelay, v: v}
}

// SendBuffer sets SO_SNDBUF. The kernel may round the value.
func SendBuffer(n int) Option {
	return &intOption{t: TypeSendBuffer, v: n}
}

func ReceiveBuffer(n int) Option {
	return &intOption{t: TypeReceiveBuffer, v: n}
}
