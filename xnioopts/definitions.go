package xnioopts

import "fmt"

type OptionType uint8

type Option interface {
	Type() OptionType
	Value() interface{}
}

const (
	TypeNonblocking OptionType = iota
	TypeReusePort
	TypeReuseAddr
	TypeNoDelay
	TypeSendBuffer
	TypeReceiveBuffer
	MaxOption
)

func (t OptionType) String() string {
	switch t {
	case TypeNonblocking:
		return "nonblocking"
	case TypeReusePort:
		return "reuse_port"
	case TypeReuseAddr:
		return "reuse_addr"
	case TypeNoDelay:
		return "no_delay"
	case TypeSendBuffer:
		return "send_buffer"
	case TypeReceiveBuffer:
		return "receive_buffer"
	default:
		panic(fmt.Errorf("invalid option %d", t))
	}
}

// AddOption replaces the option of the same type in opts, or appends it.
func AddOption(add Option, opts []Option) []Option {
	for i, cur := range opts {
		if cur.Type() == add.Type() {
			opts[i] = add
			return opts
		}
	}
	opts = append(opts, add)
	return opts
}

func DelOption(del OptionType, opts []Option) []Option {
	for i := 0; i < len(opts); i++ {
		if opts[i].Type() == del {
			return append(opts[:i], opts[i+1:]...)
		}
	}
	return opts
}

// Find returns the value of the option of type t, if present.
func Find(t OptionType, opts []Option) (interface{}, bool) {
	for _, opt := range opts {
		if opt.Type() == t {
			return opt.Value(), true
		}
	}
	return nil, false
}
