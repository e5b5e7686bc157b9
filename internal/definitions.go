package internal

type EventType int8

const (
	ReadEvent EventType = iota
	WriteEvent
	MaxEvent
)

// PollFlags is the platform independent readiness bitmask kept in PollData.
// Each Poller translates it to epoll or kqueue filters.
type PollFlags uint8

const (
	ReadFlags PollFlags = 1 << iota
	WriteFlags
)

type Handler func(error)

// PollData ties a file descriptor to the handlers the Poller dispatches when
// the descriptor becomes ready.
//
// Registrations are one-shot: the Poller clears the corresponding flag before
// invoking the handler, so a handler that wants more events must register
// again.
type PollData struct {
	Fd    int
	Flags PollFlags
	Cbs   [MaxEvent]Handler
}

func (pd *PollData) Set(et EventType, h Handler) {
	pd.Cbs[et] = h
}

func (pd *PollData) dispatch(et EventType, err error) {
	if cb := pd.Cbs[et]; cb != nil {
		cb(err)
	}
}
