package realtime

import (
	"errors"
	"fmt"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type Event int

const (
	EventConnect Event = iota
	EventConnected
	EventConnectFailed
	EventDropped
	EventRetry
	EventGiveUp
	EventDisconnect
	EventReset
)

func (e Event) String() string {
	switch e {
	case EventConnect:
		return "connect"
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventDropped:
		return "dropped"
	case EventRetry:
		return "retry"
	case EventGiveUp:
		return "give_up"
	case EventDisconnect:
		return "disconnect"
	case EventReset:
		return "reset"
	default:
		return "unknown"
	}
}

var ErrInvalidTransition = errors.New("invalid state transition")

// Transition is the connection state table. Disconnect is accepted from
// every state; everything else must match a row.
func Transition(from State, ev Event) (State, error) {
	if ev == EventDisconnect {
		return Disconnected, nil
	}

	switch from {
	case Disconnected:
		if ev == EventConnect {
			return Connecting, nil
		}
	case Connecting:
		switch ev {
		case EventConnected:
			return Connected, nil
		case EventConnectFailed:
			return Reconnecting, nil
		case EventGiveUp:
			return Failed, nil
		}
	case Connected:
		if ev == EventDropped {
			return Reconnecting, nil
		}
	case Reconnecting:
		switch ev {
		case EventRetry:
			return Connecting, nil
		case EventGiveUp:
			return Failed, nil
		}
	case Failed:
		if ev == EventReset {
			return Disconnected, nil
		}
	}
	return from, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, ev, from)
}
