package connection

import (
	"fmt"
	"strings"
)

// Mode is the transmission mode of one media type of a connection.
type Mode int

const (
	ModeInactive Mode = iota
	ModeSendOnly
	ModeRecvOnly
	ModeSendRecv
	ModeConference
	ModeNetworkLoopback
	ModeLoopback
)

var modeNames = map[Mode]string{
	ModeInactive:        "inactive",
	ModeSendOnly:        "sendonly",
	ModeRecvOnly:        "recvonly",
	ModeSendRecv:        "sendrecv",
	ModeConference:      "confrnce",
	ModeNetworkLoopback: "netwloop",
	ModeLoopback:        "loopback",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode accepts the MGCP spellings (sendonly, confrnce, netwloop, ...)
// as well as the long forms (send_only, conference, network_loopback).
func ParseMode(s string) (Mode, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", "", "-", "").Replace(key)
	switch key {
	case "inactive", "":
		return ModeInactive, nil
	case "sendonly":
		return ModeSendOnly, nil
	case "recvonly":
		return ModeRecvOnly, nil
	case "sendrecv":
		return ModeSendRecv, nil
	case "confrnce", "conference":
		return ModeConference, nil
	case "netwloop", "networkloopback":
		return ModeNetworkLoopback, nil
	case "loopback":
		return ModeLoopback, nil
	default:
		return ModeInactive, &ModeError{Mode: -1, Err: fmt.Errorf("unknown mode %q", s)}
	}
}

// canSend and canRecv are the party capabilities used by bridges.
// RECV_ONLY parties only feed the bridge; SEND_ONLY parties only take from it.
func (m Mode) canSend() bool {
	return m != ModeRecvOnly && m != ModeNetworkLoopback
}

func (m Mode) canRecv() bool {
	return m != ModeSendOnly && m != ModeNetworkLoopback
}

// State is the lifecycle state of a connection.
type State int

const (
	StateNull State = iota
	StateHalfOpen
	StateOpen
)

const (
	fsmNull     = "null"
	fsmHalfOpen = "half_open"
	fsmOpen     = "open"

	eventBind  = "bind"
	eventJoin  = "join"
	eventClose = "close"
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func stateFromFSM(name string) State {
	switch name {
	case fsmHalfOpen:
		return StateHalfOpen
	case fsmOpen:
		return StateOpen
	default:
		return StateNull
	}
}

// Type distinguishes in-process connections from RTP connections.
type Type int

const (
	TypeLocal Type = iota
	TypeRTP
)

// Types lists every connection type in pool order.
var Types = []Type{TypeLocal, TypeRTP}

func (t Type) String() string {
	switch t {
	case TypeLocal:
		return "local"
	case TypeRTP:
		return "rtp"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// ParseType parses "local" or "rtp".
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		return TypeLocal, nil
	case "rtp", "remote":
		return TypeRTP, nil
	default:
		return 0, fmt.Errorf("unknown connection type %q", s)
	}
}
