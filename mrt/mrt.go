// Package mrt defines the contract a dump decoder must satisfy to feed the
// Reader Manager. The decoder itself is an opaque collaborator: this package
// never parses MRT/BGPdump wire bytes — it only describes the already-decoded
// entry shapes a Reader consumes, and the Decoder interface a concrete
// implementation (this repo's own reference decoder in mrt/linefmt, or a
// production-grade MRT parser) must implement.
package mrt

import (
	"fmt"

	"github.com/bgpstream-go/bgpstream/bgpattr"
	"github.com/bgpstream-go/bgpstream/dumpmeta"
)

// Kind classifies one decoded entry.
type Kind int

const (
	KindRIB Kind = iota
	KindUpdate
	KindPeerState
)

func (k Kind) String() string {
	switch k {
	case KindRIB:
		return "rib"
	case KindUpdate:
		return "update"
	case KindPeerState:
		return "peer-state"
	default:
		return "unknown"
	}
}

// PeerState is a BGP session FSM state (RFC 4271 ยง8).
type PeerState int

const (
	StateIdle PeerState = iota
	StateConnect
	StateActive
	StateOpenSent
	StateOpenConfirm
	StateEstablished
)

// String renders the state the way the record serialization grammar expects.
func (s PeerState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnect:
		return "CONNECT"
	case StateActive:
		return "ACTIVE"
	case StateOpenSent:
		return "OPENSENT"
	case StateOpenConfirm:
		return "OPENCONFIRM"
	case StateEstablished:
		return "ESTABLISHED"
	default:
		return ""
	}
}

// ParsePeerState parses the spellings String renders, case-sensitively.
func ParsePeerState(s string) (PeerState, error) {
	switch s {
	case "IDLE":
		return StateIdle, nil
	case "CONNECT":
		return StateConnect, nil
	case "ACTIVE":
		return StateActive, nil
	case "OPENSENT":
		return StateOpenSent, nil
	case "OPENCONFIRM":
		return StateOpenConfirm, nil
	case "ESTABLISHED":
		return StateEstablished, nil
	default:
		return 0, fmt.Errorf("mrt: unknown peer state %q", s)
	}
}

// Peer identifies the BGP speaker an entry was observed at/from.
type Peer struct {
	Address bgpattr.IPAddr
	ASN     uint32
}

// RIBEntry is one RIB-dump row: a snapshot of a peer's routes for one or more
// prefixes sharing the same attributes.
type RIBEntry struct {
	Peer        Peer
	Prefixes    []bgpattr.Prefix
	NextHop     bgpattr.IPAddr
	ASPath      bgpattr.ASPath
	Communities []bgpattr.Community
}

// UpdateEntry is one decoded BGP UPDATE: zero or more announced prefixes
// (sharing the attached attributes) and zero or more withdrawn prefixes.
type UpdateEntry struct {
	Peer        Peer
	Announced   []bgpattr.Prefix
	Withdrawn   []bgpattr.Prefix
	NextHop     bgpattr.IPAddr
	ASPath      bgpattr.ASPath
	Communities []bgpattr.Community
}

// StateEntry is one BGP peer FSM transition.
type StateEntry struct {
	Peer Peer
	Old  PeerState
	New  PeerState
}

// Entry is one decoded MRT-equivalent record, exactly one of RIB, Update, or
// State populated according to Kind.
type Entry struct {
	// Time is the record's observed/recorded timestamp (seconds).
	Time   uint32
	Kind   Kind
	RIB    *RIBEntry
	Update *UpdateEntry
	State  *StateEntry
}

// Decoder iterates one dump's entries in file order. Next returns io.EOF
// (wrapped or bare) once the dump is exhausted. A Decoder is used by exactly
// one Reader and is closed exactly once, on any exit path.
type Decoder interface {
	Next() (*Entry, error)
	Close() error
}

// CorruptedEntryError marks a decode failure recoverable only by abandoning
// the remainder of the file: the Reader Manager turns this into a single
// CorruptedRecord status record and retires the Reader, without treating the
// whole dump as CorruptedSource (the file did open, and prior entries from it
// may already have been emitted as Valid).
type CorruptedEntryError struct {
	Err error
}

func (e *CorruptedEntryError) Error() string {
	return fmt.Sprintf("mrt: corrupted entry: %v", e.Err)
}

func (e *CorruptedEntryError) Unwrap() error { return e.Err }

// OpenFunc opens the decoder for one dump. An error return means the dump
// could not be opened at all (maps to CorruptedSource) — decode errors once
// open must instead surface through Decoder.Next as a *CorruptedEntryError.
type OpenFunc func(meta dumpmeta.Metadata) (Decoder, error)
