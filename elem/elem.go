// Package elem derives the flattened, per-prefix/per-peer "elements" a
// caller actually analyzes from a Record's decoded entry, and renders them
// in the pipe-delimited textual form the wire grammar expects.
package elem

import (
	"fmt"
	"strings"

	"github.com/bgpstream-go/bgpstream/bgpattr"
	"github.com/bgpstream-go/bgpstream/mrt"
	"github.com/bgpstream-go/bgpstream/record"
)

// Type is the element's semantic kind. Unlike mrt.Kind (which classifies one
// decoded source entry), a single Update entry can fan out into elements of
// two different Types (Announcement and Withdrawal) in the same Derive call.
type Type int

const (
	TypeRIB Type = iota
	TypeAnnouncement
	TypeWithdrawal
	TypePeerState
)

// Code is the single-letter type code the serialization grammar uses.
func (t Type) Code() byte {
	switch t {
	case TypeRIB:
		return 'R'
	case TypeAnnouncement:
		return 'A'
	case TypeWithdrawal:
		return 'W'
	case TypePeerState:
		return 'S'
	default:
		return 0
	}
}

func (t Type) String() string {
	switch t {
	case TypeRIB:
		return "rib"
	case TypeAnnouncement:
		return "announcement"
	case TypeWithdrawal:
		return "withdrawal"
	case TypePeerState:
		return "peer-state"
	default:
		return "unknown"
	}
}

// Element is the flattened, per-prefix or per-state-change view of a Record
// that downstream analysis actually operates on.
type Element struct {
	Timestamp   uint32
	PeerAddress bgpattr.IPAddr
	PeerASN     uint32
	Type        Type
	Prefix      bgpattr.Prefix
	NextHop     bgpattr.IPAddr
	ASPath      bgpattr.ASPath
	Communities []bgpattr.Community
	OldState    mrt.PeerState
	NewState    mrt.PeerState
}

// Derive flattens a Valid record's decoded entry into zero or more elements.
// Non-Valid records (status sentinels) and CorruptedRecord records carry no
// decodable entry and always derive zero elements. NLRI order is preserved:
// announcements first (in the entry's announced order), then withdrawals.
func Derive(r *record.Record) []Element {
	if r == nil || r.Status != record.Valid || r.Entry == nil {
		return nil
	}
	ts := r.Attributes.RecordTime
	e := r.Entry

	switch e.Kind {
	case mrt.KindRIB:
		if e.RIB == nil {
			return nil
		}
		out := make([]Element, 0, len(e.RIB.Prefixes))
		for _, pfx := range e.RIB.Prefixes {
			out = append(out, Element{
				Timestamp:   ts,
				PeerAddress: e.RIB.Peer.Address,
				PeerASN:     e.RIB.Peer.ASN,
				Type:        TypeRIB,
				Prefix:      pfx,
				NextHop:     e.RIB.NextHop,
				ASPath:      e.RIB.ASPath,
				Communities: e.RIB.Communities,
			})
		}
		return out

	case mrt.KindUpdate:
		if e.Update == nil {
			return nil
		}
		out := make([]Element, 0, len(e.Update.Announced)+len(e.Update.Withdrawn))
		for _, pfx := range e.Update.Announced {
			out = append(out, Element{
				Timestamp:   ts,
				PeerAddress: e.Update.Peer.Address,
				PeerASN:     e.Update.Peer.ASN,
				Type:        TypeAnnouncement,
				Prefix:      pfx,
				NextHop:     e.Update.NextHop,
				ASPath:      e.Update.ASPath,
				Communities: e.Update.Communities,
			})
		}
		for _, pfx := range e.Update.Withdrawn {
			out = append(out, Element{
				Timestamp:   ts,
				PeerAddress: e.Update.Peer.Address,
				PeerASN:     e.Update.Peer.ASN,
				Type:        TypeWithdrawal,
				Prefix:      pfx,
			})
		}
		return out

	case mrt.KindPeerState:
		if e.State == nil {
			return nil
		}
		return []Element{{
			Timestamp:   ts,
			PeerAddress: e.State.Peer.Address,
			PeerASN:     e.State.Peer.ASN,
			Type:        TypePeerState,
			OldState:    e.State.Old,
			NewState:    e.State.New,
		}}

	default:
		return nil
	}
}

// Snprintf renders one element as the pipe-delimited line the wire grammar
// specifies:
//
//	<timestamp>|<peer_ip>|<peer_asn>|<type>|<prefix>|<nexthop>|<aspath>|<origin_as>|<old_state>|<new_state>
//
// Fields that do not apply to this element's Type are emitted empty.
func Snprintf(e Element) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s|%d|%c|", e.Timestamp, e.PeerAddress, e.PeerASN, e.Type.Code())

	switch e.Type {
	case TypeRIB, TypeAnnouncement:
		var origin string
		if asn, ok := e.ASPath.OriginAS(); ok {
			origin = fmt.Sprintf("%d", asn)
		}
		fmt.Fprintf(&b, "%s|%s|%s|%s||", e.Prefix, e.NextHop, e.ASPath, origin)
	case TypeWithdrawal:
		fmt.Fprintf(&b, "%s|||||", e.Prefix)
	case TypePeerState:
		fmt.Fprintf(&b, "||||%s|%s", e.OldState, e.NewState)
	default:
		b.WriteString("||||")
	}

	return b.String()
}
