// Package record defines the unit the Reader Manager emits: one MRT entry
// (or a synthesized per-dump status sentinel) tagged with the dump it came
// from and its position within that dump.
package record

import (
	"github.com/bgpstream-go/bgpstream/dumpmeta"
	"github.com/bgpstream-go/bgpstream/mrt"
)

// Status classifies a record. Exactly one of the three "source failed"
// statuses may appear, and only as the sole record for its dump; Valid and
// CorruptedRecord may both appear, interspersed, within an otherwise-normal
// dump.
type Status int

const (
	// Valid marks a normally-decoded entry.
	Valid Status = iota
	// FilteredSource marks a dump whose source was not empty but contained
	// no record matching the active filters. Sole record for its dump.
	FilteredSource
	// EmptySource marks a dump whose source contained no entries at all.
	// Sole record for its dump.
	EmptySource
	// CorruptedSource marks a dump that could not be opened. Sole record for
	// its dump.
	CorruptedSource
	// CorruptedRecord marks a single entry that failed to decode mid-stream;
	// the Reader abandons the remainder of the dump after emitting it.
	CorruptedRecord
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case FilteredSource:
		return "filtered_source"
	case EmptySource:
		return "empty_source"
	case CorruptedSource:
		return "corrupted_source"
	case CorruptedRecord:
		return "corrupted_record"
	default:
		return "unknown"
	}
}

// DumpPosition marks a Valid record's place within its dump's emitted
// sequence. A dump that yields exactly one Valid record collapses straight
// to End.
type DumpPosition int

const (
	Start DumpPosition = iota
	Middle
	End
)

func (p DumpPosition) String() string {
	switch p {
	case Start:
		return "start"
	case Middle:
		return "middle"
	case End:
		return "end"
	default:
		return "unknown"
	}
}

// Attributes are the dump-level facts every record carries, regardless of
// status.
type Attributes struct {
	Project    string
	Collector  string
	DumpType   dumpmeta.DumpType
	DumpTime   uint32
	RecordTime uint32
}

// Record is the unit the Reader Manager (and, in turn, Session.NextRecord)
// emits. Entry is set only for Valid records; it is nil for every other
// status, CorruptedRecord included.
//
// A Record is owned by its caller (the session's caller, in a zero-allocation
// reuse loop) but mutated in place by Session.NextRecord; its Entry pointer
// belongs to the Reader that produced it and is only valid until the next
// NextRecord call on the same session.
type Record struct {
	Attributes Attributes
	Status     Status
	Position   DumpPosition
	Entry      *mrt.Entry
}

// Clear resets r to its zero value in place, for reuse across NextRecord calls.
func (r *Record) Clear() {
	*r = Record{}
}
