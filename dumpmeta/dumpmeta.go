// Package dumpmeta defines the metadata token a Data Interface plugin hands
// to the Input Manager and, ultimately, the Reader Manager: enough to locate
// and classify a dump file without opening it.
package dumpmeta

import "time"

// DumpType distinguishes a RIB snapshot from an incremental update stream.
type DumpType int

const (
	// RIB marks a full routing-table snapshot dump.
	RIB DumpType = iota
	// Update marks an incremental announcement/withdrawal/state-change dump.
	Update
)

// String renders the dump type the way filter values and logs expect it.
func (d DumpType) String() string {
	switch d {
	case RIB:
		return "rib"
	case Update:
		return "update"
	default:
		return "unknown"
	}
}

// Metadata describes one archived dump file. It is the opaque token that
// flows from a Data Interface plugin through the Input Manager to the
// Reader Manager, which is the only layer that opens the file it names.
type Metadata struct {
	Project  string
	Collector string
	DumpType DumpType
	// DumpTime is the nominal bucket time the dump was filed under (e.g. the
	// top of the RIB-dump interval).
	DumpTime uint32
	// FileTime is the collector-assigned timestamp embedded in the file name
	// or index record; it may differ slightly from DumpTime.
	FileTime uint32
	URI      string
	// InitialTime is the timestamp of the first record a reader expects to
	// find in this dump; used only as a hint, never relied on for ordering.
	InitialTime uint32
	// DurationHint estimates how long the dump spans, for schedulers that
	// want to batch discovery calls; purely advisory.
	DurationHint time.Duration
}
