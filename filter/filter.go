// Package filter holds the caller's subscription — time interval, projects,
// collectors, peer ASNs, prefixes, communities, element types, and RIB
// periodicity — and evaluates it against dump metadata and decoded records
// on behalf of every other layer.
package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bgpstream-go/bgpstream/bgpattr"
	"github.com/bgpstream-go/bgpstream/dumpmeta"
	"github.com/bgpstream-go/bgpstream/elem"
	"github.com/bgpstream-go/bgpstream/record"
)

// Kind identifies one of the string-valued filter variants accepted by Add.
// TimeInterval and RibPeriod are configured through their own dedicated
// methods instead, since the session API passes them structured values
// rather than grammar strings.
type Kind int

const (
	ProjectIn Kind = iota
	CollectorIn
	PeerAsnIn
	PrefixMatch
	CommunityMatch
	ElementTypeIn
)

func (k Kind) String() string {
	switch k {
	case ProjectIn:
		return "project"
	case CollectorIn:
		return "collector"
	case PeerAsnIn:
		return "peer-asn"
	case PrefixMatch:
		return "prefix"
	case CommunityMatch:
		return "community"
	case ElementTypeIn:
		return "element-type"
	default:
		return "unknown"
	}
}

// Forever is the sentinel TimeInterval end value meaning "no upper bound".
const Forever uint32 = ^uint32(0)

// ErrAlreadyValidated is returned by Add/AddTimeInterval/AddRIBPeriod once
// Validate has succeeded: filters are immutable after a session starts.
var ErrAlreadyValidated = errors.New("filter: manager already validated; no further filters may be added")

// View is the read-only interface a validated Manager exposes to every
// other layer (DI plugins, the Reader Manager, the Input Manager). It is
// safe to share by reference across goroutines: once built by Validate it
// is never mutated again.
type View interface {
	MatchesMetadata(m dumpmeta.Metadata) bool
	MatchesRecord(r *record.Record) bool
	RIBPeriod() (time.Duration, bool)
	TimeInterval() (begin, end uint32, ok bool)
}

type prefixEntry struct {
	prefix bgpattr.Prefix
	mode   bgpattr.PrefixMatchMode
}

// Manager accumulates filters during Configuring and, once Validate
// succeeds, answers MatchesMetadata/MatchesRecord queries for the
// remainder of the session's life.
type Manager struct {
	validated bool

	projects   map[string]struct{}
	collectors map[string]struct{}
	peerASNs   map[uint32]struct{}
	prefixes   []prefixEntry
	communities []bgpattr.CommunityFilter
	elemTypes  map[elem.Type]struct{}

	haveInterval bool
	intervalBeg  uint32
	intervalEnd  uint32

	haveRIBPeriod bool
	ribPeriod     time.Duration
}

// NewManager returns an empty, unvalidated Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Add parses value per kind's grammar and adds it to that kind's set.
// Values within one kind combine as disjunction; different kinds combine
// as conjunction (see MatchesMetadata/MatchesRecord).
func (m *Manager) Add(kind Kind, value string) error {
	if m.validated {
		return ErrAlreadyValidated
	}
	switch kind {
	case ProjectIn:
		if m.projects == nil {
			m.projects = map[string]struct{}{}
		}
		m.projects[value] = struct{}{}
	case CollectorIn:
		if m.collectors == nil {
			m.collectors = map[string]struct{}{}
		}
		m.collectors[value] = struct{}{}
	case PeerAsnIn:
		asn, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("filter: invalid peer-asn %q: %w", value, err)
		}
		if m.peerASNs == nil {
			m.peerASNs = map[uint32]struct{}{}
		}
		m.peerASNs[uint32(asn)] = struct{}{}
	case PrefixMatch:
		pfx, mode, err := ParsePrefixFilter(value)
		if err != nil {
			return err
		}
		m.prefixes = append(m.prefixes, prefixEntry{prefix: pfx, mode: mode})
	case CommunityMatch:
		cf, err := bgpattr.ParseCommunityFilter(value)
		if err != nil {
			return err
		}
		m.communities = append(m.communities, cf)
	case ElementTypeIn:
		et, err := ParseElementType(value)
		if err != nil {
			return err
		}
		if m.elemTypes == nil {
			m.elemTypes = map[elem.Type]struct{}{}
		}
		m.elemTypes[et] = struct{}{}
	default:
		return fmt.Errorf("filter: unknown kind %v", kind)
	}
	return nil
}

// AddTimeInterval restricts emitted records to [begin, end]. A second call
// replaces the prior interval rather than intersecting it, so the interval
// added last is the one in effect.
func (m *Manager) AddTimeInterval(begin, end uint32) error {
	if m.validated {
		return ErrAlreadyValidated
	}
	if begin > end {
		return fmt.Errorf("filter: invalid time interval [%d, %d]: begin > end", begin, end)
	}
	m.haveInterval = true
	m.intervalBeg = begin
	m.intervalEnd = end
	return nil
}

// AddRIBPeriod sets the minimum spacing between emitted RIB dumps for any
// given (project, collector) pair.
func (m *Manager) AddRIBPeriod(period time.Duration) error {
	if m.validated {
		return ErrAlreadyValidated
	}
	if period < 0 {
		return fmt.Errorf("filter: invalid RIB period %s", period)
	}
	m.haveRIBPeriod = true
	m.ribPeriod = period
	return nil
}

// Validate promotes the collected filters into a read-only evaluator and
// checks internal consistency. Idempotent after success; Add/AddTimeInterval/
// AddRIBPeriod all fail once this has succeeded.
func (m *Manager) Validate() error {
	if m.validated {
		return nil
	}
	if m.haveInterval && m.intervalBeg > m.intervalEnd {
		return fmt.Errorf("filter: invalid time interval [%d, %d]: begin > end", m.intervalBeg, m.intervalEnd)
	}
	m.validated = true
	return nil
}

// MatchesMetadata is the coarse filter a DI plugin's discovery is pruned
// against: only the kinds resolvable from dump metadata alone (project,
// collector, and the dump time against the configured interval's begin).
// The interval's end is not checked here; MatchesRecord applies it to each
// record.
func (m *Manager) MatchesMetadata(md dumpmeta.Metadata) bool {
	if len(m.projects) > 0 {
		if _, ok := m.projects[md.Project]; !ok {
			return false
		}
	}
	if len(m.collectors) > 0 {
		if _, ok := m.collectors[md.Collector]; !ok {
			return false
		}
	}
	if m.haveInterval && md.DumpTime < m.intervalBeg {
		return false
	}
	return true
}

// MatchesRecord evaluates the full filter over a decoded entry's semantic
// fields. Non-Valid records (status sentinels) and records carrying no
// entry always match: they were already produced as the sole record for a
// dump that failed the coarser checks, and must be passed through as-is.
func (m *Manager) MatchesRecord(r *record.Record) bool {
	if r == nil {
		return false
	}
	if r.Status != record.Valid || r.Entry == nil {
		return true
	}
	if len(m.projects) > 0 {
		if _, ok := m.projects[r.Attributes.Project]; !ok {
			return false
		}
	}
	if len(m.collectors) > 0 {
		if _, ok := m.collectors[r.Attributes.Collector]; !ok {
			return false
		}
	}
	if m.haveInterval && (r.Attributes.RecordTime < m.intervalBeg || (m.intervalEnd != Forever && r.Attributes.RecordTime > m.intervalEnd)) {
		return false
	}

	if !m.hasElementLevelFilters() {
		return true
	}
	for _, e := range elem.Derive(r) {
		if m.elementMatches(e) {
			return true
		}
	}
	return false
}

func (m *Manager) hasElementLevelFilters() bool {
	return len(m.peerASNs) > 0 || len(m.prefixes) > 0 || len(m.communities) > 0 || len(m.elemTypes) > 0
}

func (m *Manager) elementMatches(e elem.Element) bool {
	if len(m.elemTypes) > 0 {
		if _, ok := m.elemTypes[e.Type]; !ok {
			return false
		}
	}
	if len(m.peerASNs) > 0 {
		if _, ok := m.peerASNs[e.PeerASN]; !ok {
			return false
		}
	}
	if len(m.prefixes) > 0 {
		matched := false
		for _, pe := range m.prefixes {
			if e.Prefix.IsValid() && e.Prefix.MatchesFilter(pe.prefix, pe.mode) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(m.communities) > 0 {
		matched := false
		for _, cf := range m.communities {
			for _, c := range e.Communities {
				if cf.Matches(c) {
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// RIBPeriod reports the configured RIB-period filter, if any.
func (m *Manager) RIBPeriod() (time.Duration, bool) {
	return m.ribPeriod, m.haveRIBPeriod
}

// TimeInterval reports the configured time-interval filter, if any.
func (m *Manager) TimeInterval() (begin, end uint32, ok bool) {
	return m.intervalBeg, m.intervalEnd, m.haveInterval
}

// ParsePrefixFilter parses the prefix filter grammar: "addr/len[:mode]",
// mode one of exact|more|less|any, defaulting to exact.
func ParsePrefixFilter(s string) (bgpattr.Prefix, bgpattr.PrefixMatchMode, error) {
	prefixPart, modePart, hasMode := strings.Cut(s, ":")
	pfx, err := bgpattr.ParsePrefix(prefixPart)
	if err != nil {
		return bgpattr.Prefix{}, 0, err
	}
	var mode bgpattr.PrefixMatchMode
	if hasMode {
		mode, err = bgpattr.ParsePrefixMatchMode(modePart)
		if err != nil {
			return bgpattr.Prefix{}, 0, err
		}
	}
	return pfx, mode, nil
}

// ParseElementType parses an element-type filter token, case-insensitively.
func ParseElementType(s string) (elem.Type, error) {
	switch strings.ToLower(s) {
	case "rib":
		return elem.TypeRIB, nil
	case "announcement":
		return elem.TypeAnnouncement, nil
	case "withdrawal":
		return elem.TypeWithdrawal, nil
	case "peerstate", "peer-state":
		return elem.TypePeerState, nil
	default:
		return 0, fmt.Errorf("filter: unknown element type %q", s)
	}
}

// ParseRecentInterval parses a "<N> <unit>" recent-interval expression
// (unit one of s, m, h, d) relative to now, returning [now-N*unit, now]. If
// live is true the end is extended to Forever.
func ParseRecentInterval(expr string, now time.Time, live bool) (begin, end uint32, err error) {
	fields := strings.Fields(expr)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("filter: invalid recent-interval expression %q", expr)
	}
	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || n < 0 {
		return 0, 0, fmt.Errorf("filter: invalid recent-interval magnitude %q", fields[0])
	}
	var unit time.Duration
	switch fields[1] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	default:
		return 0, 0, fmt.Errorf("filter: unknown recent-interval unit %q", fields[1])
	}
	nowU := uint32(now.Unix())
	back := time.Duration(n) * unit
	beginT := now.Add(-back)
	begin = uint32(beginT.Unix())
	if live {
		end = Forever
	} else {
		end = nowU
	}
	return begin, end, nil
}
