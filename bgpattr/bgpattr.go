// Package bgpattr provides small, opaque value containers for the BGP
// path-attribute primitives that flow through a record's derived elements:
// addresses, prefixes, AS paths, and communities. None of these types parse
// wire bytes themselves — that is the MRT decoder's job (package mrt) — they
// only hold already-decoded values and implement the comparisons and
// formatting the filter and element-derivation layers need.
package bgpattr

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// IPAddr wraps a peer or next-hop address.
type IPAddr struct {
	addr netip.Addr
}

// NewIPAddr wraps a parsed netip.Addr.
func NewIPAddr(a netip.Addr) IPAddr { return IPAddr{addr: a} }

// ParseIPAddr parses a textual IPv4 or IPv6 address.
func ParseIPAddr(s string) (IPAddr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return IPAddr{}, fmt.Errorf("bgpattr: invalid address %q: %w", s, err)
	}
	return IPAddr{addr: a}, nil
}

// IsValid reports whether the address was ever set.
func (a IPAddr) IsValid() bool { return a.addr.IsValid() }

// String renders the address, or the empty string if unset.
func (a IPAddr) String() string {
	if !a.addr.IsValid() {
		return ""
	}
	return a.addr.String()
}

// PrefixMatchMode selects how a filter's prefix set is compared to a route's prefix.
type PrefixMatchMode int

const (
	// MatchExact requires an exact prefix/length match.
	MatchExact PrefixMatchMode = iota
	// MatchMoreSpecific matches the filter prefix and any prefix nested within it.
	MatchMoreSpecific
	// MatchLessSpecific matches the filter prefix and any prefix that contains it.
	MatchLessSpecific
	// MatchAny matches the filter prefix, any prefix nested within it, or any prefix that contains it.
	MatchAny
)

// ParsePrefixMatchMode parses the mode suffix of the filter grammar ("exact", "more", "less", "any").
func ParsePrefixMatchMode(s string) (PrefixMatchMode, error) {
	switch strings.ToLower(s) {
	case "", "exact":
		return MatchExact, nil
	case "more":
		return MatchMoreSpecific, nil
	case "less":
		return MatchLessSpecific, nil
	case "any":
		return MatchAny, nil
	default:
		return 0, fmt.Errorf("bgpattr: unknown prefix match mode %q", s)
	}
}

// Prefix is an IP prefix (CIDR).
type Prefix struct {
	p netip.Prefix
}

// NewPrefix wraps a parsed netip.Prefix.
func NewPrefix(p netip.Prefix) Prefix { return Prefix{p: p} }

// ParsePrefix parses "addr/len" CIDR notation.
func ParsePrefix(s string) (Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return Prefix{}, fmt.Errorf("bgpattr: invalid prefix %q: %w", s, err)
	}
	return Prefix{p: p.Masked()}, nil
}

// IsValid reports whether the prefix was ever set.
func (p Prefix) IsValid() bool { return p.p.IsValid() }

// String renders "addr/len", or the empty string if unset.
func (p Prefix) String() string {
	if !p.p.IsValid() {
		return ""
	}
	return p.p.String()
}

// MatchesFilter reports whether p satisfies the filter prefix "want" under mode.
func (p Prefix) MatchesFilter(want Prefix, mode PrefixMatchMode) bool {
	if !p.p.IsValid() || !want.p.IsValid() {
		return false
	}
	if p.p.Addr().Is4() != want.p.Addr().Is4() {
		return false
	}
	switch mode {
	case MatchExact:
		return p.p == want.p
	case MatchMoreSpecific:
		return want.p.Bits() <= p.p.Bits() && want.p.Contains(p.p.Addr())
	case MatchLessSpecific:
		return p.p.Bits() <= want.p.Bits() && p.p.Contains(want.p.Addr())
	case MatchAny:
		return p.p == want.p ||
			(want.p.Bits() <= p.p.Bits() && want.p.Contains(p.p.Addr())) ||
			(p.p.Bits() <= want.p.Bits() && p.p.Contains(want.p.Addr()))
	default:
		return false
	}
}

// ASPath is the ordered sequence of traversed AS numbers (AS_SEQUENCE semantics
// only — AS_SET segments are flattened by the decoder before reaching here,
// same simplification the element-derivation layer relies on for origin lookup).
type ASPath []uint32

// ParseASPath parses a space-separated list of AS numbers, as produced by
// String and accepted back by the filter/CLI tooling.
func ParseASPath(s string) (ASPath, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	fields := strings.Fields(s)
	path := make(ASPath, 0, len(fields))
	for _, f := range fields {
		asn, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bgpattr: invalid AS path segment %q: %w", f, err)
		}
		path = append(path, uint32(asn))
	}
	return path, nil
}

// String renders the path as space-separated AS numbers.
func (p ASPath) String() string {
	if len(p) == 0 {
		return ""
	}
	segs := make([]string, len(p))
	for i, asn := range p {
		segs[i] = strconv.FormatUint(uint64(asn), 10)
	}
	return strings.Join(segs, " ")
}

// OriginAS returns the right-most (origin) AS number in the path, and false if empty.
func (p ASPath) OriginAS() (uint32, bool) {
	if len(p) == 0 {
		return 0, false
	}
	return p[len(p)-1], true
}

// Community is a standard BGP community, (ASN, value) as RFC 1997 defines it.
type Community struct {
	ASN   uint32
	Value uint32
}

// String renders "asn:value".
func (c Community) String() string {
	return fmt.Sprintf("%d:%d", c.ASN, c.Value)
}

// CommunityFilter is one entry of a CommunityMatch filter value: either side may be wildcarded.
type CommunityFilter struct {
	ASN        uint32
	ASNAny     bool
	Value      uint32
	ValueAny   bool
}

// ParseCommunityFilter parses "asn:value" where either side may be "*".
func ParseCommunityFilter(s string) (CommunityFilter, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return CommunityFilter{}, fmt.Errorf("bgpattr: invalid community filter %q", s)
	}
	var cf CommunityFilter
	if parts[0] == "*" {
		cf.ASNAny = true
	} else {
		asn, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return CommunityFilter{}, fmt.Errorf("bgpattr: invalid community ASN %q: %w", parts[0], err)
		}
		cf.ASN = uint32(asn)
	}
	if parts[1] == "*" {
		cf.ValueAny = true
	} else {
		val, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return CommunityFilter{}, fmt.Errorf("bgpattr: invalid community value %q: %w", parts[1], err)
		}
		cf.Value = uint32(val)
	}
	return cf, nil
}

// Matches reports whether community c satisfies this filter entry.
func (cf CommunityFilter) Matches(c Community) bool {
	if !cf.ASNAny && cf.ASN != c.ASN {
		return false
	}
	if !cf.ValueAny && cf.Value != c.Value {
		return false
	}
	return true
}
