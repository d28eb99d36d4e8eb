// Package linefmt is a bundled reference mrt.Decoder implementation: a
// simple newline-delimited text format, one entry per line. It exists so
// the Reader Manager's tests and the bundled plugins/file fixtures have a
// real decodable dump format without vendoring or implementing BGP's
// actual MRT/BGPdump wire format.
//
// This is NOT byte-compatible with real MRT or BGPdump files. Production
// deployments must supply their own mrt.Decoder over the real wire format;
// linefmt is a fixture format only.
package linefmt

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bgpstream-go/bgpstream/bgpattr"
	"github.com/bgpstream-go/bgpstream/mrt"
)

// Decoder reads linefmt entries from an underlying io.Reader.
type Decoder struct {
	sc     *bufio.Scanner
	closer io.Closer
	lineNo int
}

// NewDecoder wraps r. Close is a no-op; use NewDecoderCloser if the caller
// wants closing the decoder to also close the underlying source.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{sc: bufio.NewScanner(r)}
}

// NewDecoderCloser wraps r and arranges for Close to also close c, for
// callers (plugins/file, plugins/http) that open the underlying file or
// zstd stream themselves.
func NewDecoderCloser(r io.Reader, c io.Closer) *Decoder {
	d := NewDecoder(r)
	d.closer = c
	return d
}

// Next implements mrt.Decoder.
func (d *Decoder) Next() (*mrt.Entry, error) {
	for d.sc.Scan() {
		d.lineNo++
		line := strings.TrimSpace(d.sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry, err := parseLine(line)
		if err != nil {
			return nil, &mrt.CorruptedEntryError{Err: fmt.Errorf("linefmt: line %d: %w", d.lineNo, err)}
		}
		return entry, nil
	}
	if err := d.sc.Err(); err != nil {
		return nil, &mrt.CorruptedEntryError{Err: err}
	}
	return nil, io.EOF
}

// Close implements mrt.Decoder.
func (d *Decoder) Close() error {
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}

// WriteRIB appends one RIB-entry line to w.
func WriteRIB(w io.Writer, time uint32, e *mrt.RIBEntry) error {
	_, err := fmt.Fprintf(w, "R|%d|%s|%d|%s|%s|%s|%s\n",
		time, e.Peer.Address, e.Peer.ASN,
		joinPrefixes(e.Prefixes), e.NextHop, e.ASPath, joinCommunities(e.Communities))
	return err
}

// WriteUpdate appends one UPDATE-entry line to w.
func WriteUpdate(w io.Writer, time uint32, e *mrt.UpdateEntry) error {
	_, err := fmt.Fprintf(w, "U|%d|%s|%d|%s|%s|%s|%s|%s\n",
		time, e.Peer.Address, e.Peer.ASN,
		joinPrefixes(e.Announced), joinPrefixes(e.Withdrawn), e.NextHop, e.ASPath, joinCommunities(e.Communities))
	return err
}

// WriteState appends one peer-state-transition line to w.
func WriteState(w io.Writer, time uint32, e *mrt.StateEntry) error {
	_, err := fmt.Fprintf(w, "S|%d|%s|%d|%s|%s\n", time, e.Peer.Address, e.Peer.ASN, e.Old, e.New)
	return err
}

func joinPrefixes(prefixes []bgpattr.Prefix) string {
	strs := make([]string, len(prefixes))
	for i, p := range prefixes {
		strs[i] = p.String()
	}
	return strings.Join(strs, ",")
}

func joinCommunities(cs []bgpattr.Community) string {
	strs := make([]string, len(cs))
	for i, c := range cs {
		strs[i] = c.String()
	}
	return strings.Join(strs, ",")
}

func parseLine(line string) (*mrt.Entry, error) {
	fields := strings.Split(line, "|")
	if len(fields) < 4 {
		return nil, fmt.Errorf("expected at least 4 fields, got %d", len(fields))
	}
	kind := fields[0]
	ts, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", fields[1], err)
	}
	peerIP, err := bgpattr.ParseIPAddr(fields[2])
	if err != nil {
		return nil, err
	}
	peerASN, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid peer asn %q: %w", fields[3], err)
	}
	peer := mrt.Peer{Address: peerIP, ASN: uint32(peerASN)}
	time32 := uint32(ts)

	switch kind {
	case "R":
		if len(fields) != 8 {
			return nil, fmt.Errorf("RIB line: expected 8 fields, got %d", len(fields))
		}
		prefixes, err := parsePrefixList(fields[4])
		if err != nil {
			return nil, err
		}
		nh, err := parseOptionalIP(fields[5])
		if err != nil {
			return nil, err
		}
		path, err := bgpattr.ParseASPath(fields[6])
		if err != nil {
			return nil, err
		}
		comms, err := parseCommunityList(fields[7])
		if err != nil {
			return nil, err
		}
		return &mrt.Entry{Time: time32, Kind: mrt.KindRIB, RIB: &mrt.RIBEntry{
			Peer: peer, Prefixes: prefixes, NextHop: nh, ASPath: path, Communities: comms,
		}}, nil

	case "U":
		if len(fields) != 9 {
			return nil, fmt.Errorf("UPDATE line: expected 9 fields, got %d", len(fields))
		}
		announced, err := parsePrefixList(fields[4])
		if err != nil {
			return nil, err
		}
		withdrawn, err := parsePrefixList(fields[5])
		if err != nil {
			return nil, err
		}
		nh, err := parseOptionalIP(fields[6])
		if err != nil {
			return nil, err
		}
		path, err := bgpattr.ParseASPath(fields[7])
		if err != nil {
			return nil, err
		}
		comms, err := parseCommunityList(fields[8])
		if err != nil {
			return nil, err
		}
		return &mrt.Entry{Time: time32, Kind: mrt.KindUpdate, Update: &mrt.UpdateEntry{
			Peer: peer, Announced: announced, Withdrawn: withdrawn, NextHop: nh, ASPath: path, Communities: comms,
		}}, nil

	case "S":
		if len(fields) != 6 {
			return nil, fmt.Errorf("STATE line: expected 6 fields, got %d", len(fields))
		}
		oldState, err := mrt.ParsePeerState(fields[4])
		if err != nil {
			return nil, err
		}
		newState, err := mrt.ParsePeerState(fields[5])
		if err != nil {
			return nil, err
		}
		return &mrt.Entry{Time: time32, Kind: mrt.KindPeerState, State: &mrt.StateEntry{
			Peer: peer, Old: oldState, New: newState,
		}}, nil

	default:
		return nil, fmt.Errorf("unknown entry kind %q", kind)
	}
}

func parsePrefixList(s string) ([]bgpattr.Prefix, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]bgpattr.Prefix, len(parts))
	for i, p := range parts {
		pfx, err := bgpattr.ParsePrefix(p)
		if err != nil {
			return nil, err
		}
		out[i] = pfx
	}
	return out, nil
}

func parseCommunityList(s string) ([]bgpattr.Community, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]bgpattr.Community, len(parts))
	for i, c := range parts {
		asn, val, ok := strings.Cut(c, ":")
		if !ok {
			return nil, fmt.Errorf("invalid community %q", c)
		}
		asnN, err := strconv.ParseUint(asn, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid community asn %q: %w", asn, err)
		}
		valN, err := strconv.ParseUint(val, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid community value %q: %w", val, err)
		}
		out[i] = bgpattr.Community{ASN: uint32(asnN), Value: uint32(valN)}
	}
	return out, nil
}

func parseOptionalIP(s string) (bgpattr.IPAddr, error) {
	if s == "" {
		return bgpattr.IPAddr{}, nil
	}
	return bgpattr.ParseIPAddr(s)
}
