package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bgpstream-go/bgpstream/bgpattr"
	"github.com/bgpstream-go/bgpstream/dumpmeta"
	"github.com/bgpstream-go/bgpstream/inputqueue"
	"github.com/bgpstream-go/bgpstream/mrt"
	"github.com/bgpstream-go/bgpstream/mrt/linefmt"
)

func TestPlugin_StartRequiresRootDir(t *testing.T) {
	p := New()
	if err := p.Start(nil); err == nil {
		t.Fatal("expected error with no root_dir configured")
	}
}

func TestPlugin_StartRejectsMissingDir(t *testing.T) {
	p := New()
	if err := p.SetOption("root_dir", "/nonexistent/path/xyz"); err != nil {
		t.Fatalf("SetOption: %v", err)
	}
	if err := p.Start(nil); err == nil {
		t.Fatal("expected error for missing root_dir")
	}
}

func TestPlugin_SetOptionUnknown(t *testing.T) {
	p := New()
	if err := p.SetOption("bogus", "value"); err == nil {
		t.Fatal("expected error for unknown option")
	}
}

func TestParseFilename(t *testing.T) {
	md, ok, err := parseFilename("ris_rrc00_rib_1000.linefmt")
	if err != nil || !ok {
		t.Fatalf("parseFilename: ok=%v err=%v", ok, err)
	}
	if md.Project != "ris" || md.Collector != "rrc00" || md.DumpType != dumpmeta.RIB || md.DumpTime != 1000 {
		t.Errorf("unexpected metadata: %+v", md)
	}

	_, ok, err = parseFilename("not-a-dump-file.txt")
	if err != nil || ok {
		t.Fatalf("expected no match, got ok=%v err=%v", ok, err)
	}
}

type recordingSink struct {
	items []dumpmeta.Metadata
}

func (s *recordingSink) Enqueue(items ...dumpmeta.Metadata) {
	s.items = append(s.items, items...)
}

func TestPlugin_NextBatch_DiscoversThenEndsInBatchMode(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "ris_rrc00_rib_1000.linefmt")
	writeFixture(t, dir, "ris_rrc00_update_1100.linefmt")

	p := New()
	if err := p.SetOption("root_dir", dir); err != nil {
		t.Fatalf("SetOption: %v", err)
	}
	if err := p.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sink := &recordingSink{}
	n, err := p.NextBatch(context.Background(), sink, false)
	if err != nil || n != 2 {
		t.Fatalf("NextBatch = (%d, %v), want (2, nil)", n, err)
	}
	if sink.items[0].DumpTime > sink.items[1].DumpTime {
		t.Errorf("expected ascending dump time order, got %v", sink.items)
	}

	n, err = p.NextBatch(context.Background(), sink, false)
	if n != 0 || err != nil {
		t.Fatalf("second NextBatch (batch mode) = (%d, %v), want (0, nil)", n, err)
	}
}

func TestPlugin_NextBatch_LiveModeBlocksUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	p := New()
	if err := p.SetOption("root_dir", dir); err != nil {
		t.Fatalf("SetOption: %v", err)
	}
	if err := p.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &recordingSink{}
	n, err := p.NextBatch(ctx, sink, true)
	if n != -1 || err == nil {
		t.Fatalf("NextBatch with cancelled ctx = (%d, %v), want (-1, non-nil)", n, err)
	}
}

func TestOpen_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ris_rrc00_rib_1000.linefmt")
	ip, err := bgpattr.ParseIPAddr("192.0.2.1")
	if err != nil {
		t.Fatalf("ParseIPAddr: %v", err)
	}
	pfx, err := bgpattr.ParsePrefix("10.0.0.0/24")
	if err != nil {
		t.Fatalf("ParsePrefix: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := linefmt.WriteRIB(f, 1000, &mrt.RIBEntry{Peer: mrt.Peer{Address: ip, ASN: 64496}, Prefixes: []bgpattr.Prefix{pfx}}); err != nil {
		t.Fatalf("WriteRIB: %v", err)
	}
	f.Close()

	dec, err := Open(dumpmeta.Metadata{URI: "file://" + path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dec.Close()

	entry, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if entry.Kind != mrt.KindRIB || entry.RIB.Peer.ASN != 64496 {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

func writeFixture(t *testing.T, dir, name string) {
	t.Helper()
	ip, err := bgpattr.ParseIPAddr("192.0.2.1")
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := linefmt.WriteState(f, 1, &mrt.StateEntry{Peer: mrt.Peer{Address: ip, ASN: 64496}, Old: mrt.StateIdle, New: mrt.StateConnect}); err != nil {
		t.Fatal(err)
	}
}
