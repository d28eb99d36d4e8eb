package reader

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bgpstream-go/bgpstream/bgpattr"
	"github.com/bgpstream-go/bgpstream/dumpmeta"
	"github.com/bgpstream-go/bgpstream/filter"
	"github.com/bgpstream-go/bgpstream/mrt"
	"github.com/bgpstream-go/bgpstream/record"
)

func mustPrefix(t *testing.T, s string) bgpattr.Prefix {
	t.Helper()
	p, err := bgpattr.ParsePrefix(s)
	if err != nil {
		t.Fatalf("ParsePrefix(%q): %v", s, err)
	}
	return p
}

func mustIP(t *testing.T, s string) bgpattr.IPAddr {
	t.Helper()
	ip, err := bgpattr.ParseIPAddr(s)
	if err != nil {
		t.Fatalf("ParseIPAddr(%q): %v", s, err)
	}
	return ip
}

type fakeStep struct {
	entry *mrt.Entry
	err   error
}

type fakeDecoder struct {
	steps []fakeStep
	idx   int
}

func (d *fakeDecoder) Next() (*mrt.Entry, error) {
	if d.idx >= len(d.steps) {
		return nil, io.EOF
	}
	s := d.steps[d.idx]
	d.idx++
	return s.entry, s.err
}

func (d *fakeDecoder) Close() error { return nil }

func ribEntry(t *testing.T, ts uint32, peerASN uint32, prefix string) *mrt.Entry {
	t.Helper()
	return &mrt.Entry{
		Time: ts,
		Kind: mrt.KindRIB,
		RIB: &mrt.RIBEntry{
			Peer:     mrt.Peer{Address: mustIP(t, "192.0.2.1"), ASN: peerASN},
			Prefixes: []bgpattr.Prefix{mustPrefix(t, prefix)},
		},
	}
}

func validatedFilter(t *testing.T, configure func(m *filter.Manager)) *filter.Manager {
	t.Helper()
	m := filter.NewManager()
	if configure != nil {
		configure(m)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return m
}

// S1: single RIB dump, three prefixes at t=1000. Expect three Valid records
// with positions START, MIDDLE, END.
func TestManager_S1_SingleRIB(t *testing.T) {
	meta := dumpmeta.Metadata{Project: "p", Collector: "c", DumpType: dumpmeta.RIB, DumpTime: 1000, URI: "dumpA"}
	open := func(md dumpmeta.Metadata) (mrt.Decoder, error) {
		return &fakeDecoder{steps: []fakeStep{
			{entry: ribEntry(t, 1000, 64496, "10.0.0.0/24")},
			{entry: ribEntry(t, 1000, 64496, "10.0.1.0/24")},
			{entry: ribEntry(t, 1000, 64496, "10.0.2.0/24")},
		}}, nil
	}
	fv := validatedFilter(t, func(m *filter.Manager) {
		if err := m.AddTimeInterval(500, 2000); err != nil {
			t.Fatal(err)
		}
	})

	mgr := NewManager(nil, open)
	if err := mgr.Add([]dumpmeta.Metadata{meta}, fv); err != nil {
		t.Fatalf("Add: %v", err)
	}

	wantPositions := []record.DumpPosition{record.Start, record.Middle, record.End}
	var out record.Record
	for i, want := range wantPositions {
		n, err := mgr.NextRecord(&out, fv)
		if err != nil || n != 1 {
			t.Fatalf("record %d: NextRecord() = (%d, %v)", i, n, err)
		}
		if out.Status != record.Valid {
			t.Fatalf("record %d: status = %v, want Valid", i, out.Status)
		}
		if out.Position != want {
			t.Errorf("record %d: position = %v, want %v", i, out.Position, want)
		}
	}
	n, err := mgr.NextRecord(&out, fv)
	if n != 0 || err != nil {
		t.Fatalf("expected end of stream, got (%d, %v)", n, err)
	}
}

// S2: two Update dumps from different collectors with interleaved record
// times. Expect global emission order 10, 20, 30, 40, 50, 60.
func TestManager_S2_Merge(t *testing.T) {
	decoders := map[string]*fakeDecoder{
		"c1": {steps: []fakeStep{
			{entry: ribEntry(t, 10, 64496, "10.0.0.0/24")},
			{entry: ribEntry(t, 30, 64496, "10.0.0.0/24")},
			{entry: ribEntry(t, 50, 64496, "10.0.0.0/24")},
		}},
		"c2": {steps: []fakeStep{
			{entry: ribEntry(t, 20, 64497, "10.0.1.0/24")},
			{entry: ribEntry(t, 40, 64497, "10.0.1.0/24")},
			{entry: ribEntry(t, 60, 64497, "10.0.1.0/24")},
		}},
	}
	open := func(md dumpmeta.Metadata) (mrt.Decoder, error) {
		return decoders[md.Collector], nil
	}
	fv := validatedFilter(t, nil)

	mgr := NewManager(nil, open)
	batch := []dumpmeta.Metadata{
		{Project: "p", Collector: "c1", DumpType: dumpmeta.Update, DumpTime: 0},
		{Project: "p", Collector: "c2", DumpType: dumpmeta.Update, DumpTime: 0},
	}
	if err := mgr.Add(batch, fv); err != nil {
		t.Fatalf("Add: %v", err)
	}

	var got []uint32
	var out record.Record
	for {
		n, err := mgr.NextRecord(&out, fv)
		if err != nil {
			t.Fatalf("NextRecord: %v", err)
		}
		if n == 0 {
			break
		}
		got = append(got, out.Attributes.RecordTime)
	}
	want := []uint32{10, 20, 30, 40, 50, 60}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

// S3: every entry has peer ASN 100; filter PeerAsnIn={200}. Expect a single
// FilteredSource record.
func TestManager_S3_FilterMissWholeFile(t *testing.T) {
	meta := dumpmeta.Metadata{Project: "p", Collector: "c", DumpType: dumpmeta.RIB, DumpTime: 1000}
	open := func(md dumpmeta.Metadata) (mrt.Decoder, error) {
		return &fakeDecoder{steps: []fakeStep{
			{entry: ribEntry(t, 1000, 100, "10.0.0.0/24")},
			{entry: ribEntry(t, 1001, 100, "10.0.1.0/24")},
		}}, nil
	}
	fv := validatedFilter(t, func(m *filter.Manager) {
		if err := m.Add(filter.PeerAsnIn, "200"); err != nil {
			t.Fatal(err)
		}
	})

	mgr := NewManager(nil, open)
	if err := mgr.Add([]dumpmeta.Metadata{meta}, fv); err != nil {
		t.Fatalf("Add: %v", err)
	}

	var out record.Record
	n, err := mgr.NextRecord(&out, fv)
	if err != nil || n != 1 {
		t.Fatalf("NextRecord() = (%d, %v)", n, err)
	}
	if out.Status != record.FilteredSource {
		t.Fatalf("status = %v, want FilteredSource", out.Status)
	}
	n, err = mgr.NextRecord(&out, fv)
	if n != 0 || err != nil {
		t.Fatalf("expected end of stream after the single status record, got (%d, %v)", n, err)
	}
}

// S5: two RIBs at t=1000 and t=1300 for the same collector, period=600s.
// Expect only the t=1000 RIB emitted.
func TestManager_S5_RIBPeriodSuppression(t *testing.T) {
	opens := 0
	open := func(md dumpmeta.Metadata) (mrt.Decoder, error) {
		opens++
		return &fakeDecoder{steps: []fakeStep{
			{entry: ribEntry(t, md.DumpTime, 64496, "10.0.0.0/24")},
		}}, nil
	}
	fv := validatedFilter(t, func(m *filter.Manager) {
		if err := m.AddRIBPeriod(600 * time.Second); err != nil {
			t.Fatal(err)
		}
	})

	mgr := NewManager(nil, open)
	batch := []dumpmeta.Metadata{
		{Project: "p", Collector: "c", DumpType: dumpmeta.RIB, DumpTime: 1000},
		{Project: "p", Collector: "c", DumpType: dumpmeta.RIB, DumpTime: 1300},
	}
	if err := mgr.Add(batch, fv); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if opens != 1 {
		t.Fatalf("expected exactly 1 dump opened, got %d", opens)
	}

	var out record.Record
	n, err := mgr.NextRecord(&out, fv)
	if err != nil || n != 1 {
		t.Fatalf("NextRecord() = (%d, %v)", n, err)
	}
	if out.Attributes.DumpTime != 1000 {
		t.Errorf("expected the t=1000 RIB, got dump_time=%d", out.Attributes.DumpTime)
	}
	n, err = mgr.NextRecord(&out, fv)
	if n != 0 || err != nil {
		t.Fatalf("expected end of stream, got (%d, %v)", n, err)
	}
}

// S6: dump of five entries where the third is corrupt. Expect
// Valid(START), Valid(MIDDLE), CorruptedRecord(MIDDLE), then retirement.
func TestManager_S6_CorruptRecordMidStream(t *testing.T) {
	meta := dumpmeta.Metadata{Project: "p", Collector: "c", DumpType: dumpmeta.RIB, DumpTime: 1000}
	open := func(md dumpmeta.Metadata) (mrt.Decoder, error) {
		return &fakeDecoder{steps: []fakeStep{
			{entry: ribEntry(t, 100, 64496, "10.0.0.0/24")},
			{entry: ribEntry(t, 200, 64496, "10.0.1.0/24")},
			{err: &mrt.CorruptedEntryError{Err: errors.New("bad entry")}},
			{entry: ribEntry(t, 400, 64496, "10.0.3.0/24")},
			{entry: ribEntry(t, 500, 64496, "10.0.4.0/24")},
		}}, nil
	}
	fv := validatedFilter(t, nil)

	mgr := NewManager(nil, open)
	if err := mgr.Add([]dumpmeta.Metadata{meta}, fv); err != nil {
		t.Fatalf("Add: %v", err)
	}

	var out record.Record

	n, err := mgr.NextRecord(&out, fv)
	if err != nil || n != 1 || out.Status != record.Valid || out.Position != record.Start {
		t.Fatalf("record 1: (%d, %v), status=%v position=%v", n, err, out.Status, out.Position)
	}

	n, err = mgr.NextRecord(&out, fv)
	if err != nil || n != 1 || out.Status != record.Valid || out.Position != record.Middle {
		t.Fatalf("record 2: (%d, %v), status=%v position=%v", n, err, out.Status, out.Position)
	}

	n, err = mgr.NextRecord(&out, fv)
	if err != nil || n != 1 || out.Status != record.CorruptedRecord || out.Position != record.Middle {
		t.Fatalf("record 3: (%d, %v), status=%v position=%v", n, err, out.Status, out.Position)
	}

	n, err = mgr.NextRecord(&out, fv)
	if n != 0 || err != nil {
		t.Fatalf("expected reader retirement after the corrupted entry, got (%d, %v)", n, err)
	}
}

func TestManager_IsEmpty(t *testing.T) {
	open := func(md dumpmeta.Metadata) (mrt.Decoder, error) {
		return &fakeDecoder{steps: []fakeStep{{entry: ribEntry(t, 1000, 64496, "10.0.0.0/24")}}}, nil
	}
	fv := validatedFilter(t, nil)
	mgr := NewManager(nil, open)
	if !mgr.IsEmpty() {
		t.Fatal("expected new manager to be empty")
	}
	if err := mgr.Add([]dumpmeta.Metadata{{Project: "p", Collector: "c"}}, fv); err != nil {
		t.Fatal(err)
	}
	if mgr.IsEmpty() {
		t.Fatal("expected manager to be non-empty after Add")
	}
	var out record.Record
	if _, err := mgr.NextRecord(&out, fv); err != nil {
		t.Fatal(err)
	}
	if !mgr.IsEmpty() {
		t.Fatal("expected manager to be empty after draining its only record")
	}
}

func TestManager_CorruptedSource(t *testing.T) {
	open := func(md dumpmeta.Metadata) (mrt.Decoder, error) {
		return nil, errors.New("no such file")
	}
	fv := validatedFilter(t, nil)
	mgr := NewManager(nil, open)
	if err := mgr.Add([]dumpmeta.Metadata{{Project: "p", Collector: "c"}}, fv); err != nil {
		t.Fatal(err)
	}
	var out record.Record
	n, err := mgr.NextRecord(&out, fv)
	if err != nil || n != 1 {
		t.Fatalf("NextRecord() = (%d, %v)", n, err)
	}
	if out.Status != record.CorruptedSource {
		t.Fatalf("status = %v, want CorruptedSource", out.Status)
	}
}

func TestManager_EmptySource(t *testing.T) {
	open := func(md dumpmeta.Metadata) (mrt.Decoder, error) {
		return &fakeDecoder{}, nil
	}
	fv := validatedFilter(t, nil)
	mgr := NewManager(nil, open)
	if err := mgr.Add([]dumpmeta.Metadata{{Project: "p", Collector: "c"}}, fv); err != nil {
		t.Fatal(err)
	}
	var out record.Record
	n, err := mgr.NextRecord(&out, fv)
	if err != nil || n != 1 {
		t.Fatalf("NextRecord() = (%d, %v)", n, err)
	}
	if out.Status != record.EmptySource {
		t.Fatalf("status = %v, want EmptySource", out.Status)
	}
}
