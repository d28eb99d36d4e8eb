package bgpstream

import (
	"context"
	"io"
	"testing"

	"github.com/bgpstream-go/bgpstream/bgpattr"
	"github.com/bgpstream-go/bgpstream/diface"
	"github.com/bgpstream-go/bgpstream/dumpmeta"
	"github.com/bgpstream-go/bgpstream/filter"
	"github.com/bgpstream-go/bgpstream/inputqueue"
	"github.com/bgpstream-go/bgpstream/mrt"
	"github.com/bgpstream-go/bgpstream/record"
)

func mustIP(t *testing.T, s string) bgpattr.IPAddr {
	t.Helper()
	ip, err := bgpattr.ParseIPAddr(s)
	if err != nil {
		t.Fatalf("ParseIPAddr(%q): %v", s, err)
	}
	return ip
}

func mustPrefix(t *testing.T, s string) bgpattr.Prefix {
	t.Helper()
	p, err := bgpattr.ParsePrefix(s)
	if err != nil {
		t.Fatalf("ParsePrefix(%q): %v", s, err)
	}
	return p
}

func ribEntry(t *testing.T, ts, peerASN uint32, prefix string) *mrt.Entry {
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

// fakePlugin delivers a fixed set of batches, one per NextBatch call, then
// returns 0 (batch mode) or, in live mode, returns the liveExtra batch once
// without blocking (used for the live-mode test).
type fakePlugin struct {
	info    diface.Info
	batches [][]dumpmeta.Metadata
	idx     int
	calls   int
	started bool
	stopped bool

	// liveExtra, if set, is delivered exactly once after batches are
	// exhausted, simulating a live plugin that eventually produces more
	// data instead of authoritatively ending the stream.
	liveExtra     []dumpmeta.Metadata
	liveExtraUsed bool
}

func (p *fakePlugin) Describe() diface.Info     { return p.info }
func (p *fakePlugin) SetOption(_, _ string) error { return nil }
func (p *fakePlugin) Start(_ filter.View) error {
	p.started = true
	return nil
}
func (p *fakePlugin) Stop() error {
	p.stopped = true
	return nil
}

func (p *fakePlugin) NextBatch(_ context.Context, sink inputqueue.Sink, live bool) (int, error) {
	p.calls++
	if p.idx < len(p.batches) {
		b := p.batches[p.idx]
		p.idx++
		if len(b) > 0 {
			sink.Enqueue(b...)
		}
		return len(b), nil
	}
	if live && p.liveExtra != nil && !p.liveExtraUsed {
		p.liveExtraUsed = true
		sink.Enqueue(p.liveExtra...)
		return len(p.liveExtra), nil
	}
	return 0, nil
}

func registerFake(t *testing.T, id string, p *fakePlugin) {
	t.Helper()
	p.info = diface.Info{ID: id, Name: id}
	diface.Register(id, func() diface.Plugin { return p })
	t.Cleanup(func() {
		// The registry has no removal API; tests use unique ids per call
		// so stale entries from prior tests never collide.
		_ = id
	})
}

func openerFor(decoders map[string]*fakeDecoder) mrt.OpenFunc {
	return func(md dumpmeta.Metadata) (mrt.Decoder, error) {
		d, ok := decoders[md.URI]
		if !ok {
			return nil, io.ErrUnexpectedEOF
		}
		return d, nil
	}
}

func TestSession_StateMachine_ConfigAfterStartFails(t *testing.T) {
	s := New(nil, openerFor(nil))
	id := "fake-state-1"
	registerFake(t, id, &fakePlugin{})
	if err := s.SetDataInterface(id); err != nil {
		t.Fatalf("SetDataInterface: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.AddFilter(filter.ProjectIn, "ris"); err != ErrAlreadyStarted {
		t.Errorf("AddFilter after Start = %v, want ErrAlreadyStarted", err)
	}
	if err := s.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestSession_NextRecordBeforeStartFails(t *testing.T) {
	s := New(nil, openerFor(nil))
	var out record.Record
	n, err := s.NextRecord(context.Background(), &out)
	if n != -1 || err != ErrNotStarted {
		t.Fatalf("NextRecord before Start = (%d, %v), want (-1, ErrNotStarted)", n, err)
	}
}

func TestSession_DestroyIdempotentAnyState(t *testing.T) {
	s := New(nil, openerFor(nil))
	s.Destroy()
	s.Destroy()

	id := "fake-state-2"
	registerFake(t, id, &fakePlugin{})
	if err := s.SetDataInterface(id); err != nil {
		t.Fatalf("SetDataInterface: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Destroy()
	s.Destroy()
}

// End-to-end: one RIB dump through a fake plugin, the real filter/diface/
// inputqueue/reader managers, down to two emitted records.
func TestSession_EndToEnd_SingleRIBBatch(t *testing.T) {
	meta := dumpmeta.Metadata{Project: "p", Collector: "c", DumpType: dumpmeta.RIB, DumpTime: 1000, URI: "dumpA"}
	decoders := map[string]*fakeDecoder{
		"dumpA": {steps: []fakeStep{
			{entry: ribEntry(t, 1000, 64496, "10.0.0.0/24")},
			{entry: ribEntry(t, 1000, 64496, "10.0.1.0/24")},
		}},
	}
	id := "fake-e2e-1"
	plugin := &fakePlugin{batches: [][]dumpmeta.Metadata{{meta}}}
	registerFake(t, id, plugin)

	s := New(nil, openerFor(decoders))
	if err := s.SetDataInterface(id); err != nil {
		t.Fatalf("SetDataInterface: %v", err)
	}
	if err := s.AddFilter(filter.ProjectIn, "p"); err != nil {
		t.Fatalf("AddFilter: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Destroy()

	wantPositions := []record.DumpPosition{record.Start, record.End}
	var out record.Record
	for i, want := range wantPositions {
		n, err := s.NextRecord(context.Background(), &out)
		if err != nil || n != 1 {
			t.Fatalf("record %d: NextRecord() = (%d, %v)", i, n, err)
		}
		if out.Position != want {
			t.Errorf("record %d: position = %v, want %v", i, out.Position, want)
		}
	}

	n, err := s.NextRecord(context.Background(), &out)
	if n != 0 || err != nil {
		t.Fatalf("expected end of stream, got (%d, %v)", n, err)
	}
	// Exhausted is sticky and must not re-invoke the plugin.
	priorCalls := plugin.calls
	n, err = s.NextRecord(context.Background(), &out)
	if n != 0 || err != nil || plugin.calls != priorCalls {
		t.Fatalf("second end-of-stream call re-invoked plugin or errored: (%d, %v), calls %d->%d", n, err, priorCalls, plugin.calls)
	}
}

// S4: a live-mode plugin that takes one call to report nothing new, then a
// second call to deliver one batch, must not be mistaken for end-of-stream.
func TestSession_S4_LiveModeDoesNotExhaustOnEmptyBatch(t *testing.T) {
	meta := dumpmeta.Metadata{Project: "p", Collector: "c", DumpType: dumpmeta.Update, DumpTime: 2000, URI: "dumpLive"}
	decoders := map[string]*fakeDecoder{
		"dumpLive": {steps: []fakeStep{
			{entry: ribEntry(t, 2000, 64496, "10.0.2.0/24")},
		}},
	}
	id := "fake-live-1"
	plugin := &fakePlugin{batches: [][]dumpmeta.Metadata{{}}, liveExtra: []dumpmeta.Metadata{meta}}
	registerFake(t, id, plugin)

	s := New(nil, openerFor(decoders))
	if err := s.SetDataInterface(id); err != nil {
		t.Fatalf("SetDataInterface: %v", err)
	}
	if err := s.SetLiveMode(true); err != nil {
		t.Fatalf("SetLiveMode: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Destroy()

	var out record.Record
	n, err := s.NextRecord(context.Background(), &out)
	if err != nil || n != 1 {
		t.Fatalf("NextRecord() = (%d, %v), want (1, nil)", n, err)
	}
	if out.Status != record.Valid || out.Position != record.End {
		t.Errorf("unexpected record: status=%v position=%v", out.Status, out.Position)
	}
	if s.state == stateExhausted {
		t.Error("session must not be Exhausted in live mode after an empty-then-nonempty poll")
	}
}
