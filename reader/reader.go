// Package reader is the heart of the merge: it owns the set of live
// per-dump Readers, advances each past entries its filters reject, and
// presents their pending records through a single priority-ordered
// next-record cursor.
package reader

import (
	"container/heap"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/bgpstream-go/bgpstream/dumpmeta"
	"github.com/bgpstream-go/bgpstream/filter"
	"github.com/bgpstream-go/bgpstream/metrics"
	"github.com/bgpstream-go/bgpstream/mrt"
	"github.com/bgpstream-go/bgpstream/record"
)

// state names the per-Reader state machine's position. It exists mainly to
// document the transitions spec'd for this layer; most of the logic below
// drives the machine through pending/done rather than switching on state
// directly.
type state int

const (
	stateUnopened state = iota
	stateOpening
	stateActive
	stateDraining
	stateClosed
)

// Reader tracks one dump's one-record-ahead buffer and stable merge
// position. It is only ever touched by the owning Manager.
type Reader struct {
	meta    dumpmeta.Metadata
	decoder mrt.Decoder
	seq     uint64
	state   state

	pending *record.Record
	done    bool

	sawAnyEntry    bool
	lastRecordTime uint32
}

// readerHeap is the container/heap over Readers that hold a pending record,
// ordered by that record's (record_time, dump_time) and then the Reader's seq.
type readerHeap struct {
	readers []*Reader
}

func (h *readerHeap) Len() int { return len(h.readers) }

func (h *readerHeap) Less(i, j int) bool {
	a, b := h.readers[i].pending, h.readers[j].pending
	if a.Attributes.RecordTime != b.Attributes.RecordTime {
		return a.Attributes.RecordTime < b.Attributes.RecordTime
	}
	if a.Attributes.DumpTime != b.Attributes.DumpTime {
		return a.Attributes.DumpTime < b.Attributes.DumpTime
	}
	return h.readers[i].seq < h.readers[j].seq
}

func (h *readerHeap) Swap(i, j int) { h.readers[i], h.readers[j] = h.readers[j], h.readers[i] }

func (h *readerHeap) Push(x any) { h.readers = append(h.readers, x.(*Reader)) }

func (h *readerHeap) Pop() any {
	old := h.readers
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	h.readers = old[:n-1]
	return r
}

// advanceOutcome classifies what advanceOnce found.
type advanceOutcome int

const (
	advanceEOF advanceOutcome = iota
	advanceFound
	advanceCorrupted
)

// Manager merges every live Reader's pending record into a single ordered
// stream, keyed by (record_time, dump_time, stable_sequence).
type Manager struct {
	logger *zap.Logger
	open   mrt.OpenFunc

	heap    readerHeap
	nextSeq uint64

	lastRIBTime map[string]uint32
}

// NewManager returns an empty Manager. open is the collaborator used to
// open a dump's decoder; it is called exactly once per Reader.
func NewManager(logger *zap.Logger, open mrt.OpenFunc) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:      logger,
		open:        open,
		lastRIBTime: make(map[string]uint32),
	}
}

// IsEmpty reports whether no Reader currently holds a pending record.
func (m *Manager) IsEmpty() bool {
	return m.heap.Len() == 0
}

// Add creates one Reader per metadata item, opens it, and advances it to
// its first matching record (or a terminal status). RIB-period suppression
// is applied here, before a Reader is even created: a suppressed RIB dump
// produces no record at all.
func (m *Manager) Add(batch []dumpmeta.Metadata, fv filter.View) error {
	for _, md := range batch {
		if md.DumpType == dumpmeta.RIB {
			if period, ok := fv.RIBPeriod(); ok {
				key := ribKey(md.Project, md.Collector)
				periodSecs := uint32(period / time.Second)
				if last, seen := m.lastRIBTime[key]; seen && md.DumpTime < last+periodSecs {
					metrics.RIBPeriodSuppressedTotal.WithLabelValues(md.Project, md.Collector).Inc()
					continue
				}
				m.lastRIBTime[key] = md.DumpTime
			}
		}

		r := &Reader{meta: md, seq: m.nextSeq, state: stateUnopened}
		m.nextSeq++
		m.prime(r, fv)
		if r.pending != nil {
			heap.Push(&m.heap, r)
		}
	}
	metrics.ReaderMergeQueueDepth.Set(float64(m.heap.Len()))
	return nil
}

// NextRecord consumes the earliest pending record across all live Readers,
// refills that Reader, and returns (1, nil) on emission or (0, nil) once no
// Reader holds anything left to give.
func (m *Manager) NextRecord(out *record.Record, fv filter.View) (int, error) {
	if m.heap.Len() == 0 {
		return 0, nil
	}
	r := heap.Pop(&m.heap).(*Reader)
	pend := r.pending
	r.pending = nil

	if !r.done {
		m.refill(r, fv, pend)
	}

	*out = *pend
	metrics.ReaderRecordsTotal.WithLabelValues(out.Status.String()).Inc()

	if r.pending != nil {
		heap.Push(&m.heap, r)
	}
	metrics.ReaderMergeQueueDepth.Set(float64(m.heap.Len()))
	return 1, nil
}

func (m *Manager) prime(r *Reader, fv filter.View) {
	decoder, err := m.open(r.meta)
	if err != nil {
		m.logger.Debug("reader: open failed", zap.String("uri", r.meta.URI), zap.Error(err))
		r.pending = m.statusRecord(r.meta, record.CorruptedSource)
		r.done = true
		r.state = stateClosed
		metrics.ReaderDumpStatusTotal.WithLabelValues(record.CorruptedSource.String()).Inc()
		return
	}
	r.decoder = decoder
	r.state = stateOpening

	rec, outcome := m.advanceOnce(r, fv)
	switch outcome {
	case advanceFound:
		rec.Position = record.Start
		r.pending = rec
		r.state = stateActive

	case advanceCorrupted:
		rec.Position = record.Start
		r.pending = rec
		r.done = true
		r.state = stateClosed
		m.closeDecoder(r)
		metrics.ReaderDumpStatusTotal.WithLabelValues(record.CorruptedRecord.String()).Inc()

	case advanceEOF:
		m.closeDecoder(r)
		r.done = true
		r.state = stateClosed
		if r.sawAnyEntry {
			r.pending = m.statusRecord(r.meta, record.FilteredSource)
			metrics.ReaderDumpStatusTotal.WithLabelValues(record.FilteredSource.String()).Inc()
		} else {
			r.pending = m.statusRecord(r.meta, record.EmptySource)
			metrics.ReaderDumpStatusTotal.WithLabelValues(record.EmptySource.String()).Inc()
		}
	}
}

// refill buffers the Reader's next record one step ahead. just emitted is
// the record about to be returned to the caller this call; if no successor
// exists, its position is retroactively rewritten to End here, just before
// it is copied out by NextRecord.
func (m *Manager) refill(r *Reader, fv filter.View, justEmitted *record.Record) {
	rec, outcome := m.advanceOnce(r, fv)
	switch outcome {
	case advanceFound:
		rec.Position = record.Middle
		r.pending = rec

	case advanceCorrupted:
		rec.Position = record.Middle
		r.pending = rec
		r.done = true
		r.state = stateDraining
		m.closeDecoder(r)
		metrics.ReaderDumpStatusTotal.WithLabelValues(record.CorruptedRecord.String()).Inc()

	case advanceEOF:
		justEmitted.Position = record.End
		r.done = true
		r.state = stateClosed
		m.closeDecoder(r)
	}
}

// advanceOnce pulls entries from the decoder until one matches fv, EOF is
// reached, or a decode error is hit. Filter misses are consumed silently.
func (m *Manager) advanceOnce(r *Reader, fv filter.View) (*record.Record, advanceOutcome) {
	for {
		entry, err := r.decoder.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, advanceEOF
			}
			var ce *mrt.CorruptedEntryError
			if !errors.As(err, &ce) {
				ce = &mrt.CorruptedEntryError{Err: err}
			}
			return &record.Record{
				Attributes: m.attrsFor(r.meta, r.lastRecordTime),
				Status:     record.CorruptedRecord,
			}, advanceCorrupted
		}

		r.sawAnyEntry = true
		rec := &record.Record{
			Attributes: m.attrsFor(r.meta, entry.Time),
			Status:     record.Valid,
			Entry:      entry,
		}
		if fv.MatchesRecord(rec) {
			r.lastRecordTime = entry.Time
			return rec, advanceFound
		}
	}
}

func (m *Manager) attrsFor(meta dumpmeta.Metadata, recordTime uint32) record.Attributes {
	return record.Attributes{
		Project:    meta.Project,
		Collector:  meta.Collector,
		DumpType:   meta.DumpType,
		DumpTime:   meta.DumpTime,
		RecordTime: recordTime,
	}
}

func (m *Manager) statusRecord(meta dumpmeta.Metadata, status record.Status) *record.Record {
	return &record.Record{
		Attributes: m.attrsFor(meta, meta.DumpTime),
		Status:     status,
	}
}

func (m *Manager) closeDecoder(r *Reader) {
	if r.decoder == nil {
		return
	}
	if err := r.decoder.Close(); err != nil {
		m.logger.Debug("reader: close failed", zap.String("uri", r.meta.URI), zap.Error(err))
	}
	r.decoder = nil
}

func ribKey(project, collector string) string {
	return project + "\x00" + collector
}

// Close releases every Reader still holding an open decoder and drains the
// heap. Safe to call on an already-empty Manager.
func (m *Manager) Close() {
	for m.heap.Len() > 0 {
		r := heap.Pop(&m.heap).(*Reader)
		m.closeDecoder(r)
	}
	metrics.ReaderMergeQueueDepth.Set(0)
}
