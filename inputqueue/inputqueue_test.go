package inputqueue

import (
	"sync"
	"testing"

	"github.com/bgpstream-go/bgpstream/dumpmeta"
)

func TestQueue_FIFOOrder(t *testing.T) {
	q := New()
	if !q.IsEmpty() {
		t.Fatal("expected new queue to be empty")
	}
	q.Enqueue(
		dumpmeta.Metadata{Collector: "rrc00"},
		dumpmeta.Metadata{Collector: "rrc01"},
	)
	q.Enqueue(dumpmeta.Metadata{Collector: "rrc02"})

	if q.IsEmpty() {
		t.Fatal("expected queue to be non-empty after enqueue")
	}
	if got := q.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	batch := q.TakeBatch()
	want := []string{"rrc00", "rrc01", "rrc02"}
	if len(batch) != len(want) {
		t.Fatalf("TakeBatch() returned %d items, want %d", len(batch), len(want))
	}
	for i, w := range want {
		if batch[i].Collector != w {
			t.Errorf("item %d: got %q, want %q", i, batch[i].Collector, w)
		}
	}
	if !q.IsEmpty() {
		t.Fatal("expected queue to be empty after TakeBatch")
	}
	if got := q.TakeBatch(); got != nil {
		t.Errorf("expected nil from TakeBatch on an empty queue, got %v", got)
	}
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	q := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			q.Enqueue(dumpmeta.Metadata{DumpTime: uint32(n)})
		}(i)
	}
	wg.Wait()
	if got := q.Len(); got != 50 {
		t.Fatalf("Len() = %d, want 50", got)
	}
}
