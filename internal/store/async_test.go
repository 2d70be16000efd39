package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type blockingStore struct {
	*MemoryStore
	release chan struct{}
	calls   atomic.Int64
}

func (b *blockingStore) SetNextDeparture(ctx context.Context, aircraftID, routeID string, last, next time.Time) error {
	<-b.release
	b.calls.Add(1)
	return b.MemoryStore.SetNextDeparture(ctx, aircraftID, routeID, last, next)
}

type dropCounter struct {
	mu sync.Mutex
	n  int
}

func (d *dropCounter) IncStoreWriteDropped() {
	d.mu.Lock()
	d.n++
	d.mu.Unlock()
}

func TestAsyncWriterAppliesWrites(t *testing.T) {
	mem := NewMemoryStore()
	if err := mem.SaveAssignment(context.Background(), testAssignment()); err != nil {
		t.Fatalf("SaveAssignment: %v", err)
	}
	w := NewAsyncWriter(mem, 4, nil, nil)
	next := time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)
	w.SetNextDeparture("AC1", "JFK-LAX", next.Add(-time.Hour), next)
	w.Close()

	got, _ := mem.LoadAssignments(context.Background())
	if !got[0].Active || !got[0].NextEligible.Equal(next) || !got[0].LastDeparture.Equal(next.Add(-time.Hour)) {
		t.Fatalf("writes not applied: %+v", got[0])
	}
}

func TestAsyncWriterNeverBlocks(t *testing.T) {
	mem := NewMemoryStore()
	_ = mem.SaveAssignment(context.Background(), testAssignment())
	bs := &blockingStore{MemoryStore: mem, release: make(chan struct{})}
	drops := &dropCounter{}
	w := NewAsyncWriter(bs, 2, nil, drops)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			w.SetNextDeparture("AC1", "JFK-LAX", time.Time{}, time.Time{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("enqueue blocked on a stalled store")
	}

	close(bs.release)
	w.Close()

	drops.mu.Lock()
	dropped := drops.n
	drops.mu.Unlock()
	if dropped == 0 {
		t.Fatalf("expected drops with a full queue")
	}
	if int(bs.calls.Load())+dropped != 10 {
		t.Fatalf("applied %d + dropped %d != 10", bs.calls.Load(), dropped)
	}
}
