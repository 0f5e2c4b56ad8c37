package queue

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueue_PostLifecycle(t *testing.T) {
	q := New(func(int) {})

	if err := q.Post(1); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("post before open: got %v, want ErrNotOpen", err)
	}
	if !errors.Is(ErrNotOpen, ErrQueueClosed) || !errors.Is(ErrClosed, ErrQueueClosed) {
		t.Fatal("lifecycle errors should wrap ErrQueueClosed")
	}

	if err := q.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := q.Open(); err != nil {
		t.Fatalf("second open should be a no-op, got %v", err)
	}
	if err := q.Post(1); err != nil {
		t.Fatalf("post while open: %v", err)
	}

	q.Close()
	q.Close()

	if err := q.Post(2); !errors.Is(err, ErrClosed) {
		t.Fatalf("post after close: got %v, want ErrClosed", err)
	}
	if err := q.Open(); !errors.Is(err, ErrClosed) {
		t.Fatalf("reopen: got %v, want ErrClosed", err)
	}
}

func TestQueue_CloseWithoutOpen(t *testing.T) {
	q := New(func(int) {})
	done := make(chan struct{})
	go func() {
		q.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close on an unopened queue blocked")
	}
}

func TestQueue_CloseDrains(t *testing.T) {
	var handled atomic.Int64
	q := New(func(int) {
		time.Sleep(time.Millisecond)
		handled.Add(1)
	})
	if err := q.Open(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		if err := q.Post(i); err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
	}
	q.Close()

	if got := handled.Load(); got != 50 {
		t.Errorf("handled %d items before Close returned, want 50", got)
	}
	if q.Len() != 0 {
		t.Errorf("queue not drained: %d left", q.Len())
	}
}

type stamped struct {
	producer int
	seq      uint64
}

// Each producer stamps its item with a global sequence taken while it holds
// a lock that also covers Post, so stamp order equals Post completion order.
func TestQueue_MultiProducerFIFO(t *testing.T) {
	const producers = 8
	const perProducer = 500

	var got []stamped
	var inHandler atomic.Int32
	q := New(func(s stamped) {
		if inHandler.Add(1) != 1 {
			t.Error("handler invoked concurrently")
		}
		got = append(got, s)
		inHandler.Add(-1)
	})
	if err := q.Open(); err != nil {
		t.Fatal(err)
	}

	var (
		stampMu sync.Mutex
		next    uint64
		wg      sync.WaitGroup
	)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(p)))
			for i := 0; i < perProducer; i++ {
				if r.Intn(4) == 0 {
					time.Sleep(time.Duration(r.Intn(50)) * time.Microsecond)
				}
				stampMu.Lock()
				next++
				err := q.Post(stamped{producer: p, seq: next})
				stampMu.Unlock()
				if err != nil {
					t.Errorf("post: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()
	q.Close()

	if len(got) != producers*perProducer {
		t.Fatalf("handled %d items, want %d", len(got), producers*perProducer)
	}
	for i := 1; i < len(got); i++ {
		if got[i].seq != got[i-1].seq+1 {
			t.Fatalf("out of order at %d: seq %d after %d", i, got[i].seq, got[i-1].seq)
		}
	}
}

func TestQueue_PostFromHandler(t *testing.T) {
	var q *Queue[int]
	var seen []int
	finished := make(chan struct{})
	q = New(func(v int) {
		seen = append(seen, v)
		if v < 3 {
			if err := q.Post(v + 1); err != nil {
				t.Errorf("post from handler: %v", err)
			}
			return
		}
		close(finished)
	})
	if err := q.Open(); err != nil {
		t.Fatal(err)
	}
	if err := q.Post(0); err != nil {
		t.Fatal(err)
	}

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("handler chain did not finish")
	}
	q.Close()

	want := []int{0, 1, 2, 3}
	if len(seen) != len(want) {
		t.Fatalf("seen %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %d, want %d", i, seen[i], want[i])
		}
	}
}
