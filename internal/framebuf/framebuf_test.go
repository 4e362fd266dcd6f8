package framebuf

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type testFrame struct {
	Index     int
	Positions []float64
}

func TestSwap_NoOpWhileReaderHasFrames(t *testing.T) {
	b := New[int](4)
	b.Write(1)
	if !b.Swap() {
		t.Fatal("expected first swap to succeed with an empty reader queue")
	}
	b.Write(2)
	if b.Swap() {
		t.Error("expected swap to be refused while the reader queue holds a frame")
	}

	ctx := context.Background()
	if v, ok := b.Read(ctx); !ok || v != 1 {
		t.Fatalf("expected 1, got %d (ok=%v)", v, ok)
	}
	if !b.Swap() {
		t.Error("expected swap to succeed once the reader drained its queue")
	}
	if v, ok := b.Read(ctx); !ok || v != 2 {
		t.Fatalf("expected 2, got %d (ok=%v)", v, ok)
	}
}

func TestRead_DrainsAfterEnd(t *testing.T) {
	b := New[int](4)
	for i := 0; i < 3; i++ {
		b.Write(i)
	}
	// No swap: the frames sit in the producer's queue.
	b.End()

	var got []int
	for {
		v, ok := b.Read(context.Background())
		if !ok {
			break
		}
		got = append(got, v)
	}
	if diff := cmp.Diff([]int{0, 1, 2}, got); diff != "" {
		t.Errorf("drained frames (-want +got):\n%s", diff)
	}
}

func TestRead_EmptyAfterEnd(t *testing.T) {
	b := New[int](1)
	b.End()
	if _, ok := b.Read(context.Background()); ok {
		t.Error("expected no frame from an empty ended buffer")
	}
}

func TestRead_ContextCancelUnblocks(t *testing.T) {
	b := New[int](1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool)
	go func() {
		_, ok := b.Read(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected cancelled read to report no frame")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read did not return after context cancel")
	}
}

func TestEndThenSwapWakesBlockedReader(t *testing.T) {
	b := New[int](1)
	done := make(chan bool)
	go func() {
		_, ok := b.Read(context.Background())
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	b.End()
	b.Swap()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected end of stream")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader was not woken by the swap after End")
	}
}

// A producer writing ten frames with variable delays must be read back
// exactly once each, in order.
func TestConcurrentOrderingAndCompleteness(t *testing.T) {
	for _, n := range []int{10, 500} {
		b := New[testFrame](8)
		rng := rand.New(rand.NewPCG(uint64(n), 42))
		delays := make([]time.Duration, n)
		for i := range delays {
			delays[i] = time.Duration(rng.IntN(300)) * time.Microsecond
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				b.Write(testFrame{Index: i, Positions: []float64{float64(i), float64(i) * 2}})
				b.Swap()
				time.Sleep(delays[i])
			}
			b.End()
			b.Swap()
		}()

		var got []testFrame
		for {
			f, ok := b.Read(context.Background())
			if !ok {
				break
			}
			got = append(got, f)
			if len(got)%3 == 0 {
				time.Sleep(delays[len(got)-1] / 2)
			}
		}
		wg.Wait()

		if len(got) != n {
			t.Fatalf("expected %d frames, got %d", n, len(got))
		}
		for i, f := range got {
			want := testFrame{Index: i, Positions: []float64{float64(i), float64(i) * 2}}
			if diff := cmp.Diff(want, f); diff != "" {
				t.Fatalf("frame %d mismatch (-want +got):\n%s", i, diff)
			}
		}

		st := b.Stats()
		if st.Written != uint64(n) || st.Read != uint64(n) || st.Pending != 0 {
			t.Errorf("unexpected stats %+v", st)
		}
	}
}
