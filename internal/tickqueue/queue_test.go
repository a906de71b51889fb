package tickqueue

import (
	"errors"
	"testing"
)

func TestQueueFIFOAndWrap(t *testing.T) {
	q := New(3)
	for seq := uint64(1); seq <= 3; seq++ {
		if !q.Push(Tick{Seq: seq}) {
			t.Fatalf("push %d refused", seq)
		}
	}
	if !q.Full() {
		t.Fatalf("expected queue to be full")
	}
	if q.Push(Tick{Seq: 4}) {
		t.Fatalf("expected push on full queue to be refused")
	}
	if q.Len() != 3 {
		t.Fatalf("count changed on refused push: %d", q.Len())
	}

	first, ok := q.Pop()
	if !ok || first.Seq != 1 {
		t.Fatalf("unexpected pop %+v %v", first, ok)
	}
	if !q.Push(Tick{Seq: 4}) {
		t.Fatalf("expected push after pop to succeed")
	}

	var order []uint64
	_ = q.Each(func(tick Tick) error {
		order = append(order, tick.Seq)
		return nil
	})
	want := []uint64{2, 3, 4}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected order %v", order)
		}
	}

	for _, seq := range want {
		tick, ok := q.Pop()
		if !ok || tick.Seq != seq {
			t.Fatalf("expected seq %d, got %+v", seq, tick)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestQueueEachStopsOnError(t *testing.T) {
	q := New(4)
	q.Push(Tick{Seq: 1})
	q.Push(Tick{Seq: 2})
	stop := errors.New("stop")
	visited := 0
	if err := q.Each(func(Tick) error {
		visited++
		return stop
	}); !errors.Is(err, stop) {
		t.Fatalf("expected stop error, got %v", err)
	}
	if visited != 1 {
		t.Fatalf("expected one visit, got %d", visited)
	}
}

func TestQueueClear(t *testing.T) {
	q := New(0)
	if q.Cap() != DefaultCapacity {
		t.Fatalf("expected default capacity, got %d", q.Cap())
	}
	q.Push(Tick{Seq: 1, Data: []byte{1}})
	q.Clear()
	if q.Len() != 0 || q.Full() {
		t.Fatalf("expected cleared queue")
	}
	if !q.Push(Tick{Seq: 2}) {
		t.Fatalf("expected push after clear")
	}
}
