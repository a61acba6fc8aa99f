package dataflow_test

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/locvowork/appendsheet/pkg/dataflow"
)

func TestMapForEach(t *testing.T) {
	ctx := context.Background()

	source := dataflow.From(ctx, "a", "bb", "ccc")
	lengths := dataflow.Map(ctx, source, func(_ context.Context, s string) (int, error) {
		return len(s), nil
	}, dataflow.WithWorkers(2))

	var got []int
	err := dataflow.ForEach(ctx, lengths, func(_ context.Context, n int) error {
		got = append(got, n)
		return nil
	})
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	sort.Ints(got)
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("unexpected results %v", got)
	}
}

func TestMapDropsFailedItems(t *testing.T) {
	ctx := context.Background()
	var dropped int32

	source := dataflow.From(ctx, 1, 2, 3, 4)
	even := dataflow.Map(ctx, source, func(_ context.Context, n int) (int, error) {
		if n%2 != 0 {
			return 0, errors.New("odd")
		}
		return n, nil
	}, dataflow.WithErrorHandler(func(error) bool {
		atomic.AddInt32(&dropped, 1)
		return true
	}))

	sum := 0
	if err := dataflow.ForEach(ctx, even, func(_ context.Context, n int) error {
		sum += n
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if sum != 6 {
		t.Errorf("expected sum 6, got %d", sum)
	}
	if dropped != 2 {
		t.Errorf("expected 2 dropped items, got %d", dropped)
	}
}

func TestForEachStopsOnError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	var calls int32

	err := dataflow.ForEach(ctx, dataflow.From(ctx, 1, 2, 3), func(_ context.Context, n int) error {
		atomic.AddInt32(&calls, 1)
		if n == 1 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected the stage to stop after the failing item, got %d calls", calls)
	}
}

func TestForEachHandledErrors(t *testing.T) {
	ctx := context.Background()
	var calls int32
	err := dataflow.ForEach(ctx, dataflow.From(ctx, 1, 2, 3), func(_ context.Context, n int) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("ignored")
	}, dataflow.WithErrorHandler(func(error) bool { return true }))
	if err != nil {
		t.Fatalf("handled errors should not surface: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestForEachCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := dataflow.ForEach(ctx, dataflow.From(context.Background(), 1), func(context.Context, int) error {
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error %v", err)
	}
}
