package survey

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Nemu-x/botlab/internal/domain"
)

func testFlow() domain.Flow {
	return domain.Flow{ID: 3, Name: "onboarding", Steps: []domain.Step{
		{ID: 1, FlowID: 3, OrderIndex: 1, Question: "Name?"},
		{ID: 2, FlowID: 3, OrderIndex: 2, Question: "Age?"},
	}}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Get(ctx, 10); !errors.Is(err, ErrNoState) {
		t.Fatalf("expected ErrNoState, got %v", err)
	}

	st := New(10, testFlow())
	st.Record(1, "Ann")
	if err := store.Set(ctx, st); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := store.Get(ctx, 10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FlowID != 3 || got.Answers["step_1"] != "Ann" {
		t.Fatalf("unexpected state %+v", got)
	}

	if err := store.Delete(ctx, 10); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, 10); !errors.Is(err, ErrNoState) {
		t.Fatalf("expected ErrNoState after delete, got %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	st := New(5, testFlow())
	if err := store.Set(ctx, st); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, _ := store.Get(ctx, 5)
	got.CurrentStepIndex = 1
	got.Record(2, "mutated")

	again, _ := store.Get(ctx, 5)
	if again.CurrentStepIndex != 0 || len(again.Answers) != 0 {
		t.Fatalf("stored state was mutated through a copy: %+v", again)
	}
}

func TestStateCurrentStep(t *testing.T) {
	st := New(1, testFlow())
	step, ok := st.CurrentStep()
	if !ok || step.ID != 1 {
		t.Fatalf("expected step 1, got %+v", step)
	}
	st.CurrentStepIndex = 5
	if _, ok := st.CurrentStep(); ok {
		t.Fatal("out of range index must not resolve a step")
	}
}

func TestLockerSerialisesPerClient(t *testing.T) {
	l := NewLocker()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(7)
			defer unlock()
			v := counter
			v++
			counter = v
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
	if n := l.size(); n != 0 {
		t.Fatalf("locker kept %d entries after release", n)
	}
}
