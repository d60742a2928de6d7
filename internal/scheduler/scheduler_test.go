package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scanhive/mula/internal/model"
	"github.com/scanhive/mula/internal/queue"
)

func newTestBase(enabled bool) *Base {
	q := queue.NewMemoryQueue("sched-1", model.PayloadBoefje, 0, queue.PushPolicy{}, nil)
	info := model.SchedulerInfo{ID: "sched-1", Kind: model.SchedulerBoefje, Organisation: "org1", PopulateEnabled: enabled}
	return NewBase(info, q, enabled)
}

func TestPopulateLoopRunsWhileEnabled(t *testing.T) {
	b := newTestBase(true)
	var calls int32

	b.Start(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	time.Sleep(35 * time.Millisecond)
	b.Stop(time.Second)

	if atomic.LoadInt32(&calls) < 2 {
		t.Fatalf("expected at least 2 populate calls, got %d", calls)
	}
}

func TestPopulateLoopSkipsWhileDisabled(t *testing.T) {
	b := newTestBase(false)
	var calls int32

	b.Start(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	time.Sleep(35 * time.Millisecond)
	b.Stop(time.Second)

	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected no populate calls while disabled, got %d", calls)
	}
}

func TestSetEnabledTakesEffectNextIteration(t *testing.T) {
	b := newTestBase(false)
	var calls int32

	b.Start(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	time.Sleep(15 * time.Millisecond)
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected no calls before enabling")
	}

	b.SetEnabled(true)
	time.Sleep(35 * time.Millisecond)
	b.Stop(time.Second)

	if atomic.LoadInt32(&calls) == 0 {
		t.Fatalf("expected calls after enabling")
	}
}
