package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/scanhive/mula/internal/model"
)

func boefjeItem(boefjeID, ooiKey, org string, priority int) *model.PrioritizedItem {
	task := model.BoefjeTask{
		Boefje:   model.Plugin{ID: boefjeID},
		InputOOI: model.OOI{PrimaryKey: ooiKey},
		Org:      org,
	}
	return &model.PrioritizedItem{
		Priority: priority,
		Data:     model.TaskPayload{Kind: model.PayloadBoefje, Boefje: &task},
	}
}

func TestPushPopOrdering(t *testing.T) {
	q := NewMemoryQueue("sched-1", model.PayloadBoefje, 0, PushPolicy{}, nil)

	if _, err := q.Push(boefjeItem("b1", "ooi-1", "org1", 5)); err != nil {
		t.Fatalf("push 1: %v", err)
	}
	if _, err := q.Push(boefjeItem("b2", "ooi-2", "org1", 1)); err != nil {
		t.Fatalf("push 2: %v", err)
	}
	if _, err := q.Push(boefjeItem("b3", "ooi-3", "org1", 3)); err != nil {
		t.Fatalf("push 3: %v", err)
	}

	first, err := q.Pop()
	if err != nil {
		t.Fatalf("pop 1: %v", err)
	}
	if first.Priority != 1 {
		t.Fatalf("expected priority 1 first, got %d", first.Priority)
	}

	second, _ := q.Pop()
	if second.Priority != 3 {
		t.Fatalf("expected priority 3 second, got %d", second.Priority)
	}
}

func TestPopOrderingTiesByCreatedAt(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := base
	clock := func() time.Time {
		t := tick
		tick = tick.Add(time.Second)
		return t
	}

	q := NewMemoryQueue("sched-1", model.PayloadBoefje, 0, PushPolicy{}, clock)

	q.Push(boefjeItem("b1", "ooi-1", "org1", 1))
	q.Push(boefjeItem("b2", "ooi-2", "org1", 1))

	first, _ := q.Pop()
	if first.Data.Boefje.Boefje.ID != "b1" {
		t.Fatalf("expected earliest created item (b1) first, got %s", first.Data.Boefje.Boefje.ID)
	}
}

func TestPopEmptyReturnsQueueEmpty(t *testing.T) {
	q := NewMemoryQueue("sched-1", model.PayloadBoefje, 0, PushPolicy{}, nil)
	_, err := q.Pop()
	if !errors.Is(err, model.ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestPushFullReturnsQueueFull(t *testing.T) {
	q := NewMemoryQueue("sched-1", model.PayloadBoefje, 1, PushPolicy{}, nil)
	if _, err := q.Push(boefjeItem("b1", "ooi-1", "org1", 1)); err != nil {
		t.Fatalf("push 1: %v", err)
	}
	_, err := q.Push(boefjeItem("b2", "ooi-2", "org1", 1))
	if !errors.Is(err, model.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestPushDuplicateHashRejectedWithoutPolicy(t *testing.T) {
	q := NewMemoryQueue("sched-1", model.PayloadBoefje, 0, PushPolicy{}, nil)
	q.Push(boefjeItem("b1", "ooi-1", "org1", 5))

	_, err := q.Push(boefjeItem("b1", "ooi-1", "org1", 1))
	if !errors.Is(err, model.ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
	if q.QSize() != 1 {
		t.Fatalf("expected queue size unchanged at 1, got %d", q.QSize())
	}
}

func TestPushDuplicateHashAllowReplace(t *testing.T) {
	q := NewMemoryQueue("sched-1", model.PayloadBoefje, 0, PushPolicy{AllowReplace: true}, nil)
	q.Push(boefjeItem("b1", "ooi-1", "org1", 5))

	updated, err := q.Push(boefjeItem("b1", "ooi-1", "org1", 1))
	if err != nil {
		t.Fatalf("replace push: %v", err)
	}
	if updated.Priority != 1 {
		t.Fatalf("expected replaced priority 1, got %d", updated.Priority)
	}
	if q.QSize() != 1 {
		t.Fatalf("expected one item after replace, got %d", q.QSize())
	}
}

func TestPushAllowPriorityUpdatesOnlyAppliesOnPriorityChange(t *testing.T) {
	q := NewMemoryQueue("sched-1", model.PayloadBoefje, 0, PushPolicy{AllowPriorityUpdates: true}, nil)
	q.Push(boefjeItem("b1", "ooi-1", "org1", 5))

	updated, err := q.Push(boefjeItem("b1", "ooi-1", "org1", 9))
	if err != nil {
		t.Fatalf("priority update push: %v", err)
	}
	if updated.Priority != 9 {
		t.Fatalf("expected priority 9, got %d", updated.Priority)
	}
}

func TestPushRejectsWrongVariant(t *testing.T) {
	q := NewMemoryQueue("sched-1", model.PayloadNormalizer, 0, PushPolicy{}, nil)
	_, err := q.Push(boefjeItem("b1", "ooi-1", "org1", 1))
	if !errors.Is(err, model.ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	q := NewMemoryQueue("sched-1", model.PayloadBoefje, 0, PushPolicy{}, nil)
	item, _ := q.Push(boefjeItem("b1", "ooi-1", "org1", 1))

	if err := q.Remove(item.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !q.Empty() {
		t.Fatalf("expected queue empty after remove")
	}
	if err := q.Remove(item.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double remove, got %v", err)
	}
}
