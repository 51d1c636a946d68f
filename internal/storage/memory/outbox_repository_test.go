package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

func TestOutboxRepository_EnqueueAndClaim(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	saved, err := repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-1",
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(`{"status":"pending"}`),
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if saved.ID == "" || saved.CreatedAt.IsZero() {
		t.Fatalf("expected generated id and created_at, got %+v", saved)
	}

	claimed, err := repo.ClaimDue(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != saved.ID {
		t.Fatalf("expected the enqueued event, got %+v", claimed)
	}

	again, err := repo.ClaimDue(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("claimed event must be leased, got %d", len(again))
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 1 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestOutboxRepository_RetryAndDead(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := NewOutboxRepository(WithOutboxClock(func() time.Time { return now }))

	saved, err := repo.Enqueue(ctx, domain.OutboxMessage{AggregateType: domain.AggregateOrder, AggregateID: "order-2"})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if err := repo.MarkRetry(ctx, saved.ID, "timeout", now.Add(time.Minute)); err != nil {
		t.Fatalf("mark retry failed: %v", err)
	}
	if claimed, _ := repo.ClaimDue(ctx, 10, time.Second); len(claimed) != 0 {
		t.Fatal("event must wait for its retry time")
	}

	now = now.Add(time.Minute)
	claimed, _ := repo.ClaimDue(ctx, 10, time.Second)
	if len(claimed) != 1 || claimed[0].Attempts != 1 || claimed[0].LastError != "timeout" {
		t.Fatalf("expected retried event with one attempt, got %+v", claimed)
	}

	if err := repo.MarkDead(ctx, saved.ID, "still down"); err != nil {
		t.Fatalf("mark dead failed: %v", err)
	}
	if len(repo.AllPending()) != 0 {
		t.Fatal("dead event must leave the pending set")
	}
	stats, _ := repo.Stats(ctx)
	if stats.DeadCount != 1 || stats.PendingCount != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if err := repo.MarkSent(ctx, "missing"); !errors.Is(err, domain.ErrOutboxMessageNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
