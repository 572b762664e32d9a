package audit

import (
	"context"
	"errors"
	"testing"
)

func TestEmitter_StampsIDAndTimestamp(t *testing.T) {
	repo := NewMemoryRepo()
	em := NewEmitter(repo, nil)

	em.Emit(context.Background(), Event{
		Action:    ActionLoginSuccess,
		Actor:     "user-1",
		IPAddress: "1.2.3.4",
	})

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and created_at stamped: %+v", evs[0])
	}
	if evs[0].IPAddress != "1.2.3.4" {
		t.Fatalf("expected ip captured")
	}
}

func TestEmitter_DefaultsActorToSystem(t *testing.T) {
	repo := NewMemoryRepo()
	em := NewEmitter(repo, nil)

	em.Emit(context.Background(), Event{Action: ActionLoginFailure, Reason: "user not found"})

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].Actor != ActorSystem {
		t.Fatalf("expected system actor, got %q", evs[0].Actor)
	}
}

type failingRepo struct{}

func (failingRepo) Append(ctx context.Context, e Event) error {
	return errors.New("sink unavailable")
}

func TestEmitter_DeliveryFailureDoesNotPropagate(t *testing.T) {
	em := NewEmitter(failingRepo{}, nil)

	// Must not panic or surface the error.
	em.Emit(context.Background(), Event{Action: ActionLogout, Actor: "u"})
}

func TestEmitter_DeliverySurvivesCancelledRequest(t *testing.T) {
	repo := NewMemoryRepo()
	em := NewEmitter(repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	em.Emit(ctx, Event{Action: ActionLoginSuccess, Actor: "u"})
	if len(repo.Events()) != 1 {
		t.Fatalf("expected delivery despite cancelled request context")
	}
}

func TestEmitter_RejectsMissingAction(t *testing.T) {
	repo := NewMemoryRepo()
	em := NewEmitter(repo, nil)

	em.Emit(context.Background(), Event{Actor: "u"})
	if len(repo.Events()) != 0 {
		t.Fatalf("expected event without action to be dropped")
	}
}
