package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

const defaultDeliveryTimeout = 2 * time.Second

// Emitter records security events.
//
// Delivery semantics: Append runs synchronously with its own timeout, but the
// outcome is fire-and-forget from the caller's perspective. Emit never
// returns an error; failures are logged for operators. The delivery context
// is detached from the request context so cancelling a request after its
// security action committed cannot suppress the audit trail.
type Emitter struct {
	repo    Repository
	log     *slog.Logger
	timeout time.Duration
	clock   func() time.Time
}

func NewEmitter(repo Repository, log *slog.Logger) *Emitter {
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{
		repo:    repo,
		log:     log,
		timeout: defaultDeliveryTimeout,
		clock:   time.Now,
	}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

// Emit validates, stamps and appends the event. Best-effort: never fails the
// caller.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if err := e.append(ctx, ev); err != nil {
		e.log.Error("audit event delivery failed", "action", ev.Action, "actor", ev.Actor, "err", err)
	}
}

func (e *Emitter) append(ctx context.Context, ev Event) error {
	if e.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if ev.Action == "" {
		return ErrInvalidEvent
	}
	if ev.Actor == "" {
		ev.Actor = ActorSystem
	}

	now := e.clock().UTC()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}

	deliveryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	return e.repo.Append(deliveryCtx, ev)
}
