package enforcement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/metrics"
	"github.com/vedran77/bazaar/internal/repository"
	"go.uber.org/zap"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrNoViolationKinds = errors.New("violation requires at least one kind")
	ErrMissingKey       = errors.New("violation requires a message key")
)

// ReasonUnavailable is returned when the enforcement state could not be read.
const ReasonUnavailable = "enforcement_unavailable"

type Decision struct {
	Allowed bool
	Reason  string
}

// ViolationContext identifies the rejected message. MessageKey makes
// recording idempotent: the same key for the same user counts once.
type ViolationContext struct {
	ConversationID uuid.UUID
	MessageKey     string
	Text           string
}

type Outcome struct {
	State    domain.EnforcementState
	Action   domain.EnforcementAction
	Message  string
	Recorded bool
}

type Ledger struct {
	repo   repository.EnforcementRepository
	policy Policy
	logger *zap.Logger
}

func NewLedger(repo repository.EnforcementRepository, policy Policy, logger *zap.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		policy: policy,
		logger: logger.Named("enforcement"),
	}
}

// CanSend fails closed: a missing user or a store error denies.
func (l *Ledger) CanSend(ctx context.Context, userID uuid.UUID) Decision {
	state, err := l.repo.GetState(ctx, userID)
	if err != nil {
		l.logger.Error("Failed to load enforcement state",
			zap.Stringer("userID", userID),
			zap.Error(err))
		return Decision{Reason: ReasonUnavailable}
	}
	if state == nil {
		return Decision{Reason: ReasonUnavailable}
	}

	if !state.RestrictedAt(l.policy.now()) {
		return Decision{Allowed: true}
	}
	if state.RestrictedUntil != nil {
		return Decision{Reason: fmt.Sprintf("Messaging is restricted until %s",
			state.RestrictedUntil.UTC().Format(time.RFC3339))}
	}
	return Decision{Reason: "Messaging is restricted due to repeated policy violations"}
}

func (l *Ledger) RecordViolation(
	ctx context.Context, userID uuid.UUID, kinds []domain.ViolationKind, vc ViolationContext,
) (*Outcome, error) {
	if len(kinds) == 0 {
		return nil, ErrNoViolationKinds
	}
	if vc.MessageKey == "" {
		return nil, ErrMissingKey
	}

	event := &domain.ViolationEvent{
		ID:             uuid.New(),
		UserID:         userID,
		Kinds:          kinds,
		ConversationID: vc.ConversationID,
		MessageKey:     vc.MessageKey,
		Text:           vc.Text,
		CreatedAt:      l.policy.now(),
	}

	res, err := l.repo.ApplyViolation(ctx, event, l.policy.Escalate)
	if err != nil {
		return nil, fmt.Errorf("recording violation: %w", err)
	}

	out := &Outcome{
		State:    res.State,
		Action:   res.Action,
		Recorded: res.Recorded,
		Message:  ActionMessage(res.Action, res.State),
	}
	if !res.Recorded {
		l.logger.Debug("Duplicate violation ignored",
			zap.Stringer("userID", userID),
			zap.String("messageKey", vc.MessageKey))
		return out, nil
	}

	metrics.EnforcementActions.WithLabelValues(string(res.Action)).Inc()
	l.logger.Info("Violation recorded",
		zap.Stringer("userID", userID),
		zap.Int("violationCount", res.State.ViolationCount),
		zap.String("action", string(res.Action)))
	return out, nil
}

// Restrict applies an admin restriction. A zero duration is indefinite.
func (l *Ledger) Restrict(ctx context.Context, userID uuid.UUID, duration time.Duration) (*domain.EnforcementState, error) {
	var until *time.Time
	if duration > 0 {
		t := l.policy.now().Add(duration)
		until = &t
	}
	return l.setRestriction(ctx, userID, true, until)
}

// Unrestrict clears any restriction but keeps the counters.
func (l *Ledger) Unrestrict(ctx context.Context, userID uuid.UUID) (*domain.EnforcementState, error) {
	return l.setRestriction(ctx, userID, false, nil)
}

func (l *Ledger) setRestriction(ctx context.Context, userID uuid.UUID, restricted bool, until *time.Time) (*domain.EnforcementState, error) {
	state, err := l.repo.SetRestriction(ctx, userID, restricted, until)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrUserNotFound
	}
	l.logger.Info("Restriction updated",
		zap.Stringer("userID", userID),
		zap.Bool("restricted", restricted))
	return state, nil
}

func (l *Ledger) State(ctx context.Context, userID uuid.UUID) (*domain.EnforcementState, error) {
	state, err := l.repo.GetState(ctx, userID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrUserNotFound
	}
	return state, nil
}

func (l *Ledger) Violations(ctx context.Context, userID uuid.UUID, limit int) ([]domain.ViolationEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return l.repo.ListViolations(ctx, userID, limit)
}

// LiftExpired clears timed restrictions that have run out.
func (l *Ledger) LiftExpired(ctx context.Context) (int64, error) {
	n, err := l.repo.LiftExpired(ctx, l.policy.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.RestrictionsLifted.Add(float64(n))
		l.logger.Info("Lifted expired restrictions", zap.Int64("count", n))
	}
	return n, nil
}
