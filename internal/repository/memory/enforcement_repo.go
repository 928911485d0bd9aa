package memory

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/repository"
)

var errUnknownUser = errors.New("unknown user")

type EnforcementRepo struct {
	s *state
}

func (r *EnforcementRepo) GetState(_ context.Context, userID uuid.UUID) (*domain.EnforcementState, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[userID]
	if !ok {
		return nil, nil
	}
	return &cloneUser(u).Enforcement, nil
}

func (r *EnforcementRepo) ApplyViolation(
	_ context.Context, event *domain.ViolationEvent, escalate repository.EscalateFunc,
) (*repository.ViolationResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[event.UserID]
	if !ok {
		return nil, errUnknownUser
	}

	keys := r.s.seenKeys[event.UserID]
	if keys == nil {
		keys = make(map[string]bool)
		r.s.seenKeys[event.UserID] = keys
	}
	if keys[event.MessageKey] {
		return &repository.ViolationResult{State: cloneUser(u).Enforcement, Action: domain.ActionNone}, nil
	}
	keys[event.MessageKey] = true

	ev := *event
	ev.Kinds = slices.Clone(event.Kinds)
	r.s.violations[event.UserID] = append(r.s.violations[event.UserID], ev)

	u.Enforcement.ViolationCount++
	sanction := escalate(u.Enforcement.ViolationCount)
	switch sanction.Action {
	case domain.ActionWarning:
		u.Enforcement.WarningCount++
	case domain.ActionTimedRestriction, domain.ActionIndefiniteRestriction:
		u.Enforcement.MessagingRestricted = true
		u.Enforcement.RestrictedUntil = sanction.RestrictedUntil
	}
	u.UpdatedAt = time.Now()

	return &repository.ViolationResult{
		State:    cloneUser(u).Enforcement,
		Action:   sanction.Action,
		Recorded: true,
	}, nil
}

func (r *EnforcementRepo) SetRestriction(
	_ context.Context, userID uuid.UUID, restricted bool, until *time.Time,
) (*domain.EnforcementState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[userID]
	if !ok {
		return nil, nil
	}
	u.Enforcement.MessagingRestricted = restricted
	u.Enforcement.RestrictedUntil = nil
	if restricted && until != nil {
		t := *until
		u.Enforcement.RestrictedUntil = &t
	}
	u.UpdatedAt = time.Now()
	return &cloneUser(u).Enforcement, nil
}

func (r *EnforcementRepo) LiftExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var lifted int64
	for _, u := range r.s.users {
		e := &u.Enforcement
		if e.MessagingRestricted && e.RestrictedUntil != nil && !e.RestrictedUntil.After(now) {
			e.MessagingRestricted = false
			e.RestrictedUntil = nil
			lifted++
		}
	}
	return lifted, nil
}

func (r *EnforcementRepo) ListViolations(_ context.Context, userID uuid.UUID, limit int) ([]domain.ViolationEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	events := r.s.violations[userID]
	out := make([]domain.ViolationEvent, 0, min(limit, len(events)))
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, events[i])
	}
	return out, nil
}
