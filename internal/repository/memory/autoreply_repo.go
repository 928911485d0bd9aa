package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/repository"
)

type AutoReplyRepo struct {
	s *state
}

func (r *AutoReplyRepo) Create(_ context.Context, tpl *domain.AutoReplyTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.conflicts(tpl) {
		return repository.ErrDuplicate
	}
	c := *tpl
	r.s.templates[tpl.ID] = &c
	return nil
}

// conflicts expects the lock to be held.
func (r *AutoReplyRepo) conflicts(tpl *domain.AutoReplyTemplate) bool {
	for _, t := range r.s.templates {
		if t.ID != tpl.ID && t.SellerID == tpl.SellerID && t.TriggerKey == tpl.TriggerKey {
			return true
		}
	}
	return false
}

func (r *AutoReplyRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.AutoReplyTemplate, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if t, ok := r.s.templates[id]; ok {
		c := *t
		return &c, nil
	}
	return nil, nil
}

func (r *AutoReplyRepo) Update(_ context.Context, tpl *domain.AutoReplyTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.templates[tpl.ID]
	if !ok {
		return nil
	}
	if r.conflicts(tpl) {
		return repository.ErrDuplicate
	}
	existing.TriggerKey = tpl.TriggerKey
	existing.Body = tpl.Body
	existing.Enabled = tpl.Enabled
	existing.ReviewedByAdmin = tpl.ReviewedByAdmin
	existing.DelaySeconds = tpl.DelaySeconds
	existing.UpdatedAt = tpl.UpdatedAt
	return nil
}

func (r *AutoReplyRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	delete(r.s.templates, id)
	return nil
}

func (r *AutoReplyRepo) ListBySeller(_ context.Context, sellerID uuid.UUID) ([]domain.AutoReplyTemplate, error) {
	return r.filter(func(t *domain.AutoReplyTemplate) bool { return t.SellerID == sellerID }), nil
}

func (r *AutoReplyRepo) ListPending(_ context.Context) ([]domain.AutoReplyTemplate, error) {
	return r.filter(func(t *domain.AutoReplyTemplate) bool { return !t.ReviewedByAdmin }), nil
}

func (r *AutoReplyRepo) FindBySellerTrigger(_ context.Context, sellerID uuid.UUID, triggerKey string) (*domain.AutoReplyTemplate, error) {
	found := r.filter(func(t *domain.AutoReplyTemplate) bool {
		return t.SellerID == sellerID && t.TriggerKey == triggerKey
	})
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (r *AutoReplyRepo) filter(match func(*domain.AutoReplyTemplate) bool) []domain.AutoReplyTemplate {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.AutoReplyTemplate
	for _, t := range r.s.templates {
		if match(t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *AutoReplyRepo) SetReviewed(_ context.Context, id uuid.UUID, reviewed bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if t, ok := r.s.templates[id]; ok {
		t.ReviewedByAdmin = reviewed
	}
	return nil
}

func (r *AutoReplyRepo) IncrementUsage(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if t, ok := r.s.templates[id]; ok {
		t.UsageCount++
	}
	return nil
}
