package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/repository"
)

var (
	ErrTemplateNotFound = errors.New("auto-reply template not found")
	ErrTemplateExists   = errors.New("a template for this trigger already exists")
	ErrNotTemplateOwner = errors.New("only the owning seller can change this template")
	ErrSellersOnly      = errors.New("only sellers can manage auto-reply templates")
	ErrUnknownTrigger   = errors.New("unknown trigger key")
)

const maxDelaySeconds = 300

// TriggerValidator reports whether a trigger key is configured.
type TriggerValidator interface {
	ValidKey(key string) bool
}

type AutoReplyService struct {
	repo     repository.AutoReplyRepository
	userRepo repository.UserRepository
	triggers TriggerValidator
}

func NewAutoReplyService(store *repository.Store, triggers TriggerValidator) *AutoReplyService {
	return &AutoReplyService{
		repo:     store.AutoReplies,
		userRepo: store.Users,
		triggers: triggers,
	}
}

type CreateTemplateInput struct {
	TriggerKey   string `json:"trigger_key"`
	Body         string `json:"body"`
	Enabled      *bool  `json:"enabled,omitempty"`
	DelaySeconds int    `json:"delay_seconds"`
}

type UpdateTemplateInput struct {
	TriggerKey   *string `json:"trigger_key,omitempty"`
	Body         *string `json:"body,omitempty"`
	Enabled      *bool   `json:"enabled,omitempty"`
	DelaySeconds *int    `json:"delay_seconds,omitempty"`
}

// Create stores a new template awaiting admin review.
func (s *AutoReplyService) Create(ctx context.Context, sellerID uuid.UUID, input CreateTemplateInput) (*domain.AutoReplyTemplate, error) {
	if err := s.requireSeller(ctx, sellerID); err != nil {
		return nil, err
	}
	if !s.triggers.ValidKey(input.TriggerKey) {
		return nil, ErrUnknownTrigger
	}

	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}

	now := time.Now()
	tpl := &domain.AutoReplyTemplate{
		ID:           uuid.New(),
		SellerID:     sellerID,
		TriggerKey:   input.TriggerKey,
		Body:         strings.TrimSpace(input.Body),
		Enabled:      enabled,
		DelaySeconds: clampDelay(input.DelaySeconds),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, tpl); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrTemplateExists
		}
		return nil, fmt.Errorf("creating template: %w", err)
	}
	return tpl, nil
}

func (s *AutoReplyService) List(ctx context.Context, sellerID uuid.UUID) ([]domain.AutoReplyTemplate, error) {
	tpls, err := s.repo.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if tpls == nil {
		tpls = []domain.AutoReplyTemplate{}
	}
	return tpls, nil
}

// Update edits a template. Changing the body or trigger sends it back for review.
func (s *AutoReplyService) Update(ctx context.Context, sellerID, id uuid.UUID, input UpdateTemplateInput) (*domain.AutoReplyTemplate, error) {
	tpl, err := s.owned(ctx, sellerID, id)
	if err != nil {
		return nil, err
	}

	if input.TriggerKey != nil && *input.TriggerKey != tpl.TriggerKey {
		if !s.triggers.ValidKey(*input.TriggerKey) {
			return nil, ErrUnknownTrigger
		}
		tpl.TriggerKey = *input.TriggerKey
		tpl.ReviewedByAdmin = false
	}
	if input.Body != nil {
		body := strings.TrimSpace(*input.Body)
		if body != tpl.Body {
			tpl.Body = body
			tpl.ReviewedByAdmin = false
		}
	}
	if input.Enabled != nil {
		tpl.Enabled = *input.Enabled
	}
	if input.DelaySeconds != nil {
		tpl.DelaySeconds = clampDelay(*input.DelaySeconds)
	}
	tpl.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, tpl); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrTemplateExists
		}
		return nil, fmt.Errorf("updating template: %w", err)
	}
	return tpl, nil
}

func (s *AutoReplyService) Delete(ctx context.Context, sellerID, id uuid.UUID) error {
	if _, err := s.owned(ctx, sellerID, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *AutoReplyService) ListPending(ctx context.Context) ([]domain.AutoReplyTemplate, error) {
	tpls, err := s.repo.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	if tpls == nil {
		tpls = []domain.AutoReplyTemplate{}
	}
	return tpls, nil
}

// Review records the admin decision on a template.
func (s *AutoReplyService) Review(ctx context.Context, id uuid.UUID, approved bool) (*domain.AutoReplyTemplate, error) {
	tpl, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, ErrTemplateNotFound
	}
	if err := s.repo.SetReviewed(ctx, id, approved); err != nil {
		return nil, err
	}
	tpl.ReviewedByAdmin = approved
	return tpl, nil
}

func (s *AutoReplyService) owned(ctx context.Context, sellerID, id uuid.UUID) (*domain.AutoReplyTemplate, error) {
	tpl, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, ErrTemplateNotFound
	}
	if tpl.SellerID != sellerID {
		return nil, ErrNotTemplateOwner
	}
	return tpl, nil
}

func (s *AutoReplyService) requireSeller(ctx context.Context, userID uuid.UUID) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}
	if !user.IsSeller() {
		return ErrSellersOnly
	}
	return nil
}

func clampDelay(d int) int {
	return max(0, min(d, maxDelaySeconds))
}
