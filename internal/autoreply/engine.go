package autoreply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/enforcement"
	"github.com/vedran77/bazaar/internal/repository"
	"go.uber.org/zap"
)

// Sender delivers a message through the regular persistence and fan-out path.
type Sender interface {
	Deliver(ctx context.Context, msg *domain.Message) (*domain.Message, error)
}

// Enforcer reports whether a user may currently author messages.
type Enforcer interface {
	CanSend(ctx context.Context, userID uuid.UUID) enforcement.Decision
}

// ErrSellerRestricted is returned by Fire when the seller may not send.
var ErrSellerRestricted = errors.New("seller is restricted from messaging")

// Skip reasons reported when no reply fires.
const (
	SkipSenderIsSeller   = "sender_is_seller"
	SkipNoSeller         = "no_seller"
	SkipNoTrigger        = "no_trigger"
	SkipNoTemplate       = "no_fireable_template"
	SkipSellerRestricted = "seller_restricted"
)

type Outcome struct {
	Fired    bool
	Trigger  string
	Template *domain.AutoReplyTemplate
	Reply    *domain.Message
	Skipped  string
}

type Engine struct {
	detector  *Detector
	users     repository.UserRepository
	templates repository.AutoReplyRepository
	messages  repository.MessageRepository
	enforcer  Enforcer
	sender    Sender
	logger    *zap.Logger
	now       func() time.Time
}

func NewEngine(
	detector *Detector,
	store *repository.Store,
	enforcer Enforcer,
	sender Sender,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		detector:  detector,
		users:     store.Users,
		templates: store.AutoReplies,
		messages:  store.Messages,
		enforcer:  enforcer,
		sender:    sender,
		logger:    logger.Named("autoreply"),
		now:       time.Now,
	}
}

func (e *Engine) DetectTrigger(text string) (string, bool) {
	return e.detector.Detect(text)
}

// ShouldFire returns the seller's template for triggerKey if it is enabled
// and approved, or nil.
func (e *Engine) ShouldFire(
	ctx context.Context, conv *domain.Conversation, triggerKey string, sellerID uuid.UUID,
) (*domain.AutoReplyTemplate, error) {
	if !conv.HasParticipant(sellerID) {
		return nil, nil
	}
	tpl, err := e.templates.FindBySellerTrigger(ctx, sellerID, triggerKey)
	if err != nil {
		return nil, fmt.Errorf("finding template: %w", err)
	}
	if tpl == nil || !tpl.Fireable() {
		return nil, nil
	}
	return tpl, nil
}

// Fire sends tpl as the seller after its configured delay. The reply is not
// moderated: templates are seller-owned and admin-approved. The seller's
// enforcement state is checked after the delay, right before delivery.
func (e *Engine) Fire(
	ctx context.Context, conv *domain.Conversation, tpl *domain.AutoReplyTemplate, originalSenderID uuid.UUID,
) (*domain.Message, error) {
	if tpl.DelaySeconds > 0 {
		timer := time.NewTimer(time.Duration(tpl.DelaySeconds) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if decision := e.enforcer.CanSend(ctx, tpl.SellerID); !decision.Allowed {
		return nil, fmt.Errorf("%w: %s", ErrSellerRestricted, decision.Reason)
	}

	reply := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       tpl.SellerID,
		Body:           tpl.Body,
		ReadBy:         []uuid.UUID{tpl.SellerID},
		AutoReply:      true,
		CreatedAt:      e.now(),
	}
	stored, err := e.sender.Deliver(ctx, reply)
	if err != nil {
		return nil, fmt.Errorf("delivering auto reply: %w", err)
	}

	if err := e.templates.IncrementUsage(ctx, tpl.ID); err != nil {
		e.logger.Warn("Failed to increment template usage",
			zap.Stringer("templateID", tpl.ID),
			zap.Error(err))
	}

	e.logger.Debug("Auto reply sent",
		zap.Stringer("conversationID", conv.ID),
		zap.Stringer("templateID", tpl.ID),
		zap.Stringer("buyerID", originalSenderID))
	return stored, nil
}

// HandleInbound evaluates a persisted buyer message and fires at most one
// reply. The first-message trigger wins over keyword triggers.
func (e *Engine) HandleInbound(ctx context.Context, conv *domain.Conversation, msg *domain.Message) (*Outcome, error) {
	sender, err := e.users.GetByID(ctx, msg.SenderID)
	if err != nil {
		return nil, fmt.Errorf("loading sender: %w", err)
	}
	if sender == nil || sender.IsSeller() {
		return &Outcome{Skipped: SkipSenderIsSeller}, nil
	}

	sellerID, err := e.findSeller(ctx, conv, msg.SenderID)
	if err != nil {
		return nil, err
	}
	if sellerID == uuid.Nil {
		return &Outcome{Skipped: SkipNoSeller}, nil
	}

	candidates, err := e.candidates(ctx, conv, msg)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &Outcome{Skipped: SkipNoTrigger}, nil
	}

	for _, key := range candidates {
		tpl, err := e.ShouldFire(ctx, conv, key, sellerID)
		if err != nil {
			return nil, err
		}
		if tpl == nil {
			continue
		}
		reply, err := e.Fire(ctx, conv, tpl, msg.SenderID)
		if errors.Is(err, ErrSellerRestricted) {
			return &Outcome{Trigger: key, Template: tpl, Skipped: SkipSellerRestricted}, nil
		}
		if err != nil {
			return &Outcome{Trigger: key, Template: tpl}, err
		}
		return &Outcome{Fired: true, Trigger: key, Template: tpl, Reply: reply}, nil
	}
	return &Outcome{Trigger: candidates[0], Skipped: SkipNoTemplate}, nil
}

func (e *Engine) candidates(ctx context.Context, conv *domain.Conversation, msg *domain.Message) ([]string, error) {
	var keys []string
	n, err := e.messages.CountBySender(ctx, conv.ID, msg.SenderID)
	if err != nil {
		return nil, fmt.Errorf("counting buyer messages: %w", err)
	}
	if n == 1 {
		keys = append(keys, domain.TriggerFirstMessage)
	}
	if key, ok := e.detector.Detect(msg.Body); ok {
		keys = append(keys, key)
	}
	return keys, nil
}

func (e *Engine) findSeller(ctx context.Context, conv *domain.Conversation, buyerID uuid.UUID) (uuid.UUID, error) {
	for _, id := range conv.OtherParticipants(buyerID) {
		u, err := e.users.GetByID(ctx, id)
		if err != nil {
			return uuid.Nil, fmt.Errorf("loading participant: %w", err)
		}
		if u != nil && u.IsSeller() {
			return u.ID, nil
		}
	}
	return uuid.Nil, nil
}
