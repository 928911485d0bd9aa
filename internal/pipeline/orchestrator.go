// Package pipeline sequences moderation, enforcement, persistence, fan-out and
// post-processing for every inbound conversation event.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/enforcement"
	"github.com/vedran77/bazaar/internal/metrics"
	"go.uber.org/zap"
)

const (
	stepNotify    = "notification"
	stepAutoReply = "auto_reply"
	stepFlag      = "conversation_flag"
	stepViolation = "violation_record"

	maxNotificationPreview = 120
)

// Orchestrator is the sole gate for message creation.
type Orchestrator struct {
	deps   Deps
	logger *zap.Logger
	now    func() time.Time

	// Post-processing outlives the sender's request and runs on this context.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

func New(deps Deps, logger *zap.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:     deps,
		logger:   logger.Named("pipeline"),
		now:      time.Now,
		bgCtx:    ctx,
		bgCancel: cancel,
	}
}

// HandleSend runs one send_message event to completion and returns exactly
// one result.
func (o *Orchestrator) HandleSend(ctx context.Context, req SendRequest) SendResult {
	start := o.now()
	res := o.handleSend(ctx, req, start)

	outcome := "accepted"
	if !res.OK() {
		outcome = "rejected"
		metrics.MessagesRejected.WithLabelValues(res.Err.Code).Inc()
	} else {
		metrics.MessagesAccepted.Inc()
	}
	metrics.PipelineDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return res
}

func (o *Orchestrator) handleSend(ctx context.Context, req SendRequest, start time.Time) SendResult {
	// Received
	convID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		return reject(domain.ValidationError(domain.CodeInvalidConversationID, "conversation id is malformed"))
	}
	senderID, err := uuid.Parse(req.SenderID)
	if err != nil {
		return reject(domain.ValidationError(domain.CodeInvalidSender, "sender id is malformed"))
	}
	if req.Actor != uuid.Nil && req.Actor != senderID {
		return reject(domain.PermissionError(domain.CodeInvalidSender, "sender does not match the authenticated user"))
	}
	var productID *uuid.UUID
	if req.ProductID != "" {
		id, err := uuid.Parse(req.ProductID)
		if err != nil {
			return reject(domain.ValidationError(domain.CodeInvalidPayload, "product reference is malformed"))
		}
		productID = &id
	}

	conv, err := o.deps.Conversations.GetByID(ctx, convID)
	if err != nil {
		o.logger.Error("Failed to load conversation", zap.Stringer("conversationID", convID), zap.Error(err))
		return reject(domain.PersistenceError(err))
	}
	if conv == nil {
		return reject(domain.ValidationError(domain.CodeInvalidConversationID, "conversation does not exist"))
	}
	if !conv.HasParticipant(senderID) {
		return reject(domain.PermissionError(domain.CodeNotParticipant, "sender is not a participant of this conversation"))
	}

	messageID := uuid.New()
	messageKey := violationKey(convID, messageID, req.Nonce, req.Text)
	o.log(messageID, convID, domain.EventMessageReceived, start, map[string]any{
		"sender_id": senderID.String(),
		"length":    len(req.Text),
	})

	// EnforcementChecked
	decision := o.deps.Enforcer.CanSend(ctx, senderID)
	if !decision.Allowed {
		o.log(messageID, convID, domain.EventEnforcementDenied, start, map[string]any{
			"sender_id": senderID.String(),
			"reason":    decision.Reason,
		})
		return reject(domain.PermissionError(domain.CodeUserRestricted, decision.Reason))
	}

	// ModerationChecked
	verdict := o.deps.Moderator.Evaluate(req.Text)
	if !verdict.Compliant {
		return o.rejectViolation(ctx, conv, senderID, messageID, messageKey, req.Text, verdict.Violations, start)
	}

	// Persisted
	msg, err := o.deps.Messages.Persist(ctx, &domain.Message{
		ID:             messageID,
		ConversationID: convID,
		SenderID:       senderID,
		Body:           req.Text,
		Attachments:    req.Attachments,
		ProductID:      productID,
		ReadBy:         []uuid.UUID{senderID},
		CreatedAt:      o.now(),
	})
	if err != nil {
		o.logger.Error("Failed to persist message",
			zap.Stringer("conversationID", convID),
			zap.Stringer("senderID", senderID),
			zap.Error(err))
		var derr *domain.Error
		if !errors.As(err, &derr) {
			derr = domain.PersistenceError(err)
		}
		o.log(messageID, convID, domain.EventMessageFailed, start, map[string]any{
			"code":  derr.Code,
			"error": err.Error(),
		})
		return reject(derr)
	}
	o.log(msg.ID, convID, domain.EventMessageCreated, start, nil)

	// FannedOut
	o.deps.Messages.Broadcast(msg)
	o.log(msg.ID, convID, domain.EventMessageBroadcast, start, nil)

	if err := o.deps.Messages.TouchConversation(ctx, msg); err != nil {
		o.nonCritical(domain.EventConversationUpdate, msg, err)
		o.log(msg.ID, convID, domain.EventConversationUpdate, start, map[string]any{"error": err.Error()})
	}

	// PostProcessed
	o.postProcess(conv, msg)
	return SendResult{Message: msg}
}

func (o *Orchestrator) rejectViolation(
	ctx context.Context,
	conv *domain.Conversation,
	senderID, messageID uuid.UUID,
	messageKey, text string,
	violations []domain.ViolationKind,
	start time.Time,
) SendResult {
	kinds := make([]string, len(violations))
	for i, v := range violations {
		kinds[i] = string(v)
		metrics.Violations.WithLabelValues(kinds[i]).Inc()
	}
	o.log(messageID, conv.ID, domain.EventModerationBlocked, start, map[string]any{
		"sender_id":  senderID.String(),
		"violations": kinds,
	})

	res := SendResult{
		Err:        domain.PolicyViolation("Message blocked: " + strings.Join(kinds, ", ")),
		Violations: violations,
	}

	outcome, err := o.deps.Enforcer.RecordViolation(ctx, senderID, violations, enforcement.ViolationContext{
		ConversationID: conv.ID,
		MessageKey:     messageKey,
		Text:           text,
	})
	if err != nil {
		o.logger.Error("Failed to record violation",
			zap.Stringer("senderID", senderID),
			zap.String("step", stepViolation),
			zap.Error(err))
	} else {
		res.Enforcement = outcome
		if outcome.Recorded {
			o.log(messageID, conv.ID, domain.EventEnforcementApplied, start, map[string]any{
				"action":          string(outcome.Action),
				"violation_count": outcome.State.ViolationCount,
			})
		}
	}

	reason := "auto-flagged: " + strings.Join(kinds, ", ")
	if err := o.deps.Conversations.Flag(ctx, conv.ID, reason, o.now()); err != nil {
		o.logger.Warn("Failed to flag conversation",
			zap.Stringer("conversationID", conv.ID),
			zap.String("step", stepFlag),
			zap.Error(err))
	} else {
		o.log(messageID, conv.ID, domain.EventConversationFlagged, start, map[string]any{"reason": reason})
	}

	if outcome != nil && outcome.Recorded && outcome.Action != domain.ActionNone {
		o.notifyEnforcement(senderID, conv.ID, outcome)
	}
	return res
}

// HandleRead marks a message read by the user and announces the new readers.
func (o *Orchestrator) HandleRead(ctx context.Context, req ReadRequest) ReadResult {
	convID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		return ReadResult{Err: domain.ValidationError(domain.CodeInvalidConversationID, "conversation id is malformed")}
	}
	messageID, err := uuid.Parse(req.MessageID)
	if err != nil {
		return ReadResult{Err: domain.ValidationError(domain.CodeMessageNotFound, "message id is malformed")}
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return ReadResult{Err: domain.ValidationError(domain.CodeInvalidSender, "user id is malformed")}
	}
	if req.Actor != uuid.Nil && req.Actor != userID {
		return ReadResult{Err: domain.PermissionError(domain.CodeInvalidSender, "user does not match the authenticated user")}
	}

	conv, err := o.deps.Conversations.GetByID(ctx, convID)
	if err != nil {
		return ReadResult{Err: domain.PersistenceError(err)}
	}
	if conv == nil {
		return ReadResult{Err: domain.ValidationError(domain.CodeInvalidConversationID, "conversation does not exist")}
	}
	if !conv.HasParticipant(userID) {
		return ReadResult{Err: domain.PermissionError(domain.CodeNotParticipant, "user is not a participant of this conversation")}
	}

	readBy, err := o.deps.Messages.MarkRead(ctx, convID, messageID, userID)
	if err != nil {
		var derr *domain.Error
		if !errors.As(err, &derr) {
			derr = domain.PersistenceError(err)
		}
		return ReadResult{Err: derr}
	}

	o.log(messageID, convID, domain.EventMessageRead, o.now(), map[string]any{"user_id": userID.String()})
	return ReadResult{MessageID: messageID, ReadBy: readBy}
}

// Join authorizes userID to subscribe to the conversation's room.
func (o *Orchestrator) Join(ctx context.Context, conversationID string, userID uuid.UUID) JoinResult {
	convID, err := uuid.Parse(conversationID)
	if err != nil {
		return JoinResult{Err: domain.ValidationError(domain.CodeInvalidConversationID, "conversation id is malformed")}
	}
	if userID == uuid.Nil {
		return JoinResult{Err: domain.ValidationError(domain.CodeInvalidSender, "user id is required")}
	}

	conv, err := o.deps.Conversations.GetByID(ctx, convID)
	if err != nil {
		return JoinResult{Err: domain.PersistenceError(err)}
	}
	if conv == nil {
		return JoinResult{Err: domain.ValidationError(domain.CodeInvalidConversationID, "conversation does not exist")}
	}
	if !conv.HasParticipant(userID) {
		return JoinResult{Err: domain.PermissionError(domain.CodeNotParticipant, "user is not a participant of this conversation")}
	}
	return JoinResult{Conversation: conv}
}

// postProcess runs notification and auto-reply independently. Neither can
// affect the sender's acknowledgment.
func (o *Orchestrator) postProcess(conv *domain.Conversation, msg *domain.Message) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		p := pool.New().WithContext(o.bgCtx)
		p.Go(func(ctx context.Context) error {
			o.isolate(stepNotify, msg, func() error { return o.notifyRecipients(ctx, conv, msg) })
			return nil
		})
		if o.deps.AutoReplies != nil {
			p.Go(func(ctx context.Context) error {
				o.isolate(stepAutoReply, msg, func() error { return o.autoReply(ctx, conv, msg) })
				return nil
			})
		}
		_ = p.Wait()
	}()
}

// isolate turns errors and panics from fn into logged non-critical failures.
func (o *Orchestrator) isolate(step string, msg *domain.Message, fn func() error) {
	var pc panics.Catcher
	var err error
	pc.Try(func() { err = fn() })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err != nil {
		o.nonCritical(step, msg, err)
	}
}

func (o *Orchestrator) nonCritical(step string, msg *domain.Message, err error) {
	metrics.NonCriticalFailures.WithLabelValues(step).Inc()
	o.logger.Warn("Non-critical pipeline step failed",
		zap.String("step", step),
		zap.Stringer("messageID", msg.ID),
		zap.Stringer("conversationID", msg.ConversationID),
		zap.Error(domain.NonCriticalError(step, err)))
}

func (o *Orchestrator) notifyRecipients(ctx context.Context, conv *domain.Conversation, msg *domain.Message) error {
	if o.deps.Notifications == nil {
		return nil
	}
	start := o.now()

	var errs []error
	for _, recipient := range conv.OtherParticipants(msg.SenderID) {
		convID, msgID := msg.ConversationID, msg.ID
		kind, title := domain.NotificationNewMessage, "New message"
		if msg.AutoReply {
			kind, title = domain.NotificationAutoReply, "Automatic reply"
		}
		err := o.deps.Notifications.Dispatch(ctx, &domain.Notification{
			ID:             uuid.New(),
			UserID:         recipient,
			Kind:           kind,
			ConversationID: &convID,
			MessageID:      &msgID,
			Title:          title,
			Body:           preview(msg.Body),
			CreatedAt:      o.now(),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("notifying %s: %w", recipient, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		o.log(msg.ID, msg.ConversationID, domain.EventNotificationFailed, start, map[string]any{"error": err.Error()})
		return err
	}
	o.log(msg.ID, msg.ConversationID, domain.EventNotificationSent, start, nil)
	return nil
}

func (o *Orchestrator) autoReply(ctx context.Context, conv *domain.Conversation, msg *domain.Message) error {
	start := o.now()
	outcome, err := o.deps.AutoReplies.HandleInbound(ctx, conv, msg)
	if err != nil {
		metrics.AutoReplies.WithLabelValues("failed").Inc()
		o.log(msg.ID, msg.ConversationID, domain.EventAutoReplyFailed, start, map[string]any{"error": err.Error()})
		return err
	}
	if !outcome.Fired {
		metrics.AutoReplies.WithLabelValues("skipped").Inc()
		o.log(msg.ID, msg.ConversationID, domain.EventAutoReplySkipped, start, map[string]any{
			"reason":  outcome.Skipped,
			"trigger": outcome.Trigger,
		})
		return nil
	}

	metrics.AutoReplies.WithLabelValues("sent").Inc()
	o.log(msg.ID, msg.ConversationID, domain.EventAutoReplySent, start, map[string]any{
		"trigger":     outcome.Trigger,
		"template_id": outcome.Template.ID.String(),
		"reply_id":    outcome.Reply.ID.String(),
	})
	o.log(outcome.Reply.ID, msg.ConversationID, domain.EventMessageCreated, start, map[string]any{"auto_reply": true})
	return o.notifyRecipients(ctx, conv, outcome.Reply)
}

func (o *Orchestrator) notifyEnforcement(userID, convID uuid.UUID, outcome *enforcement.Outcome) {
	if o.deps.Notifications == nil {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		err := o.deps.Notifications.Dispatch(o.bgCtx, &domain.Notification{
			ID:             uuid.New(),
			UserID:         userID,
			Kind:           domain.NotificationEnforcementAction,
			ConversationID: &convID,
			Title:          "Messaging policy",
			Body:           outcome.Message,
			CreatedAt:      o.now(),
		})
		if err != nil {
			metrics.NonCriticalFailures.WithLabelValues(stepNotify).Inc()
			o.logger.Warn("Failed to dispatch enforcement notification",
				zap.Stringer("userID", userID),
				zap.Error(err))
		}
	}()
}

func (o *Orchestrator) log(messageID, convID uuid.UUID, event string, start time.Time, payload map[string]any) {
	if o.deps.DebugLog == nil {
		return
	}
	now := o.now()
	o.deps.DebugLog.LogEvent(domain.DebugLogEntry{
		MessageID:      messageID,
		ConversationID: convID,
		Event:          event,
		Payload:        payload,
		ProcessingTime: now.Sub(start),
		CreatedAt:      now,
	})
}

// Drain waits for in-flight post-processing, or cancels it when ctx ends.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		o.bgCancel()
		<-done
		return ctx.Err()
	}
}

// Close cancels outstanding post-processing and waits for it to stop.
func (o *Orchestrator) Close() {
	o.bgCancel()
	o.wg.Wait()
}

// violationKey dedupes retries of one rejected send. A nonce only counts as a
// retry when it arrives in the same conversation with the same text.
func violationKey(convID, messageID uuid.UUID, nonce, text string) string {
	if nonce == "" {
		return messageID.String()
	}
	sum := sha256.Sum256([]byte(text))
	return convID.String() + ":" + nonce + ":" + hex.EncodeToString(sum[:])
}

func reject(err *domain.Error) SendResult {
	return SendResult{Err: err}
}

func preview(body string) string {
	r := []rune(body)
	if len(r) <= maxNotificationPreview {
		return body
	}
	return string(r[:maxNotificationPreview]) + "…"
}
