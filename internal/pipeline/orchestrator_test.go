package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/bazaar/internal/autoreply"
	"github.com/vedran77/bazaar/internal/config"
	"github.com/vedran77/bazaar/internal/debuglog"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/enforcement"
	"github.com/vedran77/bazaar/internal/moderation"
	"github.com/vedran77/bazaar/internal/pipeline"
	"github.com/vedran77/bazaar/internal/repository"
	"github.com/vedran77/bazaar/internal/repository/memory"
	"github.com/vedran77/bazaar/internal/service"
	"go.uber.org/zap"
)

type readEvent struct {
	conversationID uuid.UUID
	messageID      uuid.UUID
	readBy         []uuid.UUID
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []*domain.Message
	reads    []readEvent
}

func (n *recordingNotifier) NotifyNewMessage(msg *domain.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

func (n *recordingNotifier) NotifyReadStatus(conversationID, messageID uuid.UUID, readBy []uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reads = append(n.reads, readEvent{conversationID, messageID, readBy})
}

func (n *recordingNotifier) broadcasts() []*domain.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*domain.Message(nil), n.messages...)
}

func (n *recordingNotifier) readEvents() []readEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]readEvent(nil), n.reads...)
}

type failingMessages struct {
	pipeline.MessageStore
	err error
}

func (m failingMessages) Persist(context.Context, *domain.Message) (*domain.Message, error) {
	return nil, domain.PersistenceError(m.err)
}

type recordingDispatcher struct {
	mu    sync.Mutex
	sent  []*domain.Notification
	err   error
	panic bool
}

func (d *recordingDispatcher) Dispatch(_ context.Context, n *domain.Notification) error {
	if d.panic {
		panic("dispatcher exploded")
	}
	if d.err != nil {
		return d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
	return nil
}

func (d *recordingDispatcher) notifications() []*domain.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*domain.Notification(nil), d.sent...)
}

type fixture struct {
	orch       *pipeline.Orchestrator
	store      *repository.Store
	ledger     *enforcement.Ledger
	debugLog   *debuglog.Store
	notifier   *recordingNotifier
	dispatcher *recordingDispatcher
	buyer      uuid.UUID
	seller     uuid.UUID
	conv       *domain.Conversation
}

func setupTest(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()
	store := memory.NewStore()

	f := &fixture{
		store:      store,
		notifier:   &recordingNotifier{},
		dispatcher: &recordingDispatcher{},
		buyer:      uuid.New(),
		seller:     uuid.New(),
	}
	for id, role := range map[uuid.UUID]string{f.buyer: domain.RoleBuyer, f.seller: domain.RoleSeller} {
		require.NoError(t, store.Users.Create(ctx, &domain.User{
			ID: id, Email: id.String() + "@example.com", Username: id.String(), Role: role,
		}))
	}
	f.conv = &domain.Conversation{ID: uuid.New(), Participants: []uuid.UUID{f.buyer, f.seller}, CreatedAt: time.Now()}
	require.NoError(t, store.Conversations.Create(ctx, f.conv))

	debugLog, err := debuglog.Open(debuglog.Options{Path: "debuglog", FS: vfs.NewMem()}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { debugLog.Close() })
	f.debugLog = debugLog

	f.ledger = enforcement.NewLedger(store.Enforcement, enforcement.PolicyFromConfig(config.Default().Enforcement), logger)

	msgService := service.NewMessageService(store, logger)
	msgService.SetNotifier(f.notifier)
	detector := autoreply.NewDetector(config.Default().AutoReply.Triggers)

	f.orch = pipeline.New(pipeline.Deps{
		Moderator:     moderation.NewEngine(moderation.DefaultBannedTerms),
		Enforcer:      f.ledger,
		Messages:      msgService,
		AutoReplies:   autoreply.NewEngine(detector, store, f.ledger, msgService, logger),
		DebugLog:      debugLog,
		Notifications: f.dispatcher,
		Conversations: store.Conversations,
	}, logger)
	t.Cleanup(f.orch.Close)
	return f
}

func (f *fixture) send(t *testing.T, sender uuid.UUID, text string) pipeline.SendResult {
	t.Helper()
	return f.orch.HandleSend(context.Background(), pipeline.SendRequest{
		ConversationID: f.conv.ID.String(),
		SenderID:       sender.String(),
		Text:           text,
	})
}

// settle waits for post-processing and flushes the debug log.
func (f *fixture) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.orch.Drain(ctx))
	require.NoError(t, f.debugLog.Flush(ctx))
}

func (f *fixture) history(t *testing.T) []domain.Message {
	t.Helper()
	msgs, err := f.store.Messages.ListByConversation(context.Background(), f.conv.ID, nil, 100)
	require.NoError(t, err)
	return msgs
}

func (f *fixture) template(t *testing.T, trigger string, reviewed bool) *domain.AutoReplyTemplate {
	t.Helper()
	tpl := &domain.AutoReplyTemplate{
		ID:              uuid.New(),
		SellerID:        f.seller,
		TriggerKey:      trigger,
		Body:            "Thanks for your message, I will reply shortly.",
		Enabled:         true,
		ReviewedByAdmin: reviewed,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	require.NoError(t, f.store.AutoReplies.Create(context.Background(), tpl))
	return tpl
}

func events(entries []domain.DebugLogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Event
	}
	return out
}

func TestSendBlocksContactDetails(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	ctx := context.Background()

	res := f.send(t, f.buyer, "call me at 555-123-4567")

	require.False(t, res.OK())
	assert.Equal(t, domain.CodeContentViolation, res.Err.Code)
	assert.Equal(t, []domain.ViolationKind{domain.ViolationPhoneNumber}, res.Violations)
	require.NotNil(t, res.Enforcement)
	assert.Equal(t, domain.ActionWarning, res.Enforcement.Action)

	conv, err := f.store.Conversations.GetByID(ctx, f.conv.ID)
	require.NoError(t, err)
	assert.True(t, conv.Flagged)

	state, err := f.ledger.State(ctx, f.buyer)
	require.NoError(t, err)
	assert.Equal(t, 1, state.ViolationCount)

	f.settle(t)
	assert.Empty(t, f.history(t))
	assert.Empty(t, f.notifier.broadcasts())

	sent := f.dispatcher.notifications()
	require.Len(t, sent, 1)
	assert.Equal(t, f.buyer, sent[0].UserID)
	assert.Equal(t, domain.NotificationEnforcementAction, sent[0].Kind)

	blocked, err := f.debugLog.GetConversationLogs(ctx, f.conv.ID, domain.DebugLogFilter{Event: domain.EventModerationBlocked})
	require.NoError(t, err)
	assert.Len(t, blocked, 1)
}

func TestFirstMessageFiresApprovedAutoReply(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	ctx := context.Background()
	tpl := f.template(t, domain.TriggerFirstMessage, true)

	res := f.send(t, f.buyer, "hi")
	require.True(t, res.OK())
	f.settle(t)

	history := f.history(t)
	require.Len(t, history, 2)
	assert.Equal(t, res.Message.ID, history[0].ID)
	assert.Equal(t, f.seller, history[1].SenderID)
	assert.True(t, history[1].AutoReply)
	assert.Equal(t, tpl.Body, history[1].Body)

	broadcasts := f.notifier.broadcasts()
	require.Len(t, broadcasts, 2)
	assert.Equal(t, res.Message.ID, broadcasts[0].ID)

	stored, err := f.store.AutoReplies.GetByID(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsageCount)

	// One new_message to the seller, one auto_reply to the buyer.
	kinds := map[uuid.UUID]string{}
	for _, n := range f.dispatcher.notifications() {
		kinds[n.UserID] = n.Kind
	}
	assert.Equal(t, domain.NotificationNewMessage, kinds[f.seller])
	assert.Equal(t, domain.NotificationAutoReply, kinds[f.buyer])

	timeline, err := f.debugLog.GetMessageTimeline(ctx, res.Message.ID)
	require.NoError(t, err)
	got := events(timeline)
	require.GreaterOrEqual(t, len(got), 3)
	assert.Equal(t, []string{domain.EventMessageReceived, domain.EventMessageCreated, domain.EventMessageBroadcast}, got[:3])
	assert.Contains(t, got, domain.EventAutoReplySent)
}

func TestRestrictedSellerTemplateIsSkipped(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	ctx := context.Background()
	f.template(t, domain.TriggerFirstMessage, true)

	_, err := f.ledger.Restrict(ctx, f.seller, 0)
	require.NoError(t, err)

	res := f.send(t, f.buyer, "hi")
	require.True(t, res.OK())
	f.settle(t)

	history := f.history(t)
	require.Len(t, history, 1)
	assert.Equal(t, f.buyer, history[0].SenderID)

	skipped, err := f.debugLog.GetConversationLogs(ctx, f.conv.ID, domain.DebugLogFilter{Event: domain.EventAutoReplySkipped})
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, autoreply.SkipSellerRestricted, skipped[0].Payload["reason"])
}

func TestRestrictedUserCannotSend(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	ctx := context.Background()

	_, err := f.ledger.Restrict(ctx, f.buyer, 0)
	require.NoError(t, err)

	for _, text := range []string{"hello there", "call me at 555-123-4567", "is it available?"} {
		res := f.send(t, f.buyer, text)
		require.False(t, res.OK())
		assert.Equal(t, domain.CodeUserRestricted, res.Err.Code)
		assert.NotEmpty(t, res.Reason())
	}

	f.settle(t)
	assert.Empty(t, f.history(t))

	violations, err := f.ledger.Violations(ctx, f.buyer, 0)
	require.NoError(t, err)
	assert.Empty(t, violations)

	denied, err := f.debugLog.GetConversationLogs(ctx, f.conv.ID, domain.DebugLogFilter{Event: domain.EventEnforcementDenied})
	require.NoError(t, err)
	assert.Len(t, denied, 3)
}

func TestReadUnknownMessage(t *testing.T) {
	t.Parallel()
	f := setupTest(t)

	res := f.orch.HandleRead(context.Background(), pipeline.ReadRequest{
		ConversationID: f.conv.ID.String(),
		MessageID:      uuid.NewString(),
		UserID:         f.seller.String(),
	})

	require.False(t, res.OK())
	assert.Equal(t, domain.CodeMessageNotFound, res.Err.Code)
	assert.Empty(t, f.notifier.readEvents())
}

func TestReadAnnouncesReaders(t *testing.T) {
	t.Parallel()
	f := setupTest(t)

	sent := f.send(t, f.buyer, "is the bike still for sale?")
	require.True(t, sent.OK())

	res := f.orch.HandleRead(context.Background(), pipeline.ReadRequest{
		ConversationID: f.conv.ID.String(),
		MessageID:      sent.Message.ID.String(),
		UserID:         f.seller.String(),
	})
	require.True(t, res.OK())
	assert.ElementsMatch(t, []uuid.UUID{f.buyer, f.seller}, res.ReadBy)

	reads := f.notifier.readEvents()
	require.Len(t, reads, 1)
	assert.Equal(t, sent.Message.ID, reads[0].messageID)
}

func TestUnreviewedTemplateDoesNotFire(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	f.template(t, domain.TriggerFirstMessage, false)
	f.template(t, "price", false)

	res := f.send(t, f.buyer, "what is the price?")
	require.True(t, res.OK())
	f.settle(t)

	history := f.history(t)
	require.Len(t, history, 1)
	assert.Equal(t, f.buyer, history[0].SenderID)

	skipped, err := f.debugLog.GetConversationLogs(context.Background(), f.conv.ID, domain.DebugLogFilter{Event: domain.EventAutoReplySkipped})
	require.NoError(t, err)
	assert.Len(t, skipped, 1)
}

func TestSequentialSendsKeepOrder(t *testing.T) {
	t.Parallel()
	f := setupTest(t)

	var ids []uuid.UUID
	for i := range 20 {
		res := f.send(t, f.buyer, fmt.Sprintf("message number %d", i))
		require.True(t, res.OK())
		ids = append(ids, res.Message.ID)
	}
	f.settle(t)

	history := f.history(t)
	require.Len(t, history, len(ids))
	for i, msg := range history {
		assert.Equal(t, ids[i], msg.ID)
	}
}

func TestConcurrentViolationsAllCounted(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	ctx := context.Background()

	// Once the ladder restricts the sender, later sends stop at the
	// enforcement check and never reach moderation.
	const n = 20
	var blocked atomic.Int64
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := f.orch.HandleSend(ctx, pipeline.SendRequest{
				ConversationID: f.conv.ID.String(),
				SenderID:       f.buyer.String(),
				Text:           "email me at buyer@example.com",
				Nonce:          fmt.Sprintf("nonce-%d", i),
			})
			require.NotNil(t, res.Err)
			if res.Err.Code == domain.CodeContentViolation {
				blocked.Add(1)
			} else {
				assert.Equal(t, domain.CodeUserRestricted, res.Err.Code)
			}
		}()
	}
	wg.Wait()

	require.Positive(t, blocked.Load())

	state, err := f.ledger.State(ctx, f.buyer)
	require.NoError(t, err)
	assert.Equal(t, int(blocked.Load()), state.ViolationCount)

	violations, err := f.ledger.Violations(ctx, f.buyer, 100)
	require.NoError(t, err)
	assert.Len(t, violations, int(blocked.Load()))
}

func TestRetriedViolationCountsOnce(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	ctx := context.Background()

	req := pipeline.SendRequest{
		ConversationID: f.conv.ID.String(),
		SenderID:       f.buyer.String(),
		Text:           "pay me via paypal",
		Nonce:          "retry-1",
	}
	first := f.orch.HandleSend(ctx, req)
	second := f.orch.HandleSend(ctx, req)

	assert.Equal(t, domain.CodeContentViolation, first.Err.Code)
	assert.Equal(t, domain.CodeContentViolation, second.Err.Code)
	assert.True(t, first.Enforcement.Recorded)
	assert.False(t, second.Enforcement.Recorded)

	state, err := f.ledger.State(ctx, f.buyer)
	require.NoError(t, err)
	assert.Equal(t, 1, state.ViolationCount)
}

func TestReusedNonceStillEscalates(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	ctx := context.Background()

	texts := []string{
		"call me at 555-123-4567",
		"email me at buyer@example.com",
		"pay me via paypal",
	}
	for i, text := range texts {
		res := f.orch.HandleSend(ctx, pipeline.SendRequest{
			ConversationID: f.conv.ID.String(),
			SenderID:       f.buyer.String(),
			Text:           text,
			Nonce:          "x",
		})
		require.False(t, res.OK())
		assert.Equal(t, domain.CodeContentViolation, res.Err.Code)
		require.NotNil(t, res.Enforcement)
		assert.True(t, res.Enforcement.Recorded)
		assert.Equal(t, i+1, res.Enforcement.State.ViolationCount)
	}

	state, err := f.ledger.State(ctx, f.buyer)
	require.NoError(t, err)
	assert.Equal(t, len(texts), state.ViolationCount)
	assert.True(t, state.MessagingRestricted)

	res := f.orch.HandleSend(ctx, pipeline.SendRequest{
		ConversationID: f.conv.ID.String(),
		SenderID:       f.buyer.String(),
		Text:           "dm me on instagram",
		Nonce:          "x",
	})
	require.False(t, res.OK())
	assert.Equal(t, domain.CodeUserRestricted, res.Err.Code)
}

func TestSendRejectsBadRequests(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	stranger := uuid.New()

	tests := []struct {
		name string
		req  pipeline.SendRequest
		code string
	}{
		{
			name: "malformed conversation",
			req:  pipeline.SendRequest{ConversationID: "nope", SenderID: f.buyer.String(), Text: "hi"},
			code: domain.CodeInvalidConversationID,
		},
		{
			name: "unknown conversation",
			req:  pipeline.SendRequest{ConversationID: uuid.NewString(), SenderID: f.buyer.String(), Text: "hi"},
			code: domain.CodeInvalidConversationID,
		},
		{
			name: "malformed sender",
			req:  pipeline.SendRequest{ConversationID: f.conv.ID.String(), SenderID: "", Text: "hi"},
			code: domain.CodeInvalidSender,
		},
		{
			name: "sender differs from connection user",
			req:  pipeline.SendRequest{ConversationID: f.conv.ID.String(), SenderID: f.buyer.String(), Text: "hi", Actor: f.seller},
			code: domain.CodeInvalidSender,
		},
		{
			name: "not a participant",
			req:  pipeline.SendRequest{ConversationID: f.conv.ID.String(), SenderID: stranger.String(), Text: "hi"},
			code: domain.CodeNotParticipant,
		},
		{
			name: "malformed product",
			req:  pipeline.SendRequest{ConversationID: f.conv.ID.String(), SenderID: f.buyer.String(), Text: "hi", ProductID: "sku-1"},
			code: domain.CodeInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.orch.HandleSend(context.Background(), tt.req)
			require.False(t, res.OK())
			assert.Equal(t, tt.code, res.Err.Code)
		})
	}

	assert.Empty(t, f.history(t))
}

func TestPersistFailureEndsTimeline(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	ctx := context.Background()
	logger := zap.NewNop()

	orch := pipeline.New(pipeline.Deps{
		Moderator:     moderation.NewEngine(moderation.DefaultBannedTerms),
		Enforcer:      f.ledger,
		Messages:      failingMessages{MessageStore: service.NewMessageService(f.store, logger), err: errors.New("disk full")},
		DebugLog:      f.debugLog,
		Notifications: f.dispatcher,
		Conversations: f.store.Conversations,
	}, logger)
	t.Cleanup(orch.Close)

	res := orch.HandleSend(ctx, pipeline.SendRequest{
		ConversationID: f.conv.ID.String(),
		SenderID:       f.buyer.String(),
		Text:           "is it still available?",
	})
	require.False(t, res.OK())
	assert.Equal(t, domain.CodeSendFailed, res.Err.Code)
	f.settle(t)

	failed, err := f.debugLog.GetConversationLogs(ctx, f.conv.ID, domain.DebugLogFilter{Event: domain.EventMessageFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, domain.CodeSendFailed, failed[0].Payload["code"])

	timeline, err := f.debugLog.GetMessageTimeline(ctx, failed[0].MessageID)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.EventMessageReceived, domain.EventMessageFailed}, events(timeline))
	assert.Empty(t, f.history(t))
}

func TestPostProcessingFailuresDoNotAffectSender(t *testing.T) {
	t.Parallel()

	t.Run("dispatcher error", func(t *testing.T) {
		t.Parallel()
		f := setupTest(t)
		f.dispatcher.err = errors.New("redis down")

		res := f.send(t, f.buyer, "hello")
		require.True(t, res.OK())
		f.settle(t)

		failed, err := f.debugLog.GetConversationLogs(context.Background(), f.conv.ID, domain.DebugLogFilter{Event: domain.EventNotificationFailed})
		require.NoError(t, err)
		assert.Len(t, failed, 1)
	})

	t.Run("dispatcher panic", func(t *testing.T) {
		t.Parallel()
		f := setupTest(t)
		f.dispatcher.panic = true

		res := f.send(t, f.buyer, "hello")
		require.True(t, res.OK())
		f.settle(t)
		assert.Len(t, f.history(t), 1)
	})
}

func TestJoin(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	ctx := context.Background()

	res := f.orch.Join(ctx, f.conv.ID.String(), f.seller)
	require.True(t, res.OK())
	assert.Equal(t, f.conv.ID, res.Conversation.ID)

	res = f.orch.Join(ctx, f.conv.ID.String(), uuid.New())
	require.False(t, res.OK())
	assert.Equal(t, domain.CodeNotParticipant, res.Err.Code)

	res = f.orch.Join(ctx, "bad", f.seller)
	assert.Equal(t, domain.CodeInvalidConversationID, res.Err.Code)
}
