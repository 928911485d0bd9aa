package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/pipeline"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	handleWait   = 30 * time.Second
)

// Pipeline is the message pipeline a connection feeds.
type Pipeline interface {
	HandleSend(ctx context.Context, req pipeline.SendRequest) pipeline.SendResult
	HandleRead(ctx context.Context, req pipeline.ReadRequest) pipeline.ReadResult
	Join(ctx context.Context, conversationID string, userID uuid.UUID) pipeline.JoinResult
}

// Client represents a single WebSocket connection. Inbound events are
// handled one at a time, so one connection's sends keep their order.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	pipeline Pipeline
	limiter  *rate.Limiter
	logger   *zap.Logger

	// user is the token subject, or the first user the connection
	// authenticates as. It never changes once set.
	mu   sync.RWMutex
	user uuid.UUID

	// Owned by the hub loop.
	rooms   map[uuid.UUID]struct{}
	hubUser uuid.UUID

	send chan []byte
}

type ClientOptions struct {
	TokenUser   uuid.UUID
	SendRate    float64
	SendBurst   int
	SendBufSize int
}

func NewClient(hub *Hub, conn *websocket.Conn, p Pipeline, opts ClientOptions, logger *zap.Logger) *Client {
	if opts.SendBufSize <= 0 {
		opts.SendBufSize = 256
	}
	limit := rate.Inf
	if opts.SendRate > 0 {
		limit = rate.Limit(opts.SendRate)
	}
	return &Client{
		hub:       hub,
		conn:      conn,
		pipeline:  p,
		limiter:   rate.NewLimiter(limit, max(opts.SendBurst, 1)),
		logger:    logger,
		user:      opts.TokenUser,
		rooms:     make(map[uuid.UUID]struct{}),
		send:      make(chan []byte, opts.SendBufSize),
	}
}

func (c *Client) currentUser() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// canBind reports whether the connection may act as id. A connection acts as
// at most one user: the token subject, or the first user it authenticates as.
func (c *Client) canBind(id uuid.UUID) bool {
	bound := c.currentUser()
	return bound == uuid.Nil || bound == id
}

// bind sets the connection's user unless it is already bound to another one.
func (c *Client) bind(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user != uuid.Nil && c.user != id {
		return false
	}
	c.user = id
	return true
}

// ReadPump reads events until the connection fails or ctx is done.
func (c *Client) ReadPump(ctx context.Context) {
	for {
		var in Inbound
		err := wsjson.Read(ctx, c.conn, &in)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.logger.Debug("Client disconnected", zap.Stringer("userID", c.currentUser()))
			} else {
				c.logger.Warn("Read error", zap.Stringer("userID", c.currentUser()), zap.Error(err))
			}
			return
		}
		c.handleEvent(ctx, &in)
	}
}

// WritePump writes queued events until the hub drops the client.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(wctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.logger.Debug("Write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.logger.Debug("Ping error", zap.Error(err))
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// handleEvent routes an incoming client event. Pipeline calls outlive a
// dropped connection so accepted sends complete.
func (c *Client) handleEvent(ctx context.Context, in *Inbound) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handleWait)
	defer cancel()

	switch in.Event {
	case EventAuth:
		c.handleAuth(in)
	case EventJoinRoom:
		c.handleJoin(ctx, in)
	case EventLeaveRoom:
		c.handleLeave(in)
	case EventSendMessage:
		c.handleSend(ctx, in)
	case EventMessageRead:
		c.handleRead(ctx, in)
	case EventTyping:
		c.handleTyping(in)
	case EventPing:
		c.reply(EventPong, in.AckID, nil)
	default:
		c.sendError(domain.CodeInvalidPayload, "unknown event: "+in.Event)
	}
}

func (c *Client) handleAuth(in *Inbound) {
	var p AuthPayload
	if !c.decode(in, &p) {
		return
	}
	id, err := uuid.Parse(p.UserID)
	if err != nil {
		c.sendError(domain.CodeInvalidSender, "user id is malformed")
		return
	}
	if !c.bind(id) {
		c.sendError(domain.CodeInvalidSender, "user does not match the authenticated user")
		return
	}
	c.hub.AssociateUser(c, id)
	if in.AckID != "" {
		c.ack(in.AckID, AckPayload{OK: true})
	}
}

func (c *Client) handleJoin(ctx context.Context, in *Inbound) {
	var p RoomPayload
	if !c.decode(in, &p) {
		return
	}

	userID := c.currentUser()
	if p.UserID != "" {
		id, err := uuid.Parse(p.UserID)
		if err != nil || !c.canBind(id) {
			c.ack(in.AckID, failure(domain.ValidationError(domain.CodeInvalidSender, "user does not match the authenticated user")))
			return
		}
		userID = id
	}

	res := c.pipeline.Join(ctx, p.ConversationID, userID)
	if !res.OK() {
		c.ack(in.AckID, failure(res.Err))
		return
	}
	if !c.bind(userID) {
		c.ack(in.AckID, failure(domain.ValidationError(domain.CodeInvalidSender, "user does not match the authenticated user")))
		return
	}
	c.hub.AssociateUser(c, userID)
	c.hub.Join(c, res.Conversation.ID)
	c.ack(in.AckID, AckPayload{OK: true, Data: res.Conversation})
}

func (c *Client) handleLeave(in *Inbound) {
	var p RoomPayload
	if !c.decode(in, &p) {
		return
	}
	id, err := uuid.Parse(p.ConversationID)
	if err != nil {
		c.ack(in.AckID, failure(domain.ValidationError(domain.CodeInvalidConversationID, "conversation id is malformed")))
		return
	}
	c.hub.Leave(c, id)
	c.ack(in.AckID, AckPayload{OK: true})
}

func (c *Client) handleSend(ctx context.Context, in *Inbound) {
	var p SendMessagePayload
	if !c.decode(in, &p) {
		return
	}
	if !c.limiter.Allow() {
		c.ack(in.AckID, failure(domain.ValidationError(domain.CodeRateLimited, "too many messages, slow down")))
		return
	}

	res := c.pipeline.HandleSend(ctx, pipeline.SendRequest{
		ConversationID: p.ConversationID,
		SenderID:       p.Sender,
		Text:           p.Text,
		Attachments:    p.Attachments,
		ProductID:      p.ProductRef,
		Nonce:          p.Nonce,
		Actor:          c.currentUser(),
	})
	if res.OK() {
		c.ack(in.AckID, AckPayload{OK: true, Data: res.Message})
		return
	}

	ack := failure(res.Err)
	ack.Violations = res.Violations
	c.ack(in.AckID, ack)

	switch res.Err.Code {
	case domain.CodeContentViolation, domain.CodeUserRestricted:
		violations := res.Violations
		if violations == nil {
			violations = []domain.ViolationKind{}
		}
		c.reply(EventMessageBlocked, "", MessageBlockedPayload{Violations: violations, Reason: res.Reason()})
	}
	if e := res.Enforcement; e != nil && e.Recorded && e.Action != domain.ActionNone {
		c.reply(EventEnforcementAction, "", EnforcementActionPayload{
			Action:         e.Action,
			Message:        e.Message,
			ViolationCount: e.State.ViolationCount,
		})
	}
}

func (c *Client) handleRead(ctx context.Context, in *Inbound) {
	var p MessageReadPayload
	if !c.decode(in, &p) {
		return
	}
	res := c.pipeline.HandleRead(ctx, pipeline.ReadRequest{
		ConversationID: p.ConversationID,
		MessageID:      p.MessageID,
		UserID:         p.UserID,
		Actor:          c.currentUser(),
	})
	if !res.OK() {
		c.ack(in.AckID, failure(res.Err))
		return
	}
	c.ack(in.AckID, AckPayload{OK: true, Data: ReadStatusPayload{MessageID: res.MessageID, ReadBy: res.ReadBy}})
}

func (c *Client) handleTyping(in *Inbound) {
	var p RoomPayload
	if !c.decode(in, &p) {
		return
	}
	convID, err := uuid.Parse(p.ConversationID)
	if err != nil {
		c.sendError(domain.CodeInvalidConversationID, "conversation id is malformed")
		return
	}
	userID := c.currentUser()
	if userID == uuid.Nil {
		c.sendError(domain.CodeInvalidSender, "authenticate before typing")
		return
	}
	c.hub.broadcastExcept(convID, EventUserTyping, TypingPayload{ConversationID: convID, UserID: userID}, c)
}

func (c *Client) decode(in *Inbound, v any) bool {
	if len(in.Data) == 0 || sonic.Unmarshal(in.Data, v) != nil {
		if in.AckID != "" {
			c.ack(in.AckID, failure(domain.ValidationError(domain.CodeInvalidPayload, "invalid "+in.Event+" payload")))
		} else {
			c.sendError(domain.CodeInvalidPayload, "invalid "+in.Event+" payload")
		}
		return false
	}
	return true
}

// ack answers a request. Requests without an ack id get no answer.
func (c *Client) ack(ackID string, payload AckPayload) {
	if ackID == "" {
		return
	}
	c.reply(EventAck, ackID, payload)
}

func (c *Client) reply(event, ackID string, data any) {
	msg, err := encode(event, ackID, data)
	if err != nil {
		c.logger.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}
	c.hub.sendTo(c, msg)
}

func (c *Client) sendError(code, message string) {
	c.reply(EventError, "", ErrorPayload{Code: code, Message: message})
}

func failure(err *domain.Error) AckPayload {
	return AckPayload{OK: false, Error: err.Code, Reason: err.Message}
}
