package chat

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flemzord/rolegate/internal/adapter"
	"github.com/flemzord/rolegate/internal/buffer"
	"github.com/flemzord/rolegate/internal/security"
	"github.com/flemzord/rolegate/internal/store"
)

// Notices sent back to the chat.
const (
	NoticeEmptyRequest = "Add a message after the role mention."
	NoticeFailed       = "The provider request failed. Try again later."
	NoticeUnauthorized = "Authorization required. Send your token in a private message."
	NoticeFieldStored  = "Saved. Replaying your last message."
)

// Inbound is a chat message as delivered by the front end.
type Inbound struct {
	ChatID    int64  `json:"chat_id"`
	ChatTitle string `json:"chat_title,omitempty"`
	UserID    int64  `json:"user_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	// ReplyText is the text of the quoted message, if any.
	ReplyText string `json:"reply_text,omitempty"`
	// Private marks a direct conversation with the bot. Private text
	// answers a pending field request.
	Private bool `json:"private,omitempty"`
}

// Outbound is a message for the front end to deliver.
type Outbound struct {
	ChatID  int64 `json:"chat_id"`
	ReplyTo int64 `json:"reply_to,omitempty"`
	// UserID, when set, asks the front end to address the user directly.
	UserID int64  `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
	Text   string `json:"text"`
	// NeedsField is set when the user must supply a field value; Text
	// then carries the provider's prompt.
	NeedsField *FieldRequest `json:"needs_field,omitempty"`
}

// Sender delivers outbound messages to the chat platform.
type Sender interface {
	Send(ctx context.Context, out Outbound) error
}

// LogSender logs outbound messages. It stands in when no front end is
// registered.
type LogSender struct {
	Logger *slog.Logger
}

// Send implements Sender.
func (s LogSender) Send(_ context.Context, out Outbound) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("outbound message",
		"chat_id", out.ChatID, "reply_to", out.ReplyTo, "role", out.Role,
		"needs_field", out.NeedsField != nil, "length", len(out.Text))
	return nil
}

// DispatcherConfig holds the configuration for a Dispatcher.
type DispatcherConfig struct {
	Service *Service
	Buffer  *buffer.Buffer
	Groups  store.GroupStore
	Sender  Sender

	// OwnerUserID, when non-zero, is the only user whose messages are
	// routed.
	OwnerUserID    int64
	BotUsername    string
	RequireMention bool

	RateLimiter    *security.RateLimiter
	MaxMessageSize int
	Logger         *slog.Logger
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Buffer == nil {
		c.Buffer = buffer.New(buffer.Config{})
	}
	if c.Sender == nil {
		c.Sender = LogSender{Logger: c.Logger}
	}
	return c
}

// Dispatcher buffers inbound messages per sender, flushes each burst once
// and runs the routed roles one conversation at a time.
type Dispatcher struct {
	cfg     DispatcherConfig
	service *Service
	buffer  *buffer.Buffer
	logger  *slog.Logger

	senderMu sync.RWMutex
	sender   Sender

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Flushes run on a context that Stop
// cancels.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		service: cfg.Service,
		buffer:  cfg.Buffer,
		sender:  cfg.Sender,
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetSender replaces the outbound sender. Front ends call it while the
// application starts.
func (d *Dispatcher) SetSender(s Sender) {
	d.senderMu.Lock()
	defer d.senderMu.Unlock()
	d.sender = s
}

// Submit accepts one inbound message. Group messages are buffered and the
// first addressed message of a burst schedules a flush after the window.
// Private messages answer a pending field request.
func (d *Dispatcher) Submit(ctx context.Context, in Inbound) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}

	if err := security.ValidateMessage(in.Text, d.cfg.MaxMessageSize); err != nil {
		d.logger.Warn("message rejected", "chat_id", in.ChatID, "user_id", in.UserID, "error", err)
		return err
	}
	if err := d.cfg.RateLimiter.Allow(strconv.FormatInt(in.UserID, 10)); err != nil {
		d.logger.Warn("message rate limited", "chat_id", in.ChatID, "user_id", in.UserID)
		return err
	}

	if in.Private {
		return d.submitField(ctx, in)
	}

	if d.cfg.Groups != nil && in.ChatTitle != "" {
		if err := d.cfg.Groups.UpsertGroup(ctx, in.ChatID, in.ChatTitle); err != nil {
			d.logger.Warn("group upsert failed", "chat_id", in.ChatID, "error", err)
		}
	}
	if d.cfg.OwnerUserID != 0 && in.UserID != d.cfg.OwnerUserID {
		return nil
	}

	start := d.cfg.RequireMention && mentions(in.Text, d.cfg.BotUsername)
	if !d.cfg.RequireMention {
		roles, err := d.service.RolesFor(ctx, in.ChatID)
		if err != nil {
			return err
		}
		start = addressed(in.Text, d.cfg.BotUsername, roles, false)
	}

	key := buffer.Key{ChatID: in.ChatID, UserID: in.UserID}
	started := d.buffer.Add(key, buffer.Item{
		MessageID: in.MessageID,
		Content:   in.Text,
		ReplyText: in.ReplyText,
	}, start)
	d.logger.Debug("message buffered", "chat_id", in.ChatID, "user_id", in.UserID, "started", started)

	if started && d.buffer.MarkScheduled(key) {
		d.wg.Add(1)
		go d.flush(key)
	}
	return nil
}

func (d *Dispatcher) submitField(ctx context.Context, in Inbound) error {
	p, err := d.service.SubmitField(ctx, in.UserID, in.Text)
	if errors.Is(err, ErrNoPendingField) {
		d.logger.Debug("private message without pending field", "user_id", in.UserID)
		return nil
	}
	if err != nil {
		return err
	}
	d.send(ctx, Outbound{ChatID: in.ChatID, ReplyTo: in.MessageID, UserID: in.UserID, Text: NoticeFieldStored})
	d.replayAsync(p)
	return nil
}

// ReplayAsync schedules Replay in the background. It fails after Stop.
func (d *Dispatcher) ReplayAsync(p store.PendingField) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}
	d.replayAsync(p)
	return nil
}

// replayAsync requires d.mu to be read-locked.
func (d *Dispatcher) replayAsync(p store.PendingField) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.Replay(d.ctx, p); err != nil {
			d.logger.Error("replay after field submission failed", "user_id", p.UserID, "error", err)
		}
	}()
}

// Replay reruns the message recorded with a pending field request.
func (d *Dispatcher) Replay(ctx context.Context, p store.PendingField) error {
	route := Route{Content: p.Content}
	if strings.EqualFold(p.RoleName, allRoles) {
		roles, err := d.service.RolesFor(ctx, p.ChatID)
		if err != nil {
			return err
		}
		route.Roles, route.All = roles, true
	} else {
		role, err := d.service.RoleByName(ctx, p.RoleName)
		if err != nil {
			return err
		}
		route.Roles = []store.Role{role}
	}
	d.run(ctx, p.UserID, p.ChatID, p.MessageID, route, p.ReplyText)
	return nil
}

func (d *Dispatcher) flush(key buffer.Key) {
	defer d.wg.Done()
	ctx := d.ctx
	log := d.logger.With("chat_id", key.ChatID, "user_id", key.UserID)

	items, err := d.buffer.WaitAndCollect(ctx, key)
	if err != nil {
		log.Warn("flush abandoned", "items", len(items), "error", err)
		return
	}
	if len(items) == 0 {
		return
	}

	combined, replyText := Combine(items)
	roles, err := d.service.RolesFor(ctx, key.ChatID)
	if err != nil {
		log.Error("flush: load roles failed", "error", err)
		return
	}
	route, ok := RouteMessage(combined, d.cfg.BotUsername, roles, d.cfg.RequireMention)
	log.Info("flush", "items", len(items), "routed", ok, "reply_text", replyText != "")
	if !ok {
		return
	}
	if route.Content == "" {
		d.send(ctx, Outbound{ChatID: key.ChatID, ReplyTo: items[0].MessageID, Text: NoticeEmptyRequest})
		return
	}
	d.run(ctx, key.UserID, key.ChatID, items[0].MessageID, route, replyText)
}

// Combine joins buffered items with newlines and returns the first
// non-empty quoted reply.
func Combine(items []buffer.Item) (string, string) {
	parts := make([]string, len(items))
	var reply string
	for i, it := range items {
		parts[i] = it.Content
		if reply == "" && it.ReplyText != "" {
			reply = it.ReplyText
		}
	}
	return strings.Join(parts, "\n"), reply
}

// run handles route for every role in order. An authorization failure or
// a missing field stops the remaining roles; other failures are reported
// per role.
func (d *Dispatcher) run(ctx context.Context, userID, chatID, messageID int64, route Route, replyText string) {
	for _, role := range route.Roles {
		started := time.Now()
		reply, err := d.service.Handle(ctx, Request{
			UserID:    userID,
			ChatID:    chatID,
			MessageID: messageID,
			Role:      role,
			Content:   route.Content,
			ReplyText: replyText,
			AllRoles:  route.All,
		})

		switch {
		case adapter.IsUnauthorized(err):
			d.logger.Warn("provider rejected credentials", "user_id", userID, "role", role.Name)
			d.send(ctx, Outbound{ChatID: chatID, ReplyTo: messageID, UserID: userID, Text: NoticeUnauthorized})
			return
		case err != nil:
			d.logger.Error("provider request failed", "user_id", userID, "role", role.Name, "error", err)
			d.send(ctx, Outbound{ChatID: chatID, ReplyTo: messageID, Role: role.Name, Text: NoticeFailed})
			continue
		case reply.NeedsField != nil:
			d.send(ctx, Outbound{
				ChatID:     chatID,
				ReplyTo:    messageID,
				UserID:     userID,
				Role:       role.Name,
				Text:       reply.NeedsField.Prompt,
				NeedsField: reply.NeedsField,
			})
			return
		}

		d.logger.Info("reply ready", "user_id", userID, "role", role.Name,
			"recovered", reply.Recovered, "elapsed", time.Since(started))
		d.send(ctx, Outbound{ChatID: chatID, ReplyTo: messageID, Role: role.Name, Text: reply.Text})
	}
}

func (d *Dispatcher) send(ctx context.Context, out Outbound) {
	d.senderMu.RLock()
	sender := d.sender
	d.senderMu.RUnlock()
	if err := sender.Send(ctx, out); err != nil {
		d.logger.Error("send failed", "chat_id", out.ChatID, "error", err)
	}
}

// Stop rejects new messages, cancels pending flushes and waits for running
// ones until ctx ends.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
