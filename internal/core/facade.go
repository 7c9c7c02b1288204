// Package core provides the caller-facing bot façade and configuration
// management for chatbridge.
//
// The façade binds exactly one platform adapter, forwards the adapter's
// normalized event stream into its own dispatcher, and translates
// high-level calls (send, reply, edit, react) into adapter operations.
// Per-operation failures come back as result.Result values; only failures
// that make the façade unusable (no adapter, connection refused) are plain
// errors.
package core

import (
	"context"
	"errors"
	"sync"

	"github.com/keepmind9/chatbridge/internal/bot"
	"github.com/keepmind9/chatbridge/internal/logger"
	"github.com/keepmind9/chatbridge/internal/result"
	"github.com/sirupsen/logrus"
)

var errNilMessage = errors.New("reply target message is nil")

// Bot is the single object callers use to talk to one platform.
type Bot struct {
	mu         sync.Mutex
	adapter    bot.Adapter
	dispatcher *bot.Dispatcher
	started    bool
}

// New constructs a façade for a platform by looking its adapter up in the
// registry. A nil registry falls back to bot.DefaultRegistry. It returns
// *result.AdapterNotFoundError when no adapter is registered.
func New(platform string, registry *bot.Registry) (*Bot, error) {
	if registry == nil {
		registry = bot.DefaultRegistry
	}
	adapter, ok := registry.Get(platform)
	if !ok {
		return nil, &result.AdapterNotFoundError{Platform: platform}
	}
	return NewWithAdapter(adapter), nil
}

// NewWithAdapter constructs a façade bound directly to an adapter.
func NewWithAdapter(adapter bot.Adapter) *Bot {
	b := &Bot{
		adapter:    adapter,
		dispatcher: bot.NewDispatcher(),
	}
	// Every adapter event flows into the façade's own dispatcher.
	adapter.OnEvent(b.dispatcher.Dispatch)
	return b
}

// Platform returns the bound adapter's platform tag.
func (b *Bot) Platform() string {
	return b.adapter.Platform()
}

// Start connects the adapter using the credentials it was constructed
// with. It is idempotent: starting a connected bot is a no-op.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started && b.adapter.IsConnected() {
		return nil
	}
	if err := b.adapter.Connect(ctx); err != nil {
		return err
	}
	b.started = true
	logger.WithFields(logrus.Fields{
		"platform": b.adapter.Platform(),
	}).Info("bot-started")
	return nil
}

// Stop disconnects the adapter. The façade can be started again afterwards.
func (b *Bot) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return nil
	}
	if err := b.adapter.Disconnect(); err != nil {
		return err
	}
	b.started = false
	logger.WithFields(logrus.Fields{
		"platform": b.adapter.Platform(),
	}).Info("bot-stopped")
	return nil
}

// IsConnected reports the adapter's connection state.
func (b *Bot) IsConnected() bool {
	return b.adapter.IsConnected()
}

// SendMessage sends text to a channel.
func (b *Bot) SendMessage(ctx context.Context, channelID, text string, opts *bot.SendOptions) result.Result[*bot.Message] {
	return b.adapter.SendMessage(ctx, channelID, text, opts)
}

// Reply sends text as a threaded reply to a message. When the original is
// already in a thread the reply joins that thread; otherwise a new thread
// is rooted at the original message. The rule is uniform across platforms.
func (b *Bot) Reply(ctx context.Context, to *bot.Message, text string) result.Result[*bot.Message] {
	if to == nil {
		return result.Fail[*bot.Message](&result.SendError{Platform: b.adapter.Platform(),
			Cause: errNilMessage})
	}
	threadID := to.ThreadID
	if threadID == "" {
		threadID = to.ID
	}
	return b.adapter.SendMessage(ctx, to.ChannelID, text, &bot.SendOptions{ThreadID: threadID})
}

// EditMessage replaces the text of a previously sent message.
func (b *Bot) EditMessage(ctx context.Context, ref bot.MessageRef, text string) result.Result[*bot.Message] {
	return b.adapter.EditMessage(ctx, ref, text)
}

// DeleteMessage deletes a previously sent message.
func (b *Bot) DeleteMessage(ctx context.Context, ref bot.MessageRef) result.Result[result.Void] {
	return b.adapter.DeleteMessage(ctx, ref)
}

// AddReaction adds an emoji reaction to a message.
func (b *Bot) AddReaction(ctx context.Context, ref bot.MessageRef, emoji string) result.Result[result.Void] {
	return b.adapter.AddReaction(ctx, ref, emoji)
}

// RemoveReaction removes an emoji reaction from a message.
func (b *Bot) RemoveReaction(ctx context.Context, ref bot.MessageRef, emoji string) result.Result[result.Void] {
	return b.adapter.RemoveReaction(ctx, ref, emoji)
}

// CreateThread posts text as a threaded reply rooted at the referenced
// message.
func (b *Bot) CreateThread(ctx context.Context, ref bot.MessageRef, text string) result.Result[*bot.Message] {
	return b.adapter.CreateThread(ctx, ref, text)
}

// UploadFile uploads a file to a channel.
func (b *Bot) UploadFile(ctx context.Context, channelID string, file bot.File, opts *bot.SendOptions) result.Result[*bot.Message] {
	return b.adapter.UploadFile(ctx, channelID, file, opts)
}

// GetChannels lists the channels visible to the bot.
func (b *Bot) GetChannels(ctx context.Context) result.Result[[]bot.Channel] {
	return b.adapter.GetChannels(ctx)
}

// GetUsers lists users, scoped to a channel when channelID is non-empty.
func (b *Bot) GetUsers(ctx context.Context, channelID string) result.Result[[]bot.User] {
	return b.adapter.GetUsers(ctx, channelID)
}

// OnMessage registers a handler for inbound messages.
func (b *Bot) OnMessage(handler func(*bot.Message)) {
	b.dispatcher.On(bot.EventMessage, func(ev bot.Event) {
		if ev.Message != nil {
			handler(ev.Message)
		}
	})
}

// OnReaction registers a handler for reaction changes, both added and
// removed.
func (b *Bot) OnReaction(handler func(bot.ReactionEvent)) {
	wrapped := func(ev bot.Event) {
		if ev.Reaction != nil {
			handler(*ev.Reaction)
		}
	}
	b.dispatcher.On(bot.EventReactionAdded, wrapped)
	b.dispatcher.On(bot.EventReactionRemoved, wrapped)
}

// OnEvent registers a wildcard handler for every event.
func (b *Bot) OnEvent(handler bot.EventHandler) {
	b.dispatcher.OnAny(handler)
}
