// Package bot provides the unified data model, adapter contract, registry
// and event dispatcher for IM platforms.
//
// This package implements a single caller-facing surface over chat platforms
// whose message-addressing models are structurally incompatible. Slack,
// Discord and Telegram address a message by (container, item) — editing
// needs the channel/chat id in addition to the message id — while Feishu
// addresses it by message id alone. Adapters for the first group own a
// reference cache (internal/refcache) mapping message ids to their container
// context, so every mutation operation accepts one MessageRef signature on
// every platform.
//
// # Supported Platforms
//
//   - Slack: Socket Mode push connection or Events API HTTP callback
//   - Discord: WebSocket gateway with real-time events
//   - Telegram: long polling for updates
//   - Feishu/Lark: WebSocket long connection for enterprise messaging
//
// # Usage
//
//   1. Create an adapter with the New* function for your platform
//   2. Register it (bot.DefaultRegistry.Register) or hand it to the façade
//   3. The façade calls Connect and subscribes to the event stream
//   4. Messaging operations return result.Result values; inspect Err()
//
// # Thread Safety
//
// All adapters are safe for concurrent use and protect shared state with
// internal mutexes. Event handlers may be called concurrently from SDK
// goroutines.
package bot

import (
	"context"

	"github.com/keepmind9/chatbridge/internal/result"
)

// Adapter is the contract every platform implementation satisfies.
//
// Connect returns a plain error (typically *result.ConnectionError) rather
// than a Result: a connection failure aborts façade usability entirely,
// while every per-operation failure after that is recoverable and therefore
// travels inside a Result.
type Adapter interface {
	// Platform returns the platform tag, e.g. "slack".
	Platform() string

	// Connect establishes the transport connection using the credentials
	// supplied at construction and begins delivering events.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down. The adapter can be connected
	// again afterwards.
	Disconnect() error

	// IsConnected reports the current connection state.
	IsConnected() bool

	// SendMessage sends text to a channel. The adapter truncates or splits
	// to platform limits and applies platform-specific formatting options.
	SendMessage(ctx context.Context, channelID, text string, opts *SendOptions) result.Result[*Message]

	// EditMessage replaces the text of a previously sent message.
	EditMessage(ctx context.Context, ref MessageRef, text string) result.Result[*Message]

	// DeleteMessage deletes a previously sent message and drops any cached
	// context for it.
	DeleteMessage(ctx context.Context, ref MessageRef) result.Result[result.Void]

	// AddReaction adds an emoji reaction to a message.
	AddReaction(ctx context.Context, ref MessageRef, emoji string) result.Result[result.Void]

	// RemoveReaction removes an emoji reaction from a message.
	RemoveReaction(ctx context.Context, ref MessageRef, emoji string) result.Result[result.Void]

	// CreateThread posts text as a threaded reply rooted at the referenced
	// message.
	CreateThread(ctx context.Context, ref MessageRef, text string) result.Result[*Message]

	// UploadFile uploads a file to a channel.
	UploadFile(ctx context.Context, channelID string, file File, opts *SendOptions) result.Result[*Message]

	// GetChannels lists the channels visible to the bot.
	GetChannels(ctx context.Context) result.Result[[]Channel]

	// GetUsers lists users, scoped to a channel when channelID is non-empty.
	GetUsers(ctx context.Context, channelID string) result.Result[[]User]

	// OnEvent registers a listener invoked with every normalized event.
	OnEvent(handler EventHandler)
}
