package bot

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/keepmind9/chatbridge/internal/logger"
	"github.com/keepmind9/chatbridge/internal/refcache"
	"github.com/keepmind9/chatbridge/internal/result"
	"github.com/keepmind9/chatbridge/pkg/constants"
	"github.com/sirupsen/logrus"
)

// DiscordSession defines the interface we need from discordgo.Session.
// This allows us to mock it in tests without depending on concrete types.
type DiscordSession interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
	MessageThreadStart(channelID, messageID, name string, archiveDuration int, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelFileSend(channelID, name string, r io.Reader, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildMembers(guildID string, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Token   string
	GuildID string // scope for channel and member listings

	CacheSize int
	CacheTTL  time.Duration
}

// DiscordAdapter implements the Adapter interface for Discord.
//
// Discord message ids are globally unique snowflakes, but the REST API still
// addresses edits and deletes by (channel, message), so the adapter keeps a
// reference cache like Slack's.
type DiscordAdapter struct {
	mu  sync.RWMutex
	cfg DiscordConfig

	Session DiscordSession // exported for tests, created in Connect when nil

	cache      *refcache.Cache
	dispatcher *Dispatcher
	botUserID  string
	connected  bool
}

// NewDiscordAdapter creates a new Discord adapter instance.
func NewDiscordAdapter(cfg DiscordConfig) *DiscordAdapter {
	return &DiscordAdapter{
		cfg:        cfg,
		cache:      refcache.New("discord", cfg.CacheSize, cfg.CacheTTL),
		dispatcher: NewDispatcher(),
	}
}

// Platform returns "discord".
func (d *DiscordAdapter) Platform() string { return "discord" }

// OnEvent registers a listener for every normalized event.
func (d *DiscordAdapter) OnEvent(handler EventHandler) {
	d.dispatcher.OnAny(handler)
}

// Connect opens the Discord gateway connection and registers event
// handlers. Calling Connect while connected is a no-op.
func (d *DiscordAdapter) Connect(ctx context.Context) error {
	d.mu.Lock()
	if d.connected {
		d.mu.Unlock()
		return nil
	}
	session := d.Session
	d.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"token": maskSecret(d.cfg.Token),
		"guild": d.cfg.GuildID,
	}).Info("connecting-discord-adapter")

	if session == nil {
		dg, err := discordgo.New("Bot " + d.cfg.Token)
		if err != nil {
			return &result.ConnectionError{Platform: "discord", Cause: err}
		}
		dg.Identify.Intents = discordgo.IntentsGuilds |
			discordgo.IntentsGuildMessages |
			discordgo.IntentsGuildMessageReactions |
			discordgo.IntentsGuildMembers |
			discordgo.IntentMessageContent
		session = dg
	}

	d.registerHandlers(session)

	if err := session.Open(); err != nil {
		return &result.ConnectionError{Platform: "discord", Cause: err}
	}

	d.mu.Lock()
	d.Session = session
	d.connected = true
	d.mu.Unlock()

	logger.Info("discord-adapter-connected")
	return nil
}

// Disconnect closes the gateway connection.
func (d *DiscordAdapter) Disconnect() error {
	d.mu.Lock()
	session := d.Session
	d.connected = false
	d.mu.Unlock()

	if session == nil {
		return nil
	}
	if err := session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	logger.Info("discord-adapter-disconnected")
	return nil
}

// IsConnected reports the current connection state.
func (d *DiscordAdapter) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// SendMessage sends a text message to a Discord channel. When opts.ThreadID
// is set the message goes into that thread channel.
func (d *DiscordAdapter) SendMessage(ctx context.Context, channelID, text string, opts *SendOptions) result.Result[*Message] {
	session := d.getSession()
	if session == nil {
		return result.Fail[*Message](&result.SendError{Platform: "discord", ChannelID: channelID, Cause: errNotConnected})
	}

	text = truncateMessage("discord", text, constants.MaxDiscordMessageLength)

	target := channelID
	var sent *discordgo.Message
	var err error
	if opts != nil && opts.ThreadID != "" {
		// Discord threads are channels; sending into the thread id targets it.
		target = opts.ThreadID
	}
	if opts != nil && opts.Discord != nil && opts.Discord.TTS {
		sent, err = session.ChannelMessageSendComplex(target, &discordgo.MessageSend{Content: text, TTS: true})
	} else {
		sent, err = session.ChannelMessageSend(target, text)
	}
	if err != nil {
		logger.WithFields(logrus.Fields{
			"channel": target,
			"error":   err,
		}).Error("failed-to-send-message-to-discord")
		return result.Fail[*Message](&result.SendError{Platform: "discord", ChannelID: channelID, Cause: err})
	}

	m := d.normalizeMessage(sent)
	cacheMessage(d.cache, m)

	logger.WithField("channel", target).Info("message-sent-to-discord")
	return result.Ok(m)
}

// EditMessage replaces the content of a previously sent message.
func (d *DiscordAdapter) EditMessage(ctx context.Context, ref MessageRef, text string) result.Result[*Message] {
	session := d.getSession()
	if session == nil {
		return result.Fail[*Message](&result.EditError{Platform: "discord", MessageID: ref.ID(), Cause: errNotConnected})
	}

	mctx, err := resolveRef(d.cache, ref)
	if err != nil {
		return result.Fail[*Message](&result.EditError{Platform: "discord", MessageID: ref.ID(), Cause: err})
	}

	text = truncateMessage("discord", text, constants.MaxDiscordMessageLength)

	edited, err := session.ChannelMessageEdit(mctx.ChannelID, ref.ID(), text)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"channel":    mctx.ChannelID,
			"message_id": ref.ID(),
			"error":      err,
		}).Error("failed-to-edit-discord-message")
		return result.Fail[*Message](&result.EditError{Platform: "discord", MessageID: ref.ID(), Cause: err})
	}

	m := d.normalizeMessage(edited)
	cacheMessage(d.cache, m)
	return result.Ok(m)
}

// DeleteMessage deletes a previously sent message and drops its cached
// context.
func (d *DiscordAdapter) DeleteMessage(ctx context.Context, ref MessageRef) result.Result[result.Void] {
	session := d.getSession()
	if session == nil {
		return result.Fail[result.Void](&result.DeleteError{Platform: "discord", MessageID: ref.ID(), Cause: errNotConnected})
	}

	mctx, err := resolveRef(d.cache, ref)
	if err != nil {
		return result.Fail[result.Void](&result.DeleteError{Platform: "discord", MessageID: ref.ID(), Cause: err})
	}

	if err := session.ChannelMessageDelete(mctx.ChannelID, ref.ID()); err != nil {
		return result.Fail[result.Void](&result.DeleteError{Platform: "discord", MessageID: ref.ID(), Cause: err})
	}

	d.cache.Remove(ref.ID())
	return result.Done()
}

// AddReaction adds an emoji reaction to a message.
func (d *DiscordAdapter) AddReaction(ctx context.Context, ref MessageRef, emoji string) result.Result[result.Void] {
	return d.updateReaction(ref, emoji, true)
}

// RemoveReaction removes the bot's own reaction from a message.
func (d *DiscordAdapter) RemoveReaction(ctx context.Context, ref MessageRef, emoji string) result.Result[result.Void] {
	return d.updateReaction(ref, emoji, false)
}

func (d *DiscordAdapter) updateReaction(ref MessageRef, emoji string, add bool) result.Result[result.Void] {
	session := d.getSession()
	if session == nil {
		return result.Fail[result.Void](&result.ReactionError{Platform: "discord", MessageID: ref.ID(), Emoji: emoji, Cause: errNotConnected})
	}

	mctx, err := resolveRef(d.cache, ref)
	if err != nil {
		return result.Fail[result.Void](&result.ReactionError{Platform: "discord", MessageID: ref.ID(), Emoji: emoji, Cause: err})
	}

	if add {
		err = session.MessageReactionAdd(mctx.ChannelID, ref.ID(), emoji)
	} else {
		err = session.MessageReactionRemove(mctx.ChannelID, ref.ID(), emoji, "@me")
	}
	if err != nil {
		return result.Fail[result.Void](&result.ReactionError{Platform: "discord", MessageID: ref.ID(), Emoji: emoji, Cause: err})
	}
	return result.Done()
}

// CreateThread starts a thread on the referenced message and posts text as
// its first reply.
func (d *DiscordAdapter) CreateThread(ctx context.Context, ref MessageRef, text string) result.Result[*Message] {
	session := d.getSession()
	if session == nil {
		return result.Fail[*Message](&result.SendError{Platform: "discord", Cause: errNotConnected})
	}

	mctx, err := resolveRef(d.cache, ref)
	if err != nil {
		return result.Fail[*Message](&result.SendError{Platform: "discord", Cause: err})
	}

	name := text
	if len(name) > 40 {
		name = name[:40]
	}
	thread, err := session.MessageThreadStart(mctx.ChannelID, ref.ID(), name, 60)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"channel":    mctx.ChannelID,
			"message_id": ref.ID(),
			"error":      err,
		}).Error("failed-to-start-discord-thread")
		return result.Fail[*Message](&result.SendError{Platform: "discord", ChannelID: mctx.ChannelID, Cause: err})
	}

	return d.SendMessage(ctx, mctx.ChannelID, text, &SendOptions{ThreadID: thread.ID})
}

// UploadFile uploads a file to a Discord channel.
func (d *DiscordAdapter) UploadFile(ctx context.Context, channelID string, file File, opts *SendOptions) result.Result[*Message] {
	session := d.getSession()
	if session == nil {
		return result.Fail[*Message](&result.SendError{Platform: "discord", ChannelID: channelID, Cause: errNotConnected})
	}

	target := channelID
	if opts != nil && opts.ThreadID != "" {
		target = opts.ThreadID
	}
	sent, err := session.ChannelFileSend(target, file.Name, file.Reader)
	if err != nil {
		return result.Fail[*Message](&result.SendError{Platform: "discord", ChannelID: channelID, Cause: err})
	}

	m := d.normalizeMessage(sent)
	cacheMessage(d.cache, m)
	return result.Ok(m)
}

// GetChannels lists the text channels of the configured guild.
func (d *DiscordAdapter) GetChannels(ctx context.Context) result.Result[[]Channel] {
	session := d.getSession()
	if session == nil {
		return result.Fail[[]Channel](&result.DirectoryError{Platform: "discord", Cause: errNotConnected})
	}

	raw, err := session.GuildChannels(d.cfg.GuildID)
	if err != nil {
		return result.Fail[[]Channel](&result.DirectoryError{Platform: "discord", Cause: err})
	}

	channels := make([]Channel, 0, len(raw))
	for _, ch := range raw {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		channels = append(channels, Channel{
			ID:   ch.ID,
			Name: ch.Name,
		})
	}
	return result.Ok(channels)
}

// GetUsers lists the members of the configured guild. Discord membership is
// guild-scoped, so the guild roster is returned regardless of channelID.
func (d *DiscordAdapter) GetUsers(ctx context.Context, channelID string) result.Result[[]User] {
	session := d.getSession()
	if session == nil {
		return result.Fail[[]User](&result.DirectoryError{Platform: "discord", ChannelID: channelID, Cause: errNotConnected})
	}

	raw, err := session.GuildMembers(d.cfg.GuildID, "", 1000)
	if err != nil {
		return result.Fail[[]User](&result.DirectoryError{Platform: "discord", ChannelID: channelID, Cause: err})
	}

	users := make([]User, 0, len(raw))
	for _, member := range raw {
		if member.User == nil {
			continue
		}
		users = append(users, User{
			ID:          member.User.ID,
			Name:        member.User.Username,
			DisplayName: member.Nick,
			IsBot:       member.User.Bot,
		})
	}
	return result.Ok(users)
}

// registerHandlers wires the gateway events into the dispatcher.
func (d *DiscordAdapter) registerHandlers(session DiscordSession) {
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		msg := d.normalizeMessage(m.Message)
		cacheMessage(d.cache, msg)
		logger.WithFields(logrus.Fields{
			"platform":   "discord",
			"user_id":    msg.UserID,
			"channel":    msg.ChannelID,
			"message_id": msg.ID,
		}).Debug("received-discord-message")
		d.dispatcher.Dispatch(Event{Type: EventMessage, Platform: "discord", Message: msg})
	})

	session.AddHandler(func(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
		d.dispatcher.Dispatch(Event{Type: EventReactionAdded, Platform: "discord", Reaction: &ReactionEvent{
			MessageID: r.MessageID,
			ChannelID: r.ChannelID,
			UserID:    r.UserID,
			Emoji:     r.Emoji.Name,
			Added:     true,
		}})
	})

	session.AddHandler(func(s *discordgo.Session, r *discordgo.MessageReactionRemove) {
		d.dispatcher.Dispatch(Event{Type: EventReactionRemoved, Platform: "discord", Reaction: &ReactionEvent{
			MessageID: r.MessageID,
			ChannelID: r.ChannelID,
			UserID:    r.UserID,
			Emoji:     r.Emoji.Name,
			Added:     false,
		}})
	})

	session.AddHandler(func(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
		if m.User == nil {
			return
		}
		d.dispatcher.Dispatch(Event{Type: EventUserJoined, Platform: "discord", Member: &MemberEvent{
			UserID: m.User.ID,
			Joined: true,
		}})
	})

	session.AddHandler(func(s *discordgo.Session, m *discordgo.GuildMemberRemove) {
		if m.User == nil {
			return
		}
		d.dispatcher.Dispatch(Event{Type: EventUserLeft, Platform: "discord", Member: &MemberEvent{
			UserID: m.User.ID,
			Joined: false,
		}})
	})

	session.AddHandler(func(s *discordgo.Session, c *discordgo.ChannelCreate) {
		d.dispatcher.Dispatch(Event{Type: EventChannelCreated, Platform: "discord", Channel: &ChannelEvent{
			ChannelID: c.ID,
			Name:      c.Name,
			Created:   true,
		}})
	})

	session.AddHandler(func(s *discordgo.Session, c *discordgo.ChannelDelete) {
		d.dispatcher.Dispatch(Event{Type: EventChannelDeleted, Platform: "discord", Channel: &ChannelEvent{
			ChannelID: c.ID,
			Name:      c.Name,
			Created:   false,
		}})
	})
}

// normalizeMessage converts a discordgo message into the unified model.
func (d *DiscordAdapter) normalizeMessage(m *discordgo.Message) *Message {
	userID := ""
	if m.Author != nil {
		userID = m.Author.ID
	}
	threadID := ""
	if m.Thread != nil {
		threadID = m.Thread.ID
	}

	msg := &Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		UserID:    userID,
		Text:      m.Content,
		Timestamp: m.Timestamp,
		ThreadID:  threadID,
		Platform:  "discord",
		Raw:       m,
	}
	for _, att := range m.Attachments {
		if att == nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, Attachment{
			ID:       att.ID,
			Filename: att.Filename,
			URL:      att.URL,
			MimeType: att.ContentType,
			Size:     int64(att.Size),
		})
	}
	return msg
}

func (d *DiscordAdapter) getSession() DiscordSession {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.Session
}
