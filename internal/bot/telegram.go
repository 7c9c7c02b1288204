package bot

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/keepmind9/chatbridge/internal/logger"
	"github.com/keepmind9/chatbridge/internal/refcache"
	"github.com/keepmind9/chatbridge/internal/result"
	"github.com/keepmind9/chatbridge/pkg/constants"
	"github.com/sirupsen/logrus"
)

// TelegramAPI defines the interface we need from tgbotapi.BotAPI.
// This allows us to mock it in tests without depending on concrete types.
type TelegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatAdministrators(config tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Token string

	CacheSize int
	CacheTTL  time.Duration
}

// TelegramAdapter implements the Adapter interface for Telegram using long
// polling.
//
// Telegram message ids are integers scoped to a chat, so every mutation
// needs the chat id as well; the adapter keeps a reference cache mapping
// message ids to their chat.
type TelegramAdapter struct {
	mu  sync.RWMutex
	cfg TelegramConfig

	API TelegramAPI // exported for tests, created in Connect when nil

	cache      *refcache.Cache
	dispatcher *Dispatcher
	connected  bool
	cancel     context.CancelFunc
}

// NewTelegramAdapter creates a new Telegram adapter instance.
func NewTelegramAdapter(cfg TelegramConfig) *TelegramAdapter {
	return &TelegramAdapter{
		cfg:        cfg,
		cache:      refcache.New("telegram", cfg.CacheSize, cfg.CacheTTL),
		dispatcher: NewDispatcher(),
	}
}

// Platform returns "telegram".
func (t *TelegramAdapter) Platform() string { return "telegram" }

// OnEvent registers a listener for every normalized event.
func (t *TelegramAdapter) OnEvent(handler EventHandler) {
	t.dispatcher.OnAny(handler)
}

// Connect initializes the bot API client and starts long polling. Calling
// Connect while connected is a no-op.
func (t *TelegramAdapter) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	api := t.API
	t.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"token": maskSecret(t.cfg.Token),
	}).Info("connecting-telegram-adapter")

	if api == nil {
		botAPI, err := tgbotapi.NewBotAPI(t.cfg.Token)
		if err != nil {
			return &result.ConnectionError{Platform: "telegram", Cause: err}
		}
		api = botAPI
	}

	runCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.API = api
	t.cancel = cancel
	t.connected = true
	t.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(constants.DefaultPollTimeout.Seconds())
	updates := api.GetUpdatesChan(u)

	go t.poll(runCtx, updates)

	logger.Info("telegram-adapter-connected")
	return nil
}

// Disconnect stops long polling.
func (t *TelegramAdapter) Disconnect() error {
	t.mu.Lock()
	cancel := t.cancel
	api := t.API
	t.cancel = nil
	t.connected = false
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if api != nil {
		api.StopReceivingUpdates()
	}
	logger.Info("telegram-adapter-disconnected")
	return nil
}

// IsConnected reports the current connection state.
func (t *TelegramAdapter) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// SendMessage sends a text message to a Telegram chat.
func (t *TelegramAdapter) SendMessage(ctx context.Context, channelID, text string, opts *SendOptions) result.Result[*Message] {
	api := t.getAPI()
	if api == nil {
		return result.Fail[*Message](&result.SendError{Platform: "telegram", ChannelID: channelID, Cause: errNotConnected})
	}

	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return result.Fail[*Message](&result.SendError{Platform: "telegram", ChannelID: channelID,
			Cause: fmt.Errorf("invalid chat id: %w", err)})
	}

	text = truncateMessage("telegram", text, constants.MaxTelegramMessageLength)

	msg := tgbotapi.NewMessage(chatID, text)
	if opts != nil {
		if opts.ThreadID != "" {
			// Telegram threads are reply chains rooted at a message id.
			if replyTo, err := strconv.Atoi(opts.ThreadID); err == nil {
				msg.ReplyToMessageID = replyTo
			}
		}
		if opts.Telegram != nil {
			msg.ParseMode = opts.Telegram.ParseMode
			msg.DisableNotification = opts.Telegram.DisableNotification
		}
	}

	sent, err := api.Send(msg)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"chat_id": channelID,
			"error":   err,
		}).Error("failed-to-send-message-to-telegram")
		return result.Fail[*Message](&result.SendError{Platform: "telegram", ChannelID: channelID, Cause: err})
	}

	m := t.normalizeMessage(&sent)
	cacheMessage(t.cache, m)

	logger.WithField("chat_id", channelID).Info("message-sent-to-telegram")
	return result.Ok(m)
}

// EditMessage replaces the text of a previously sent message.
func (t *TelegramAdapter) EditMessage(ctx context.Context, ref MessageRef, text string) result.Result[*Message] {
	api := t.getAPI()
	if api == nil {
		return result.Fail[*Message](&result.EditError{Platform: "telegram", MessageID: ref.ID(), Cause: errNotConnected})
	}

	mctx, messageID, err := t.resolve(ref)
	if err != nil {
		return result.Fail[*Message](&result.EditError{Platform: "telegram", MessageID: ref.ID(), Cause: err})
	}
	chatID, err := strconv.ParseInt(mctx.ChannelID, 10, 64)
	if err != nil {
		return result.Fail[*Message](&result.EditError{Platform: "telegram", MessageID: ref.ID(),
			Cause: fmt.Errorf("invalid cached chat id: %w", err)})
	}

	text = truncateMessage("telegram", text, constants.MaxTelegramMessageLength)

	edited, err := api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text))
	if err != nil {
		logger.WithFields(logrus.Fields{
			"chat_id":    mctx.ChannelID,
			"message_id": ref.ID(),
			"error":      err,
		}).Error("failed-to-edit-telegram-message")
		return result.Fail[*Message](&result.EditError{Platform: "telegram", MessageID: ref.ID(), Cause: err})
	}

	m := t.normalizeMessage(&edited)
	if m.ChannelID == "" {
		m.ChannelID = mctx.ChannelID
	}
	cacheMessage(t.cache, m)
	return result.Ok(m)
}

// DeleteMessage deletes a previously sent message and drops its cached
// context.
func (t *TelegramAdapter) DeleteMessage(ctx context.Context, ref MessageRef) result.Result[result.Void] {
	api := t.getAPI()
	if api == nil {
		return result.Fail[result.Void](&result.DeleteError{Platform: "telegram", MessageID: ref.ID(), Cause: errNotConnected})
	}

	mctx, messageID, err := t.resolve(ref)
	if err != nil {
		return result.Fail[result.Void](&result.DeleteError{Platform: "telegram", MessageID: ref.ID(), Cause: err})
	}
	chatID, err := strconv.ParseInt(mctx.ChannelID, 10, 64)
	if err != nil {
		return result.Fail[result.Void](&result.DeleteError{Platform: "telegram", MessageID: ref.ID(),
			Cause: fmt.Errorf("invalid cached chat id: %w", err)})
	}

	if _, err := api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return result.Fail[result.Void](&result.DeleteError{Platform: "telegram", MessageID: ref.ID(), Cause: err})
	}

	t.cache.Remove(ref.ID())
	return result.Done()
}

// AddReaction is not supported by the Telegram Bot API in this SDK version;
// it always returns a typed failure.
func (t *TelegramAdapter) AddReaction(ctx context.Context, ref MessageRef, emoji string) result.Result[result.Void] {
	return result.Fail[result.Void](&result.ReactionError{Platform: "telegram", MessageID: ref.ID(), Emoji: emoji, Cause: errUnsupported})
}

// RemoveReaction is not supported by the Telegram Bot API in this SDK
// version; it always returns a typed failure.
func (t *TelegramAdapter) RemoveReaction(ctx context.Context, ref MessageRef, emoji string) result.Result[result.Void] {
	return result.Fail[result.Void](&result.ReactionError{Platform: "telegram", MessageID: ref.ID(), Emoji: emoji, Cause: errUnsupported})
}

// CreateThread posts text as a reply to the referenced message, Telegram's
// closest analogue to a thread.
func (t *TelegramAdapter) CreateThread(ctx context.Context, ref MessageRef, text string) result.Result[*Message] {
	mctx, _, err := t.resolve(ref)
	if err != nil {
		return result.Fail[*Message](&result.SendError{Platform: "telegram", Cause: err})
	}
	return t.SendMessage(ctx, mctx.ChannelID, text, &SendOptions{ThreadID: ref.ID()})
}

// UploadFile uploads a document to a Telegram chat.
func (t *TelegramAdapter) UploadFile(ctx context.Context, channelID string, file File, opts *SendOptions) result.Result[*Message] {
	api := t.getAPI()
	if api == nil {
		return result.Fail[*Message](&result.SendError{Platform: "telegram", ChannelID: channelID, Cause: errNotConnected})
	}

	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return result.Fail[*Message](&result.SendError{Platform: "telegram", ChannelID: channelID,
			Cause: fmt.Errorf("invalid chat id: %w", err)})
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{Name: file.Name, Reader: file.Reader})
	sent, err := api.Send(doc)
	if err != nil {
		return result.Fail[*Message](&result.SendError{Platform: "telegram", ChannelID: channelID, Cause: err})
	}

	m := t.normalizeMessage(&sent)
	cacheMessage(t.cache, m)
	return result.Ok(m)
}

// GetChannels is not supported: the Bot API has no chat enumeration
// endpoint. The adapter reports this as a typed failure rather than an
// empty success so callers can distinguish it from having no channels.
func (t *TelegramAdapter) GetChannels(ctx context.Context) result.Result[[]Channel] {
	return result.Fail[[]Channel](&result.DirectoryError{Platform: "telegram", Cause: errUnsupported})
}

// GetUsers lists the administrators of a chat, the only membership listing
// the Bot API offers.
func (t *TelegramAdapter) GetUsers(ctx context.Context, channelID string) result.Result[[]User] {
	api := t.getAPI()
	if api == nil {
		return result.Fail[[]User](&result.DirectoryError{Platform: "telegram", ChannelID: channelID, Cause: errNotConnected})
	}
	if channelID == "" {
		return result.Fail[[]User](&result.DirectoryError{Platform: "telegram", Cause: errUnsupported})
	}

	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return result.Fail[[]User](&result.DirectoryError{Platform: "telegram", ChannelID: channelID,
			Cause: fmt.Errorf("invalid chat id: %w", err)})
	}

	admins, err := api.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return result.Fail[[]User](&result.DirectoryError{Platform: "telegram", ChannelID: channelID, Cause: err})
	}

	users := make([]User, 0, len(admins))
	for _, member := range admins {
		if member.User == nil {
			continue
		}
		users = append(users, User{
			ID:          strconv.FormatInt(member.User.ID, 10),
			Name:        member.User.UserName,
			DisplayName: member.User.FirstName,
			IsBot:       member.User.IsBot,
		})
	}
	return result.Ok(users)
}

// poll consumes the update channel until the context is cancelled.
func (t *TelegramAdapter) poll(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("telegram-long-polling-stopped")
			return
		case update, ok := <-updates:
			if !ok {
				logger.Info("telegram-updates-channel-closed")
				return
			}
			t.handleUpdate(update)
		}
	}
}

// handleUpdate normalizes one update and dispatches the derived events.
func (t *TelegramAdapter) handleUpdate(update tgbotapi.Update) {
	message := update.Message
	if message == nil {
		return
	}

	// Membership changes arrive as service messages.
	if len(message.NewChatMembers) > 0 {
		for i := range message.NewChatMembers {
			member := &message.NewChatMembers[i]
			t.dispatcher.Dispatch(Event{Type: EventUserJoined, Platform: "telegram", Member: &MemberEvent{
				UserID:    strconv.FormatInt(member.ID, 10),
				ChannelID: strconv.FormatInt(message.Chat.ID, 10),
				Joined:    true,
			}})
		}
		return
	}
	if message.LeftChatMember != nil {
		t.dispatcher.Dispatch(Event{Type: EventUserLeft, Platform: "telegram", Member: &MemberEvent{
			UserID:    strconv.FormatInt(message.LeftChatMember.ID, 10),
			ChannelID: strconv.FormatInt(message.Chat.ID, 10),
			Joined:    false,
		}})
		return
	}

	if message.From != nil && message.From.IsBot {
		return
	}

	m := t.normalizeMessage(message)
	cacheMessage(t.cache, m)
	logger.WithFields(logrus.Fields{
		"platform":   "telegram",
		"user_id":    m.UserID,
		"chat_id":    m.ChannelID,
		"message_id": m.ID,
	}).Debug("received-telegram-message")
	t.dispatcher.Dispatch(Event{Type: EventMessage, Platform: "telegram", Message: m})
}

// normalizeMessage converts a Telegram message into the unified model.
func (t *TelegramAdapter) normalizeMessage(m *tgbotapi.Message) *Message {
	userID := ""
	if m.From != nil {
		userID = strconv.FormatInt(m.From.ID, 10)
	}
	chatID := ""
	if m.Chat != nil {
		chatID = strconv.FormatInt(m.Chat.ID, 10)
	}
	threadID := ""
	if m.ReplyToMessage != nil {
		// A reply chain is rooted at the first message that was replied to.
		root := m.ReplyToMessage
		if root.ReplyToMessage != nil {
			root = root.ReplyToMessage
		}
		threadID = strconv.Itoa(root.MessageID)
	}

	msg := &Message{
		ID:        strconv.Itoa(m.MessageID),
		ChannelID: chatID,
		UserID:    userID,
		Text:      m.Text,
		Timestamp: time.Unix(int64(m.Date), 0),
		ThreadID:  threadID,
		Platform:  "telegram",
		Raw:       m,
	}
	if m.Document != nil {
		msg.Attachments = append(msg.Attachments, Attachment{
			ID:       m.Document.FileID,
			Filename: m.Document.FileName,
			MimeType: m.Document.MimeType,
			Size:     int64(m.Document.FileSize),
		})
	}
	return msg
}

// resolve resolves a reference to its chat context plus the integer message
// id Telegram expects.
func (t *TelegramAdapter) resolve(ref MessageRef) (refcache.Context, int, error) {
	mctx, err := resolveRef(t.cache, ref)
	if err != nil {
		return refcache.Context{}, 0, err
	}
	messageID, err := strconv.Atoi(ref.ID())
	if err != nil {
		return refcache.Context{}, 0, fmt.Errorf("invalid telegram message id %q: %w", ref.ID(), err)
	}
	return mctx, messageID, nil
}

func (t *TelegramAdapter) getAPI() TelegramAPI {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.API
}
