package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/keepmind9/chatbridge/internal/logger"
	"github.com/keepmind9/chatbridge/internal/result"
	"github.com/keepmind9/chatbridge/pkg/constants"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/larksuite/oapi-sdk-go/v3/ws"
	"github.com/sirupsen/logrus"
)

// FeishuConfig configures the Feishu (Lark) adapter.
type FeishuConfig struct {
	AppID             string
	AppSecret         string
	EncryptKey        string // optional, for encrypted events
	VerificationToken string // optional, for event verification
}

// FeishuAdapter implements the Adapter interface for Feishu using the
// WebSocket long connection.
//
// Feishu is the platform the reference cache exists to contrast with: its
// message ids are globally addressable, every mutation API takes the id
// alone, so the adapter needs no cache and id-only references always work.
type FeishuAdapter struct {
	mu  sync.RWMutex
	cfg FeishuConfig

	client     *lark.Client
	wsClient   *ws.Client
	dispatcher *Dispatcher
	connected  bool
	cancel     context.CancelFunc
}

// NewFeishuAdapter creates a new Feishu adapter instance.
func NewFeishuAdapter(cfg FeishuConfig) *FeishuAdapter {
	return &FeishuAdapter{
		cfg:        cfg,
		client:     lark.NewClient(cfg.AppID, cfg.AppSecret),
		dispatcher: NewDispatcher(),
	}
}

// Platform returns "feishu".
func (f *FeishuAdapter) Platform() string { return "feishu" }

// OnEvent registers a listener for every normalized event.
func (f *FeishuAdapter) OnEvent(handler EventHandler) {
	f.dispatcher.OnAny(handler)
}

// Connect establishes the WebSocket long connection and registers event
// handlers. Calling Connect while connected is a no-op.
func (f *FeishuAdapter) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.connected {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"app_id": maskSecret(f.cfg.AppID),
	}).Info("connecting-feishu-adapter")

	eventDispatcher := dispatcher.NewEventDispatcher(f.cfg.VerificationToken, f.cfg.EncryptKey)
	eventDispatcher.OnP2MessageReceiveV1(func(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
		f.handleMessageReceive(event)
		return nil
	})
	eventDispatcher.OnP2MessageReactionCreatedV1(func(ctx context.Context, event *larkim.P2MessageReactionCreatedV1) error {
		f.handleReactionCreated(event.Event)
		return nil
	})
	eventDispatcher.OnP2MessageReactionDeletedV1(func(ctx context.Context, event *larkim.P2MessageReactionDeletedV1) error {
		f.handleReactionDeleted(event.Event)
		return nil
	})
	eventDispatcher.OnP2ChatMemberUserAddedV1(func(ctx context.Context, event *larkim.P2ChatMemberUserAddedV1) error {
		f.handleMembership(event.Event.ChatId, event.Event.Users, true)
		return nil
	})
	eventDispatcher.OnP2ChatMemberUserDeletedV1(func(ctx context.Context, event *larkim.P2ChatMemberUserDeletedV1) error {
		f.handleMembership(event.Event.ChatId, event.Event.Users, false)
		return nil
	})

	wsClient := ws.NewClient(f.cfg.AppID, f.cfg.AppSecret,
		ws.WithEventHandler(eventDispatcher),
		ws.WithLogLevel(larkcore.LogLevelInfo),
		ws.WithAutoReconnect(true),
	)

	runCtx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := wsClient.Start(runCtx); err != nil && runCtx.Err() == nil {
			logger.WithFields(logrus.Fields{
				"app_id": maskSecret(f.cfg.AppID),
				"error":  err,
			}).Error("feishu-websocket-connection-failed")
		}
	}()

	f.mu.Lock()
	f.wsClient = wsClient
	f.cancel = cancel
	f.connected = true
	f.mu.Unlock()

	logger.Info("feishu-adapter-connected")
	return nil
}

// Disconnect cancels the long connection; the SDK closes it through the
// context.
func (f *FeishuAdapter) Disconnect() error {
	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.wsClient = nil
	f.connected = false
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	logger.Info("feishu-adapter-disconnected")
	return nil
}

// IsConnected reports the current connection state.
func (f *FeishuAdapter) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// SendMessage sends a text message to a Feishu chat. ThreadID, when set,
// turns the send into a reply on that root message.
func (f *FeishuAdapter) SendMessage(ctx context.Context, channelID, text string, opts *SendOptions) result.Result[*Message] {
	text = truncateMessage("feishu", text, constants.MaxFeishuMessageLength)

	msgType := larkim.MsgTypeText
	if opts != nil && opts.Feishu != nil && opts.Feishu.MsgType != "" {
		msgType = opts.Feishu.MsgType
	}
	content, err := feishuTextContent(text)
	if err != nil {
		return result.Fail[*Message](&result.SendError{Platform: "feishu", ChannelID: channelID, Cause: err})
	}

	if opts != nil && opts.ThreadID != "" {
		return f.reply(ctx, opts.ThreadID, channelID, msgType, content, text)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(channelID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := f.client.Im.Message.Create(ctx, req)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"chat_id": channelID,
			"error":   err,
		}).Error("failed-to-send-message-to-feishu")
		return result.Fail[*Message](&result.SendError{Platform: "feishu", ChannelID: channelID, Cause: err})
	}
	if !resp.Success() {
		return result.Fail[*Message](&result.SendError{Platform: "feishu", ChannelID: channelID,
			Cause: feishuAPIError(resp.Code, resp.Msg)})
	}

	m := &Message{
		ID:        derefString(resp.Data.MessageId),
		ChannelID: channelID,
		Text:      text,
		Timestamp: feishuTimestamp(derefString(resp.Data.CreateTime)),
		Platform:  "feishu",
	}
	logger.WithField("chat_id", channelID).Info("message-sent-to-feishu")
	return result.Ok(m)
}

// reply posts text as a threaded reply rooted at rootID.
func (f *FeishuAdapter) reply(ctx context.Context, rootID, channelID, msgType, content, text string) result.Result[*Message] {
	req := larkim.NewReplyMessageReqBuilder().
		MessageId(rootID).
		Body(larkim.NewReplyMessageReqBodyBuilder().
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := f.client.Im.Message.Reply(ctx, req)
	if err != nil {
		return result.Fail[*Message](&result.SendError{Platform: "feishu", ChannelID: channelID, Cause: err})
	}
	if !resp.Success() {
		return result.Fail[*Message](&result.SendError{Platform: "feishu", ChannelID: channelID,
			Cause: feishuAPIError(resp.Code, resp.Msg)})
	}

	m := &Message{
		ID:        derefString(resp.Data.MessageId),
		ChannelID: channelID,
		Text:      text,
		Timestamp: feishuTimestamp(derefString(resp.Data.CreateTime)),
		ThreadID:  rootID,
		Platform:  "feishu",
	}
	return result.Ok(m)
}

// EditMessage replaces the text of a previously sent message. Feishu
// addresses messages by id alone, so both reference forms behave the same.
// The returned message carries ChannelID, ThreadID and Timestamp only when
// the caller passed a full-message reference; the update endpoint does not
// echo the chat, and an id-only ref has nothing else to populate them from.
func (f *FeishuAdapter) EditMessage(ctx context.Context, ref MessageRef, text string) result.Result[*Message] {
	text = truncateMessage("feishu", text, constants.MaxFeishuMessageLength)
	content, err := feishuTextContent(text)
	if err != nil {
		return result.Fail[*Message](&result.EditError{Platform: "feishu", MessageID: ref.ID(), Cause: err})
	}

	req := larkim.NewUpdateMessageReqBuilder().
		MessageId(ref.ID()).
		Body(larkim.NewUpdateMessageReqBodyBuilder().
			MsgType(larkim.MsgTypeText).
			Content(content).
			Build()).
		Build()

	resp, err := f.client.Im.Message.Update(ctx, req)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"message_id": ref.ID(),
			"error":      err,
		}).Error("failed-to-edit-feishu-message")
		return result.Fail[*Message](&result.EditError{Platform: "feishu", MessageID: ref.ID(), Cause: err})
	}
	if !resp.Success() {
		return result.Fail[*Message](&result.EditError{Platform: "feishu", MessageID: ref.ID(),
			Cause: feishuAPIError(resp.Code, resp.Msg)})
	}

	m := &Message{
		ID:       ref.ID(),
		Text:     text,
		Platform: "feishu",
	}
	if full := ref.Full(); full != nil {
		m.ChannelID = full.ChannelID
		m.ThreadID = full.ThreadID
		m.Timestamp = full.Timestamp
	}
	return result.Ok(m)
}

// DeleteMessage deletes a previously sent message.
func (f *FeishuAdapter) DeleteMessage(ctx context.Context, ref MessageRef) result.Result[result.Void] {
	req := larkim.NewDeleteMessageReqBuilder().MessageId(ref.ID()).Build()

	resp, err := f.client.Im.Message.Delete(ctx, req)
	if err != nil {
		return result.Fail[result.Void](&result.DeleteError{Platform: "feishu", MessageID: ref.ID(), Cause: err})
	}
	if !resp.Success() {
		return result.Fail[result.Void](&result.DeleteError{Platform: "feishu", MessageID: ref.ID(),
			Cause: feishuAPIError(resp.Code, resp.Msg)})
	}
	return result.Done()
}

// AddReaction adds an emoji reaction to a message.
func (f *FeishuAdapter) AddReaction(ctx context.Context, ref MessageRef, emoji string) result.Result[result.Void] {
	req := larkim.NewCreateMessageReactionReqBuilder().
		MessageId(ref.ID()).
		Body(larkim.NewCreateMessageReactionReqBodyBuilder().
			ReactionType(larkim.NewEmojiBuilder().EmojiType(emoji).Build()).
			Build()).
		Build()

	resp, err := f.client.Im.MessageReaction.Create(ctx, req)
	if err != nil {
		return result.Fail[result.Void](&result.ReactionError{Platform: "feishu", MessageID: ref.ID(), Emoji: emoji, Cause: err})
	}
	if !resp.Success() {
		return result.Fail[result.Void](&result.ReactionError{Platform: "feishu", MessageID: ref.ID(), Emoji: emoji,
			Cause: feishuAPIError(resp.Code, resp.Msg)})
	}
	return result.Done()
}

// RemoveReaction removes an emoji reaction. Feishu deletes reactions by
// reaction id, so the adapter first lists the message's reactions of that
// emoji type.
func (f *FeishuAdapter) RemoveReaction(ctx context.Context, ref MessageRef, emoji string) result.Result[result.Void] {
	listReq := larkim.NewListMessageReactionReqBuilder().
		MessageId(ref.ID()).
		ReactionType(emoji).
		Build()

	listResp, err := f.client.Im.MessageReaction.List(ctx, listReq)
	if err != nil {
		return result.Fail[result.Void](&result.ReactionError{Platform: "feishu", MessageID: ref.ID(), Emoji: emoji, Cause: err})
	}
	if !listResp.Success() {
		return result.Fail[result.Void](&result.ReactionError{Platform: "feishu", MessageID: ref.ID(), Emoji: emoji,
			Cause: feishuAPIError(listResp.Code, listResp.Msg)})
	}
	if len(listResp.Data.Items) == 0 {
		return result.Fail[result.Void](&result.ReactionError{Platform: "feishu", MessageID: ref.ID(), Emoji: emoji,
			Cause: fmt.Errorf("no %q reaction found", emoji)})
	}

	reactionID := derefString(listResp.Data.Items[0].ReactionId)
	delReq := larkim.NewDeleteMessageReactionReqBuilder().
		MessageId(ref.ID()).
		ReactionId(reactionID).
		Build()

	delResp, err := f.client.Im.MessageReaction.Delete(ctx, delReq)
	if err != nil {
		return result.Fail[result.Void](&result.ReactionError{Platform: "feishu", MessageID: ref.ID(), Emoji: emoji, Cause: err})
	}
	if !delResp.Success() {
		return result.Fail[result.Void](&result.ReactionError{Platform: "feishu", MessageID: ref.ID(), Emoji: emoji,
			Cause: feishuAPIError(delResp.Code, delResp.Msg)})
	}
	return result.Done()
}

// CreateThread posts text as a reply rooted at the referenced message.
func (f *FeishuAdapter) CreateThread(ctx context.Context, ref MessageRef, text string) result.Result[*Message] {
	text = truncateMessage("feishu", text, constants.MaxFeishuMessageLength)
	content, err := feishuTextContent(text)
	if err != nil {
		return result.Fail[*Message](&result.SendError{Platform: "feishu", Cause: err})
	}
	channelID := ""
	if full := ref.Full(); full != nil {
		channelID = full.ChannelID
	}
	return f.reply(ctx, ref.ID(), channelID, larkim.MsgTypeText, content, text)
}

// UploadFile uploads a file and sends it as a file message to a chat.
func (f *FeishuAdapter) UploadFile(ctx context.Context, channelID string, file File, opts *SendOptions) result.Result[*Message] {
	uploadReq := larkim.NewCreateFileReqBuilder().
		Body(larkim.NewCreateFileReqBodyBuilder().
			FileType("stream").
			FileName(file.Name).
			File(file.Reader).
			Build()).
		Build()

	uploadResp, err := f.client.Im.File.Create(ctx, uploadReq)
	if err != nil {
		return result.Fail[*Message](&result.SendError{Platform: "feishu", ChannelID: channelID, Cause: err})
	}
	if !uploadResp.Success() {
		return result.Fail[*Message](&result.SendError{Platform: "feishu", ChannelID: channelID,
			Cause: feishuAPIError(uploadResp.Code, uploadResp.Msg)})
	}

	fileKey := derefString(uploadResp.Data.FileKey)
	content, err := json.Marshal(map[string]string{"file_key": fileKey})
	if err != nil {
		return result.Fail[*Message](&result.SendError{Platform: "feishu", ChannelID: channelID, Cause: err})
	}

	res := f.SendMessage(ctx, channelID, string(content), &SendOptions{Feishu: &FeishuSendOptions{MsgType: larkim.MsgTypeFile}})
	if res.Err() != nil {
		return res
	}
	m := res.Value()
	m.Text = ""
	m.Attachments = []Attachment{{
		ID:       fileKey,
		Filename: file.Name,
		MimeType: file.MimeType,
		Size:     file.Size,
	}}
	return result.Ok(m)
}

// GetChannels lists the chats the bot is a member of.
func (f *FeishuAdapter) GetChannels(ctx context.Context) result.Result[[]Channel] {
	resp, err := f.client.Im.Chat.List(ctx, larkim.NewListChatReqBuilder().Build())
	if err != nil {
		return result.Fail[[]Channel](&result.DirectoryError{Platform: "feishu", Cause: err})
	}
	if !resp.Success() {
		return result.Fail[[]Channel](&result.DirectoryError{Platform: "feishu",
			Cause: feishuAPIError(resp.Code, resp.Msg)})
	}

	channels := make([]Channel, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		if item == nil {
			continue
		}
		channels = append(channels, Channel{
			ID:   derefString(item.ChatId),
			Name: derefString(item.Name),
		})
	}
	return result.Ok(channels)
}

// GetUsers lists the members of a chat. Feishu has no workspace-wide user
// listing through the bot scope, so channelID is required.
func (f *FeishuAdapter) GetUsers(ctx context.Context, channelID string) result.Result[[]User] {
	if channelID == "" {
		return result.Fail[[]User](&result.DirectoryError{Platform: "feishu", Cause: errUnsupported})
	}

	resp, err := f.client.Im.ChatMembers.Get(ctx, larkim.NewGetChatMembersReqBuilder().ChatId(channelID).Build())
	if err != nil {
		return result.Fail[[]User](&result.DirectoryError{Platform: "feishu", ChannelID: channelID, Cause: err})
	}
	if !resp.Success() {
		return result.Fail[[]User](&result.DirectoryError{Platform: "feishu", ChannelID: channelID,
			Cause: feishuAPIError(resp.Code, resp.Msg)})
	}

	users := make([]User, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		if item == nil {
			continue
		}
		users = append(users, User{
			ID:   derefString(item.MemberId),
			Name: derefString(item.Name),
		})
	}
	return result.Ok(users)
}

// handleMessageReceive normalizes an inbound message event and dispatches
// it.
func (f *FeishuAdapter) handleMessageReceive(event *larkim.P2MessageReceiveV1) {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return
	}
	m := f.normalizeMessage(event)
	logger.WithFields(logrus.Fields{
		"platform":   "feishu",
		"user_id":    m.UserID,
		"chat_id":    m.ChannelID,
		"message_id": m.ID,
	}).Debug("received-feishu-message")
	f.dispatcher.Dispatch(Event{Type: EventMessage, Platform: "feishu", Message: m})
}

// normalizeMessage converts a Feishu message receive event into the unified
// model.
func (f *FeishuAdapter) normalizeMessage(event *larkim.P2MessageReceiveV1) *Message {
	ev := event.Event
	msg := ev.Message

	senderID := ""
	if ev.Sender != nil && ev.Sender.SenderId != nil {
		senderID = derefString(ev.Sender.SenderId.OpenId)
	}

	threadID := ""
	if rootID := derefString(msg.RootId); rootID != "" && rootID != derefString(msg.MessageId) {
		threadID = rootID
	}

	return &Message{
		ID:        derefString(msg.MessageId),
		ChannelID: derefString(msg.ChatId),
		UserID:    senderID,
		Text:      extractFeishuText(derefString(msg.Content)),
		Timestamp: feishuTimestamp(derefString(msg.CreateTime)),
		ThreadID:  threadID,
		Platform:  "feishu",
		Raw:       event,
	}
}

func (f *FeishuAdapter) handleReactionCreated(ev *larkim.P2MessageReactionCreatedV1Data) {
	if ev == nil {
		return
	}
	emoji := ""
	if ev.ReactionType != nil {
		emoji = derefString(ev.ReactionType.EmojiType)
	}
	userID := ""
	if ev.UserId != nil {
		userID = derefString(ev.UserId.OpenId)
	}
	f.dispatcher.Dispatch(Event{Type: EventReactionAdded, Platform: "feishu", Reaction: &ReactionEvent{
		MessageID: derefString(ev.MessageId),
		UserID:    userID,
		Emoji:     emoji,
		Added:     true,
	}})
}

func (f *FeishuAdapter) handleReactionDeleted(ev *larkim.P2MessageReactionDeletedV1Data) {
	if ev == nil {
		return
	}
	emoji := ""
	if ev.ReactionType != nil {
		emoji = derefString(ev.ReactionType.EmojiType)
	}
	userID := ""
	if ev.UserId != nil {
		userID = derefString(ev.UserId.OpenId)
	}
	f.dispatcher.Dispatch(Event{Type: EventReactionRemoved, Platform: "feishu", Reaction: &ReactionEvent{
		MessageID: derefString(ev.MessageId),
		UserID:    userID,
		Emoji:     emoji,
		Added:     false,
	}})
}

func (f *FeishuAdapter) handleMembership(chatID *string, users []*larkim.ChatMemberUser, joined bool) {
	eventType := EventUserJoined
	if !joined {
		eventType = EventUserLeft
	}
	for _, user := range users {
		if user == nil || user.UserId == nil {
			continue
		}
		f.dispatcher.Dispatch(Event{Type: eventType, Platform: "feishu", Member: &MemberEvent{
			UserID:    derefString(user.UserId.OpenId),
			ChannelID: derefString(chatID),
			Joined:    joined,
		}})
	}
}

// feishuTextContent builds the {"text": ...} content body for text
// messages.
func feishuTextContent(text string) (string, error) {
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// extractFeishuText extracts the text field from a Feishu message content
// body. Non-text content is returned as-is.
func extractFeishuText(content string) string {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &body); err == nil && body.Text != "" {
		return body.Text
	}
	return content
}

// feishuTimestamp converts Feishu's millisecond epoch string to a
// time.Time. Best effort: a malformed value yields the zero time.
func feishuTimestamp(ms string) time.Time {
	if ms == "" {
		return time.Time{}
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n)
}

func feishuAPIError(code int, msg string) error {
	return fmt.Errorf("api error: code=%d, msg=%s", code, msg)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
