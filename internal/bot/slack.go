package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/keepmind9/chatbridge/internal/logger"
	"github.com/keepmind9/chatbridge/internal/refcache"
	"github.com/keepmind9/chatbridge/internal/result"
	"github.com/keepmind9/chatbridge/pkg/constants"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// SlackAPI defines the interface we need from slack.Client.
// This allows us to mock it in tests without depending on concrete types.
type SlackAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	DeleteMessageContext(ctx context.Context, channel, messageTimestamp string) (string, string, error)
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	GetUsersContext(ctx context.Context, options ...slack.GetUsersOption) ([]slack.User, error)
	GetUsersInConversationContext(ctx context.Context, params *slack.GetUsersInConversationParameters) ([]string, string, error)
	GetUsersInfoContext(ctx context.Context, users ...string) (*[]slack.User, error)
}

// SlackConfig configures the Slack adapter.
type SlackConfig struct {
	BotToken string
	AppToken string // required for socket mode

	// SocketMode selects the push connection transport; otherwise the
	// adapter serves an Events API callback endpoint on Port.
	SocketMode bool
	Port       int

	CacheSize int
	CacheTTL  time.Duration
}

// SlackAdapter implements the Adapter interface for Slack.
//
// Slack is the platform that motivated the reference cache: a message is
// addressed by (channel, timestamp), so the timestamp-style message id alone
// cannot be edited or deleted. Every message the adapter sends or receives
// is recorded in its cache so id-only references can be resolved later.
type SlackAdapter struct {
	mu  sync.RWMutex
	cfg SlackConfig

	API    SlackAPI // exported for tests, created in Connect when nil
	socket *socketmode.Client
	server *http.Server

	cache      *refcache.Cache
	dispatcher *Dispatcher
	botUserID  string
	connected  bool
	cancel     context.CancelFunc
}

// NewSlackAdapter creates a new Slack adapter instance.
func NewSlackAdapter(cfg SlackConfig) *SlackAdapter {
	return &SlackAdapter{
		cfg:        cfg,
		cache:      refcache.New("slack", cfg.CacheSize, cfg.CacheTTL),
		dispatcher: NewDispatcher(),
	}
}

// Platform returns "slack".
func (s *SlackAdapter) Platform() string { return "slack" }

// OnEvent registers a listener for every normalized event.
func (s *SlackAdapter) OnEvent(handler EventHandler) {
	s.dispatcher.OnAny(handler)
}

// Connect authenticates with Slack and starts the event transport selected
// by the configuration. Calling Connect while connected is a no-op.
func (s *SlackAdapter) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	api := s.API
	s.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"bot_token":   maskSecret(s.cfg.BotToken),
		"socket_mode": s.cfg.SocketMode,
	}).Info("connecting-slack-adapter")

	var client *slack.Client
	if api == nil {
		client = slack.New(s.cfg.BotToken, slack.OptionAppLevelToken(s.cfg.AppToken))
		api = client
	}

	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return &result.ConnectionError{Platform: "slack", Cause: err}
	}

	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.API = api
	s.botUserID = auth.UserID
	s.cancel = cancel
	s.connected = true
	s.mu.Unlock()

	if s.cfg.SocketMode {
		// Socket mode needs the concrete client; when a mock API was
		// injected, tests drive events through the normalizers directly.
		if client != nil {
			sock := socketmode.New(client)
			s.mu.Lock()
			s.socket = sock
			s.mu.Unlock()
			go s.runSocketMode(runCtx, sock)
		}
	} else {
		s.startEventServer(runCtx)
	}

	logger.WithFields(logrus.Fields{
		"bot_user": auth.User,
		"user_id":  auth.UserID,
	}).Info("slack-adapter-connected")
	return nil
}

// Disconnect stops the event transport. The adapter can be connected again.
func (s *SlackAdapter) Disconnect() error {
	s.mu.Lock()
	cancel := s.cancel
	server := s.server
	s.cancel = nil
	s.server = nil
	s.socket = nil
	s.connected = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), constants.DefaultEventServerShutdownTimeout)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to stop slack event server: %w", err)
		}
	}

	logger.Info("slack-adapter-disconnected")
	return nil
}

// IsConnected reports the current connection state.
func (s *SlackAdapter) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// SendMessage sends a text message to a Slack channel.
func (s *SlackAdapter) SendMessage(ctx context.Context, channelID, text string, opts *SendOptions) result.Result[*Message] {
	api := s.getAPI()
	if api == nil {
		return result.Fail[*Message](&result.SendError{Platform: "slack", ChannelID: channelID, Cause: errNotConnected})
	}

	text = truncateMessage("slack", text, constants.MaxSlackMessageLength)

	msgOpts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	threadID := ""
	if opts != nil {
		if opts.ThreadID != "" {
			threadID = opts.ThreadID
			msgOpts = append(msgOpts, slack.MsgOptionTS(opts.ThreadID))
		}
		if opts.Slack != nil && opts.Slack.UnfurlLinks {
			msgOpts = append(msgOpts, slack.MsgOptionEnableLinkUnfurl())
		}
	}

	respChannel, ts, err := api.PostMessageContext(ctx, channelID, msgOpts...)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"channel": channelID,
			"error":   err,
		}).Error("failed-to-send-message-to-slack")
		return result.Fail[*Message](&result.SendError{Platform: "slack", ChannelID: channelID, Cause: err})
	}

	m := &Message{
		ID:        ts,
		ChannelID: respChannel,
		UserID:    s.getBotUserID(),
		Text:      text,
		Timestamp: slackTimestamp(ts),
		ThreadID:  threadID,
		Platform:  "slack",
	}
	cacheMessage(s.cache, m)

	logger.WithFields(logrus.Fields{
		"channel": respChannel,
		"ts":      ts,
	}).Info("message-sent-to-slack")
	return result.Ok(m)
}

// EditMessage replaces the text of a previously sent message. An id-only
// reference is resolved through the cache; pass the full message when the
// entry may have aged out.
func (s *SlackAdapter) EditMessage(ctx context.Context, ref MessageRef, text string) result.Result[*Message] {
	api := s.getAPI()
	if api == nil {
		return result.Fail[*Message](&result.EditError{Platform: "slack", MessageID: ref.ID(), Cause: errNotConnected})
	}

	mctx, err := resolveRef(s.cache, ref)
	if err != nil {
		return result.Fail[*Message](&result.EditError{Platform: "slack", MessageID: ref.ID(), Cause: err})
	}

	text = truncateMessage("slack", text, constants.MaxSlackMessageLength)

	_, ts, _, err := api.UpdateMessageContext(ctx, mctx.ChannelID, ref.ID(), slack.MsgOptionText(text, false))
	if err != nil {
		logger.WithFields(logrus.Fields{
			"channel": mctx.ChannelID,
			"ts":      ref.ID(),
			"error":   err,
		}).Error("failed-to-edit-slack-message")
		return result.Fail[*Message](&result.EditError{Platform: "slack", MessageID: ref.ID(), Cause: err})
	}

	m := &Message{
		ID:        ts,
		ChannelID: mctx.ChannelID,
		UserID:    s.getBotUserID(),
		Text:      text,
		Timestamp: mctx.Timestamp,
		ThreadID:  mctx.ThreadID,
		Platform:  "slack",
	}
	cacheMessage(s.cache, m)
	return result.Ok(m)
}

// DeleteMessage deletes a previously sent message and drops its cached
// context so a stale reference can never resolve again.
func (s *SlackAdapter) DeleteMessage(ctx context.Context, ref MessageRef) result.Result[result.Void] {
	api := s.getAPI()
	if api == nil {
		return result.Fail[result.Void](&result.DeleteError{Platform: "slack", MessageID: ref.ID(), Cause: errNotConnected})
	}

	mctx, err := resolveRef(s.cache, ref)
	if err != nil {
		return result.Fail[result.Void](&result.DeleteError{Platform: "slack", MessageID: ref.ID(), Cause: err})
	}

	if _, _, err := api.DeleteMessageContext(ctx, mctx.ChannelID, ref.ID()); err != nil {
		logger.WithFields(logrus.Fields{
			"channel": mctx.ChannelID,
			"ts":      ref.ID(),
			"error":   err,
		}).Error("failed-to-delete-slack-message")
		return result.Fail[result.Void](&result.DeleteError{Platform: "slack", MessageID: ref.ID(), Cause: err})
	}

	s.cache.Remove(ref.ID())
	return result.Done()
}

// AddReaction adds an emoji reaction to a message.
func (s *SlackAdapter) AddReaction(ctx context.Context, ref MessageRef, emoji string) result.Result[result.Void] {
	return s.updateReaction(ctx, ref, emoji, true)
}

// RemoveReaction removes an emoji reaction from a message.
func (s *SlackAdapter) RemoveReaction(ctx context.Context, ref MessageRef, emoji string) result.Result[result.Void] {
	return s.updateReaction(ctx, ref, emoji, false)
}

func (s *SlackAdapter) updateReaction(ctx context.Context, ref MessageRef, emoji string, add bool) result.Result[result.Void] {
	api := s.getAPI()
	if api == nil {
		return result.Fail[result.Void](&result.ReactionError{Platform: "slack", MessageID: ref.ID(), Emoji: emoji, Cause: errNotConnected})
	}

	mctx, err := resolveRef(s.cache, ref)
	if err != nil {
		return result.Fail[result.Void](&result.ReactionError{Platform: "slack", MessageID: ref.ID(), Emoji: emoji, Cause: err})
	}

	item := slack.NewRefToMessage(mctx.ChannelID, ref.ID())
	if add {
		err = api.AddReactionContext(ctx, emoji, item)
	} else {
		err = api.RemoveReactionContext(ctx, emoji, item)
	}
	if err != nil {
		return result.Fail[result.Void](&result.ReactionError{Platform: "slack", MessageID: ref.ID(), Emoji: emoji, Cause: err})
	}
	return result.Done()
}

// CreateThread posts text as a threaded reply rooted at the referenced
// message.
func (s *SlackAdapter) CreateThread(ctx context.Context, ref MessageRef, text string) result.Result[*Message] {
	mctx, err := resolveRef(s.cache, ref)
	if err != nil {
		return result.Fail[*Message](&result.SendError{Platform: "slack", ChannelID: "", Cause: err})
	}
	return s.SendMessage(ctx, mctx.ChannelID, text, &SendOptions{ThreadID: ref.ID()})
}

// UploadFile uploads a file to a Slack channel.
func (s *SlackAdapter) UploadFile(ctx context.Context, channelID string, file File, opts *SendOptions) result.Result[*Message] {
	api := s.getAPI()
	if api == nil {
		return result.Fail[*Message](&result.SendError{Platform: "slack", ChannelID: channelID, Cause: errNotConnected})
	}

	params := slack.UploadFileV2Parameters{
		Channel:  channelID,
		Reader:   file.Reader,
		Filename: file.Name,
		FileSize: int(file.Size),
		Title:    file.Name,
	}
	if opts != nil && opts.ThreadID != "" {
		params.ThreadTimestamp = opts.ThreadID
	}

	summary, err := api.UploadFileV2Context(ctx, params)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"channel":  channelID,
			"filename": file.Name,
			"error":    err,
		}).Error("failed-to-upload-file-to-slack")
		return result.Fail[*Message](&result.SendError{Platform: "slack", ChannelID: channelID, Cause: err})
	}

	m := &Message{
		ID:        summary.ID,
		ChannelID: channelID,
		UserID:    s.getBotUserID(),
		Timestamp: time.Now(),
		Platform:  "slack",
		Attachments: []Attachment{{
			ID:       summary.ID,
			Filename: file.Name,
			MimeType: file.MimeType,
			Size:     file.Size,
		}},
	}
	return result.Ok(m)
}

// GetChannels lists the channels visible to the bot, following pagination
// cursors until exhausted.
func (s *SlackAdapter) GetChannels(ctx context.Context) result.Result[[]Channel] {
	api := s.getAPI()
	if api == nil {
		return result.Fail[[]Channel](&result.DirectoryError{Platform: "slack", Cause: errNotConnected})
	}

	var channels []Channel
	cursor := ""
	for {
		page, next, err := api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Types:  []string{"public_channel", "private_channel"},
			Limit:  200,
			Cursor: cursor,
		})
		if err != nil {
			return result.Fail[[]Channel](&result.DirectoryError{Platform: "slack", Cause: err})
		}
		for _, ch := range page {
			channels = append(channels, Channel{
				ID:        ch.ID,
				Name:      ch.Name,
				IsPrivate: ch.IsPrivate,
			})
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return result.Ok(channels)
}

// GetUsers lists workspace users, or the members of a channel when
// channelID is non-empty.
func (s *SlackAdapter) GetUsers(ctx context.Context, channelID string) result.Result[[]User] {
	api := s.getAPI()
	if api == nil {
		return result.Fail[[]User](&result.DirectoryError{Platform: "slack", ChannelID: channelID, Cause: errNotConnected})
	}

	if channelID == "" {
		raw, err := api.GetUsersContext(ctx)
		if err != nil {
			return result.Fail[[]User](&result.DirectoryError{Platform: "slack", Cause: err})
		}
		return result.Ok(normalizeSlackUsers(raw))
	}

	ids, _, err := api.GetUsersInConversationContext(ctx, &slack.GetUsersInConversationParameters{
		ChannelID: channelID,
		Limit:     200,
	})
	if err != nil {
		return result.Fail[[]User](&result.DirectoryError{Platform: "slack", ChannelID: channelID, Cause: err})
	}
	if len(ids) == 0 {
		return result.Ok([]User{})
	}
	raw, err := api.GetUsersInfoContext(ctx, ids...)
	if err != nil {
		return result.Fail[[]User](&result.DirectoryError{Platform: "slack", ChannelID: channelID, Cause: err})
	}
	return result.Ok(normalizeSlackUsers(*raw))
}

func normalizeSlackUsers(raw []slack.User) []User {
	users := make([]User, 0, len(raw))
	for _, u := range raw {
		users = append(users, User{
			ID:          u.ID,
			Name:        u.Name,
			DisplayName: u.Profile.DisplayName,
			IsBot:       u.IsBot,
		})
	}
	return users
}

// runSocketMode consumes the socket mode event stream until the context is
// cancelled.
func (s *SlackAdapter) runSocketMode(ctx context.Context, sock *socketmode.Client) {
	go func() {
		for evt := range sock.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				if evt.Request != nil {
					sock.Ack(*evt.Request)
				}
				s.handleEventsAPI(apiEvent)
			default:
				// Acknowledge everything else to keep the connection alive.
				if evt.Request != nil {
					sock.Ack(*evt.Request)
				}
			}
		}
	}()

	if err := sock.RunContext(ctx); err != nil && ctx.Err() == nil {
		logger.WithFields(logrus.Fields{
			"error": err,
		}).Error("slack-socket-mode-connection-failed")
	}
}

// startEventServer serves the Events API callback endpoint on the
// configured port.
func (s *SlackAdapter) startEventServer(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/slack/events", s.handleEventRequest)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: mux,
	}
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	logger.WithField("port", s.cfg.Port).Info("slack-event-server-listening")
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{
				"port":  s.cfg.Port,
				"error": err,
			}).Error("slack-event-server-failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), constants.DefaultEventServerShutdownTimeout)
		defer done()
		_ = server.Shutdown(shutdownCtx)
	}()
}

// handleEventRequest handles one Events API HTTP callback, including the
// URL verification handshake.
func (s *SlackAdapter) handleEventRequest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	apiEvent, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if apiEvent.Type == slackevents.URLVerification {
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(challenge.Challenge))
		return
	}

	s.handleEventsAPI(apiEvent)
	w.WriteHeader(http.StatusOK)
}

// handleEventsAPI normalizes one Events API payload and dispatches it.
func (s *SlackAdapter) handleEventsAPI(apiEvent slackevents.EventsAPIEvent) {
	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Ignore our own messages and message_changed style subtypes.
		if ev.User == "" || ev.User == s.getBotUserID() || ev.SubType != "" {
			return
		}
		m := s.normalizeMessage(ev)
		cacheMessage(s.cache, m)
		logger.WithFields(logrus.Fields{
			"platform": "slack",
			"user_id":  m.UserID,
			"channel":  m.ChannelID,
			"ts":       m.ID,
		}).Debug("received-slack-message")
		s.dispatcher.Dispatch(Event{Type: EventMessage, Platform: "slack", Message: m})

	case *slackevents.ReactionAddedEvent:
		s.dispatcher.Dispatch(Event{Type: EventReactionAdded, Platform: "slack", Reaction: &ReactionEvent{
			MessageID: ev.Item.Timestamp,
			ChannelID: ev.Item.Channel,
			UserID:    ev.User,
			Emoji:     ev.Reaction,
			Added:     true,
		}})

	case *slackevents.ReactionRemovedEvent:
		s.dispatcher.Dispatch(Event{Type: EventReactionRemoved, Platform: "slack", Reaction: &ReactionEvent{
			MessageID: ev.Item.Timestamp,
			ChannelID: ev.Item.Channel,
			UserID:    ev.User,
			Emoji:     ev.Reaction,
			Added:     false,
		}})

	case *slackevents.MemberJoinedChannelEvent:
		s.dispatcher.Dispatch(Event{Type: EventUserJoined, Platform: "slack", Member: &MemberEvent{
			UserID:    ev.User,
			ChannelID: ev.Channel,
			Joined:    true,
		}})

	case *slackevents.MemberLeftChannelEvent:
		s.dispatcher.Dispatch(Event{Type: EventUserLeft, Platform: "slack", Member: &MemberEvent{
			UserID:    ev.User,
			ChannelID: ev.Channel,
			Joined:    false,
		}})

	case *slackevents.ChannelCreatedEvent:
		s.dispatcher.Dispatch(Event{Type: EventChannelCreated, Platform: "slack", Channel: &ChannelEvent{
			ChannelID: ev.Channel.ID,
			Name:      ev.Channel.Name,
			Created:   true,
		}})

	case *slackevents.ChannelDeletedEvent:
		s.dispatcher.Dispatch(Event{Type: EventChannelDeleted, Platform: "slack", Channel: &ChannelEvent{
			ChannelID: ev.Channel,
			Created:   false,
		}})
	}
}

// normalizeMessage converts a Slack message event into the unified model.
func (s *SlackAdapter) normalizeMessage(ev *slackevents.MessageEvent) *Message {
	threadID := ""
	if ev.ThreadTimeStamp != "" && ev.ThreadTimeStamp != ev.TimeStamp {
		threadID = ev.ThreadTimeStamp
	}
	return &Message{
		ID:        ev.TimeStamp,
		ChannelID: ev.Channel,
		UserID:    ev.User,
		Text:      ev.Text,
		Timestamp: slackTimestamp(ev.TimeStamp),
		ThreadID:  threadID,
		Platform:  "slack",
		Raw:       ev,
	}
}

func (s *SlackAdapter) getAPI() SlackAPI {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.API
}

func (s *SlackAdapter) getBotUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.botUserID
}

// slackTimestamp converts a Slack "seconds.micros" timestamp id to a
// time.Time. Best effort: a malformed ts yields the zero time.
func slackTimestamp(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	secs, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if len(parts) == 2 {
		// Pad/trim the fractional part to microseconds.
		frac := parts[1]
		for len(frac) < 6 {
			frac += "0"
		}
		micros, _ = strconv.ParseInt(frac[:6], 10, 64)
	}
	return time.Unix(secs, micros*1000)
}
