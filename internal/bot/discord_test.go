package bot

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/keepmind9/chatbridge/internal/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDiscordSession implements DiscordSession with overridable function
// fields. Registered gateway handlers are captured so tests can feed events.
type mockDiscordSession struct {
	handlers []interface{}

	openErr  error
	closeErr error

	sendFunc        func(channelID, content string) (*discordgo.Message, error)
	sendComplexFunc func(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error)
	editFunc        func(channelID, messageID, content string) (*discordgo.Message, error)
	deleteFunc      func(channelID, messageID string) error
	reactAddFunc    func(channelID, messageID, emojiID string) error
	reactRemoveFunc func(channelID, messageID, emojiID, userID string) error
	threadStartFunc func(channelID, messageID, name string, archiveDuration int) (*discordgo.Channel, error)
	fileSendFunc    func(channelID, name string, r io.Reader) (*discordgo.Message, error)
	channelsFunc    func(guildID string) ([]*discordgo.Channel, error)
	membersFunc     func(guildID, after string, limit int) ([]*discordgo.Member, error)
}

func (m *mockDiscordSession) AddHandler(handler interface{}) func() {
	m.handlers = append(m.handlers, handler)
	return func() {}
}

func (m *mockDiscordSession) Open() error  { return m.openErr }
func (m *mockDiscordSession) Close() error { return m.closeErr }

func (m *mockDiscordSession) ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.sendFunc != nil {
		return m.sendFunc(channelID, content)
	}
	return &discordgo.Message{ID: "900000000000000001", ChannelID: channelID, Content: content}, nil
}

func (m *mockDiscordSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.sendComplexFunc != nil {
		return m.sendComplexFunc(channelID, data)
	}
	return &discordgo.Message{ID: "900000000000000002", ChannelID: channelID, Content: data.Content}, nil
}

func (m *mockDiscordSession) ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.editFunc != nil {
		return m.editFunc(channelID, messageID, content)
	}
	return &discordgo.Message{ID: messageID, ChannelID: channelID, Content: content}, nil
}

func (m *mockDiscordSession) ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(channelID, messageID)
	}
	return nil
}

func (m *mockDiscordSession) MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error {
	if m.reactAddFunc != nil {
		return m.reactAddFunc(channelID, messageID, emojiID)
	}
	return nil
}

func (m *mockDiscordSession) MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error {
	if m.reactRemoveFunc != nil {
		return m.reactRemoveFunc(channelID, messageID, emojiID, userID)
	}
	return nil
}

func (m *mockDiscordSession) MessageThreadStart(channelID, messageID, name string, archiveDuration int, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if m.threadStartFunc != nil {
		return m.threadStartFunc(channelID, messageID, name, archiveDuration)
	}
	return &discordgo.Channel{ID: "thread-1", Name: name}, nil
}

func (m *mockDiscordSession) ChannelFileSend(channelID, name string, r io.Reader, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.fileSendFunc != nil {
		return m.fileSendFunc(channelID, name, r)
	}
	return &discordgo.Message{ID: "900000000000000003", ChannelID: channelID}, nil
}

func (m *mockDiscordSession) GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	if m.channelsFunc != nil {
		return m.channelsFunc(guildID)
	}
	return nil, nil
}

func (m *mockDiscordSession) GuildMembers(guildID string, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	if m.membersFunc != nil {
		return m.membersFunc(guildID, after, limit)
	}
	return nil, nil
}

// dispatchTo invokes the first registered handler matching the event type.
func dispatchTo[T any](m *mockDiscordSession, ev T) bool {
	for _, h := range m.handlers {
		if fn, ok := h.(func(*discordgo.Session, T)); ok {
			fn(nil, ev)
			return true
		}
	}
	return false
}

func newTestDiscordAdapter(t *testing.T, mock *mockDiscordSession) *DiscordAdapter {
	t.Helper()
	adapter := NewDiscordAdapter(DiscordConfig{Token: "token", GuildID: "G1"})
	adapter.Session = mock
	require.NoError(t, adapter.Connect(context.Background()))
	return adapter
}

func TestDiscordAdapter_Platform(t *testing.T) {
	adapter := NewDiscordAdapter(DiscordConfig{})
	assert.Equal(t, "discord", adapter.Platform())
}

func TestDiscordAdapter_Connect(t *testing.T) {
	mock := &mockDiscordSession{}
	adapter := NewDiscordAdapter(DiscordConfig{Token: "token"})
	adapter.Session = mock

	require.NoError(t, adapter.Connect(context.Background()))
	assert.True(t, adapter.IsConnected())
	assert.NotEmpty(t, mock.handlers, "gateway handlers are registered on connect")

	require.NoError(t, adapter.Disconnect())
	assert.False(t, adapter.IsConnected())
}

func TestDiscordAdapter_Connect_OpenFailure(t *testing.T) {
	mock := &mockDiscordSession{openErr: errors.New("gateway unreachable")}
	adapter := NewDiscordAdapter(DiscordConfig{Token: "token"})
	adapter.Session = mock

	err := adapter.Connect(context.Background())
	require.Error(t, err)

	var connErr *result.ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "discord", connErr.Platform)
}

func TestDiscordAdapter_SendMessage(t *testing.T) {
	adapter := newTestDiscordAdapter(t, &mockDiscordSession{})

	res := adapter.SendMessage(context.Background(), "C123", "hello", nil)
	require.True(t, res.OK())

	m := res.Value()
	assert.Equal(t, "C123", m.ChannelID)
	assert.Equal(t, "hello", m.Text)
	assert.Equal(t, "discord", m.Platform)

	_, err := adapter.cache.Resolve(m.ID)
	assert.NoError(t, err, "sent message context is cached")
}

func TestDiscordAdapter_SendMessage_IntoThread(t *testing.T) {
	var target string
	adapter := newTestDiscordAdapter(t, &mockDiscordSession{
		sendFunc: func(channelID, content string) (*discordgo.Message, error) {
			target = channelID
			return &discordgo.Message{ID: "m1", ChannelID: channelID, Content: content}, nil
		},
	})

	res := adapter.SendMessage(context.Background(), "C123", "hello", &SendOptions{ThreadID: "thread-9"})
	require.True(t, res.OK())
	assert.Equal(t, "thread-9", target, "thread id addresses the thread channel")
}

func TestDiscordAdapter_SendMessage_TTS(t *testing.T) {
	var gotTTS bool
	adapter := newTestDiscordAdapter(t, &mockDiscordSession{
		sendComplexFunc: func(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error) {
			gotTTS = data.TTS
			return &discordgo.Message{ID: "m1", ChannelID: channelID, Content: data.Content}, nil
		},
	})

	res := adapter.SendMessage(context.Background(), "C123", "hello", &SendOptions{Discord: &DiscordSendOptions{TTS: true}})
	require.True(t, res.OK())
	assert.True(t, gotTTS)
}

func TestDiscordAdapter_EditMessage_ByID(t *testing.T) {
	adapter := newTestDiscordAdapter(t, &mockDiscordSession{})

	sent := adapter.SendMessage(context.Background(), "C123", "v1", nil).MustValue()

	res := adapter.EditMessage(context.Background(), RefID(sent.ID), "v2")
	require.True(t, res.OK())
	assert.Equal(t, "v2", res.Value().Text)
	assert.Equal(t, "C123", res.Value().ChannelID)
}

func TestDiscordAdapter_EditMessage_CacheMiss(t *testing.T) {
	adapter := newTestDiscordAdapter(t, &mockDiscordSession{})

	res := adapter.EditMessage(context.Background(), RefID("unknown"), "v2")
	require.False(t, res.OK())

	var missErr *result.CacheMissError
	require.True(t, errors.As(res.Err(), &missErr))
	assert.Equal(t, "discord", missErr.Platform)
}

func TestDiscordAdapter_DeleteMessage_DropsCacheEntry(t *testing.T) {
	adapter := newTestDiscordAdapter(t, &mockDiscordSession{})

	sent := adapter.SendMessage(context.Background(), "C123", "bye", nil).MustValue()
	require.True(t, adapter.DeleteMessage(context.Background(), RefID(sent.ID)).OK())

	res := adapter.EditMessage(context.Background(), RefID(sent.ID), "zombie")
	assert.False(t, res.OK())
}

func TestDiscordAdapter_Reactions(t *testing.T) {
	var addedEmoji, removedUser string
	adapter := newTestDiscordAdapter(t, &mockDiscordSession{
		reactAddFunc: func(channelID, messageID, emojiID string) error {
			addedEmoji = emojiID
			return nil
		},
		reactRemoveFunc: func(channelID, messageID, emojiID, userID string) error {
			removedUser = userID
			return nil
		},
	})

	sent := adapter.SendMessage(context.Background(), "C123", "react", nil).MustValue()

	require.True(t, adapter.AddReaction(context.Background(), RefID(sent.ID), "👍").OK())
	assert.Equal(t, "👍", addedEmoji)

	require.True(t, adapter.RemoveReaction(context.Background(), RefID(sent.ID), "👍").OK())
	assert.Equal(t, "@me", removedUser, "only the bot's own reaction is removed")
}

func TestDiscordAdapter_CreateThread(t *testing.T) {
	var threadName string
	adapter := newTestDiscordAdapter(t, &mockDiscordSession{
		threadStartFunc: func(channelID, messageID, name string, archiveDuration int) (*discordgo.Channel, error) {
			threadName = name
			return &discordgo.Channel{ID: "thread-1", Name: name}, nil
		},
	})

	sent := adapter.SendMessage(context.Background(), "C123", "root", nil).MustValue()

	longText := strings.Repeat("x", 60)
	res := adapter.CreateThread(context.Background(), RefID(sent.ID), longText)
	require.True(t, res.OK())
	assert.Len(t, threadName, 40, "thread name is capped")
}

func TestDiscordAdapter_UploadFile(t *testing.T) {
	adapter := newTestDiscordAdapter(t, &mockDiscordSession{})

	res := adapter.UploadFile(context.Background(), "C123", File{
		Name:   "log.txt",
		Reader: strings.NewReader("data"),
	}, nil)
	require.True(t, res.OK())
	assert.Equal(t, "C123", res.Value().ChannelID)
}

func TestDiscordAdapter_GetChannels_FiltersTextChannels(t *testing.T) {
	adapter := newTestDiscordAdapter(t, &mockDiscordSession{
		channelsFunc: func(guildID string) ([]*discordgo.Channel, error) {
			assert.Equal(t, "G1", guildID)
			return []*discordgo.Channel{
				{ID: "C1", Name: "general", Type: discordgo.ChannelTypeGuildText},
				{ID: "V1", Name: "voice", Type: discordgo.ChannelTypeGuildVoice},
				{ID: "C2", Name: "dev", Type: discordgo.ChannelTypeGuildText},
			}, nil
		},
	})

	res := adapter.GetChannels(context.Background())
	require.True(t, res.OK())

	channels := res.Value()
	require.Len(t, channels, 2)
	assert.Equal(t, "general", channels[0].Name)
	assert.Equal(t, "dev", channels[1].Name)
}

func TestDiscordAdapter_GetUsers(t *testing.T) {
	adapter := newTestDiscordAdapter(t, &mockDiscordSession{
		membersFunc: func(guildID, after string, limit int) ([]*discordgo.Member, error) {
			return []*discordgo.Member{
				{Nick: "Ali", User: &discordgo.User{ID: "U1", Username: "alice"}},
				{User: &discordgo.User{ID: "U2", Username: "botto", Bot: true}},
			}, nil
		},
	})

	res := adapter.GetUsers(context.Background(), "")
	require.True(t, res.OK())

	users := res.Value()
	require.Len(t, users, 2)
	assert.Equal(t, "Ali", users[0].DisplayName)
	assert.True(t, users[1].IsBot)
}

func TestDiscordAdapter_MessageCreateHandler(t *testing.T) {
	mock := &mockDiscordSession{}
	adapter := newTestDiscordAdapter(t, mock)

	var got *Message
	adapter.OnEvent(func(ev Event) {
		if ev.Type == EventMessage {
			got = ev.Message
		}
	})

	ok := dispatchTo(mock, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m42",
		ChannelID: "C123",
		Content:   "incoming",
		Author:    &discordgo.User{ID: "U123"},
		Timestamp: time.Unix(1700000000, 0),
	}})
	require.True(t, ok, "message create handler registered")

	require.NotNil(t, got)
	assert.Equal(t, "m42", got.ID)
	assert.Equal(t, "U123", got.UserID)

	_, err := adapter.cache.Resolve("m42")
	assert.NoError(t, err, "inbound message context is cached")
}

func TestDiscordAdapter_MessageCreateHandler_SkipsBots(t *testing.T) {
	mock := &mockDiscordSession{}
	adapter := newTestDiscordAdapter(t, mock)

	called := false
	adapter.OnEvent(func(ev Event) { called = true })

	dispatchTo(mock, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m43",
		ChannelID: "C123",
		Author:    &discordgo.User{ID: "UB", Bot: true},
	}})

	assert.False(t, called)
}

func TestDiscordAdapter_ReactionHandlers(t *testing.T) {
	mock := &mockDiscordSession{}
	adapter := newTestDiscordAdapter(t, mock)

	var events []Event
	adapter.OnEvent(func(ev Event) { events = append(events, ev) })

	dispatchTo(mock, &discordgo.MessageReactionAdd{MessageReaction: &discordgo.MessageReaction{
		MessageID: "m1", ChannelID: "C1", UserID: "U1", Emoji: discordgo.Emoji{Name: "👀"},
	}})
	dispatchTo(mock, &discordgo.MessageReactionRemove{MessageReaction: &discordgo.MessageReaction{
		MessageID: "m1", ChannelID: "C1", UserID: "U1", Emoji: discordgo.Emoji{Name: "👀"},
	}})

	require.Len(t, events, 2)
	assert.Equal(t, EventReactionAdded, events[0].Type)
	assert.Equal(t, "👀", events[0].Reaction.Emoji)
	assert.Equal(t, EventReactionRemoved, events[1].Type)
}

func TestDiscordAdapter_NormalizeMessage_Attachments(t *testing.T) {
	adapter := NewDiscordAdapter(DiscordConfig{})

	m := adapter.normalizeMessage(&discordgo.Message{
		ID:        "m1",
		ChannelID: "C1",
		Author:    &discordgo.User{ID: "U1"},
		Attachments: []*discordgo.MessageAttachment{
			{ID: "a1", Filename: "pic.png", URL: "https://cdn/pic.png", ContentType: "image/png", Size: 1024},
			nil,
		},
	})

	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "pic.png", m.Attachments[0].Filename)
	assert.Equal(t, int64(1024), m.Attachments[0].Size)
}
