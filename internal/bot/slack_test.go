package bot

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keepmind9/chatbridge/internal/refcache"
	"github.com/keepmind9/chatbridge/internal/result"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSlackAPI implements SlackAPI with overridable function fields.
type mockSlackAPI struct {
	authTestFunc       func(ctx context.Context) (*slack.AuthTestResponse, error)
	postMessageFunc    func(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	updateMessageFunc  func(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	deleteMessageFunc  func(ctx context.Context, channel, messageTimestamp string) (string, string, error)
	addReactionFunc    func(ctx context.Context, name string, item slack.ItemRef) error
	removeReactionFunc func(ctx context.Context, name string, item slack.ItemRef) error
	uploadFileFunc     func(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
	getConversationsFn func(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	getUsersFunc       func(ctx context.Context, options ...slack.GetUsersOption) ([]slack.User, error)
	getUsersInConvFunc func(ctx context.Context, params *slack.GetUsersInConversationParameters) ([]string, string, error)
	getUsersInfoFunc   func(ctx context.Context, users ...string) (*[]slack.User, error)
}

func (m *mockSlackAPI) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	if m.authTestFunc != nil {
		return m.authTestFunc(ctx)
	}
	return &slack.AuthTestResponse{User: "testbot", UserID: "UBOT"}, nil
}

func (m *mockSlackAPI) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	if m.postMessageFunc != nil {
		return m.postMessageFunc(ctx, channelID, options...)
	}
	return channelID, "1700000000.000100", nil
}

func (m *mockSlackAPI) UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error) {
	if m.updateMessageFunc != nil {
		return m.updateMessageFunc(ctx, channelID, timestamp, options...)
	}
	return channelID, timestamp, "", nil
}

func (m *mockSlackAPI) DeleteMessageContext(ctx context.Context, channel, messageTimestamp string) (string, string, error) {
	if m.deleteMessageFunc != nil {
		return m.deleteMessageFunc(ctx, channel, messageTimestamp)
	}
	return channel, messageTimestamp, nil
}

func (m *mockSlackAPI) AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error {
	if m.addReactionFunc != nil {
		return m.addReactionFunc(ctx, name, item)
	}
	return nil
}

func (m *mockSlackAPI) RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error {
	if m.removeReactionFunc != nil {
		return m.removeReactionFunc(ctx, name, item)
	}
	return nil
}

func (m *mockSlackAPI) UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error) {
	if m.uploadFileFunc != nil {
		return m.uploadFileFunc(ctx, params)
	}
	return &slack.FileSummary{ID: "F123"}, nil
}

func (m *mockSlackAPI) GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	if m.getConversationsFn != nil {
		return m.getConversationsFn(ctx, params)
	}
	return nil, "", nil
}

func (m *mockSlackAPI) GetUsersContext(ctx context.Context, options ...slack.GetUsersOption) ([]slack.User, error) {
	if m.getUsersFunc != nil {
		return m.getUsersFunc(ctx, options...)
	}
	return nil, nil
}

func (m *mockSlackAPI) GetUsersInConversationContext(ctx context.Context, params *slack.GetUsersInConversationParameters) ([]string, string, error) {
	if m.getUsersInConvFunc != nil {
		return m.getUsersInConvFunc(ctx, params)
	}
	return nil, "", nil
}

func (m *mockSlackAPI) GetUsersInfoContext(ctx context.Context, users ...string) (*[]slack.User, error) {
	if m.getUsersInfoFunc != nil {
		return m.getUsersInfoFunc(ctx, users...)
	}
	return &[]slack.User{}, nil
}

// newTestSlackAdapter returns a connected adapter driven by a mock API.
func newTestSlackAdapter(t *testing.T, mock *mockSlackAPI) *SlackAdapter {
	t.Helper()
	adapter := NewSlackAdapter(SlackConfig{BotToken: "xoxb-test", SocketMode: true})
	adapter.API = mock
	require.NoError(t, adapter.Connect(context.Background()))
	return adapter
}

func TestSlackAdapter_Platform(t *testing.T) {
	adapter := NewSlackAdapter(SlackConfig{})
	assert.Equal(t, "slack", adapter.Platform())
}

func TestSlackAdapter_Connect(t *testing.T) {
	mock := &mockSlackAPI{}
	adapter := NewSlackAdapter(SlackConfig{BotToken: "xoxb-test", SocketMode: true})
	adapter.API = mock

	require.NoError(t, adapter.Connect(context.Background()))
	assert.True(t, adapter.IsConnected())

	// Connecting again is a no-op.
	require.NoError(t, adapter.Connect(context.Background()))

	require.NoError(t, adapter.Disconnect())
	assert.False(t, adapter.IsConnected())
}

func TestSlackAdapter_Connect_AuthFailure(t *testing.T) {
	mock := &mockSlackAPI{
		authTestFunc: func(ctx context.Context) (*slack.AuthTestResponse, error) {
			return nil, errors.New("invalid_auth")
		},
	}
	adapter := NewSlackAdapter(SlackConfig{BotToken: "xoxb-bad", SocketMode: true})
	adapter.API = mock

	err := adapter.Connect(context.Background())
	require.Error(t, err)

	var connErr *result.ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "slack", connErr.Platform)
	assert.False(t, adapter.IsConnected())
}

func TestSlackAdapter_SendMessage(t *testing.T) {
	adapter := newTestSlackAdapter(t, &mockSlackAPI{})

	res := adapter.SendMessage(context.Background(), "C123", "hello", nil)
	require.True(t, res.OK())

	m := res.Value()
	assert.Equal(t, "1700000000.000100", m.ID)
	assert.Equal(t, "C123", m.ChannelID)
	assert.Equal(t, "hello", m.Text)
	assert.Equal(t, "UBOT", m.UserID)
	assert.Equal(t, "slack", m.Platform)

	// The sent message's context is cached for id-only mutations.
	mctx, err := adapter.cache.Resolve(m.ID)
	require.NoError(t, err)
	assert.Equal(t, "C123", mctx.ChannelID)
}

func TestSlackAdapter_SendMessage_NotConnected(t *testing.T) {
	adapter := NewSlackAdapter(SlackConfig{})

	res := adapter.SendMessage(context.Background(), "C123", "hello", nil)
	require.False(t, res.OK())

	var sendErr *result.SendError
	require.True(t, errors.As(res.Err(), &sendErr))
	assert.Equal(t, "C123", sendErr.ChannelID)
}

func TestSlackAdapter_SendMessage_APIError(t *testing.T) {
	cause := errors.New("channel_not_found")
	adapter := newTestSlackAdapter(t, &mockSlackAPI{
		postMessageFunc: func(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
			return "", "", cause
		},
	})

	res := adapter.SendMessage(context.Background(), "C404", "hello", nil)
	require.False(t, res.OK())
	assert.ErrorIs(t, res.Err(), cause)
}

func TestSlackAdapter_SendMessage_TruncatesLongText(t *testing.T) {
	var posted string
	adapter := newTestSlackAdapter(t, &mockSlackAPI{})

	long := strings.Repeat("a", 5000)
	res := adapter.SendMessage(context.Background(), "C123", long, nil)
	require.True(t, res.OK())

	posted = res.Value().Text
	assert.Len(t, posted, 4000)
	assert.True(t, strings.HasPrefix(posted, "..."))
}

func TestSlackAdapter_EditMessage_ByID(t *testing.T) {
	adapter := newTestSlackAdapter(t, &mockSlackAPI{})

	sent := adapter.SendMessage(context.Background(), "C123", "v1", nil).MustValue()

	res := adapter.EditMessage(context.Background(), RefID(sent.ID), "v2")
	require.True(t, res.OK())
	assert.Equal(t, "v2", res.Value().Text)
	assert.Equal(t, "C123", res.Value().ChannelID, "channel resolved from the cache")
}

func TestSlackAdapter_EditMessage_CacheMiss(t *testing.T) {
	adapter := newTestSlackAdapter(t, &mockSlackAPI{})

	res := adapter.EditMessage(context.Background(), RefID("1600000000.000001"), "v2")
	require.False(t, res.OK())

	var editErr *result.EditError
	require.True(t, errors.As(res.Err(), &editErr))

	var missErr *result.CacheMissError
	require.True(t, errors.As(res.Err(), &missErr), "the cause chain names the cache miss")
	assert.Equal(t, "1600000000.000001", missErr.MessageID)
}

func TestSlackAdapter_EditMessage_FullRefSurvivesCacheLoss(t *testing.T) {
	adapter := newTestSlackAdapter(t, &mockSlackAPI{})

	// Simulate an entry that aged out: never cached at all.
	m := &Message{
		ID:        "1600000000.000001",
		ChannelID: "C123",
		Timestamp: time.Unix(1600000000, 0),
		Platform:  "slack",
	}

	res := adapter.EditMessage(context.Background(), RefMessage(m), "v2")
	require.True(t, res.OK())
	assert.Equal(t, "C123", res.Value().ChannelID)
}

func TestSlackAdapter_DeleteMessage_DropsCacheEntry(t *testing.T) {
	adapter := newTestSlackAdapter(t, &mockSlackAPI{})

	sent := adapter.SendMessage(context.Background(), "C123", "bye", nil).MustValue()

	res := adapter.DeleteMessage(context.Background(), RefID(sent.ID))
	require.True(t, res.OK())

	// The cached context is gone, so an id-only edit now misses.
	edit := adapter.EditMessage(context.Background(), RefID(sent.ID), "zombie")
	require.False(t, edit.OK())

	var missErr *result.CacheMissError
	assert.True(t, errors.As(edit.Err(), &missErr))
}

func TestSlackAdapter_Reactions(t *testing.T) {
	var added, removed string
	adapter := newTestSlackAdapter(t, &mockSlackAPI{
		addReactionFunc: func(ctx context.Context, name string, item slack.ItemRef) error {
			added = name
			return nil
		},
		removeReactionFunc: func(ctx context.Context, name string, item slack.ItemRef) error {
			removed = name
			return nil
		},
	})

	sent := adapter.SendMessage(context.Background(), "C123", "react to me", nil).MustValue()

	require.True(t, adapter.AddReaction(context.Background(), RefID(sent.ID), "thumbsup").OK())
	assert.Equal(t, "thumbsup", added)

	require.True(t, adapter.RemoveReaction(context.Background(), RefID(sent.ID), "thumbsup").OK())
	assert.Equal(t, "thumbsup", removed)
}

func TestSlackAdapter_Reaction_CacheMiss(t *testing.T) {
	adapter := newTestSlackAdapter(t, &mockSlackAPI{})

	res := adapter.AddReaction(context.Background(), RefID("unknown"), "eyes")
	require.False(t, res.OK())

	var reactErr *result.ReactionError
	require.True(t, errors.As(res.Err(), &reactErr))
	assert.Equal(t, "eyes", reactErr.Emoji)
}

func TestSlackAdapter_CreateThread(t *testing.T) {
	adapter := newTestSlackAdapter(t, &mockSlackAPI{
		postMessageFunc: func(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
			return channelID, "1700000001.000200", nil
		},
	})
	adapter.cache.Put("1700000000.000100", refcache.Context{ChannelID: "C123"})

	res := adapter.CreateThread(context.Background(), RefID("1700000000.000100"), "thread reply")
	require.True(t, res.OK())
	assert.Equal(t, "C123", res.Value().ChannelID)
	assert.Equal(t, "1700000000.000100", res.Value().ThreadID)
}

func TestSlackAdapter_UploadFile(t *testing.T) {
	adapter := newTestSlackAdapter(t, &mockSlackAPI{})

	res := adapter.UploadFile(context.Background(), "C123", File{
		Name:     "report.txt",
		Reader:   strings.NewReader("contents"),
		Size:     8,
		MimeType: "text/plain",
	}, nil)
	require.True(t, res.OK())

	m := res.Value()
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "report.txt", m.Attachments[0].Filename)
	assert.Equal(t, "F123", m.Attachments[0].ID)
}

func TestSlackAdapter_GetChannels_FollowsPagination(t *testing.T) {
	calls := 0
	adapter := newTestSlackAdapter(t, &mockSlackAPI{
		getConversationsFn: func(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
			calls++
			if params.Cursor == "" {
				ch := slack.Channel{}
				ch.ID = "C1"
				ch.Name = "general"
				return []slack.Channel{ch}, "next-page", nil
			}
			ch := slack.Channel{}
			ch.ID = "C2"
			ch.Name = "random"
			ch.IsPrivate = true
			return []slack.Channel{ch}, "", nil
		},
	})

	res := adapter.GetChannels(context.Background())
	require.True(t, res.OK())

	channels := res.Value()
	require.Len(t, channels, 2)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "general", channels[0].Name)
	assert.True(t, channels[1].IsPrivate)
}

func TestSlackAdapter_GetUsers_ChannelScoped(t *testing.T) {
	adapter := newTestSlackAdapter(t, &mockSlackAPI{
		getUsersInConvFunc: func(ctx context.Context, params *slack.GetUsersInConversationParameters) ([]string, string, error) {
			assert.Equal(t, "C123", params.ChannelID)
			return []string{"U1", "U2"}, "", nil
		},
		getUsersInfoFunc: func(ctx context.Context, users ...string) (*[]slack.User, error) {
			raw := []slack.User{
				{ID: "U1", Name: "alice"},
				{ID: "U2", Name: "bender", IsBot: true},
			}
			return &raw, nil
		},
	})

	res := adapter.GetUsers(context.Background(), "C123")
	require.True(t, res.OK())

	users := res.Value()
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Name)
	assert.True(t, users[1].IsBot)
}

func TestSlackAdapter_GetUsers_WorkspaceWide(t *testing.T) {
	adapter := newTestSlackAdapter(t, &mockSlackAPI{
		getUsersFunc: func(ctx context.Context, options ...slack.GetUsersOption) ([]slack.User, error) {
			return []slack.User{{ID: "U1", Name: "alice"}}, nil
		},
	})

	res := adapter.GetUsers(context.Background(), "")
	require.True(t, res.OK())
	require.Len(t, res.Value(), 1)
}

func TestSlackAdapter_HandleEventsAPI_Message(t *testing.T) {
	adapter := newTestSlackAdapter(t, &mockSlackAPI{})

	var got *Message
	adapter.OnEvent(func(ev Event) {
		if ev.Type == EventMessage {
			got = ev.Message
		}
	})

	adapter.handleEventsAPI(slackevents.EventsAPIEvent{
		Type: slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{
			Data: &slackevents.MessageEvent{
				User:      "U123",
				Channel:   "C123",
				Text:      "hi there",
				TimeStamp: "1700000000.000100",
			},
		},
	})

	require.NotNil(t, got)
	assert.Equal(t, "1700000000.000100", got.ID)
	assert.Equal(t, "U123", got.UserID)
	assert.Equal(t, "hi there", got.Text)
	assert.Equal(t, "slack", got.Platform)

	// The inbound message's context is cached for later id-only mutation.
	mctx, err := adapter.cache.Resolve(got.ID)
	require.NoError(t, err)
	assert.Equal(t, "C123", mctx.ChannelID)
}

func TestSlackAdapter_HandleEventsAPI_SkipsOwnMessages(t *testing.T) {
	adapter := newTestSlackAdapter(t, &mockSlackAPI{})

	called := false
	adapter.OnEvent(func(ev Event) { called = true })

	// Bot's own message.
	adapter.handleEventsAPI(slackevents.EventsAPIEvent{
		Type: slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{
			Data: &slackevents.MessageEvent{
				User:      "UBOT",
				Channel:   "C123",
				Text:      "echo",
				TimeStamp: "1700000000.000100",
			},
		},
	})
	// message_changed style subtype.
	adapter.handleEventsAPI(slackevents.EventsAPIEvent{
		Type: slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{
			Data: &slackevents.MessageEvent{
				User:      "U123",
				Channel:   "C123",
				SubType:   "message_changed",
				TimeStamp: "1700000000.000100",
			},
		},
	})

	assert.False(t, called)
}

func TestSlackAdapter_HandleEventsAPI_ThreadedMessage(t *testing.T) {
	adapter := newTestSlackAdapter(t, &mockSlackAPI{})

	var got *Message
	adapter.OnEvent(func(ev Event) { got = ev.Message })

	adapter.handleEventsAPI(slackevents.EventsAPIEvent{
		Type: slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{
			Data: &slackevents.MessageEvent{
				User:            "U123",
				Channel:         "C123",
				Text:            "reply",
				TimeStamp:       "1700000002.000300",
				ThreadTimeStamp: "1700000000.000100",
			},
		},
	})

	require.NotNil(t, got)
	assert.Equal(t, "1700000000.000100", got.ThreadID)
}

func TestSlackAdapter_HandleEventsAPI_Reactions(t *testing.T) {
	adapter := newTestSlackAdapter(t, &mockSlackAPI{})

	var events []Event
	adapter.OnEvent(func(ev Event) { events = append(events, ev) })

	item := slackevents.Item{Channel: "C123", Timestamp: "1700000000.000100"}
	adapter.handleEventsAPI(slackevents.EventsAPIEvent{
		Type: slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{
			Data: &slackevents.ReactionAddedEvent{User: "U123", Reaction: "eyes", Item: item},
		},
	})
	adapter.handleEventsAPI(slackevents.EventsAPIEvent{
		Type: slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{
			Data: &slackevents.ReactionRemovedEvent{User: "U123", Reaction: "eyes", Item: item},
		},
	})

	require.Len(t, events, 2)
	assert.Equal(t, EventReactionAdded, events[0].Type)
	assert.True(t, events[0].Reaction.Added)
	assert.Equal(t, "eyes", events[0].Reaction.Emoji)
	assert.Equal(t, EventReactionRemoved, events[1].Type)
	assert.False(t, events[1].Reaction.Added)
}

func TestSlackAdapter_HandleEventRequest_URLVerification(t *testing.T) {
	adapter := NewSlackAdapter(SlackConfig{})

	body := `{"type":"url_verification","token":"tok","challenge":"challenge-abc"}`
	req := httptest.NewRequest("POST", "/slack/events", strings.NewReader(body))
	rec := httptest.NewRecorder()

	adapter.handleEventRequest(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "challenge-abc", rec.Body.String())
}

func TestSlackAdapter_HandleEventRequest_MalformedBody(t *testing.T) {
	adapter := NewSlackAdapter(SlackConfig{})

	req := httptest.NewRequest("POST", "/slack/events", strings.NewReader("not json"))
	rec := httptest.NewRecorder()

	adapter.handleEventRequest(rec, req)

	assert.Equal(t, 400, rec.Code)
}

func TestSlackTimestamp(t *testing.T) {
	ts := slackTimestamp("1700000000.000100")
	assert.Equal(t, int64(1700000000), ts.Unix())
	assert.Equal(t, 100*time.Microsecond, time.Duration(ts.Nanosecond()))

	assert.True(t, slackTimestamp("garbage").IsZero())
	assert.Equal(t, int64(1700000000), slackTimestamp("1700000000").Unix())
}
