package bot

import (
	"io"
	"time"
)

// Message is a platform-normalized message. ID and ChannelID are never empty
// after normalization; Timestamp follows platform delivery order per channel
// only as far as the platform itself guarantees it.
type Message struct {
	ID          string
	ChannelID   string
	UserID      string
	Text        string
	Timestamp   time.Time
	ThreadID    string // empty when the message is not in a thread
	Attachments []Attachment
	Platform    string
	Raw         interface{} // original platform payload, escape hatch only
}

// Attachment describes a file attached to a message.
type Attachment struct {
	ID       string
	Filename string
	URL      string
	MimeType string
	Size     int64
}

// Channel is a normalized channel/chat directory entry.
type Channel struct {
	ID        string
	Name      string
	IsPrivate bool
}

// User is a normalized user directory entry.
type User struct {
	ID          string
	Name        string
	DisplayName string
	IsBot       bool
}

// File is the input to UploadFile. Size must be accurate for platforms that
// require a declared length (Slack).
type File struct {
	Name     string
	Reader   io.Reader
	Size     int64
	MimeType string
}

// SendOptions carries optional send parameters. Platform-specific knobs live
// in the named extension structs; an adapter reads only its own.
type SendOptions struct {
	ThreadID string // send into an existing thread

	Slack    *SlackSendOptions
	Discord  *DiscordSendOptions
	Telegram *TelegramSendOptions
	Feishu   *FeishuSendOptions
}

// SlackSendOptions are Slack-specific send parameters.
type SlackSendOptions struct {
	UnfurlLinks bool
}

// DiscordSendOptions are Discord-specific send parameters.
type DiscordSendOptions struct {
	TTS bool
}

// TelegramSendOptions are Telegram-specific send parameters.
type TelegramSendOptions struct {
	ParseMode           string // "Markdown", "HTML" or empty
	DisableNotification bool
}

// FeishuSendOptions are Feishu-specific send parameters.
type FeishuSendOptions struct {
	MsgType string // defaults to text
}

// MessageRef addresses a previously sent message: either a bare platform id,
// or the full message. A full-message ref is self-contained and is resolved
// without ever consulting the reference cache.
type MessageRef struct {
	id  string
	msg *Message
}

// RefID builds a reference from a bare message identifier. Adapters whose
// platform needs extra context will resolve it through their cache, which
// can miss after TTL expiry, a restart, or across instances.
func RefID(id string) MessageRef {
	return MessageRef{id: id}
}

// RefMessage builds a self-contained reference from a full message.
func RefMessage(m *Message) MessageRef {
	return MessageRef{msg: m}
}

// ID returns the message identifier for either variant.
func (r MessageRef) ID() string {
	if r.msg != nil {
		return r.msg.ID
	}
	return r.id
}

// Full returns the full message, or nil for an id-only reference.
func (r MessageRef) Full() *Message {
	return r.msg
}
