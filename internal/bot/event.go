package bot

// EventType identifies a normalized event variant.
type EventType string

const (
	EventMessage         EventType = "message"
	EventReactionAdded   EventType = "reaction_added"
	EventReactionRemoved EventType = "reaction_removed"
	EventUserJoined      EventType = "user_joined"
	EventUserLeft        EventType = "user_left"
	EventChannelCreated  EventType = "channel_created"
	EventChannelDeleted  EventType = "channel_deleted"
)

// Event is the tagged union delivered to subscribers. Exactly one payload
// field matching Type is set.
type Event struct {
	Type     EventType
	Platform string

	Message  *Message       // EventMessage
	Reaction *ReactionEvent // EventReactionAdded / EventReactionRemoved
	Member   *MemberEvent   // EventUserJoined / EventUserLeft
	Channel  *ChannelEvent  // EventChannelCreated / EventChannelDeleted
}

// ReactionEvent carries the identifiers needed to act on a reaction change.
type ReactionEvent struct {
	MessageID string
	ChannelID string
	UserID    string
	Emoji     string
	Added     bool
}

// MemberEvent carries the identifiers for a channel membership change.
type MemberEvent struct {
	UserID    string
	ChannelID string
	Joined    bool
}

// ChannelEvent carries the identifiers for a channel lifecycle change.
type ChannelEvent struct {
	ChannelID string
	Name      string
	Created   bool
}
