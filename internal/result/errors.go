package result

import "fmt"

// ConnectionError indicates the platform was unreachable or the credentials
// were rejected. It is returned directly from Connect/Start, never inside a
// Result, because it aborts façade usability entirely.
type ConnectionError struct {
	Platform string
	Cause    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connection failed: %v", e.Platform, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// AdapterNotFoundError indicates a façade was constructed for a platform
// with no registered adapter and none supplied directly.
type AdapterNotFoundError struct {
	Platform string
}

func (e *AdapterNotFoundError) Error() string {
	return fmt.Sprintf("no adapter registered for platform %q", e.Platform)
}

// SendError indicates a message could not be sent.
type SendError struct {
	Platform  string
	ChannelID string
	Cause     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: failed to send message to channel %s: %v", e.Platform, e.ChannelID, e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }

// EditError indicates a previously sent message could not be edited.
type EditError struct {
	Platform  string
	MessageID string
	Cause     error
}

func (e *EditError) Error() string {
	return fmt.Sprintf("%s: failed to edit message %s: %v", e.Platform, e.MessageID, e.Cause)
}

func (e *EditError) Unwrap() error { return e.Cause }

// DeleteError indicates a previously sent message could not be deleted.
type DeleteError struct {
	Platform  string
	MessageID string
	Cause     error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("%s: failed to delete message %s: %v", e.Platform, e.MessageID, e.Cause)
}

func (e *DeleteError) Unwrap() error { return e.Cause }

// ReactionError indicates a reaction could not be added or removed.
type ReactionError struct {
	Platform  string
	MessageID string
	Emoji     string
	Cause     error
}

func (e *ReactionError) Error() string {
	return fmt.Sprintf("%s: failed to update reaction %q on message %s: %v", e.Platform, e.Emoji, e.MessageID, e.Cause)
}

func (e *ReactionError) Unwrap() error { return e.Cause }

// DirectoryError indicates a channel or user listing failed.
type DirectoryError struct {
	Platform  string
	ChannelID string
	Cause     error
}

func (e *DirectoryError) Error() string {
	if e.ChannelID != "" {
		return fmt.Sprintf("%s: failed to list directory for channel %s: %v", e.Platform, e.ChannelID, e.Cause)
	}
	return fmt.Sprintf("%s: failed to list directory: %v", e.Platform, e.Cause)
}

func (e *DirectoryError) Unwrap() error { return e.Cause }

// CacheMissError indicates a string message reference could not be resolved
// to its mutation context. The message carries the remediation because the
// two-tier reference design is intentionally degraded-but-recoverable.
type CacheMissError struct {
	Platform  string
	MessageID string
}

func (e *CacheMissError) Error() string {
	return fmt.Sprintf(
		"%s: no cached context for message %s; pass the full message object instead of its id "+
			"(the entry may have expired, the process may have restarted, or the message may have "+
			"originated from a different instance)",
		e.Platform, e.MessageID)
}
