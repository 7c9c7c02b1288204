package bot

import (
	"errors"

	"github.com/keepmind9/chatbridge/internal/logger"
	"github.com/keepmind9/chatbridge/internal/refcache"
	"github.com/keepmind9/chatbridge/pkg/constants"
	"github.com/sirupsen/logrus"
)

var (
	errNotConnected = errors.New("adapter not connected")
	errUnsupported  = errors.New("not supported by this platform")
)

// maskSecret masks sensitive information for logging
func maskSecret(s string) string {
	if len(s) <= constants.MinSecretLengthForMasking {
		return "***"
	}
	return s[:constants.SecretMaskPrefixLength] + "***" + s[len(s)-constants.SecretMaskSuffixLength:]
}

// resolveRef resolves a reference to its mutation context. A full-message
// ref is self-contained and never consults the cache; an id-only ref goes
// through the adapter's cache and can miss.
func resolveRef(cache *refcache.Cache, ref MessageRef) (refcache.Context, error) {
	if m := ref.Full(); m != nil {
		return refcache.Context{
			ChannelID: m.ChannelID,
			ThreadID:  m.ThreadID,
			Timestamp: m.Timestamp,
		}, nil
	}
	return cache.Resolve(ref.ID())
}

// cacheMessage records a sent or received message's context for later
// id-only mutation. The entry for an id is always overwritten.
func cacheMessage(cache *refcache.Cache, m *Message) {
	if cache == nil || m == nil {
		return
	}
	cache.Put(m.ID, refcache.Context{
		ChannelID: m.ChannelID,
		ThreadID:  m.ThreadID,
		Timestamp: m.Timestamp,
	})
}

// truncateMessage enforces a platform's outbound length limit, keeping the
// tail so the newest content survives.
func truncateMessage(platform, message string, max int) string {
	if len(message) <= max {
		return message
	}
	logger.WithFields(logrus.Fields{
		"platform":        platform,
		"original_length": len(message),
		"max_length":      max,
	}).Info("truncating-message-for-platform-limit")
	return "..." + message[len(message)-max+3:]
}
