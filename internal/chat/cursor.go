package chat

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eldtechnologies/teamchat/internal/store"
)

// CursorToken encodes the position of a message as "<unix ms>.<id>".
func CursorToken(createdAt time.Time, id string) string {
	return fmt.Sprintf("%d.%s", createdAt.UnixMilli(), id)
}

// ParseBefore turns the before parameter into a store cursor. It accepts a
// cursor token, an RFC 3339 timestamp or unix milliseconds. An empty value
// means now.
//
// Only a cursor token (nextBefore) continues a page without gaps. A bare
// timestamp selects messages strictly older than its millisecond, so
// messages sharing that millisecond with the boundary are not returned.
func ParseBefore(before string, now time.Time) (store.Cursor, error) {
	before = strings.TrimSpace(before)
	if before == "" {
		// created_at is truncated to the millisecond, so this includes
		// messages written in the current one.
		return store.Cursor{Before: now.Add(time.Millisecond)}, nil
	}

	if ms, id, ok := strings.Cut(before, "."); ok {
		if n, err := strconv.ParseInt(ms, 10, 64); err == nil {
			if id == "" {
				return store.Cursor{}, validationError("cursor %q has no message id", before)
			}
			return store.Cursor{Before: time.UnixMilli(n).UTC(), BeforeID: id}, nil
		}
	}

	if t, err := time.Parse(time.RFC3339Nano, before); err == nil {
		return store.Cursor{Before: t.UTC()}, nil
	}

	if n, err := strconv.ParseInt(before, 10, 64); err == nil {
		return store.Cursor{Before: time.UnixMilli(n).UTC()}, nil
	}

	return store.Cursor{}, validationError("invalid before value %q", before)
}
