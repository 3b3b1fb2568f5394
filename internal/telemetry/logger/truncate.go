package logger

import (
	"fmt"
	"log/slog"
)

// maxPayloadLogBytes bounds how much of a row payload reaches the log.
const maxPayloadLogBytes = 128

// truncatePayload shortens payload-carrying attributes. Attribute keys
// named "payload" or ending in "_payload" are treated as row bodies.
func truncatePayload(a slog.Attr) slog.Attr {
	if a.Key != "payload" && !hasPayloadSuffix(a.Key) {
		return a
	}

	var b []byte
	switch v := a.Value.Any().(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return a
	}

	if len(b) <= maxPayloadLogBytes {
		return slog.String(a.Key, string(b))
	}
	return slog.String(a.Key, fmt.Sprintf("%s... (%d bytes)", b[:maxPayloadLogBytes], len(b)))
}

func hasPayloadSuffix(key string) bool {
	const suffix = "_payload"
	return len(key) > len(suffix) && key[len(key)-len(suffix):] == suffix
}
