package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that logs from
// the dispatcher, the download workers, and the client CLI can be queried
// uniformly.
const (
	// Protocol & operation
	KeyVerb  = "verb"  // Command verb: LIST_FILES, CD, UPLOAD, ...
	KeyReply = "reply" // First token of the reply frame

	// Filesystem
	KeyPath = "path" // Absolute path under the confinement root
	KeyRel  = "rel"  // Path relative to the confinement root
	KeySize = "size" // File size in bytes

	// Client identification
	KeyClient = "client" // Client address as ip:port

	// Sessions
	KeySessionID = "session_id" // Upload/bulk/sync session identifier
	KeyChunk     = "chunk"      // Chunk index within a transfer
	KeyChunks    = "chunks"     // Total chunk count

	// Transfers
	KeyBytesIn  = "bytes_in"  // Bytes received
	KeyBytesOut = "bytes_out" // Bytes sent
	KeyPort     = "port"      // Data port for a download worker

	// Transport
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts

	// Operation metadata
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
)

// Verb returns a slog.Attr for a command verb.
func Verb(v string) slog.Attr {
	return slog.String(KeyVerb, v)
}

// Reply returns a slog.Attr for the first token of a reply frame.
func Reply(r string) slog.Attr {
	return slog.String(KeyReply, r)
}

// Path returns a slog.Attr for an absolute path.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Rel returns a slog.Attr for a root-relative path.
func Rel(p string) slog.Attr {
	return slog.String(KeyRel, p)
}

// Size returns a slog.Attr for a file size.
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// Client returns a slog.Attr for a client address.
func Client(addr string) slog.Attr {
	return slog.String(KeyClient, addr)
}

// SessionID returns a slog.Attr for a session identifier.
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// Chunk returns a slog.Attr for a chunk index.
func Chunk(i int) slog.Attr {
	return slog.Int(KeyChunk, i)
}

// Chunks returns a slog.Attr for a total chunk count.
func Chunks(n int) slog.Attr {
	return slog.Int(KeyChunks, n)
}

// BytesIn returns a slog.Attr for bytes received.
func BytesIn(n int64) slog.Attr {
	return slog.Int64(KeyBytesIn, n)
}

// BytesOut returns a slog.Attr for bytes sent.
func BytesOut(n int64) slog.Attr {
	return slog.Int64(KeyBytesOut, n)
}

// Port returns a slog.Attr for a data port.
func Port(p int) slog.Attr {
	return slog.Int(KeyPort, p)
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for maximum retry attempts.
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error. Returns an empty attr for nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
