// Package wire defines the ASCII frame grammar spoken between the driftsync
// client and server.
//
// Every request and every reply is a single UDP datagram carrying UTF-8
// text. A frame is a command line and an optional body, separated by the
// first newline. Fields within the command line are separated by single
// spaces; binary payloads travel base64-encoded in the body-free DATA
// frames. Numeric fields are decimal.
package wire

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// Protocol limits.
const (
	// MaxFrame is the largest datagram payload the server accepts.
	MaxFrame = 8192

	// MaxRequest is the largest payload a client may place in one request.
	MaxRequest = 4096

	// ChunkSize is the pre-encoding chunk size for file and manifest
	// transfer. 1024 bytes grows to roughly 1368 bytes after base64,
	// comfortably below MaxRequest.
	ChunkSize = 1024

	// DefaultControlPort is the server's fixed control endpoint port.
	DefaultControlPort = 51234
)

// Request verbs.
const (
	VerbListFiles        = "LIST_FILES"
	VerbCD               = "CD"
	VerbUpload           = "UPLOAD"
	VerbDownload         = "DOWNLOAD"
	VerbKill             = "KILL_SERVER_FILES"
	VerbSuploadStructure = "SUPLOAD_STRUCTURE"
	VerbSuploadFile      = "SUPLOAD_FILE"
	VerbSuploadComplete  = "SUPLOAD_COMPLETE"
	VerbSyncStart        = "SYNC_START"
	VerbSyncChunk        = "SYNC_CHUNK"
	VerbSyncFinish       = "SYNC_FINISH"
	VerbGetSyncChunk     = "GET_SYNC_CHUNK"

	// Upload receiver verbs (valid only inside an upload session).
	VerbData       = "DATA"
	VerbUploadDone = "UPLOAD_DONE"

	// Download worker verbs.
	VerbGetChunk = "GET_CHUNK"
	VerbFile     = "FILE" // legacy random-access dialect
)

// Reply tokens.
const (
	ReplyOK               = "OK"
	ReplyErr              = "ERR"
	ReplyCDOK             = "CD_OK"
	ReplyCDErr            = "CD_ERR"
	ReplyKillOK           = "KILL_OK"
	ReplyUploadReady      = "UPLOAD_READY"
	ReplyAckData          = "ACK_DATA"
	ReplyUploadComplete   = "UPLOAD_COMPLETE"
	ReplyStructureOK      = "STRUCTURE_OK"
	ReplyStructureErr     = "STRUCTURE_ERR"
	ReplyFileReady        = "FILE_READY"
	ReplySuploadOK        = "SUPLOAD_OK"
	ReplySyncReady        = "SYNC_READY"
	ReplyAckChunk         = "ACK_CHUNK"
	ReplySyncNoChanges    = "SYNC_OK_NO_CHANGES"
	ReplyNeedsFilesReady  = "NEEDS_FILES_READY"
	ReplyDownloadReady    = "DOWNLOAD_READY"
	ReplyData             = "DATA"
	ReplyTransferComplete = "TRANSFER_COMPLETE"
	ReplySyncChunk        = "SYNC_CHUNK"

	ReplySyncErr        = "SYNC_ERR"
	ErrUnknownCommand   = "ERR_UNKNOWN_COMMAND"
	ErrInvalidPath      = "ERR_INVALID_PATH"
	ErrNoSyncSession    = "ERR_NO_SYNC_SESSION"
	ErrNoSuploadSession = "ERR_NO_SUPLOAD_SESSION"

	// ReplySyncBusy is sent verbatim, odd spacing included, to any frame
	// rejected because the global sync lock is held.
	ReplySyncBusy = "server syncing , plz wait"
)

// NotFound / not-a-file detail tokens for ERR replies.
const (
	DetailNotFound = "NOT_FOUND"
	DetailNotAFile = "NOT_A_FILE"
)

// StatusNeedsFiles is the status value inside a needs-files response body.
const StatusNeedsFiles = "NEEDS_FILES"

// NeedsFiles is the JSON body a server answers a SYNC_FINISH with when the
// client must upload files. It is chunked into ChunkSize pieces and drained
// via GET_SYNC_CHUNK.
type NeedsFiles struct {
	Status string   `json:"status"`
	Files  []string `json:"files"`
}

// Frame is one parsed datagram: a command line and an optional body.
type Frame struct {
	// Line is the command line, without the trailing newline.
	Line string

	// Body is everything after the first newline. Empty when the frame
	// has no body.
	Body string
}

// Parse splits a datagram payload at the first newline into command line
// and body. The payload is never modified; a frame with an empty line is
// returned for an empty payload.
func Parse(payload []byte) Frame {
	s := string(payload)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return Frame{Line: s[:i], Body: s[i+1:]}
	}
	return Frame{Line: s}
}

// Verb returns the first whitespace token of the command line, or "" for
// an empty line.
func (f Frame) Verb() string {
	fields := strings.Fields(f.Line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Args returns the command line tokens after the verb.
func (f Frame) Args() []string {
	fields := strings.Fields(f.Line)
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}

// Arg returns the i-th argument after the verb, or "" when absent.
func (f Frame) Arg(i int) string {
	args := f.Args()
	if i < 0 || i >= len(args) {
		return ""
	}
	return args[i]
}

// Bytes renders the frame back to datagram form.
func (f Frame) Bytes() []byte {
	if f.Body == "" {
		return []byte(f.Line)
	}
	return []byte(f.Line + "\n" + f.Body)
}

// Format builds a datagram from a command line and an optional body.
func Format(line, body string) []byte {
	return Frame{Line: line, Body: body}.Bytes()
}

// Join assembles a command line out of space-separated tokens.
func Join(tokens ...string) string {
	return strings.Join(tokens, " ")
}

// EncodeChunk base64-encodes a binary chunk for transport in a DATA frame.
// Standard alphabet with padding.
func EncodeChunk(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeChunk decodes the base64 payload of a DATA frame.
func DecodeChunk(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// SplitChunks cuts data into size-byte pieces, preserving order. The last
// piece may be shorter. Empty data yields no chunks.
func SplitChunks(data []byte, size int) [][]byte {
	if size <= 0 || len(data) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

// ParseChunkRef parses an "<i>/<N>" chunk reference as found in SYNC_CHUNK
// frames. Both numbers must be positive decimals with i <= N.
func ParseChunkRef(s string) (i, n int, ok bool) {
	slash := strings.IndexByte(s, '/')
	if slash <= 0 || slash == len(s)-1 {
		return 0, 0, false
	}
	i, err := strconv.Atoi(s[:slash])
	if err != nil {
		return 0, 0, false
	}
	n, err = strconv.Atoi(s[slash+1:])
	if err != nil {
		return 0, 0, false
	}
	if i < 1 || n < 1 || i > n {
		return 0, 0, false
	}
	return i, n, true
}

// FormatChunkRef renders an "<i>/<N>" chunk reference.
func FormatChunkRef(i, n int) string {
	return strconv.Itoa(i) + "/" + strconv.Itoa(n)
}
