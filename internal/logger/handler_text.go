package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// fieldRank orders the standard field vocabulary (fields.go) in text
// output: operation first, then identity, then filesystem, then
// transfer counters, with the error last. Unknown keys keep their
// arrival order after the known ones.
var fieldRank = map[string]int{
	KeyVerb:       0,
	KeyReply:      1,
	KeyClient:     2,
	KeySessionID:  3,
	KeyPath:       4,
	KeyRel:        5,
	KeyChunk:      6,
	KeyChunks:     7,
	KeySize:       8,
	KeyBytesIn:    9,
	KeyBytesOut:   10,
	KeyPort:       11,
	KeyAttempt:    12,
	KeyMaxRetries: 13,
	KeyDurationMs: 14,
	KeyError:      15,
}

// ColorTextHandler implements slog.Handler with colored text output and
// vocabulary-ordered fields.
type ColorTextHandler struct {
	opts     *slog.HandlerOptions
	w        io.Writer
	mu       *sync.Mutex
	attrs    []slog.Attr
	useColor bool
}

// NewColorTextHandler creates a new ColorTextHandler.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, useColor bool) *ColorTextHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &ColorTextHandler{
		opts:     opts,
		w:        w,
		mu:       &sync.Mutex{},
		useColor: useColor,
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *ColorTextHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

// Handle formats and writes a log record.
func (h *ColorTextHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	sort.SliceStable(attrs, func(i, j int) bool {
		return rankOf(attrs[i].Key) < rankOf(attrs[j].Key)
	})

	// Build output in a local buffer, lock only for the write
	var buf []byte
	buf = fmt.Appendf(buf, "[%s] [%s] %s",
		r.Time.Format("2006-01-02 15:04:05"), h.formatLevel(r.Level), r.Message)
	for _, attr := range attrs {
		buf = h.appendAttr(buf, attr)
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	_, err := h.w.Write(buf)
	h.mu.Unlock()
	return err
}

func rankOf(key string) int {
	if rank, ok := fieldRank[key]; ok {
		return rank
	}
	return len(fieldRank)
}

// formatLevel returns the level string with optional color.
func (h *ColorTextHandler) formatLevel(level slog.Level) string {
	var levelStr string
	var color string

	switch {
	case level < slog.LevelInfo:
		levelStr = "DEBUG"
		color = colorGray
	case level < slog.LevelWarn:
		levelStr = "INFO"
		color = colorGreen
	case level < slog.LevelError:
		levelStr = "WARN"
		color = colorYellow
	default:
		levelStr = "ERROR"
		color = colorRed
	}

	if h.useColor {
		return color + levelStr + colorReset
	}
	return levelStr
}

// appendAttr formats and appends one attribute. Error values are
// rendered in red so they stand out on a busy dispatcher line.
func (h *ColorTextHandler) appendAttr(buf []byte, a slog.Attr) []byte {
	if a.Equal(slog.Attr{}) {
		return buf
	}

	a.Value = a.Value.Resolve()
	value := formatValue(a.Value)

	if !h.useColor {
		return fmt.Appendf(buf, " %s=%s", a.Key, value)
	}
	if a.Key == KeyError {
		return fmt.Appendf(buf, " %s%s%s=%s%s%s", colorCyan, a.Key, colorReset, colorRed, value, colorReset)
	}
	return fmt.Appendf(buf, " %s%s%s=%s", colorCyan, a.Key, colorReset, value)
}

// formatValue formats a slog.Value for text output.
func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return fmt.Sprintf("%d", v.Int64())
	case slog.KindUint64:
		return fmt.Sprintf("%d", v.Uint64())
	case slog.KindFloat64:
		return fmt.Sprintf("%.3f", v.Float64())
	case slog.KindBool:
		return fmt.Sprintf("%t", v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		return fmt.Sprintf("%v", v.Any())
	default:
		return v.String()
	}
}

// WithAttrs returns a new handler with additional attrs.
func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColorTextHandler{
		opts:     h.opts,
		w:        h.w,
		mu:       h.mu, // share mutex with parent
		attrs:    append(append([]slog.Attr{}, h.attrs...), attrs...),
		useColor: h.useColor,
	}
}

// WithGroup returns a new handler with a group name.
// Groups are flattened in text output.
func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	return h
}
