package logging

import (
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single log line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the maximum number of lines to buffer for the exit summary.
	MaxBufferedLines = 100
)

// ServerLogHandler classifies dedicated-server log lines and keeps a
// circular buffer of recent lines for the exit summary.
//
// The log stream stays opaque to the harness; classification only picks a
// display level, it does not parse the content.
type ServerLogHandler struct {
	logger  *slog.Logger
	verbose bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	mu     sync.Mutex
}

// NewServerLogHandler creates a handler for dedicated-server log output.
func NewServerLogHandler(logger *slog.Logger, verbose bool) *ServerLogHandler {
	return &ServerLogHandler{
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
	}
}

// HandleLine processes a single line of server log output.
// Implements the tail.LineSink interface.
func (h *ServerLogHandler) HandleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.mu.Unlock()

	level := h.classifyLine(line)

	// In non-verbose mode, only surface warnings and errors
	if !h.verbose && level == slog.LevelDebug {
		return
	}

	h.logger.Log(nil, level, "server_log",
		"line", line,
	)
}

// classifyLine determines the log level for a line based on content.
func (h *ServerLogHandler) classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	// Hard failure patterns
	if strings.Contains(lower, "error") ||
		strings.Contains(lower, "fatal") ||
		strings.Contains(lower, "segmentation") ||
		strings.Contains(lower, "could not bind") {
		return slog.LevelWarn
	}

	// Degraded-state patterns
	if strings.Contains(lower, "warning") ||
		strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "dropped") {
		return slog.LevelWarn
	}

	// Player lifecycle events are worth seeing by default
	if strings.Contains(lower, "client") &&
		(strings.Contains(lower, "connected") || strings.Contains(lower, "disconnected")) {
		return slog.LevelInfo
	}

	// Everything else (tic traffic, chat, chatter) stays at debug
	return slog.LevelDebug
}

// RecentLines returns the most recent lines from the buffer.
func (h *ServerLogHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}

	return lines
}

// ErrorPatterns are common failure patterns to extract for the exit summary.
var ErrorPatterns = []string{
	"could not bind",
	"Connection refused",
	"timed out",
	"segmentation",
	"kicked",
	"desync",
}

// CountErrors counts occurrences of failure patterns in the buffer.
func (h *ServerLogHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)
	for _, line := range h.buffer {
		if line == "" {
			continue
		}
		for _, pattern := range ErrorPatterns {
			if strings.Contains(strings.ToLower(line), strings.ToLower(pattern)) {
				counts[pattern]++
			}
		}
	}

	return counts
}
