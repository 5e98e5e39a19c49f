package utils

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// truncationMarker is appended to text cut at the size limit
const truncationMarker = "\n[... truncated ...]"

// TextProcessor prepares message bodies for storage and prompts
type TextProcessor struct {
	logger *zap.Logger
}

// NewTextProcessor creates a new TextProcessor
func NewTextProcessor(logger *zap.Logger) *TextProcessor {
	return &TextProcessor{
		logger: logger,
	}
}

// TruncateText cuts text to at most maxSize bytes on a rune boundary
func (tp *TextProcessor) TruncateText(text string, maxSize int) string {
	if maxSize <= 0 || len(text) <= maxSize {
		return text
	}

	truncated := text[:maxSize]

	// Drop a partially cut rune
	for !utf8.ValidString(truncated) && len(truncated) > 0 {
		truncated = truncated[:len(truncated)-1]
	}

	tp.logger.Debug("Text truncated",
		zap.Int("original_size", len(text)),
		zap.Int("truncated_size", len(truncated)),
		zap.Int("max_size", maxSize))

	return truncated + truncationMarker
}

// SanitizeUTF8 drops invalid UTF-8 sequences
func (tp *TextProcessor) SanitizeUTF8(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	sanitized := strings.ToValidUTF8(text, "")

	tp.logger.Debug("Text sanitized",
		zap.Int("original_size", len(text)),
		zap.Int("sanitized_size", len(sanitized)))

	return sanitized
}

// StripQuotedReply removes the quoted original from a reply body: lines
// starting with '>' and everything after an "On ... wrote:" attribution or
// an Outlook "-----Original Message-----" separator.
func (tp *TextProcessor) StripQuotedReply(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "-----Original Message-----") {
			break
		}
		if strings.HasPrefix(trimmed, "On ") && strings.HasSuffix(trimmed, "wrote:") {
			break
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		kept = append(kept, line)
	}

	stripped := strings.TrimSpace(strings.Join(kept, "\n"))
	if stripped == "" {
		// Entirely quoted, keep the original
		return strings.TrimSpace(text)
	}
	return stripped
}

// ProcessText sanitizes, strips quoted text and truncates in one operation
func (tp *TextProcessor) ProcessText(text string, maxSize int) string {
	sanitized := tp.SanitizeUTF8(text)
	return tp.TruncateText(sanitized, maxSize)
}

// ReplyContent turns a reply body into the stored reply excerpt
func (tp *TextProcessor) ReplyContent(body, snippet string, maxSize int) string {
	if strings.TrimSpace(body) == "" {
		return tp.ProcessText(strings.TrimSpace(snippet), maxSize)
	}
	return tp.ProcessText(tp.StripQuotedReply(tp.SanitizeUTF8(body)), maxSize)
}
