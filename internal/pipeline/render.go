package pipeline

import "strings"

// telegramMaxMessageLength is the Bot API's hard cap on one text message;
// the render step (spec §4.9 step 7-8) must split anything longer on a
// safe boundary rather than let the adapter reject it.
const telegramMaxMessageLength = 4096

// markdownV2Specials are the characters Telegram's MarkdownV2 dialect
// requires backslash-escaped outside of an explicit entity, per the Bot
// API's formatting-options reference.
const markdownV2Specials = "_*[]()~`>#+-=|{}.!"

// escapeMarkdownV2 escapes every special character. The dispatcher never
// emits its own Markdown entities (bold/links/etc.) today, so full
// escaping rather than selective entity-preserving escaping is correct;
// revisit if provider replies start carrying intentional formatting.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if strings.ContainsRune(markdownV2Specials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// renderAndSplit implements spec §4.9 steps 7-8: render to the platform's
// formatting dialect, then split long replies on safe (line, then word)
// boundaries so no single outbound chunk exceeds the platform limit.
func renderAndSplit(text string) []string {
	escaped := escapeMarkdownV2(text)
	if len(escaped) <= telegramMaxMessageLength {
		return []string{escaped}
	}
	return splitOnBoundaries(escaped, telegramMaxMessageLength)
}

func splitOnBoundaries(text string, limit int) []string {
	var parts []string
	for len(text) > limit {
		cut := lastSafeBoundary(text, limit)
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

// lastSafeBoundary finds the last newline at or before limit, falling back
// to the last space, falling back to a hard cut at limit — never splitting
// a multi-byte rune in two.
func lastSafeBoundary(text string, limit int) int {
	if limit >= len(text) {
		return len(text)
	}
	for limit > 0 && !isRuneBoundary(text, limit) {
		limit--
	}
	window := text[:limit]
	if i := strings.LastIndexByte(window, '\n'); i > 0 {
		return i + 1
	}
	if i := strings.LastIndexByte(window, ' '); i > 0 {
		return i + 1
	}
	return limit
}

func isRuneBoundary(text string, i int) bool {
	if i <= 0 || i >= len(text) {
		return true
	}
	return text[i]&0xC0 != 0x80
}
