package outbound

import "strings"

const (
	// WhatsAppSegmentLimit is the Evolution provider message cap.
	WhatsAppSegmentLimit = 4096
	// DiscordSegmentLimit is the hard provider cap, enforced regardless
	// of the auto-split setting.
	DiscordSegmentLimit = 2000

	paragraphSep = "\n\n"
)

// SplitWhatsApp splits reply text for the WhatsApp path. With split
// enabled, segments are the literal two-newline paragraphs; any segment
// beyond the provider cap is further broken at word boundaries.
func SplitWhatsApp(text string, split bool) []string {
	if !split {
		return capSegments([]string{text}, WhatsAppSegmentLimit, false)
	}
	return capSegments(strings.Split(text, paragraphSep), WhatsAppSegmentLimit, false)
}

// SplitDiscord splits reply text for the Discord path. The 2000-char cap
// always holds; with split enabled, paragraph boundaries are preferred,
// then sentence, then word boundaries.
func SplitDiscord(text string, split bool) []string {
	if split {
		return capSegments(strings.Split(text, paragraphSep), DiscordSegmentLimit, true)
	}
	return capSegments([]string{text}, DiscordSegmentLimit, true)
}

func capSegments(segments []string, limit int, sentenceAware bool) []string {
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		for _, chunk := range chunk(seg, limit, sentenceAware) {
			out = append(out, chunk)
		}
	}
	if len(out) == 0 {
		return []string{""}
	}
	return out
}

// chunk breaks one segment into pieces of at most limit runes, cutting at
// the latest sentence end (when sentenceAware) or space within the window,
// falling back to a hard cut.
func chunk(text string, limit int, sentenceAware bool) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var out []string
	for len(runes) > limit {
		window := runes[:limit]
		cut := -1
		if sentenceAware {
			cut = lastSentenceEnd(window)
		}
		if cut < 0 {
			cut = lastSpace(window)
		}
		if cut < 0 {
			cut = limit
		}
		out = append(out, strings.TrimRight(string(runes[:cut]), " "))
		runes = []rune(strings.TrimLeft(string(runes[cut:]), " "))
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

func lastSentenceEnd(window []rune) int {
	for i := len(window) - 1; i > 0; i-- {
		switch window[i] {
		case '.', '!', '?':
			if i+1 < len(window) && window[i+1] != ' ' && window[i+1] != '\n' {
				continue
			}
			return i + 1
		case '\n':
			return i + 1
		}
	}
	return -1
}

func lastSpace(window []rune) int {
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == ' ' {
			return i
		}
	}
	return -1
}
