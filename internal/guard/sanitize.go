package guard

import (
	"regexp"
	"strings"
)

// Reasoning-tag formats stripped from model output before anything else
// looks at it.
var thinkingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)<think>.*?</think>`),
	regexp.MustCompile(`(?s)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?s)<reasoning>.*?</reasoning>`),
	regexp.MustCompile(`(?s)\[REASONING\].*?\[/REASONING\]`),
}

// Unterminated opening tags: drop everything from the tag onward.
var danglingThinking = regexp.MustCompile(`(?s)<think(ing)?>.*$`)

// StripThinking removes reasoning blocks in every known format,
// including a leading Markdown "Thinking:" section.
func StripThinking(text string) string {
	for _, re := range thinkingPatterns {
		text = re.ReplaceAllString(text, "")
	}
	text = danglingThinking.ReplaceAllString(text, "")
	// Leading "Thinking:" block ends at the first blank line.
	trimmed := strings.TrimLeft(text, " \n")
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "thinking:") || strings.HasPrefix(lower, "**thinking") {
		if idx := strings.Index(trimmed, "\n\n"); idx >= 0 {
			text = trimmed[idx+2:]
		} else {
			text = ""
		}
	}
	return strings.TrimSpace(text)
}

// Internal-context markers that leak the memory prompt back to the user.
var internalMarkers = []*regexp.Regexp{
	regexp.MustCompile(`\[PAST - \d+%\][^\n]*\n?`),
	regexp.MustCompile(`(?m)^=== What I Know About This User ===$\n?`),
	regexp.MustCompile(`(?m)^=== O Que Sei Sobre Este Usuário ===$\n?`),
	regexp.MustCompile(`(?m)^(Preferences|Personal Info|History|Relationships|Goals|Instructions|Communication Style|Inside Jokes|Linguistic Patterns):\s*$\n?`),
}

// StripInternalMarkers removes memory-dump artifacts from a reply.
func StripInternalMarkers(text string) string {
	for _, re := range internalMarkers {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// Sensitive-content patterns: when any of these appears in a reply the
// whole reply is replaced, not trimmed, because partial redaction still
// leaks structure.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`tool:\s*\w+`),
	regexp.MustCompile(`db\.query\(`),
	regexp.MustCompile(`backend/`),
	regexp.MustCompile(`agent_id: \d+`),
	regexp.MustCompile(`\[PAST - \d+%\]`),
	regexp.MustCompile(`(?i)system prompt:`),
}

// SensitiveApology is the replacement text for filtered replies.
const SensitiveApology = "Desculpe, não consegui formular uma resposta adequada. Pode tentar novamente?"

// FilterSensitive returns the reply unchanged when clean, or the
// generic apology plus the matched pattern when not.
func FilterSensitive(text string) (string, string) {
	for _, re := range sensitivePatterns {
		if re.MatchString(text) {
			return SensitiveApology, re.String()
		}
	}
	return text, ""
}
