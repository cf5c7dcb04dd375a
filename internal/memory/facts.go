package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/guard"
	"github.com/ligolabs/ligo/internal/store"
)

// ChatFn is the minimal LLM surface the extractor needs; the caller
// binds it to the agent's provider.
type ChatFn func(ctx context.Context, system, user string) (string, error)

// ExtractedFact is one fact emitted by the extractor before validation.
type ExtractedFact struct {
	Topic      string  `json:"topic"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

const extractionPrompt = `Extract durable facts about the user from the conversation.
Return ONLY a JSON array, no prose. Each element:
{"topic": "<one of: preferences, personal_info, history, relationships, goals, instructions, communication_style, inside_jokes, linguistic_patterns>",
 "key": "<short snake_case key>",
 "value": "<the fact>",
 "confidence": <0.0-1.0>}
Extract nothing speculative. An empty array is a valid answer.`

// Explicit-instruction triggers: these force extraction regardless of
// the message cadence.
var instructionTriggers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmemorize\b`),
	regexp.MustCompile(`(?i)\bmemoriza\b`),
	regexp.MustCompile(`(?i)lembre[- ]se (que|disso|de)`),
	regexp.MustCompile(`(?i)quando eu (perguntar|pedir|disser)`),
	regexp.MustCompile(`(?i)when i (ask|say)`),
	regexp.MustCompile(`(?i)\bremember that\b`),
}

// ShouldExtract decides whether to run the extractor: either enough
// user messages accumulated since the last run, or the latest message
// is an explicit instruction.
func ShouldExtract(userMsgsSinceLast, threshold int, latest string) bool {
	if threshold <= 0 {
		threshold = 5
	}
	if userMsgsSinceLast >= threshold {
		return true
	}
	for _, re := range instructionTriggers {
		if re.MatchString(latest) {
			return true
		}
	}
	return false
}

// MergeConfidence is the same-value merge formula, capped at 1.0.
// repeat is the total observation count including this one.
func MergeConfidence(old, new float64, repeat int) float64 {
	if repeat < 1 {
		repeat = 1
	}
	c := 0.6*old + 0.4*new + 0.1*float64(repeat-1)
	if c > 1 {
		return 1
	}
	if c < 0 {
		return 0
	}
	return c
}

// Extractor turns conversation windows into validated facts.
type Extractor struct {
	facts        store.FactStore
	chat         ChatFn
	sentinelMode string
	log          *slog.Logger
}

func NewExtractor(facts store.FactStore, chat ChatFn, sentinelMode string, log *slog.Logger) *Extractor {
	return &Extractor{facts: facts, chat: chat, sentinelMode: sentinelMode, log: log.With("component", "facts")}
}

// Extract runs the LLM extraction over the recent window and stores the
// validated facts. Malformed LLM output falls back to regex extraction
// over the latest message; every failure path degrades to zero facts.
func (e *Extractor) Extract(ctx context.Context, tenantID, agentID uuid.UUID, userKey string, window []store.MemoryEntry) int {
	var convo strings.Builder
	var latest string
	for _, m := range window {
		role := "User"
		if m.Role == "assistant" {
			role = "Agent"
		} else {
			latest = m.Content
		}
		convo.WriteString(role + ": " + m.Content + "\n")
	}

	var extracted []ExtractedFact
	if e.chat != nil {
		raw, err := e.chat(ctx, extractionPrompt, convo.String())
		if err != nil {
			e.log.Warn("fact extraction llm call failed", "error", err)
		} else {
			extracted = parseFactJSON(raw)
		}
	}
	if len(extracted) == 0 {
		extracted = regexExtract(latest)
	}

	stored := 0
	for _, f := range extracted {
		if !validTopic(f.Topic) || f.Key == "" || f.Value == "" {
			continue
		}
		if f.Confidence <= 0 || f.Confidence > 1 {
			f.Confidence = 0.7
		}
		ok, err := e.storeFact(ctx, tenantID, agentID, userKey, f)
		if err != nil {
			e.log.Warn("store fact failed", "key", f.Key, "error", err)
			continue
		}
		if ok {
			stored++
		}
	}
	return stored
}

// storeFact reports whether the fact was written; MemGuard rejections
// and lower-confidence contradictions are dropped without error.
func (e *Extractor) storeFact(ctx context.Context, tenantID, agentID uuid.UUID, userKey string, f ExtractedFact) (bool, error) {
	existing, err := e.facts.Get(ctx, agentID, userKey, f.Topic, f.Key)
	if err != nil {
		return false, err
	}
	var existingValue string
	var existingConf float64
	if existing != nil {
		existingValue = existing.Value
		existingConf = existing.Confidence
	}
	check := guard.ValidateFact(f.Topic, f.Key, f.Value, existingValue, existingConf, e.sentinelMode)
	if !check.OK {
		e.log.Info("memguard rejected fact", "topic", f.Topic, "key", f.Key, "reason", check.Reason)
		return false, nil
	}

	value, conf, repeat := f.Value, f.Confidence, 1
	if existing != nil {
		if strings.EqualFold(strings.TrimSpace(existing.Value), strings.TrimSpace(f.Value)) {
			// Same value observed again: the repeat count feeds the
			// confidence boost and is carried on the row.
			repeat = existing.RepeatCount + 1
			if existing.RepeatCount <= 0 {
				repeat = 2
			}
			value = existing.Value
			conf = MergeConfidence(existing.Confidence, f.Confidence, repeat)
		} else if existing.Confidence > f.Confidence {
			// Higher-confidence side wins; the new observation is dropped.
			return false, nil
		}
	}
	err = e.facts.Upsert(ctx, &store.FactData{
		TenantID: tenantID, AgentID: agentID, UserKey: userKey,
		Topic: f.Topic, Key: f.Key, Value: value, Confidence: conf, RepeatCount: repeat,
	})
	return err == nil, err
}

func validTopic(topic string) bool {
	for _, t := range store.FactTopics {
		if t == topic {
			return true
		}
	}
	return false
}

var jsonArrayRe = regexp.MustCompile(`(?s)\[.*\]`)

// parseFactJSON tolerates prose and code fences around the array.
func parseFactJSON(raw string) []ExtractedFact {
	match := jsonArrayRe.FindString(raw)
	if match == "" {
		return nil
	}
	var out []ExtractedFact
	if err := json.Unmarshal([]byte(match), &out); err != nil {
		return nil
	}
	return out
}

// Regex fallbacks over the latest user message.
var (
	nameRe        = regexp.MustCompile(`(?i)(?:meu nome é|me chamo|my name is)\s+([\p{L} ]{2,40})`)
	memorizeRe    = regexp.MustCompile(`(?i)(?:memorize|memoriza|remember that|lembre-se que)\s*:?\s*(.{3,200})`)
	whenIAskPTRe  = regexp.MustCompile(`(?i)quando eu (?:perguntar|pedir|disser)\s+(.{2,80}?),?\s*responda?\s+(.{2,120})`)
	whenIAskENRe  = regexp.MustCompile(`(?i)when i (?:ask|say)\s+(.{2,80}?),?\s*(?:respond|answer|say)\s+(.{2,120})`)
)

func regexExtract(latest string) []ExtractedFact {
	var out []ExtractedFact
	if m := nameRe.FindStringSubmatch(latest); m != nil {
		out = append(out, ExtractedFact{
			Topic: "personal_info", Key: "name",
			Value: strings.TrimSpace(m[1]), Confidence: 0.9,
		})
	}
	if m := whenIAskPTRe.FindStringSubmatch(latest); m != nil {
		out = append(out, instructionFact(m[1], m[2]))
	} else if m := whenIAskENRe.FindStringSubmatch(latest); m != nil {
		out = append(out, instructionFact(m[1], m[2]))
	} else if m := memorizeRe.FindStringSubmatch(latest); m != nil {
		out = append(out, ExtractedFact{
			Topic: "instructions", Key: "memorized",
			Value: strings.TrimSpace(m[1]), Confidence: 0.9,
		})
	}
	return out
}

func instructionFact(trigger, response string) ExtractedFact {
	return ExtractedFact{
		Topic: "instructions",
		Key:   "when_asked_" + slugify(trigger),
		Value: "when asked " + strings.TrimSpace(trigger) + ", respond " + strings.TrimSpace(response),
		Confidence: 0.9,
	}
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > 40 {
		out = out[:40]
	}
	return out
}
