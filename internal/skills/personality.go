package skills

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ligolabs/ligo/internal/store"
)

// Fact topics that feed the style block.
var styleTopics = []string{"communication_style", "linguistic_patterns", "inside_jokes"}

// AdaptivePersonality injects a per-user conversational style block
// learned from facts. Enabling it also lowers the fact-extraction
// cadence so the style facts accumulate quickly; the memory formatter
// drops its generic user-facts block in favor of this one.
type AdaptivePersonality struct {
	facts store.FactStore
	log   *slog.Logger
}

func NewAdaptivePersonality(facts store.FactStore, log *slog.Logger) *AdaptivePersonality {
	return &AdaptivePersonality{facts: facts, log: log.With("skill", "adaptive_personality")}
}

func (s *AdaptivePersonality) Name() string { return "adaptive_personality" }

func (s *AdaptivePersonality) PreProcess(ctx context.Context, req *Request) (*PreResult, error) {
	facts, err := s.facts.ListForUser(ctx, req.Agent.ID, req.UserKey())
	if err != nil {
		return nil, fmt.Errorf("list style facts: %w", err)
	}
	block := StyleBlock(facts)
	if block == "" {
		return nil, nil
	}
	return &PreResult{Context: block}, nil
}

// StyleBlock renders the adaptive-style prompt section from facts.
func StyleBlock(facts []*store.FactData) string {
	byTopic := map[string][]*store.FactData{}
	for _, f := range facts {
		byTopic[f.Topic] = append(byTopic[f.Topic], f)
	}
	var b strings.Builder
	for _, topic := range styleTopics {
		for _, f := range byTopic[topic] {
			if b.Len() == 0 {
				b.WriteString("=== Conversational Style For This User ===\n")
				b.WriteString("Mirror this user's way of talking:\n")
			}
			fmt.Fprintf(&b, "- %s: %s\n", f.Key, f.Value)
		}
	}
	return b.String()
}
