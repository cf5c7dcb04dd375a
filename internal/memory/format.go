package memory

import (
	"fmt"
	"strings"

	"github.com/ligolabs/ligo/internal/store"
	"github.com/ligolabs/ligo/internal/vector"
)

// FormatOptions tune the context prefix.
type FormatOptions struct {
	// IncludeToolOutputs keeps tool-output ring entries in the prefix;
	// the router sets it from the freshness heuristic.
	IncludeToolOutputs bool
	// OmitUserFacts drops the "what I know" block; the adaptive
	// personality skill injects its own style block instead.
	OmitUserFacts bool
	// CharCap hard-caps the prefix length; 0 means the default.
	CharCap int
}

const defaultCharCap = 50000

// Format renders the context bundle as the prompt prefix.
func Format(c *Context, opts FormatOptions) string {
	limit := opts.CharCap
	if limit <= 0 {
		limit = defaultCharCap
	}
	var b strings.Builder

	if len(c.Shared) > 0 {
		b.WriteString("=== Shared Knowledge ===\n")
		for _, k := range c.Shared {
			fmt.Fprintf(&b, "- [%s] %s\n", k.Topic, k.Content)
		}
		b.WriteString("\n")
	}

	if !opts.OmitUserFacts && len(c.Facts) > 0 {
		b.WriteString("=== What I Know About This User ===\n")
		for _, topic := range store.FactTopics {
			facts := c.Facts[topic]
			if len(facts) == 0 {
				continue
			}
			fmt.Fprintf(&b, "%s:\n", topicTitle(topic))
			for _, f := range facts {
				fmt.Fprintf(&b, "- %s: %s\n", f.Key, f.Value)
			}
		}
		b.WriteString("\n")
	}

	if len(c.Episodic) > 0 {
		b.WriteString("=== Related Past Messages ===\n")
		for _, h := range c.Episodic {
			pct := int(vector.Similarity(h.Distance) * 100)
			fmt.Fprintf(&b, "[PAST - %d%%] %s\n", pct, h.Text)
		}
		b.WriteString("\n")
	}

	if len(c.Working) > 0 {
		b.WriteString("=== Recent Conversation ===\n")
		for _, e := range c.Working {
			if !opts.IncludeToolOutputs && e.Metadata[store.MetaIsToolOutput] != "" {
				continue
			}
			role := "User"
			if e.Role == "assistant" {
				role = "Agent"
			}
			if name := e.Metadata[store.MetaSenderName]; name != "" && e.Role == "user" {
				role = name
			}
			fmt.Fprintf(&b, "%s: %s\n", role, e.Content)
		}
	}

	out := b.String()
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func topicTitle(topic string) string {
	words := strings.Split(topic, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
