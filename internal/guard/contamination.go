// Package guard holds the safety layers applied to model output and
// memory writes: contamination detection, sensitive-content filtering,
// reasoning-tag stripping, the Sentinel inbound analyzer, and MemGuard
// fact validation.
package guard

import (
	"regexp"
	"strings"
	"sync"
)

// Base contamination patterns: symptoms that the model stopped speaking
// as itself (identity prefixes, role reversal, internal echoes).
var baseContamination = []string{
	`^@\w+:\s*`,
	`(?i)sua função é atuar como`,
	`(?i)você agora é o atendente`,
	`(?i)a partir de agora você é`,
	`(?i)as an? customer service (rep|agent)`,
	`(?i)i am the customer and you are`,
	`(?i)\[sistema interno\]`,
}

// Detector flags contaminated model output. One detector is cached per
// agent since the pattern set extends per agent and per environment.
type Detector struct {
	patterns []*regexp.Regexp
	raw      []string
}

var (
	detectorMu    sync.Mutex
	detectorCache = map[string]*Detector{}
)

// ForAgent returns the cached detector for an agent, compiling base +
// agent + environment extras on first use. cacheKey must change when
// the extras change (config hot reload passes a new key).
func ForAgent(cacheKey string, agentExtras, envExtras []string) *Detector {
	detectorMu.Lock()
	defer detectorMu.Unlock()
	if d, ok := detectorCache[cacheKey]; ok {
		return d
	}
	d := NewDetector(agentExtras, envExtras)
	detectorCache[cacheKey] = d
	return d
}

// ResetCache drops all cached detectors (config hot reload).
func ResetCache() {
	detectorMu.Lock()
	defer detectorMu.Unlock()
	detectorCache = map[string]*Detector{}
}

// NewDetector compiles the pattern set. Invalid extras are skipped;
// a bad user-supplied regex must not take the gateway down.
func NewDetector(agentExtras, envExtras []string) *Detector {
	d := &Detector{}
	for _, src := range [][]string{baseContamination, agentExtras, envExtras} {
		for _, raw := range src {
			if raw == "" {
				continue
			}
			re, err := regexp.Compile(raw)
			if err != nil {
				continue
			}
			d.patterns = append(d.patterns, re)
			d.raw = append(d.raw, raw)
		}
	}
	return d
}

// Check returns the first matching pattern source, or "" when clean.
func (d *Detector) Check(text string) string {
	for i, re := range d.patterns {
		if re.MatchString(text) {
			return d.raw[i]
		}
	}
	return ""
}

var identityPrefix = regexp.MustCompile(`^@\w+:\s*`)

// CleanResponse strips identity prefixes best-effort, line by line.
func (d *Detector) CleanResponse(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = identityPrefix.ReplaceAllString(line, "")
	}
	return strings.Join(lines, "\n")
}
