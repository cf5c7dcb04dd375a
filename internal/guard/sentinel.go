package guard

import (
	"regexp"
	"strings"
)

// Sentinel modes.
const (
	SentinelBlock      = "block"
	SentinelDetectOnly = "detect_only"
)

// Verdict is the Sentinel decision for one inbound message.
type Verdict struct {
	Blocked bool
	Reason  string
}

// Sentinel screens inbound messages before any memory write so a
// poisoning attempt never reaches the ring or the fact store.
type Sentinel struct {
	mode     string
	patterns []*regexp.Regexp
	reasons  []string
}

// Injection symptoms screened on the way in.
var sentinelPatterns = []struct {
	re     string
	reason string
}{
	{`(?i)ignore (all )?(previous|prior|above) instructions`, "instruction override"},
	{`(?i)ignore (todas )?(as )?instruções (anteriores|acima)`, "instruction override"},
	{`(?i)you are now (a|an|the) `, "role override"},
	{`(?i)a partir de agora você é`, "role override"},
	{`(?i)reveal (your|the) system prompt`, "prompt exfiltration"},
	{`(?i)(mostre|revele) (seu|o) prompt (de sistema|inicial)`, "prompt exfiltration"},
	{`(?i)memorize.{0,40}(api[_ ]?key|senha|password|token)`, "credential planting"},
	{`(?s)<\s*(system|assistant)\s*>`, "role tag injection"},
}

func NewSentinel(mode string) *Sentinel {
	if mode != SentinelDetectOnly {
		mode = SentinelBlock
	}
	s := &Sentinel{mode: mode}
	for _, p := range sentinelPatterns {
		s.patterns = append(s.patterns, regexp.MustCompile(p.re))
		s.reasons = append(s.reasons, p.reason)
	}
	return s
}

func (s *Sentinel) Mode() string { return s.mode }

// Analyze screens one inbound body. In detect_only mode the verdict
// never blocks; the reason is still reported for logging.
func (s *Sentinel) Analyze(body string) Verdict {
	for i, re := range s.patterns {
		if re.MatchString(body) {
			return Verdict{Blocked: s.mode == SentinelBlock, Reason: s.reasons[i]}
		}
	}
	return Verdict{}
}

// RejectionText is the user-facing reply for a blocked message.
const RejectionText = "Não posso processar essa mensagem."

// --- MemGuard -------------------------------------------------------

// credential-like values must not land in non-credential topics.
var credentialValue = regexp.MustCompile(`(?i)(sk-[a-z0-9]{8,}|api[_ ]?key|bearer\s+[a-z0-9._-]{10,}|password\s*[:=]|senha\s*[:=])`)

// shell fragments are rejected inside instruction facts.
var shellFragment = regexp.MustCompile("(?s)(;\\s*rm\\s|&&|\\|\\||`|\\$\\(|curl\\s+-|wget\\s+)")

// FactCheck is MemGuard's verdict for one extracted fact.
type FactCheck struct {
	OK     bool
	Reason string
}

// ValidateFact applies the MemGuard policy to an extracted fact before
// it reaches the store. existingValue/existingConfidence describe a
// conflicting stored fact, zero-valued when there is none.
func ValidateFact(topic, key, value, existingValue string, existingConfidence float64, mode string) FactCheck {
	if credentialValue.MatchString(value) {
		return FactCheck{Reason: "credential-like value in topic " + topic}
	}
	if topic == "instructions" && shellFragment.MatchString(value) {
		return FactCheck{Reason: "shell fragment in instruction fact"}
	}
	if existingValue != "" && existingConfidence >= 0.9 &&
		!strings.EqualFold(strings.TrimSpace(existingValue), strings.TrimSpace(value)) {
		if mode == SentinelDetectOnly {
			return FactCheck{OK: true, Reason: "contradicts high-confidence fact"}
		}
		return FactCheck{Reason: "contradicts high-confidence fact"}
	}
	return FactCheck{OK: true}
}
