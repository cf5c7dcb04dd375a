package thread

import (
	"regexp"

	"github.com/ligolabs/ligo/internal/store"
)

// Phrases external bots use when they end the session themselves.
// Extensible via thread.session_end_patterns_extra.
var sessionEndBase = []string{
	`(?i)vamos encerrar o diálogo`,
	`(?i)encerrando o atendimento`,
	`(?i)atendimento (foi )?encerrado`,
	`(?i)avaliação do serviço`,
	`(?i)avalie (o nosso |nosso )?atendimento`,
	`(?i)thank you for contacting`,
	`(?i)this session has ended`,
	`(?i)have a great day`,
}

func matchesSessionEnd(body string, patterns []string) bool {
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		if re.MatchString(body) {
			return true
		}
	}
	return false
}

// Goal-detection pattern sets: user confirmation, agent completion, data capture, info provided.
var (
	userCompletionRe = regexp.MustCompile(`(?i)(obrigad[oa]|valeu|thanks|thank you|bye|tchau|até (mais|logo)|era só isso|perfeito)`)
	agentDoneRe      = regexp.MustCompile(`(?i)(de nada|qualquer coisa (estou|é só chamar)|fico à disposição|happy to help|you're welcome)`)
	flightStatusRe   = regexp.MustCompile(`(?i)(voo|flight).*(portão|gate).*\d{1,2}:\d{2}`)
	infoProvidedRe   = regexp.MustCompile(`(?i)segue[:\s]+[A-Z]{0,2}\d{6,}`)
)

// detectGoal inspects the inbound message and the cleaned reply and
// returns a goal summary when the thread's objective looks satisfied.
// Callers gate this on turn >= 2.
func detectGoal(inbound, reply string) (string, bool) {
	switch {
	case infoProvidedRe.MatchString(inbound):
		return "User provided the requested information", true
	case statusWordRe.MatchString(inbound) && dateTokenRe.MatchString(inbound):
		return "Data successfully retrieved from external bot", true
	case flightStatusRe.MatchString(inbound):
		return "Flight status retrieved", true
	case userCompletionRe.MatchString(inbound):
		return "User signaled completion", true
	case agentDoneRe.MatchString(reply):
		return "Agent signaled completion", true
	}
	return "", false
}

// Loop phrases external bots repeat when stuck.
var loopPhraseRe = regexp.MustCompile(`(?i)(não entendi|desculpe, não compreendi|opção inválida|digite uma opção válida|can you rephrase|i didn't understand)`)

// detectStagnation closes conversations going in circles. History must
// already include the turn being evaluated. Callers gate on turn >= 3.
func detectStagnation(history []store.ThreadTurn) (string, bool) {
	users := lastByRole(history, "user", 3)
	agents := lastByRole(history, "agent", 3)

	if len(users) >= 2 && users[len(users)-1] == users[len(users)-2] {
		return "repeated user message", true
	}
	if len(agents) >= 3 {
		a, b, c := agents[0], agents[1], agents[2]
		if (a == b && b == c) || samePrefix30(a, b) && samePrefix30(b, c) {
			return "repeated agent reply", true
		}
	}
	loops := 0
	for _, u := range lastByRole(history, "user", 6) {
		if loopPhraseRe.MatchString(u) {
			loops++
		}
	}
	if loops >= 2 {
		return "external bot loop phrases", true
	}
	if isPingPong(history) {
		return "alternating identical exchanges", true
	}
	return "", false
}

// lastByRole returns up to n most recent contents for a role, oldest
// first.
func lastByRole(history []store.ThreadTurn, role string, n int) []string {
	var out []string
	for i := len(history) - 1; i >= 0 && len(out) < n; i-- {
		if history[i].Role == role {
			out = append(out, history[i].Content)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func samePrefix30(a, b string) bool {
	if len(a) < 30 || len(b) < 30 {
		return a == b
	}
	return a[:30] == b[:30]
}

// isPingPong detects A→B→A→B→A→B over the last six entries.
func isPingPong(history []store.ThreadTurn) bool {
	if len(history) < 6 {
		return false
	}
	tail := history[len(history)-6:]
	return tail[0].Content == tail[2].Content && tail[2].Content == tail[4].Content &&
		tail[1].Content == tail[3].Content && tail[3].Content == tail[5].Content &&
		tail[0].Content != tail[1].Content
}
