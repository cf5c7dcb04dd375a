package thread

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/ligolabs/ligo/internal/store"
)

// Mid-session prompts from external bots that mean "back to the menu".
var midSessionRe = regexp.MustCompile(`(?i)(há mais algo|posso ajudar em (algo|mais alguma coisa)|mais alguma coisa|anything else|is there anything else)`)

// Status-reply heuristics: a message that carries the answer (status
// word plus a date) and asks for nothing gets a polite ack instead of
// an LLM turn that would echo the data back.
var (
	statusWordRe  = regexp.MustCompile(`(?i)(status|previsão|entrega|enviado|despachado|em trânsito|in transit|delivered|shipped|postado)`)
	dateTokenRe   = regexp.MustCompile(`\d{1,2}/\d{1,2}(/\d{2,4})?|\d{4}-\d{2}-\d{2}|\d{1,2} de (janeiro|fevereiro|março|abril|maio|junho|julho|agosto|setembro|outubro|novembro|dezembro)`)
	requestWordRe = regexp.MustCompile(`(?i)(informe|digite|envie|selecione|escolha|qual é|please provide|please enter|choose an option)`)
)

const statusAck = "Perfeito, obrigado!"

// shortCircuit handles turns that never need the LLM. First match wins.
func (e *Engine) shortCircuit(th *store.ThreadData, body string) (string, bool) {
	if reply, ok := e.midSessionReset(th, body); ok {
		return reply, true
	}
	if reply, ok := e.menuSelection(th, body); ok {
		return reply, true
	}
	if statusWordRe.MatchString(body) && dateTokenRe.MatchString(body) && !requestWordRe.MatchString(body) {
		return statusAck, true
	}
	return "", false
}

// midSessionReset answers "anything else?" prompts in the first two
// turns with "menu" then "0", at most twice per thread.
func (e *Engine) midSessionReset(th *store.ThreadData, body string) (string, bool) {
	if th.CurrentTurn > 2 || !midSessionRe.MatchString(body) {
		return "", false
	}
	attempts, _ := strconv.Atoi(th.Context["reset_attempts"])
	if attempts >= 2 {
		return "", false
	}
	if th.Context == nil {
		th.Context = map[string]string{}
	}
	th.Context["reset_attempts"] = strconv.Itoa(attempts + 1)
	if attempts == 0 {
		return "menu", true
	}
	return "0", true
}

// menuPayload covers the interactive-message JSON shapes WhatsApp
// bridges deliver (list, buttons, generic interactive).
type menuPayload struct {
	Type     string `json:"type"`
	Sections []struct {
		Title string `json:"title"`
		Rows  []struct {
			Title string `json:"title"`
		} `json:"rows"`
	} `json:"sections"`
	Buttons []struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	} `json:"buttons"`
}

// menuSelection parses an interactive menu and replies with the option
// best matching the thread objective. The (signature, selection) pair
// is remembered so a recurring identical menu gets a different pick.
func (e *Engine) menuSelection(th *store.ThreadData, body string) (string, bool) {
	options, sig := parseMenu(body)
	if len(options) == 0 {
		return "", false
	}
	if th.Context == nil {
		th.Context = map[string]string{}
	}
	previous := th.Context["menu_pick:"+sig]

	best, bestScore := "", -1
	for _, opt := range options {
		if opt == previous {
			continue
		}
		if score := scoreOption(opt, th.Objective); score > bestScore {
			best, bestScore = opt, score
		}
	}
	if best == "" {
		// Every alternative was already tried; repeat the previous pick.
		best = previous
	}
	th.Context["menu_pick:"+sig] = best
	return best, true
}

func parseMenu(body string) ([]string, string) {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, ""
	}
	var m menuPayload
	if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
		return nil, ""
	}
	interactive := m.Type == "list" || m.Type == "buttons" || m.Type == "interactive" ||
		len(m.Sections) > 0 || len(m.Buttons) > 0
	if !interactive {
		return nil, ""
	}

	var options []string
	for _, s := range m.Sections {
		for _, r := range s.Rows {
			if r.Title != "" {
				options = append(options, r.Title)
			}
		}
	}
	for _, b := range m.Buttons {
		title := b.Title
		if title == "" {
			title = b.Text
		}
		if title != "" {
			options = append(options, title)
		}
	}
	if len(options) == 0 {
		return nil, ""
	}
	sum := sha256.Sum256([]byte(strings.Join(options, "\x00")))
	return options, hex.EncodeToString(sum[:8])
}

var trackingNumberRe = regexp.MustCompile(`[A-Z]{0,2}\d{8,}`)

// scoreOption ranks a menu option by keyword overlap with the
// objective; a tracking-number hit dominates.
func scoreOption(option, objective string) int {
	optLower := strings.ToLower(option)
	score := 0
	for _, word := range strings.Fields(strings.ToLower(objective)) {
		if len(word) > 3 && strings.Contains(optLower, word) {
			score++
		}
	}
	if tn := trackingNumberRe.FindString(objective); tn != "" {
		if strings.Contains(option, tn) ||
			strings.Contains(optLower, "rastrea") || strings.Contains(optLower, "track") {
			score += 5
		}
	}
	return score
}
