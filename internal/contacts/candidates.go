package contacts

import (
	"strings"

	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/store"
)

// Candidate is one (identifier type, identifier) pair to try against the
// channel-mapping index.
type Candidate struct {
	Type string
	ID   string
}

// digitsOnly strips every non-digit rune.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsJID reports whether raw looks like a WhatsApp JID.
func IsJID(raw string) bool {
	return strings.HasSuffix(raw, "@s.whatsapp.net") ||
		strings.HasSuffix(raw, "@lid") ||
		strings.HasSuffix(raw, "@g.us")
}

// BareID returns the part of a JID before the @, or raw unchanged.
func BareID(raw string) string {
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// Candidates builds the identifier variants for a raw sender, strongest
// first. A user replying from either their personal number or a
// business-linked ID must resolve to the same contact, so phone and
// whatsapp_id variants are cross-listed.
func Candidates(raw, channel string) []Candidate {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	switch channel {
	case bus.ChannelTelegram:
		if strings.HasPrefix(raw, "@") {
			return []Candidate{{store.ChanIDTelegramUsername, strings.TrimPrefix(raw, "@")}}
		}
		return []Candidate{{store.ChanIDTelegram, raw}}
	case bus.ChannelPlayground:
		return []Candidate{{store.ChanIDPhone, raw}}
	}

	var out []Candidate
	seen := map[string]bool{}
	add := func(typ, id string) {
		if id == "" || seen[typ+"|"+id] {
			return
		}
		seen[typ+"|"+id] = true
		out = append(out, Candidate{typ, id})
	}

	if IsJID(raw) {
		add(store.ChanIDWhatsapp, raw)
		bare := BareID(raw)
		add(store.ChanIDWhatsapp, bare)
		if digits := digitsOnly(bare); digits != "" {
			add(store.ChanIDPhone, "+"+digits)
			add(store.ChanIDPhone, digits)
		}
		return out
	}

	digits := digitsOnly(raw)
	if digits != "" {
		add(store.ChanIDPhone, "+"+digits)
		add(store.ChanIDPhone, digits)
		add(store.ChanIDWhatsapp, digits+"@s.whatsapp.net")
		add(store.ChanIDWhatsapp, digits)
	} else {
		add(store.ChanIDWhatsapp, raw)
	}
	return out
}

// RecipientForms returns the normalized recipient variants used for
// broad OR thread matching: raw, bare, with and without +, and the
// WhatsApp JID forms.
func RecipientForms(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	add := func(v string) {
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		out = append(out, v)
	}
	add(raw)
	bare := BareID(raw)
	add(bare)
	digits := digitsOnly(bare)
	if digits != "" {
		add(digits)
		add("+" + digits)
		add(digits + "@s.whatsapp.net")
		add(digits + "@lid")
	}
	return out
}
