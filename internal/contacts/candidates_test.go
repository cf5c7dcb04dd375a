package contacts

import (
	"reflect"
	"testing"

	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/store"
)

func TestCandidatesWhatsapp(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []Candidate
	}{
		{
			name: "plain phone",
			raw:  "+5511999887766",
			want: []Candidate{
				{store.ChanIDPhone, "+5511999887766"},
				{store.ChanIDPhone, "5511999887766"},
				{store.ChanIDWhatsapp, "5511999887766@s.whatsapp.net"},
				{store.ChanIDWhatsapp, "5511999887766"},
			},
		},
		{
			name: "bare digits",
			raw:  "5511999887766",
			want: []Candidate{
				{store.ChanIDPhone, "+5511999887766"},
				{store.ChanIDPhone, "5511999887766"},
				{store.ChanIDWhatsapp, "5511999887766@s.whatsapp.net"},
				{store.ChanIDWhatsapp, "5511999887766"},
			},
		},
		{
			name: "standard jid",
			raw:  "5511999887766@s.whatsapp.net",
			want: []Candidate{
				{store.ChanIDWhatsapp, "5511999887766@s.whatsapp.net"},
				{store.ChanIDWhatsapp, "5511999887766"},
				{store.ChanIDPhone, "+5511999887766"},
				{store.ChanIDPhone, "5511999887766"},
			},
		},
		{
			name: "business lid",
			raw:  "123456789012345@lid",
			want: []Candidate{
				{store.ChanIDWhatsapp, "123456789012345@lid"},
				{store.ChanIDWhatsapp, "123456789012345"},
				{store.ChanIDPhone, "+123456789012345"},
				{store.ChanIDPhone, "123456789012345"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Candidates(tt.raw, bus.ChannelWhatsapp)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Candidates(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCandidatesTelegram(t *testing.T) {
	got := Candidates("123456789", bus.ChannelTelegram)
	want := []Candidate{{store.ChanIDTelegram, "123456789"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("numeric id = %v, want %v", got, want)
	}
	got = Candidates("@maria_dev", bus.ChannelTelegram)
	want = []Candidate{{store.ChanIDTelegramUsername, "maria_dev"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("username = %v, want %v", got, want)
	}
}

func TestCandidatesEmpty(t *testing.T) {
	if got := Candidates("  ", bus.ChannelWhatsapp); got != nil {
		t.Errorf("blank sender = %v, want nil", got)
	}
}

func TestRecipientForms(t *testing.T) {
	got := RecipientForms("+5511999887766")
	want := []string{
		"+5511999887766",
		"5511999887766",
		"5511999887766@s.whatsapp.net",
		"5511999887766@lid",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("RecipientForms = %v, want %v", got, want)
	}

	got = RecipientForms("5511999887766@s.whatsapp.net")
	if len(got) == 0 || got[0] != "5511999887766@s.whatsapp.net" {
		t.Fatalf("jid form missing raw first: %v", got)
	}
	hasPlus := false
	for _, f := range got {
		if f == "+5511999887766" {
			hasPlus = true
		}
	}
	if !hasPlus {
		t.Errorf("jid form missing + variant: %v", got)
	}
}
