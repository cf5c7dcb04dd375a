package telegram

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"

	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/store"
)

func testWatcher() *Watcher {
	return &Watcher{
		inst: &store.InstanceData{
			ID:       uuid.New(),
			TenantID: uuid.New(),
			Channel:  bus.ChannelTelegram,
		},
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// msgDate is untyped so the literal fits the Bot API timestamp field.
const msgDate = 1756000000

func TestNormalizeDirectMessage(t *testing.T) {
	w := testWatcher()
	m := &telego.Message{
		MessageID: 42,
		Date:      msgDate,
		Chat:      telego.Chat{ID: 987654321, Type: "private"},
		From:      &telego.User{ID: 987654321, FirstName: "Ana", LastName: "Souza"},
		Text:      "oi @maria",
	}

	msg := w.normalize(context.Background(), m)
	if msg.ID != "42" {
		t.Fatalf("ID = %q", msg.ID)
	}
	if msg.Sender != "987654321" || msg.SenderKey != "987654321" {
		t.Fatalf("sender/key = %q/%q", msg.Sender, msg.SenderKey)
	}
	if msg.IsGroup {
		t.Fatal("private chat marked as group")
	}
	if msg.ChatName != "Ana Souza" {
		t.Fatalf("ChatName = %q", msg.ChatName)
	}
	if msg.TelegramID != 987654321 {
		t.Fatalf("TelegramID = %d", msg.TelegramID)
	}
	if msg.Channel != bus.ChannelTelegram || msg.InstanceID != w.inst.ID.String() {
		t.Fatalf("channel/instance = %q/%q", msg.Channel, msg.InstanceID)
	}
	if msg.Timestamp.Unix() != msgDate {
		t.Fatalf("Timestamp = %v", msg.Timestamp)
	}
}

func TestNormalizeGroupUsesChatKey(t *testing.T) {
	w := testWatcher()
	m := &telego.Message{
		MessageID: 7,
		Date:      msgDate,
		Chat:      telego.Chat{ID: -100123456, Type: "supergroup", Title: "Time de Vendas"},
		From:      &telego.User{ID: 55, FirstName: "Bruno"},
		Caption:   "segue a planilha",
	}

	msg := w.normalize(context.Background(), m)
	if !msg.IsGroup {
		t.Fatal("supergroup not marked as group")
	}
	if msg.SenderKey != "-100123456" || msg.ChatID != "-100123456" {
		t.Fatalf("group key/chat = %q/%q", msg.SenderKey, msg.ChatID)
	}
	if msg.Sender != "55" {
		t.Fatalf("Sender = %q", msg.Sender)
	}
	if msg.ChatName != "Time de Vendas" {
		t.Fatalf("ChatName = %q", msg.ChatName)
	}
	if msg.Body != "segue a planilha" {
		t.Fatalf("caption not used as body: %q", msg.Body)
	}
}

func TestParseRecipient(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"123456789", false},
		{"-100123456", false},
		{"@liga_bot", false},
		{"5511999990000@s.whatsapp.net", true},
		{"abc", true},
	}
	for _, tt := range tests {
		_, err := parseRecipient(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseRecipient(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestIsImagePath(t *testing.T) {
	if !isImagePath("/tmp/foto.JPG") || !isImagePath("x.png") {
		t.Fatal("image extensions not recognized")
	}
	if isImagePath("/tmp/audio.ogg") || isImagePath("relatorio.pdf") {
		t.Fatal("non-image extension recognized as image")
	}
}
