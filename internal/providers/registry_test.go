package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/config"
)

type fakeCreds struct {
	keys map[string]string // "tenant|provider" → key
}

func (f *fakeCreds) Get(ctx context.Context, tenantID uuid.UUID, provider string) (string, error) {
	k, ok := f.keys[tenantID.String()+"|"+provider]
	if !ok {
		return "", fmt.Errorf("credential %s: not configured", provider)
	}
	return k, nil
}

func testRegistries(creds *fakeCreds) *Registries {
	return NewRegistries(config.ProvidersConfig{LLMTimeoutSec: 1, TTSTimeoutSec: 1}, creds)
}

func TestGetRequiresCredential(t *testing.T) {
	tenant := uuid.Must(uuid.NewV7())
	r := testRegistries(&fakeCreds{keys: map[string]string{}})

	_, err := r.LLM.Get(context.Background(), "anthropic", tenant)
	if err == nil {
		t.Fatal("Get without credential succeeded")
	}
	if ErrKind(err) != KindNotConfigured {
		t.Errorf("kind = %q, want not_configured", ErrKind(err))
	}
}

func TestGetTenantScoped(t *testing.T) {
	tenantA := uuid.Must(uuid.NewV7())
	tenantB := uuid.Must(uuid.NewV7())
	creds := &fakeCreds{keys: map[string]string{tenantA.String() + "|openai": "sk-a"}}
	r := testRegistries(creds)
	ctx := context.Background()

	if _, err := r.LLM.Get(ctx, "openai", tenantA); err != nil {
		t.Errorf("tenant A Get: %v", err)
	}
	if _, err := r.LLM.Get(ctx, "openai", tenantB); err == nil {
		t.Error("tenant B resolved tenant A's credential")
	}
}

func TestGetUnknownProvider(t *testing.T) {
	r := testRegistries(&fakeCreds{})
	_, err := r.LLM.Get(context.Background(), "nonexistent", uuid.Must(uuid.NewV7()))
	if ErrKind(err) != KindNotConfigured {
		t.Errorf("unknown provider kind = %q, want not_configured", ErrKind(err))
	}
}

func TestFreeProvidersNeedNoKey(t *testing.T) {
	r := testRegistries(&fakeCreds{keys: map[string]string{}})
	ctx := context.Background()
	tenant := uuid.Must(uuid.NewV7())

	if _, err := r.LLM.Get(ctx, "ollama", tenant); err != nil {
		t.Errorf("ollama Get: %v", err)
	}
	if _, err := r.TTS.Get(ctx, "kokoro", tenant); err != nil {
		t.Errorf("kokoro Get: %v", err)
	}
}

func TestListSorted(t *testing.T) {
	r := testRegistries(&fakeCreds{})
	list := r.LLM.List()
	if len(list) != 5 {
		t.Fatalf("llm catalog size = %d, want 5", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Name > list[i].Name {
			t.Errorf("catalog not sorted: %s before %s", list[i-1].Name, list[i].Name)
		}
	}
}

func TestHealthCheckNotConfigured(t *testing.T) {
	r := testRegistries(&fakeCreds{keys: map[string]string{}})
	h := r.TTS.HealthCheck(context.Background(), "elevenlabs", uuid.Must(uuid.NewV7()))
	if h.Status != HealthNotConfigured {
		t.Errorf("status = %q, want not_configured", h.Status)
	}
}

func TestErrKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&Error{Kind: KindRateLimited, Provider: "x"}, KindRateLimited},
		{fmt.Errorf("wrap: %w", &Error{Kind: KindAuthFailed, Provider: "x"}), KindAuthFailed},
		{context.DeadlineExceeded, KindTimeout},
		{errors.New("plain"), KindUpstream},
	}
	for _, tt := range tests {
		if got := ErrKind(tt.err); got != tt.want {
			t.Errorf("ErrKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{401, KindAuthFailed},
		{403, KindAuthFailed},
		{429, KindRateLimited},
		{500, KindUpstream},
		{400, KindUpstream},
	}
	for _, tt := range tests {
		if got := classifyHTTP("p", tt.status, "").Kind; got != tt.want {
			t.Errorf("classifyHTTP(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestAmadeusCredentialSplit(t *testing.T) {
	p := NewAmadeusFlights("id123:secret456", time.Second)
	if p.clientID != "id123" || p.clientSecret != "secret456" {
		t.Errorf("credential split = %q/%q", p.clientID, p.clientSecret)
	}
	_, err := NewAmadeusFlights("malformed", time.Second).
		SearchFlights(context.Background(), FlightQuery{Origin: "GRU", Destination: "LIS", Date: "2026-09-01"})
	if ErrKind(err) != KindNotConfigured {
		t.Errorf("malformed credential kind = %q, want not_configured", ErrKind(err))
	}
}
