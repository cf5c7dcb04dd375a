package providers

import (
	"time"

	"github.com/ligolabs/ligo/internal/config"
)

func llmTimeout(cfg config.ProvidersConfig) time.Duration {
	if cfg.LLMTimeoutSec <= 0 {
		return 600 * time.Second
	}
	return time.Duration(cfg.LLMTimeoutSec) * time.Second
}

func ttsTimeout(cfg config.ProvidersConfig) time.Duration {
	if cfg.TTSTimeoutSec <= 0 {
		return 90 * time.Second
	}
	return time.Duration(cfg.TTSTimeoutSec) * time.Second
}

func registerLLMs(r *Registry[LLM]) {
	r.Register(Info{Name: "anthropic", Display: "Anthropic", RequiresAPIKey: true, Pricing: "per token"},
		func(key string, cfg config.ProvidersConfig) LLM { return NewAnthropicLLM(key, llmTimeout(cfg)) })
	r.Register(Info{Name: "openai", Display: "OpenAI", RequiresAPIKey: true, Pricing: "per token"},
		func(key string, cfg config.ProvidersConfig) LLM { return NewOpenAILLM(key, llmTimeout(cfg)) })
	r.Register(Info{Name: "gemini", Display: "Google Gemini", RequiresAPIKey: true, Pricing: "per token"},
		func(key string, cfg config.ProvidersConfig) LLM { return NewGeminiLLM(key, llmTimeout(cfg)) })
	r.Register(Info{Name: "openrouter", Display: "OpenRouter", RequiresAPIKey: true, Pricing: "per token"},
		func(key string, cfg config.ProvidersConfig) LLM { return NewOpenRouterLLM(key, llmTimeout(cfg)) })
	r.Register(Info{Name: "ollama", Display: "Ollama (local)", IsFree: true},
		func(_ string, cfg config.ProvidersConfig) LLM { return NewOllamaLLM(cfg.OllamaBaseURL, llmTimeout(cfg)) })
}

func registerTTS(r *Registry[TTS]) {
	r.Register(Info{Name: "openai", Display: "OpenAI TTS", RequiresAPIKey: true, Pricing: "per character"},
		func(key string, cfg config.ProvidersConfig) TTS { return NewOpenAITTS(key, ttsTimeout(cfg)) })
	r.Register(Info{Name: "kokoro", Display: "Kokoro (local)", IsFree: true},
		func(_ string, cfg config.ProvidersConfig) TTS { return NewKokoroTTS(cfg.KokoroBaseURL, ttsTimeout(cfg)) })
	r.Register(Info{Name: "elevenlabs", Display: "ElevenLabs", RequiresAPIKey: true, Pricing: "per character"},
		func(key string, cfg config.ProvidersConfig) TTS { return NewElevenLabsTTS(key, ttsTimeout(cfg)) })
}

func registerSearch(r *Registry[WebSearch]) {
	r.Register(Info{Name: "brave", Display: "Brave Search", RequiresAPIKey: true, Pricing: "per request"},
		func(key string, cfg config.ProvidersConfig) WebSearch { return NewBraveSearch(key, 30*time.Second) })
	r.Register(Info{Name: "serpapi", Display: "SerpAPI (Google)", RequiresAPIKey: true, Pricing: "per request"},
		func(key string, cfg config.ProvidersConfig) WebSearch { return NewSerpAPISearch(key, 30*time.Second) })
}

func registerFlights(r *Registry[FlightSearch]) {
	r.Register(Info{Name: "amadeus", Display: "Amadeus", RequiresAPIKey: true, Pricing: "per request"},
		func(key string, cfg config.ProvidersConfig) FlightSearch { return NewAmadeusFlights(key, 30*time.Second) })
	r.Register(Info{Name: "google-flights", Display: "Google Flights (SerpAPI)", RequiresAPIKey: true, Pricing: "per request"},
		func(key string, cfg config.ProvidersConfig) FlightSearch { return NewGoogleFlights(key, 30*time.Second) })
}
