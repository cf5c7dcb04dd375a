package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// doJSON posts a JSON payload and decodes a JSON response, mapping
// transport and HTTP failures onto the uniform error kinds.
func doJSON(ctx context.Context, client *http.Client, provider, method, url string, headers map[string]string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return &Error{Kind: KindUpstream, Provider: provider, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return &Error{Kind: KindUpstream, Provider: provider, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return classifyTransport(provider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classifyHTTP(provider, resp.StatusCode, string(raw))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindUpstream, Provider: provider, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// doRaw posts JSON and returns the raw response bytes (audio payloads).
func doRaw(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: KindUpstream, Provider: provider, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, &Error{Kind: KindUpstream, Provider: provider, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransport(provider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyHTTP(provider, resp.StatusCode, string(msg))
	}
	return io.ReadAll(resp.Body)
}

func httpClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func decodeJSONBody(resp *http.Response, out any) error {
	return json.NewDecoder(resp.Body).Decode(out)
}

func itoa(n int) string { return strconv.Itoa(n) }

// probeURL is the shared GET health probe.
func probeURL(ctx context.Context, client *http.Client, url string, headers map[string]string) Health {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Health{Status: HealthUnavailable, Detail: err.Error()}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return Health{Status: HealthUnavailable, LatencyMs: latency, Detail: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	switch {
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		return Health{Status: HealthNotConfigured, LatencyMs: latency, Detail: "auth rejected"}
	case resp.StatusCode >= 500:
		return Health{Status: HealthDegraded, LatencyMs: latency, Detail: fmt.Sprintf("http %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		// Many APIs 404 on bare GETs but are reachable.
		return Health{Status: HealthHealthy, LatencyMs: latency}
	default:
		return Health{Status: HealthHealthy, LatencyMs: latency}
	}
}
