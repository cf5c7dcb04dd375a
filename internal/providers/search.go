package providers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// WebSearch runs a web query and returns ranked results.
type WebSearch interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	HealthCheck(ctx context.Context) Health
}

// SearchResult is one hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// BraveSearch uses the Brave Search REST API.
type BraveSearch struct {
	apiKey string
	client *http.Client
}

func NewBraveSearch(apiKey string, timeout time.Duration) *BraveSearch {
	return &BraveSearch{apiKey: apiKey, client: httpClient(timeout)}
}

func (p *BraveSearch) Name() string { return "brave" }

func (p *BraveSearch) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}
	u := "https://api.search.brave.com/res/v1/web/search?q=" + url.QueryEscape(query) +
		"&count=" + strconv.Itoa(limit)
	var resp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	headers := map[string]string{"X-Subscription-Token": p.apiKey}
	if err := doJSON(ctx, p.client, p.Name(), http.MethodGet, u, headers, nil, &resp); err != nil {
		return nil, err
	}
	var out []SearchResult
	for _, r := range resp.Web.Results {
		out = append(out, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return out, nil
}

func (p *BraveSearch) HealthCheck(ctx context.Context) Health {
	if p.apiKey == "" {
		return Health{Status: HealthNotConfigured, Detail: "missing api key"}
	}
	return probeURL(ctx, p.client,
		"https://api.search.brave.com/res/v1/web/search?q=ping&count=1",
		map[string]string{"X-Subscription-Token": p.apiKey})
}

// SerpAPISearch uses serpapi.com's Google engine.
type SerpAPISearch struct {
	apiKey string
	client *http.Client
}

func NewSerpAPISearch(apiKey string, timeout time.Duration) *SerpAPISearch {
	return &SerpAPISearch{apiKey: apiKey, client: httpClient(timeout)}
}

func (p *SerpAPISearch) Name() string { return "serpapi" }

func (p *SerpAPISearch) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}
	u := "https://serpapi.com/search.json?engine=google&q=" + url.QueryEscape(query) +
		"&num=" + strconv.Itoa(limit) + "&api_key=" + p.apiKey
	var resp struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
	}
	if err := doJSON(ctx, p.client, p.Name(), http.MethodGet, u, nil, nil, &resp); err != nil {
		return nil, err
	}
	var out []SearchResult
	for i, r := range resp.OrganicResults {
		if i >= limit {
			break
		}
		out = append(out, SearchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return out, nil
}

func (p *SerpAPISearch) HealthCheck(ctx context.Context) Health {
	if p.apiKey == "" {
		return Health{Status: HealthNotConfigured, Detail: "missing api key"}
	}
	return probeURL(ctx, p.client, "https://serpapi.com/account.json?api_key="+p.apiKey, nil)
}
