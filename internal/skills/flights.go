package skills

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/providers"
)

// FlightSearch exposes flight offer lookup through the tenant's flight
// provider. Provider resolution mirrors the web_search skill.
type FlightSearch struct {
	reg *providers.Registry[providers.FlightSearch]
	log *slog.Logger
}

func NewFlightSearch(reg *providers.Registry[providers.FlightSearch], log *slog.Logger) *FlightSearch {
	return &FlightSearch{reg: reg, log: log.With("skill", "flight_search")}
}

func (s *FlightSearch) Name() string { return "flight_search" }

func (s *FlightSearch) Tools() []providers.ToolDefinition {
	return []providers.ToolDefinition{{
		Name:        "flight_search",
		Description: "Search flight offers between two airports on a date and return carriers, times and prices.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"origin": map[string]any{
					"type":        "string",
					"description": "Origin airport IATA code, e.g. GRU.",
				},
				"destination": map[string]any{
					"type":        "string",
					"description": "Destination airport IATA code, e.g. LIS.",
				},
				"date": map[string]any{
					"type":        "string",
					"description": "Departure date, YYYY-MM-DD.",
				},
				"return_date": map[string]any{
					"type":        "string",
					"description": "Return date for round trips, YYYY-MM-DD. Optional.",
				},
				"adults": map[string]any{
					"type":        "integer",
					"description": "Number of adult passengers, default 1.",
				},
				"provider": map[string]any{
					"type":        "string",
					"description": "Flight provider name. Leave empty for the default.",
				},
			},
			"required": []string{"origin", "destination", "date"},
		},
	}}
}

func (s *FlightSearch) PromptBlock() string {
	return "Use the flight_search tool when the user asks about flight options or prices. Airports are IATA codes and dates are YYYY-MM-DD; ask the user for whatever is missing before calling the tool."
}

func (s *FlightSearch) ExecuteTool(ctx context.Context, req *Request, name string, params map[string]any) (*ToolResult, error) {
	q := providers.FlightQuery{
		Origin:      strings.ToUpper(strings.TrimSpace(paramString(params, "origin"))),
		Destination: strings.ToUpper(strings.TrimSpace(paramString(params, "destination"))),
		Date:        strings.TrimSpace(paramString(params, "date")),
		ReturnDate:  strings.TrimSpace(paramString(params, "return_date")),
		Adults:      paramInt(params, "adults"),
	}
	if q.Origin == "" || q.Destination == "" || q.Date == "" {
		return &ToolResult{Kind: KindError, Output: "flight_search: origin, destination and date are required"}, nil
	}

	p, err := s.provider(ctx, req.TenantID, strings.TrimSpace(paramString(params, "provider")))
	if err != nil {
		return &ToolResult{Kind: KindError, Output: fmt.Sprintf("flight_search: %v", err)}, nil
	}
	options, err := p.SearchFlights(ctx, q)
	if err != nil {
		s.log.Warn("flight search failed", "provider", p.Name(), "error", err)
		return &ToolResult{Kind: KindError, Output: fmt.Sprintf("flight_search: %v", err)}, nil
	}
	if len(options) == 0 {
		return &ToolResult{Kind: KindText, Output: fmt.Sprintf("No flights found %s to %s on %s.", q.Origin, q.Destination, q.Date)}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Flights %s to %s on %s (%s):\n", q.Origin, q.Destination, q.Date, p.Name())
	for i, o := range options {
		carrier := o.Carrier
		if o.FlightNo != "" {
			carrier += " " + o.FlightNo
		}
		stops := "direct"
		if o.Stops == 1 {
			stops = "1 stop"
		} else if o.Stops > 1 {
			stops = fmt.Sprintf("%d stops", o.Stops)
		}
		price := o.Price
		if o.Currency != "" {
			price = o.Currency + " " + price
		}
		fmt.Fprintf(&b, "%d. %s, %s to %s, %s, %s\n", i+1, carrier, o.Departure, o.Arrival, stops, price)
	}
	return &ToolResult{Kind: KindText, Output: strings.TrimRight(b.String(), "\n")}, nil
}

func (s *FlightSearch) provider(ctx context.Context, tenantID uuid.UUID, name string) (providers.FlightSearch, error) {
	if name != "" {
		return s.reg.Get(ctx, name, tenantID)
	}
	var lastErr error
	for _, info := range s.reg.List() {
		p, err := s.reg.Get(ctx, info.Name, tenantID)
		if err != nil {
			lastErr = err
			continue
		}
		return p, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no flight provider registered")
	}
	return nil, lastErr
}
