package providers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// FlightSearch finds flight offers.
type FlightSearch interface {
	Name() string
	SearchFlights(ctx context.Context, q FlightQuery) ([]FlightOption, error)
	HealthCheck(ctx context.Context) Health
}

// FlightQuery describes one search.
type FlightQuery struct {
	Origin      string `json:"origin"`      // IATA
	Destination string `json:"destination"` // IATA
	Date        string `json:"date"`        // YYYY-MM-DD
	ReturnDate  string `json:"return_date,omitempty"`
	Adults      int    `json:"adults,omitempty"`
}

// FlightOption is one offer.
type FlightOption struct {
	Carrier   string `json:"carrier"`
	FlightNo  string `json:"flight_no,omitempty"`
	Departure string `json:"departure"`
	Arrival   string `json:"arrival"`
	Price     string `json:"price"`
	Currency  string `json:"currency,omitempty"`
	Stops     int    `json:"stops"`
}

// AmadeusFlights uses the Amadeus self-service API. The credential is
// "client_id:client_secret"; OAuth tokens are fetched lazily and cached
// until shortly before expiry.
type AmadeusFlights struct {
	clientID     string
	clientSecret string
	client       *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func NewAmadeusFlights(credential string, timeout time.Duration) *AmadeusFlights {
	id, secret, _ := strings.Cut(credential, ":")
	return &AmadeusFlights{clientID: id, clientSecret: secret, client: httpClient(timeout)}
}

func (p *AmadeusFlights) Name() string { return "amadeus" }

const amadeusBase = "https://test.api.amadeus.com"

func (p *AmadeusFlights) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && time.Now().Before(p.tokenExp) {
		return p.token, nil
	}
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		amadeusBase+"/v1/security/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &Error{Kind: KindUpstream, Provider: p.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", classifyTransport(p.Name(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &Error{Kind: KindAuthFailed, Provider: p.Name(), Detail: "oauth token rejected"}
	}
	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := decodeJSONBody(resp, &tok); err != nil {
		return "", &Error{Kind: KindUpstream, Provider: p.Name(), Err: err}
	}
	p.token = tok.AccessToken
	p.tokenExp = time.Now().Add(time.Duration(tok.ExpiresIn-30) * time.Second)
	return p.token, nil
}

func (p *AmadeusFlights) SearchFlights(ctx context.Context, q FlightQuery) ([]FlightOption, error) {
	if p.clientID == "" || p.clientSecret == "" {
		return nil, notConfigured(p.Name(), "credential must be client_id:client_secret")
	}
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	adults := q.Adults
	if adults <= 0 {
		adults = 1
	}
	u := amadeusBase + "/v2/shopping/flight-offers?originLocationCode=" + url.QueryEscape(q.Origin) +
		"&destinationLocationCode=" + url.QueryEscape(q.Destination) +
		"&departureDate=" + url.QueryEscape(q.Date) +
		"&adults=" + url.QueryEscape(itoa(adults)) + "&max=5"
	if q.ReturnDate != "" {
		u += "&returnDate=" + url.QueryEscape(q.ReturnDate)
	}
	var resp struct {
		Data []struct {
			Itineraries []struct {
				Segments []struct {
					CarrierCode string `json:"carrierCode"`
					Number      string `json:"number"`
					Departure   struct {
						At string `json:"at"`
					} `json:"departure"`
					Arrival struct {
						At string `json:"at"`
					} `json:"arrival"`
				} `json:"segments"`
			} `json:"itineraries"`
			Price struct {
				Total    string `json:"total"`
				Currency string `json:"currency"`
			} `json:"price"`
		} `json:"data"`
	}
	headers := map[string]string{"Authorization": "Bearer " + token}
	if err := doJSON(ctx, p.client, p.Name(), http.MethodGet, u, headers, nil, &resp); err != nil {
		return nil, err
	}
	var out []FlightOption
	for _, offer := range resp.Data {
		if len(offer.Itineraries) == 0 || len(offer.Itineraries[0].Segments) == 0 {
			continue
		}
		segs := offer.Itineraries[0].Segments
		first, last := segs[0], segs[len(segs)-1]
		out = append(out, FlightOption{
			Carrier:   first.CarrierCode,
			FlightNo:  first.CarrierCode + first.Number,
			Departure: first.Departure.At,
			Arrival:   last.Arrival.At,
			Price:     offer.Price.Total,
			Currency:  offer.Price.Currency,
			Stops:     len(segs) - 1,
		})
	}
	return out, nil
}

func (p *AmadeusFlights) HealthCheck(ctx context.Context) Health {
	if p.clientID == "" || p.clientSecret == "" {
		return Health{Status: HealthNotConfigured, Detail: "missing credential"}
	}
	start := time.Now()
	if _, err := p.accessToken(ctx); err != nil {
		return Health{Status: HealthUnavailable, LatencyMs: time.Since(start).Milliseconds(), Detail: err.Error()}
	}
	return Health{Status: HealthHealthy, LatencyMs: time.Since(start).Milliseconds()}
}

// GoogleFlights uses serpapi's google_flights engine.
type GoogleFlights struct {
	apiKey string
	client *http.Client
}

func NewGoogleFlights(apiKey string, timeout time.Duration) *GoogleFlights {
	return &GoogleFlights{apiKey: apiKey, client: httpClient(timeout)}
}

func (p *GoogleFlights) Name() string { return "google-flights" }

func (p *GoogleFlights) SearchFlights(ctx context.Context, q FlightQuery) ([]FlightOption, error) {
	u := "https://serpapi.com/search.json?engine=google_flights" +
		"&departure_id=" + url.QueryEscape(q.Origin) +
		"&arrival_id=" + url.QueryEscape(q.Destination) +
		"&outbound_date=" + url.QueryEscape(q.Date) +
		"&api_key=" + p.apiKey
	if q.ReturnDate != "" {
		u += "&return_date=" + url.QueryEscape(q.ReturnDate)
	} else {
		u += "&type=2" // one way
	}
	var resp struct {
		BestFlights []googleFlightsEntry `json:"best_flights"`
		OtherFlights []googleFlightsEntry `json:"other_flights"`
	}
	if err := doJSON(ctx, p.client, p.Name(), http.MethodGet, u, nil, nil, &resp); err != nil {
		return nil, err
	}
	entries := append(resp.BestFlights, resp.OtherFlights...)
	var out []FlightOption
	for i, e := range entries {
		if i >= 5 || len(e.Flights) == 0 {
			break
		}
		first, last := e.Flights[0], e.Flights[len(e.Flights)-1]
		out = append(out, FlightOption{
			Carrier:   first.Airline,
			FlightNo:  first.FlightNumber,
			Departure: first.DepartureAirport.Time,
			Arrival:   last.ArrivalAirport.Time,
			Price:     itoa(e.Price),
			Currency:  "USD",
			Stops:     len(e.Flights) - 1,
		})
	}
	return out, nil
}

type googleFlightsEntry struct {
	Flights []struct {
		Airline          string `json:"airline"`
		FlightNumber     string `json:"flight_number"`
		DepartureAirport struct {
			Time string `json:"time"`
		} `json:"departure_airport"`
		ArrivalAirport struct {
			Time string `json:"time"`
		} `json:"arrival_airport"`
	} `json:"flights"`
	Price int `json:"price"`
}

func (p *GoogleFlights) HealthCheck(ctx context.Context) Health {
	if p.apiKey == "" {
		return Health{Status: HealthNotConfigured, Detail: "missing api key"}
	}
	return probeURL(ctx, p.client, "https://serpapi.com/account.json?api_key="+p.apiKey, nil)
}
