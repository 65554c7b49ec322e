package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/investcandles/internal/resilience"
)

const defaultBaseURL = "https://invest-public-api.tinkoff.ru/rest/tinkoff.public.invest.api.contract.v1.InstrumentsService"

// httpRecord mirrors the upstream JSON shape; wire field names are the
// service's, not ours.
type httpRecord struct {
	UID                   string `json:"uid"`
	FIGI                  string `json:"figi"`
	Name                  string `json:"name"`
	Lot                   int32  `json:"lot"`
	OTCFlag               bool   `json:"otcFlag"`
	QualInvestorFlag      bool   `json:"forQualInvestorFlag"`
	APITradeAvailableFlag bool   `json:"apiTradeAvailableFlag"`
	First1MinCandleDate   string `json:"first1MinCandleDate"`
	First1DayCandleDate   string `json:"first1DayCandleDate"`
}

type httpResponse struct {
	Instruments []httpRecord `json:"instruments"`
}

// HTTPClient is the concrete Client backed by the upstream REST endpoint,
// with its own shared connection pool and a circuit breaker so a flapping
// server trips open instead of hanging the run.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     zerolog.Logger
	breaker    *gobreaker.CircuitBreaker
}

// NewHTTPClient builds an HTTPClient. baseURL empty defaults to the
// production endpoint.
func NewHTTPClient(httpClient *http.Client, baseURL, token string, logger zerolog.Logger) *HTTPClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &HTTPClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
		logger:     logger,
		breaker:    resilience.NewBreaker("metadata-sync"),
	}
}

// ListInstruments fetches every instrument of the given asset type through
// the circuit breaker.
func (c *HTTPClient) ListInstruments(ctx context.Context, assetType string) ([]Record, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.listInstruments(ctx, assetType)
	})
	if err != nil {
		return nil, fmt.Errorf("metadata: list instruments %s: %w", assetType, err)
	}
	return result.([]Record), nil
}

func (c *HTTPClient) listInstruments(ctx context.Context, assetType string) ([]Record, error) {
	endpoint := c.baseURL + "/" + assetType

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.URL.RawQuery = url.Values{"instrumentStatus": {"INSTRUMENT_STATUS_ALL"}}.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	records := make([]Record, 0, len(body.Instruments))
	for _, r := range body.Instruments {
		records = append(records, Record{
			UID:                r.UID,
			FIGI:               r.FIGI,
			Name:               r.Name,
			LotSize:            r.Lot,
			OTCFlag:            r.OTCFlag,
			QualifiedInvestor:  r.QualInvestorFlag,
			APITradeAvailable:  r.APITradeAvailableFlag,
			RawFirst1MinCandle: parseRFC3339(r.First1MinCandleDate),
			RawFirst1DayCandle: parseRFC3339(r.First1DayCandleDate),
		})
	}

	c.logger.Debug().Str("asset_type", assetType).Int("count", len(records)).Msg("metadata sync fetched instruments")
	return records, nil
}

func parseRFC3339(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
