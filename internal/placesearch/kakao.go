// Package placesearch queries the Kakao Local keyword search for restaurant candidates.
package placesearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/tastemap/internal/apperrors"
	"github.com/MarcoPoloResearchLab/tastemap/internal/restaurants"
	"github.com/antonholmquist/jason"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultSearchURL is the Kakao Local keyword search endpoint.
	DefaultSearchURL = "https://dapi.kakao.com/v2/local/search/keyword.json"

	// DefaultDisplay is the number of candidates returned when the caller does not ask.
	DefaultDisplay = 5
	// MaxDisplay is the largest page Kakao serves for keyword search.
	MaxDisplay = 15

	defaultTimeout        = 5 * time.Second
	bufferFactor          = 3
	maxBodyBytes          = 1 << 20
	maxRawDetailBytes     = 512
	genericFailureMessage = "place search request failed"

	opSearch = "placesearch.search"

	outcomeSuccess  = "success"
	outcomeUpstream = "upstream_error"
	outcomeFailure  = "transport_error"
)

// restaurantGroups are the Kakao category group codes kept in results: FD6 (restaurants)
// and CE7 (cafes).
var restaurantGroups = map[string]struct{}{
	"FD6": {},
	"CE7": {},
}

// Recorder observes outcomes of upstream calls.
type Recorder interface {
	ObservePlaceSearch(outcome string, elapsed time.Duration)
}

// ClientConfig describes the Kakao client.
type ClientConfig struct {
	APIKey            string
	SearchURL         string
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Recorder          Recorder
	Logger            *zap.Logger
}

// Client issues keyword searches. It never retries.
type Client struct {
	apiKey     string
	searchURL  string
	httpClient *http.Client
	limiter    *rate.Limiter
	recorder   Recorder
	logger     *zap.Logger
}

// Result is the filtered search response.
type Result struct {
	Total int                     `json:"total"`
	Items []restaurants.Candidate `json:"items"`
}

type keywordResponse struct {
	Documents []document `json:"documents"`
}

type document struct {
	ID                string `json:"id"`
	PlaceName         string `json:"place_name"`
	CategoryName      string `json:"category_name"`
	CategoryGroupCode string `json:"category_group_code"`
	Phone             string `json:"phone"`
	AddressName       string `json:"address_name"`
	RoadAddressName   string `json:"road_address_name"`
	PlaceURL          string `json:"place_url"`
	X                 string `json:"x"`
	Y                 string `json:"y"`
}

// NewClient validates configuration and builds the client.
func NewClient(cfg ClientConfig) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("placesearch: api key is required")
	}
	searchURL := strings.TrimSpace(cfg.SearchURL)
	if searchURL == "" {
		searchURL = DefaultSearchURL
	}
	if _, err := url.ParseRequestURI(searchURL); err != nil {
		return nil, fmt.Errorf("placesearch: invalid search url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		apiKey:     apiKey,
		searchURL:  searchURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		recorder:   cfg.Recorder,
		logger:     logger,
	}, nil
}

// Search returns up to display restaurant or cafe candidates for the keyword. It requests
// more documents than display because non-food places are filtered out afterwards.
func (c *Client) Search(ctx context.Context, query string, display int) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, apperrors.Validation(opSearch, "empty_query", nil)
	}
	if display <= 0 {
		display = DefaultDisplay
	}
	if display > MaxDisplay {
		display = MaxDisplay
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, apperrors.New(apperrors.KindUpstream, opSearch, "rate_limited", err).
			WithDetail(genericFailureMessage)
	}

	started := time.Now()
	documents, err := c.fetch(ctx, query, min(display*bufferFactor, MaxDisplay))
	elapsed := time.Since(started)
	if err != nil {
		if apperrors.CodeOf(err) == opSearch+".upstream_status" {
			c.observe(outcomeUpstream, elapsed)
		} else {
			c.observe(outcomeFailure, elapsed)
		}
		return Result{}, err
	}
	c.observe(outcomeSuccess, elapsed)

	items := make([]restaurants.Candidate, 0, display)
	for _, doc := range documents {
		if len(items) >= display {
			break
		}
		if _, ok := restaurantGroups[doc.CategoryGroupCode]; !ok {
			continue
		}
		candidate, err := doc.candidate()
		if err != nil {
			c.logger.Warn("skipping place with malformed coordinates",
				zap.String("place_id", doc.ID),
				zap.Error(err))
			continue
		}
		items = append(items, candidate)
	}
	return Result{Total: len(items), Items: items}, nil
}

func (c *Client) fetch(ctx context.Context, query string, size int) ([]document, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("size", strconv.Itoa(size))
	params.Set("sort", "accuracy")

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, apperrors.Internal(opSearch, "request_build_failed", err)
	}
	request.Header.Set("Authorization", "KakaoAK "+c.apiKey)
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Error("place search transport failure", zap.Error(err))
		return nil, apperrors.New(apperrors.KindUpstream, opSearch, "transport_failed", err).
			WithDetail(genericFailureMessage)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.New(apperrors.KindUpstream, opSearch, "read_failed", err).
			WithDetail(genericFailureMessage)
	}

	if response.StatusCode != http.StatusOK {
		detail := upstreamDetail(body)
		c.logger.Error("place search rejected",
			zap.Int("status", response.StatusCode),
			zap.String("detail", detail))
		cause := fmt.Errorf("status %d", response.StatusCode)
		return nil, apperrors.New(apperrors.KindUpstream, opSearch, "upstream_status", cause).WithDetail(detail)
	}

	var decoded keywordResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, apperrors.New(apperrors.KindUpstream, opSearch, "malformed_response", err).
			WithDetail(genericFailureMessage)
	}
	return decoded.Documents, nil
}

// upstreamDetail renders Kakao's error body as "message (errorType)". Bodies that are not
// JSON are passed through; JSON without a message yields the generic message.
func upstreamDetail(body []byte) string {
	object, err := jason.NewObjectFromBytes(body)
	if err != nil {
		raw := strings.TrimSpace(string(body))
		if raw == "" {
			return genericFailureMessage
		}
		if len(raw) > maxRawDetailBytes {
			raw = raw[:maxRawDetailBytes]
		}
		return raw
	}
	message, _ := object.GetString("message")
	if strings.TrimSpace(message) == "" {
		return genericFailureMessage
	}
	errorType, _ := object.GetString("errorType")
	return fmt.Sprintf("%s (%s)", message, errorType)
}

func (d document) candidate() (restaurants.Candidate, error) {
	longitude, err := strconv.ParseFloat(strings.TrimSpace(d.X), 64)
	if err != nil {
		return restaurants.Candidate{}, fmt.Errorf("x: %w", err)
	}
	latitude, err := strconv.ParseFloat(strings.TrimSpace(d.Y), 64)
	if err != nil {
		return restaurants.Candidate{}, fmt.Errorf("y: %w", err)
	}
	return restaurants.Candidate{
		ProviderPlaceID: d.ID,
		Name:            d.PlaceName,
		Category:        d.CategoryName,
		Address:         d.AddressName,
		RoadAddress:     d.RoadAddressName,
		Phone:           d.Phone,
		PlaceURL:        d.PlaceURL,
		Latitude:        latitude,
		Longitude:       longitude,
	}, nil
}

func (c *Client) observe(outcome string, elapsed time.Duration) {
	if c.recorder != nil {
		c.recorder.ObservePlaceSearch(outcome, elapsed)
	}
}
