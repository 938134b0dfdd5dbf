// Package broker provides a client for the residential-data broker API:
// range search, contact-info lookup, and encrypted-payload read.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/imovelink/broker-contacts/internal/model"
)

// Resident is one loosely-typed record from the search stage. Field names
// drift across upstream versions, so no fixed schema is assumed here;
// normalization happens downstream.
type Resident map[string]any

// ContactInfoResponse carries the encrypted payload returned by the
// contact-info endpoint. Data is opaque; it is only ever handed back to the
// read endpoint for decryption.
type ContactInfoResponse struct {
	Data string `json:"data"`
	ID   int    `json:"id"`
}

// DecryptedPayload is the decrypted contact data for a resident.
type DecryptedPayload struct {
	Data []Person `json:"data"`
}

// Person is one person in a decrypted payload.
type Person struct {
	Document     string        `json:"document"`
	PFData       PFData        `json:"pfData"`
	ContactInfos []ContactInfo `json:"contactInfos"`
}

// PFData holds auxiliary profile data for a person.
type PFData struct {
	Name string `json:"name"`
}

// ContactInfo is one contact channel belonging to a person.
type ContactInfo struct {
	Type        string  `json:"type"`
	PhoneNumber string  `json:"phoneNumber"`
	Priority    int     `json:"priority"`
	Score       float64 `json:"score"`
	Plus        bool    `json:"plus"`
	NotDisturb  int     `json:"notDisturb"`
}

// Client defines the broker API operations.
type Client interface {
	// SearchResidents returns the residents known for a street-number range.
	SearchResidents(ctx context.Context, street string, initialNumber, finalNumber, cityID int) ([]Resident, error)
	// ContactInfo requests the encrypted contact payload for a resident.
	ContactInfo(ctx context.Context, req model.ContactRequest) (*ContactInfoResponse, error)
	// ReadEncrypted decrypts a contact payload via the read endpoint.
	ReadEncrypted(ctx context.Context, data string, id int) (*DecryptedPayload, error)
}

// Option configures the broker client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the requests-per-second limit applied to all endpoints.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a broker API client authenticated with a bearer token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: "https://api-prd.brokers.eemovel.com.br",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(2, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// setHeaders applies the browser profile the upstream expects alongside the
// bearer token.
func (c *httpClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://brokers.eemovel.com.br")
	req.Header.Set("Referer", "https://brokers.eemovel.com.br/")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Linux; Android 6.0; Nexus 5 Build/MRA58N) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Mobile Safari/537.36")
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes an HTTP request with exponential backoff retries on
// transient failures (429, 500, 502, 503). The request body, when present,
// must be rebuildable from payload so retries do not reuse a drained reader.
func (c *httpClient) retryDo(ctx context.Context, method, reqURL string, payload []byte) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, eris.Wrap(err, "broker: rate limit")
		}

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
		if err != nil {
			return nil, 0, eris.Wrap(err, "broker: build request")
		}
		c.setHeaders(req)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "broker: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("broker: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) SearchResidents(ctx context.Context, street string, initialNumber, finalNumber, cityID int) ([]Resident, error) {
	params := url.Values{
		"Street":        {street},
		"InitialNumber": {strconv.Itoa(initialNumber)},
		"FinalNumber":   {strconv.Itoa(finalNumber)},
		"CityId":        {strconv.Itoa(cityID)},
	}
	reqURL := c.baseURL + "/brokers/residents/external/search?" + params.Encode()

	body, statusCode, err := c.retryDo(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "broker: search request failed")
	}

	if statusCode != http.StatusOK {
		return nil, eris.Errorf("broker: search unexpected status %d: %s", statusCode, string(body))
	}

	var residents []Resident
	if err := json.Unmarshal(body, &residents); err != nil {
		return nil, eris.Wrap(err, "broker: unmarshal search response")
	}

	return residents, nil
}

func (c *httpClient) ContactInfo(ctx context.Context, req model.ContactRequest) (*ContactInfoResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "broker: marshal contact request")
	}

	reqURL := c.baseURL + "/brokers/residents/external/contactinfo"
	body, statusCode, err := c.retryDo(ctx, http.MethodPost, reqURL, payload)
	if err != nil {
		return nil, eris.Wrap(err, "broker: contactinfo request failed")
	}

	if statusCode != http.StatusOK {
		return nil, eris.Errorf("broker: contactinfo unexpected status %d: %s", statusCode, string(body))
	}

	var result ContactInfoResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "broker: unmarshal contactinfo response")
	}

	return &result, nil
}

func (c *httpClient) ReadEncrypted(ctx context.Context, data string, id int) (*DecryptedPayload, error) {
	payload, err := json.Marshal(map[string]any{
		"data": data,
		"id":   id,
	})
	if err != nil {
		return nil, eris.Wrap(err, "broker: marshal read request")
	}

	reqURL := c.baseURL + "/brokers/residents/external/contactinfo/read"
	body, statusCode, err := c.retryDo(ctx, http.MethodPost, reqURL, payload)
	if err != nil {
		return nil, eris.Wrap(err, "broker: read request failed")
	}

	if statusCode != http.StatusOK {
		return nil, eris.Errorf("broker: read unexpected status %d: %s", statusCode, string(body))
	}

	var result DecryptedPayload
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "broker: unmarshal read response")
	}

	return &result, nil
}
