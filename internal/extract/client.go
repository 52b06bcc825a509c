package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"voicebox/internal/config"
	"voicebox/internal/queue"
)

const (
	// BackendOllama is the only extraction backend currently supported.
	BackendOllama = "ollama"

	defaultHTTPTimeout    = 3 * time.Minute
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
)

// requiredKeys is the exact key set a well-formed model reply carries.
var requiredKeys = []string{
	"vorname",
	"nachname",
	"anfragetyp",
	"nameMedikament",
	"dosis",
	"fachrichtung",
	"grundUeberweisung",
	"extraInformation",
	"geburtsdatum",
}

var germanTitle = cases.Title(language.German)

// Client extracts structured voicemail fields from transcripts via an
// Ollama-compatible generate API.
type Client struct {
	cfg        config.Extraction
	httpClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the default retry count.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs an extraction client. The backend selector is not
// checked here; an unknown or empty backend surfaces as ErrNoBackendConfigured
// from Extract, so a misconfigured daemon still ingests and transcribes mail.
func NewClient(cfg config.Extraction, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg:              cfg,
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: timeout}
	}
	return client
}

// Model returns the configured model name for logging.
func (c *Client) Model() string {
	return c.cfg.Model
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("extract request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Extract sends the transcript to the model and parses the reply into the
// fixed field set. A reply missing any of the expected keys is rejected with
// ErrMalformedResponse.
func (c *Client) Extract(ctx context.Context, transcript string) (queue.ExtractedFields, error) {
	var empty queue.ExtractedFields
	if c.cfg.Backend != BackendOllama {
		return empty, fmt.Errorf("%w: backend %q", ErrNoBackendConfigured, c.cfg.Backend)
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return empty, errors.New("extract: transcript required")
	}

	content, err := c.generateWithRetry(ctx, generateRequest{
		Model:  c.cfg.Model,
		Prompt: BuildPrompt(transcript),
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return empty, err
	}

	fields, err := parseFields(content)
	if err != nil {
		return empty, err
	}
	return fields, nil
}

func parseFields(content string) (queue.ExtractedFields, error) {
	var empty queue.ExtractedFields
	var raw map[string]any
	if err := DecodeModelJSON(content, &raw); err != nil {
		return empty, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	values := make(map[string]string, len(requiredKeys))
	for _, key := range requiredKeys {
		value, ok := raw[key]
		if !ok {
			return empty, fmt.Errorf("%w: missing key %q", ErrMalformedResponse, key)
		}
		values[key] = stringifyValue(value)
	}

	return queue.ExtractedFields{
		FirstName:      values["vorname"],
		LastName:       values["nachname"],
		RequestType:    normalizeRequestType(values["anfragetyp"]),
		Medication:     values["nameMedikament"],
		Dosage:         values["dosis"],
		Specialty:      values["fachrichtung"],
		ReferralReason: values["grundUeberweisung"],
		Note:           values["extraInformation"],
		Birthdate:      values["geburtsdatum"],
	}, nil
}

func stringifyValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

// normalizeRequestType maps casing variants like "rezept" or "ÜBERWEISUNG"
// onto the canonical German title form.
func normalizeRequestType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return germanTitle.String(strings.ToLower(value))
}

func (c *Client) generateWithRetry(ctx context.Context, payload generateRequest) (string, error) {
	attempts := c.retryMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		content, err := c.generateOnce(ctx, payload)
		if err == nil {
			return content, nil
		}
		lastErr = err

		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return "", err
		}
		if err := c.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("extract: failed after %d attempts: %w", attempts, lastErr)
}

func (c *Client) generateOnce(ctx context.Context, payload generateRequest) (string, error) {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "api", "generate")
	if err != nil {
		return "", fmt.Errorf("extract request: build url: %w", err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("extract request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("extract request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("extract request: http error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("extract request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", &httpStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("extract request: decode response: %w", err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("extract request: api error: %s", strings.TrimSpace(decoded.Error))
	}
	if strings.TrimSpace(decoded.Response) == "" {
		return "", fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}
	return decoded.Response, nil
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts {
		return 0, false
	}
	if ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	if errors.Is(err, ErrMalformedResponse) {
		return 0, false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			return c.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.backoffDelay(attempt), true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.backoffDelay(attempt), true
	}

	return 0, false
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.retryBaseDelay
	if delay <= 0 {
		return 0
	}
	maxDelay := c.retryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
