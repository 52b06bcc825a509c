package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StatusError reports a non-success response from the daemon API.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: http %d", e.Code)
	}
	return fmt.Sprintf("api: http %d: %s", e.Code, e.Message)
}

// IsNotFound reports whether the error is a 404 from the daemon.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	if !asStatusError(err, &statusErr) {
		return false
	}
	return statusErr.Code == http.StatusNotFound
}

// IsConflict reports whether the error is a 409 from the daemon.
func IsConflict(err error) bool {
	var statusErr *StatusError
	if !asStatusError(err, &statusErr) {
		return false
	}
	return statusErr.Code == http.StatusConflict
}

func asStatusError(err error, target **StatusError) bool {
	for err != nil {
		if statusErr, ok := err.(*StatusError); ok {
			*target = statusErr
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// Client talks to a running daemon over its HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a client for the daemon listening on bind.
func NewClient(bind string) *Client {
	base := strings.TrimSpace(bind)
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Status fetches daemon runtime information.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var status DaemonStatus
	err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, &status)
	return status, err
}

// ListItems fetches items, optionally filtered by status.
func (c *Client) ListItems(ctx context.Context, statuses ...string) ([]Item, error) {
	path := "/api/items"
	if len(statuses) > 0 {
		values := url.Values{}
		for _, status := range statuses {
			values.Add("status", status)
		}
		path += "?" + values.Encode()
	}
	var resp ItemListResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// GetItem fetches a single item by identifier.
func (c *Client) GetItem(ctx context.Context, id string) (Item, error) {
	var resp ItemResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/items/"+url.PathEscape(id), nil, &resp)
	return resp.Item, err
}

// Transcript fetches the plain-text transcript of an item.
func (c *Client) Transcript(ctx context.Context, id string) (string, error) {
	data, err := c.doRaw(ctx, http.MethodGet, "/api/items/"+url.PathEscape(id)+"/transcript")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Audio downloads the stored audio attachment of an item.
func (c *Client) Audio(ctx context.Context, id string) ([]byte, error) {
	return c.doRaw(ctx, http.MethodGet, "/api/items/"+url.PathEscape(id)+"/audio")
}

// UpdateField edits one reviewable field on an item.
func (c *Client) UpdateField(ctx context.Context, id, field, value string) (Item, error) {
	var resp ItemResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/items/"+url.PathEscape(id)+"/fields",
		UpdateFieldRequest{Field: field, Value: value}, &resp)
	return resp.Item, err
}

// Remove deletes an item.
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/items/"+url.PathEscape(id), nil, nil)
}

// Reprocess requests a fresh processing attempt for an item.
func (c *Client) Reprocess(ctx context.Context, id string) (Item, error) {
	var resp ItemResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/items/"+url.PathEscape(id)+"/reprocess", nil, &resp)
	return resp.Item, err
}

// Models fetches the transcription model pair.
func (c *Client) Models(ctx context.Context) (ModelsPayload, error) {
	var payload ModelsPayload
	err := c.doJSON(ctx, http.MethodGet, "/api/models", nil, &payload)
	return payload, err
}

// SetModels swaps the transcription model pair.
func (c *Client) SetModels(ctx context.Context, payload ModelsPayload) (ModelsPayload, error) {
	var updated ModelsPayload
	err := c.doJSON(ctx, http.MethodPost, "/api/models", payload, &updated)
	return updated, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, target any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("api: new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api: request failed (is the daemon running?): %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return decodeError(resp.StatusCode, data)
	}
	if target == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("api: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: request failed (is the daemon running?): %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("api: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, decodeError(resp.StatusCode, data)
	}
	return data, nil
}

func decodeError(status int, body []byte) error {
	var parsed ErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return &StatusError{Code: status, Message: parsed.Error}
	}
	return &StatusError{Code: status, Message: strings.TrimSpace(string(body))}
}
