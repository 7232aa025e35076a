package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultAirtableURL = "https://api.airtable.com/v0"

	// Airtable rejects more than five requests per second per base.
	DefaultRequestsPerSecond = 5

	maxErrorBody = 1024
)

// AirtableConfig holds connection settings for the Airtable REST API.
type AirtableConfig struct {
	BaseURL string
	BaseID  string
	APIKey  string
	Timeout time.Duration

	RequestsPerSecond float64
}

// Airtable is a Client backed by the Airtable REST API.
type Airtable struct {
	config  AirtableConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

type airtableRecord struct {
	ID     string         `json:"id,omitempty"`
	Fields map[string]any `json:"fields"`
}

type airtableWriteRequest struct {
	Fields   map[string]any `json:"fields"`
	Typecast bool           `json:"typecast"`
}

// NewAirtable creates an Airtable client. Empty BaseURL falls back to the public API.
func NewAirtable(config AirtableConfig, logger *slog.Logger) *Airtable {
	if config.BaseURL == "" {
		config.BaseURL = DefaultAirtableURL
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultRequestsPerSecond
	}

	return &Airtable{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		logger:  logger.With("module", "airtable"),
	}
}

// Create inserts a record into table and returns the new record id.
func (a *Airtable) Create(ctx context.Context, table string, fields map[string]any) (string, error) {
	endpoint, err := a.endpoint(table, "")
	if err != nil {
		return "", err
	}

	record, err := a.do(ctx, http.MethodPost, endpoint, fields)
	if err != nil {
		return "", err
	}

	a.logger.DebugContext(ctx, "Created record", "table", table, "record_id", record.ID)

	return record.ID, nil
}

// Update patches the given fields of an existing record and returns its id.
func (a *Airtable) Update(ctx context.Context, table, recordID string, fields map[string]any) (string, error) {
	if recordID == "" {
		return "", fmt.Errorf("%w: empty record id", ErrRecordNotFound)
	}

	endpoint, err := a.endpoint(table, recordID)
	if err != nil {
		return "", err
	}

	record, err := a.do(ctx, http.MethodPatch, endpoint, fields)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s in table %s", ErrRecordNotFound, recordID, table)
		}

		return "", err
	}

	a.logger.DebugContext(ctx, "Updated record", "table", table, "record_id", record.ID)

	if record.ID == "" {
		return recordID, nil
	}

	return record.ID, nil
}

func (a *Airtable) endpoint(table, recordID string) (string, error) {
	if a.config.APIKey == "" || a.config.BaseID == "" {
		return "", ErrNotConfigured
	}

	if strings.TrimSpace(table) == "" {
		return "", errors.New("table name is required")
	}

	u, err := url.JoinPath(a.config.BaseURL, a.config.BaseID, table)
	if err != nil {
		return "", fmt.Errorf("failed to build record store url: %w", err)
	}

	if recordID != "" {
		u, err = url.JoinPath(u, recordID)
		if err != nil {
			return "", fmt.Errorf("failed to build record store url: %w", err)
		}
	}

	return u, nil
}

func (a *Airtable) do(ctx context.Context, method, endpoint string, fields map[string]any) (*airtableRecord, error) {
	if fields == nil {
		fields = map[string]any{}
	}

	body, err := json.Marshal(airtableWriteRequest{Fields: fields, Typecast: true})
	if err != nil {
		return nil, fmt.Errorf("failed to encode record fields: %w", err)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("record store rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create record store request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("record store request failed: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			a.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read record store response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(respBody) > maxErrorBody {
			respBody = respBody[:maxErrorBody]
		}

		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var record airtableRecord
	if err := json.Unmarshal(respBody, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record store response: %w", err)
	}

	return &record, nil
}
