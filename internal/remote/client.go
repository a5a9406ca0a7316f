package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"tillsync/internal/config"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// saleKeyNamespace is the fixed namespace for idempotency keys. Keys
// are derived deterministically from terminal_id + local_id, so every
// retry of the same sale presents the same key to the server.
var saleKeyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tillsync/sales"))

// RejectionError is a permanent server-side rejection (validation
// failure, conflict). Retrying the same payload will never succeed.
type RejectionError struct {
	StatusCode int
	Message    string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("sale rejected by server (%d): %s", e.StatusCode, e.Message)
}

// TransientError covers timeouts, dropped connections and 5xx
// responses. The submission may be retried after backoff.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient submission error: %v", e.Cause)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// IsPermanent reports whether the error is a permanent rejection.
func IsPermanent(err error) bool {
	var rejection *RejectionError
	return errors.As(err, &rejection)
}

// IsTransient reports whether the error is retryable.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// SubmitResult is the server acknowledgement for one sale.
type SubmitResult struct {
	RemoteID string
	// Duplicate is set when the server had already accepted this
	// idempotency key and returned the original record.
	Duplicate bool
}

// Client talks to the central sales-ingestion API.
type Client struct {
	baseURL    string
	ingestPath string
	healthPath string
	apiKey     string
	userAgent  string
	terminalID string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(cfg config.RemoteConfig, terminalID string, logger *zerolog.Logger) *Client {
	var l zerolog.Logger
	if logger != nil {
		l = logger.With().Str("component", "remote").Logger()
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		ingestPath: cfg.IngestPath,
		healthPath: cfg.HealthPath,
		apiKey:     cfg.APIKey,
		userAgent:  cfg.UserAgent,
		terminalID: terminalID,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		logger:     l,
	}
}

// IdempotencyKey returns the stable key for a local sale id.
func (c *Client) IdempotencyKey(localID int64) string {
	return uuid.NewSHA1(saleKeyNamespace, []byte(c.terminalID+":"+strconv.FormatInt(localID, 10))).String()
}

type submitEnvelope struct {
	TerminalID string          `json:"terminal_id"`
	LocalID    int64           `json:"local_id"`
	Sale       json.RawMessage `json:"sale"`
}

type submitResponse struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
	Error     string `json:"error"`
}

// SubmitSale uploads one captured sale. The payload bytes are the
// immutable snapshot from the queue; the caller never mutates them
// between retries.
func (c *Client) SubmitSale(ctx context.Context, localID int64, payload string) (SubmitResult, error) {
	body, err := json.Marshal(submitEnvelope{
		TerminalID: c.terminalID,
		LocalID:    localID,
		Sale:       json.RawMessage(payload),
	})
	if err != nil {
		return SubmitResult{}, &RejectionError{StatusCode: 0, Message: fmt.Sprintf("encode envelope: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.ingestPath, bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", c.IdempotencyKey(localID))
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SubmitResult{}, &TransientError{Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SubmitResult{}, &TransientError{Cause: fmt.Errorf("read response: %w", err)}
	}

	var decoded submitResponse
	if len(raw) > 0 {
		// Tolerate non-JSON error bodies; status code decides the path
		_ = json.Unmarshal(raw, &decoded)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		if decoded.ID == "" {
			return SubmitResult{}, &TransientError{Cause: fmt.Errorf("server accepted sale %d without an id", localID)}
		}
		if decoded.Duplicate {
			c.logger.Info().Int64("local_id", localID).Str("remote_id", decoded.ID).
				Msg("server recognized duplicate idempotency key")
		}
		return SubmitResult{RemoteID: decoded.ID, Duplicate: decoded.Duplicate}, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg := decoded.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return SubmitResult{}, &RejectionError{StatusCode: resp.StatusCode, Message: msg}

	default:
		return SubmitResult{}, &TransientError{Cause: fmt.Errorf("server returned %d", resp.StatusCode)}
	}
}

// Probe checks reachability of the central server. Used by the
// connectivity monitor; a cheap GET against the health endpoint.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe returned %d", resp.StatusCode)
	}
	return nil
}
