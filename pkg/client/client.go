package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/paystream-io/auditanchor/pkg/proofbundle"
)

// ErrNotFound is returned when the service has no anchor for a log ID.
var ErrNotFound = errors.New("anchor record not found")

// Record is the submission payload for one audit log record. Metadata is
// an ordered list of pairs; order is part of the record's identity.
type Record struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Action      string    `json:"action"`
	ActorID     string    `json:"actor_id"`
	ActorType   string    `json:"actor_type,omitempty"`
	TargetType  string    `json:"target_type,omitempty"`
	TargetID    string    `json:"target_id,omitempty"`
	Description string    `json:"description,omitempty"`
	Metadata    []MetaKV  `json:"metadata,omitempty"`
	PrevHash    string    `json:"prev_hash,omitempty"`
}

// MetaKV is one ordered metadata pair.
type MetaKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// VerifyResult is the verification outcome returned by the service.
type VerifyResult struct {
	Verified        bool   `json:"verified"`
	LogID           string `json:"log_id,omitempty"`
	LogHash         string `json:"log_hash,omitempty"`
	PrevHash        string `json:"prev_hash,omitempty"`
	MerkleRoot      string `json:"merkle_root,omitempty"`
	OracleHeight    int64  `json:"oracle_height,omitempty"`
	OracleTimestamp int64  `json:"oracle_timestamp,omitempty"`
	FailedCheck     string `json:"failed_check,omitempty"`
	Error           string `json:"error,omitempty"`
}

// ChainInfo is the service's chain overview.
type ChainInfo struct {
	Anchored int64  `json:"anchored"`
	LastHash string `json:"last_hash"`
	Pending  int    `json:"pending"`
}

// Client is the auditanchor SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a Client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit sends one record for anchoring. The service accepts it into the
// pending batch; anchoring happens asynchronously.
func (c *Client) Submit(ctx context.Context, rec *Record) error {
	var resp struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	status, err := c.do(ctx, http.MethodPost, "/api/v1/logs", rec, &resp)
	if err != nil {
		return err
	}
	if status != http.StatusAccepted {
		return fmt.Errorf("submit rejected (%d): %s", status, resp.Reason)
	}
	return nil
}

// Verify checks the stored anchor and inclusion proof for a log ID.
func (c *Client) Verify(ctx context.Context, logID string) (*VerifyResult, error) {
	var result VerifyResult
	status, err := c.do(ctx, http.MethodGet, "/api/v1/logs/"+logID+"/verify", nil, &result)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("verify %s: %w", logID, ErrNotFound)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("verify %s: unexpected status %d", logID, status)
	}
	return &result, nil
}

// VerifyRecord runs the full content check: the service recomputes the
// record's hash and compares it to the stored anchor before checking the
// proof.
func (c *Client) VerifyRecord(ctx context.Context, rec *Record) (*VerifyResult, error) {
	var result VerifyResult
	status, err := c.do(ctx, http.MethodPost, "/api/v1/verify", rec, &result)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("verify %s: %w", rec.ID, ErrNotFound)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("verify %s: unexpected status %d", rec.ID, status)
	}
	return &result, nil
}

// ExportProofs fetches a self-contained proof bundle for the given IDs.
func (c *Client) ExportProofs(ctx context.Context, logIDs []string) (*proofbundle.Bundle, error) {
	body := map[string][]string{"log_ids": logIDs}
	var bundle proofbundle.Bundle
	status, err := c.do(ctx, http.MethodPost, "/api/v1/proofs/export", body, &bundle)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("export proofs: unexpected status %d", status)
	}
	return &bundle, nil
}

// Chain returns the service's chain overview.
func (c *Client) Chain(ctx context.Context) (*ChainInfo, error) {
	var info ChainInfo
	status, err := c.do(ctx, http.MethodGet, "/api/v1/chain", nil, &info)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("chain overview: unexpected status %d", status)
	}
	return &info, nil
}

// do performs one JSON request/response round trip and decodes the body
// into out regardless of status, so callers can inspect error payloads.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
		}
	}
	return resp.StatusCode, nil
}
