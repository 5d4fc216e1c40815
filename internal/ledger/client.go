package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"grantflow/config"
	"grantflow/pkg/circuitbreaker"
	"grantflow/pkg/metrics"
)

// ReleaseStatus is the ledger's view of one submitted release transaction.
type ReleaseStatus struct {
	Handle string `json:"handle"`
	Status string `json:"status"` // pending / confirmed / failed
	Reason string `json:"reason,omitempty"`
}

// DatumState mirrors the on-chain escrow datum, used to reconcile local
// state against the chain (eventually-consistent source of record for
// amounts actually moved).
type DatumState struct {
	ProjectID      string  `json:"project_id"`
	LockedAmount   float64 `json:"locked_amount"`
	ReleasedAmount float64 `json:"released_amount"`
	ReleasedStages int     `json:"released_stages"`
}

// Client is the boundary to the transaction-building sidecar. This core
// decides when and how much value moves; the sidecar does the moving.
type Client interface {
	RequestRelease(ctx context.Context, projectID, milestoneID string, amount float64, destinationAddr, idempotencyKey string) (string, error)
	GetReleaseStatus(ctx context.Context, handle string) (*ReleaseStatus, error)
	GetDatumState(ctx context.Context, projectID string) (*DatumState, error)
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

func NewHTTPClient(cfg config.LedgerConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout, // 交易构建较慢，超时给足
		},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
	}
}

type releaseRequest struct {
	ProjectID       string  `json:"project_id"`
	MilestoneID     string  `json:"milestone_id"`
	Amount          float64 `json:"amount"`
	DestinationAddr string  `json:"destination_addr"`
	IdempotencyKey  string  `json:"idempotency_key"`
}

type releaseResponse struct {
	Handle string `json:"handle"`
}

// RequestRelease submits one release instruction. The idempotency key lets
// the sidecar drop redelivered instructions without double-spending.
func (c *HTTPClient) RequestRelease(ctx context.Context, projectID, milestoneID string, amount float64, destinationAddr, idempotencyKey string) (string, error) {
	body, err := json.Marshal(releaseRequest{
		ProjectID:       projectID,
		MilestoneID:     milestoneID,
		Amount:          amount,
		DestinationAddr: destinationAddr,
		IdempotencyKey:  idempotencyKey,
	})
	if err != nil {
		return "", err
	}

	var out releaseResponse
	err = c.breaker.Execute(func() error {
		return c.postJSON(ctx, "/releases", body, &out)
	})
	if err != nil {
		return "", err
	}
	return out.Handle, nil
}

func (c *HTTPClient) GetReleaseStatus(ctx context.Context, handle string) (*ReleaseStatus, error) {
	var out ReleaseStatus
	if err := c.getJSON(ctx, "/releases/"+handle, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetDatumState(ctx context.Context, projectID string) (*DatumState, error) {
	var out DatumState
	if err := c.getJSON(ctx, "/datum/"+projectID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, body []byte, out any) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordLedgerCallLatency(path, "error", time.Since(start))
		return fmt.Errorf("failed to call ledger service: %w", err)
	}
	defer resp.Body.Close()

	metrics.RecordLedgerCallLatency(path, http.StatusText(resp.StatusCode), time.Since(start))

	if resp.StatusCode >= 500 {
		// 可重试错误
		return fmt.Errorf("ledger service 5xx: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		// 交易被拒绝等终态错误，单独处理
		return fmt.Errorf("ledger service error: %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call ledger service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("ledger service 5xx: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger service error: %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
