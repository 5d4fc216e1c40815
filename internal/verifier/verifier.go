package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"grantflow/config"
)

// HTTPVerifier delegates CIP-30 signature checks to a verification sidecar.
// The boolean result is trusted as-is; key management stays outside this core.
type HTTPVerifier struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPVerifier(cfg config.VerifierConfig) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type verifyRequest struct {
	VoterID   string `json:"voter_id"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, voterID, message, signature string) (bool, error) {
	body, err := json.Marshal(verifyRequest{
		VoterID:   voterID,
		Message:   message,
		Signature: signature,
	})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to call verifier service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("verifier service error: %d", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, err
	}
	return out.Valid, nil
}
