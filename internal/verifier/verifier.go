// Package verifier wraps the external identity-verification provider.
// Calls are fallible, billed per call, and gated by the rate limiter owned
// by the queue; this package knows nothing about either.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	dErrors "kycgate/pkg/domain-errors"
)

// Result is the outcome of a completed provider call.
type Result struct {
	Valid       bool           `json:"valid"`
	Data        map[string]any `json:"data,omitempty"`
	ProviderRef string         `json:"provider_ref,omitempty"`
	CheckedAt   time.Time      `json:"checked_at"`
}

// Verifier performs one identity verification against a remote provider.
type Verifier interface {
	Verify(ctx context.Context, identityNumber string, identityType IdentityType) (*Result, error)
}

// HTTPVerifier calls a JSON-over-HTTP verification provider.
type HTTPVerifier struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPVerifier creates a provider client. name appears in errors and
// usage counters (e.g. "datapro").
func NewHTTPVerifier(name, baseURL, apiKey string, timeout time.Duration) *HTTPVerifier {
	return &HTTPVerifier{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the provider identifier used for usage tracking.
func (v *HTTPVerifier) Name() string {
	return v.name
}

type verifyRequest struct {
	IdentityNumber string `json:"identity_number"`
	IdentityType   string `json:"identity_type"`
}

type verifyResponse struct {
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data"`
	ErrorCode string         `json:"error_code"`
	Reference string         `json:"reference"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, identityNumber string, identityType IdentityType) (*Result, error) {
	body, err := json.Marshal(verifyRequest{
		IdentityNumber: identityNumber,
		IdentityType:   string(identityType),
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "marshal verify request")
	}

	url := fmt.Sprintf("%s/v1/verify/%s", v.baseURL, identityType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build verify request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", v.apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderFailure,
			fmt.Sprintf("%s verification call failed", v.name))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderFailure,
			fmt.Sprintf("read %s verification response", v.name))
	}

	return parseVerifyResponse(v.name, resp.StatusCode, raw)
}

// parseVerifyResponse maps the provider wire response to a Result. Terminal
// errors keep the provider error code so operators can distinguish bad input
// from a provider outage without re-running the call.
func parseVerifyResponse(provider string, status int, body []byte) (*Result, error) {
	if status != http.StatusOK {
		return nil, dErrors.Newf(dErrors.CodeProviderFailure,
			"%s returned status %d", provider, status)
	}

	var wire verifyResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderFailure,
			fmt.Sprintf("decode %s verification response", provider))
	}

	if !wire.Success {
		code := wire.ErrorCode
		if code == "" {
			code = "unknown"
		}
		return nil, dErrors.Newf(dErrors.CodeProviderFailure,
			"%s reported failure: %s", provider, code)
	}

	return &Result{
		Valid:       true,
		Data:        wire.Data,
		ProviderRef: wire.Reference,
		CheckedAt:   time.Now(),
	}, nil
}
