package payu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/eventpass-backend/internal/gateway"
	"github.com/angelmondragon/eventpass-backend/pkg/config"
)

const (
	signPath      = "/v1/sign"
	verifyPath    = "/v1/verify"
	signerRetries = 2
	signerBackoff = 100 * time.Millisecond
)

type signRequest struct {
	Provider string              `json:"provider"`
	Purpose  gateway.SignPurpose `json:"purpose"`
	Fields   []string            `json:"fields"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

type verifyRequest struct {
	signRequest
	Signature string `json:"signature"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// HTTPSigner calls the signing service that owns the merchant salt. The
// service places the salt according to the purpose and returns the hex hash.
type HTTPSigner struct {
	baseURL string
	token   string
	hc      *http.Client
	backoff func() retry.Backoff
}

// NewHTTPSigner builds a signer client from configuration.
func NewHTTPSigner(cfg config.SignerConfig, hc *http.Client) (*HTTPSigner, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("signer base url required")
	}
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 3 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &HTTPSigner{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.APIToken,
		hc:      hc,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(signerRetries, retry.NewExponential(signerBackoff))
		},
	}, nil
}

func (s *HTTPSigner) Sign(ctx context.Context, purpose gateway.SignPurpose, fields []string) (string, error) {
	var resp signResponse
	req := signRequest{Provider: providerName, Purpose: purpose, Fields: fields}
	if err := s.call(ctx, signPath, req, &resp); err != nil {
		return "", err
	}
	if resp.Signature == "" {
		return "", fmt.Errorf("signer returned an empty signature")
	}
	return resp.Signature, nil
}

func (s *HTTPSigner) Verify(ctx context.Context, purpose gateway.SignPurpose, fields []string, signature string) (bool, error) {
	var resp verifyResponse
	req := verifyRequest{
		signRequest: signRequest{Provider: providerName, Purpose: purpose, Fields: fields},
		Signature:   signature,
	}
	if err := s.call(ctx, verifyPath, req, &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

// call retries transport failures and 5xx responses; 4xx responses are final.
func (s *HTTPSigner) call(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal signer request: %w", err)
	}

	return retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}

		resp, err := s.hc.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("signer request: %w", err))
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read signer response: %w", err))
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return retry.RetryableError(fmt.Errorf("signer returned %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("signer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode signer response: %w", err)
		}
		return nil
	})
}
