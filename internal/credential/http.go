package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPIssuer POSTs to a token endpoint with the operator's bearer token and
// expects {"identity": ..., "token": ..., "expires_at": ...} back.
type HTTPIssuer struct {
	URL    string
	Client *http.Client
}

func NewHTTPIssuer(url string, timeout time.Duration) *HTTPIssuer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPIssuer{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (h *HTTPIssuer) FetchSessionCredential(ctx context.Context, authToken string) (Credential, error) {
	if strings.TrimSpace(authToken) == "" {
		return Credential{}, fmt.Errorf("credential: auth token required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader([]byte("{}")))
	if err != nil {
		return Credential{}, fmt.Errorf("credential: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+authToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("credential: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Credential{}, fmt.Errorf("credential: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Credential{}, fmt.Errorf("credential: issuer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var c Credential
	if err := json.Unmarshal(body, &c); err != nil {
		return Credential{}, fmt.Errorf("credential: decode response: %w", err)
	}
	if c.Token == "" {
		return Credential{}, ErrEmptyToken
	}
	return c, nil
}
