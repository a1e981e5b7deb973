package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/uivet/uivet/internal/spec"
)

const clientTimeout = 30 * time.Second

// apiClient talks to a running uivet server.
type apiClient struct {
	base       string
	httpClient *http.Client
}

func newAPIClient(addr string) *apiClient {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &apiClient{
		base: strings.TrimSuffix(base, "/"),
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

type queueResponse struct {
	Success bool   `json:"success"`
	TestID  string `json:"testId"`
	Error   string `json:"error"`
}

func (c *apiClient) queueTest(ctx context.Context, test *spec.Test) (string, error) {
	body, err := json.Marshal(test)
	if err != nil {
		return "", fmt.Errorf("encoding test spec: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.base+"/test", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending test spec: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out queueResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if !out.Success {
		return "", fmt.Errorf("server rejected test: %s", out.Error) //nolint:err113 // Include server message for debugging
	}

	return out.TestID, nil
}

func (c *apiClient) fetchState(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.base+"/state", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching state: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode) //nolint:err113 // Include status code for debugging
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return raw, nil
}
