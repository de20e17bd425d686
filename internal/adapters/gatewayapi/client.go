package gatewayapi

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

	"github.com/bnema/gateway-pool/internal/gateway"
)

const DefaultBaseURL = "https://discord.com/api/v9"

var ErrUnauthorized = errors.New("upstream rejected token")

// Client submits interactions over the upstream REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (c *Client) Submit(ctx context.Context, token string, payload gateway.InteractionPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode interaction: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/interactions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Authorization", token)
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, 1<<16))
		if response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: status %d: %s", ErrUnauthorized, response.StatusCode, strings.TrimSpace(string(detail)))
		}
		return fmt.Errorf("status %d: %s", response.StatusCode, strings.TrimSpace(string(detail)))
	}

	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}
