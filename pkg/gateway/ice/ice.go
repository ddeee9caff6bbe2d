// Package ice hands browser clients the ICE server list for WebRTC
// setup. When Twilio credentials are configured it mints short-lived
// TURN credentials through the Network Traversal Service; otherwise it
// falls back to a static STUN-only list.
package ice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.twilio.com"

// Credentials identifies a Twilio API key pair.
type Credentials struct {
	AccountSID string
	APIKey     string
	APISecret  string
}

func (c Credentials) complete() bool {
	return c.AccountSID != "" && c.APIKey != "" && c.APISecret != ""
}

// Provider resolves the ICE server list for new calls.
type Provider struct {
	creds    Credentials
	fallback json.RawMessage
	client   *http.Client
	baseURL  string
	logger   *slog.Logger
}

// Option customizes a Provider.
type Option func(*Provider)

// WithBaseURL overrides the Twilio API host, for tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates a provider. fallbackJSON must be a JSON array of ICE
// server objects; it is validated here so a config typo fails at
// startup instead of in the signaling path.
func New(creds Credentials, fallbackJSON string, logger *slog.Logger, opts ...Option) (*Provider, error) {
	var servers []json.RawMessage
	if err := json.Unmarshal([]byte(fallbackJSON), &servers); err != nil {
		return nil, fmt.Errorf("ice_servers_json is not a JSON array: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		creds:    creds,
		fallback: json.RawMessage(fallbackJSON),
		client:   &http.Client{Timeout: 10 * time.Second},
		baseURL:  defaultBaseURL,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Servers returns the ICE server list as raw JSON. TURN fetch failures
// degrade to the STUN fallback so a Twilio outage cannot block calls.
func (p *Provider) Servers(ctx context.Context) json.RawMessage {
	if !p.creds.complete() {
		return p.fallback
	}
	servers, err := p.fetchTwilio(ctx)
	if err != nil {
		p.logger.Warn("turn credential fetch failed, using stun fallback", "error", err)
		return p.fallback
	}
	return servers
}

type twilioTokenResponse struct {
	ICEServers json.RawMessage `json:"ice_servers"`
}

func (p *Provider) fetchTwilio(ctx context.Context) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Tokens.json", p.baseURL, p.creds.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(p.creds.APIKey, p.creds.APISecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("token request returned %d: %s", resp.StatusCode, body)
	}

	var token twilioTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if len(token.ICEServers) == 0 {
		return nil, fmt.Errorf("token response carried no ice servers")
	}
	return token.ICEServers, nil
}
