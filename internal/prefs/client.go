// Package prefs reads recipient settings from the external preference store.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"HireScout/internal/domain"
	"HireScout/internal/ports"
)

// Client talks to the preference store API.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ ports.PreferenceStore = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// Keywords returns the recipient's current search keyword string.
func (c *Client) Keywords(ctx context.Context, recipientID string) (string, error) {
	var resp struct {
		Keywords string `json:"keywords"`
	}
	if err := c.get(ctx, "/v1/recipients/"+recipientID+"/keywords", &resp); err != nil {
		return "", err
	}
	return resp.Keywords, nil
}

// Authenticated reports whether the recipient holds a valid platform session.
func (c *Client) Authenticated(ctx context.Context, recipientID string) (bool, error) {
	var resp struct {
		Authenticated bool `json:"authenticated"`
	}
	if err := c.get(ctx, "/v1/recipients/"+recipientID+"/auth", &resp); err != nil {
		return false, err
	}
	return resp.Authenticated, nil
}

// Profile returns the recipient's scoring signals and quota tier.
func (c *Client) Profile(ctx context.Context, recipientID string) (domain.RecipientProfile, error) {
	var resp struct {
		Skills          []string `json:"skills"`
		Titles          []string `json:"titles"`
		Locations       []string `json:"locations"`
		RemotePreferred bool     `json:"remotePreferred"`
		JobTypes        []string `json:"jobTypes"`
		Tier            string   `json:"tier"`
	}
	if err := c.get(ctx, "/v1/recipients/"+recipientID+"/profile", &resp); err != nil {
		return domain.RecipientProfile{}, err
	}

	tier := domain.RecipientTier(resp.Tier)
	switch tier {
	case domain.RecipientTierBase, domain.RecipientTierMid, domain.RecipientTierHigh:
	default:
		tier = domain.RecipientTierBase
	}

	return domain.RecipientProfile{
		Skills:          resp.Skills,
		Titles:          resp.Titles,
		Locations:       resp.Locations,
		RemotePreferred: resp.RemotePreferred,
		JobTypes:        resp.JobTypes,
		Tier:            tier,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
