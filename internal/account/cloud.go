package account

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

	"github.com/joshp123/gokumo/internal/rate"
)

const (
	DefaultCloudURL = "https://geo-c.kumocloud.com"
	appVersion      = "2.2.0"
)

// CloudOptions configure the account login.
type CloudOptions struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	// HTTPClient overrides the rate-limited default, mainly for tests.
	HTTPClient *http.Client
}

type CloudClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	guard      *rate.Guard
}

// RateLimits keeps setup retries from hammering the login endpoint.
func RateLimits() rate.Declaration {
	return rate.Declaration{
		Provider: "kumo_cloud",
		Limits:   map[rate.Window]int{rate.Minute: 4, rate.Day: 200},
		Headers:  rate.StandardHeaders(),
	}
}

func NewCloudClient(opts CloudOptions) *CloudClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultCloudURL
	}
	c := &CloudClient{
		baseURL:    baseURL,
		username:   opts.Username,
		password:   opts.Password,
		httpClient: opts.HTTPClient,
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		c.httpClient, c.guard = rate.WrapHTTP(RateLimits(), &http.Client{Timeout: timeout})
	}
	return c
}

// RateLimitState reports the login guard, false when the client is not rate limited.
func (c *CloudClient) RateLimitState() (rate.Snapshot, bool) {
	if c.guard == nil {
		return rate.Snapshot{}, false
	}
	return c.guard.Snapshot(), true
}

// Login authenticates and returns the raw account directory.
func (c *CloudClient) Login(ctx context.Context) ([]byte, error) {
	if strings.TrimSpace(c.username) == "" || c.password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidAuth)
	}

	body, err := json.Marshal(map[string]string{
		"username":   c.username,
		"password":   c.password,
		"appVersion": appVersion,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var limited rate.RateLimitError
		if errors.As(err, &limited) {
			return nil, fmt.Errorf("%w: %v", ErrCannotConnect, limited)
		}
		return nil, fmt.Errorf("%w: %v", ErrCannotConnect, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read login response: %v", ErrCannotConnect, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrInvalidAuth
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: login status %d", ErrCannotConnect, resp.StatusCode)
	}

	// A rejected login still answers 200 with an object instead of the directory array.
	if err := Iterate(payload, func(Unit, error) {}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAuth, err)
	}
	return payload, nil
}
