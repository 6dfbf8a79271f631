package cbt

// Package cbt provides a client for the CrossBrowserTesting REST API and a
// tunnel.Service that runs the cbt_tunnels binary locally.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const DefaultBaseURL = "https://crossbrowsertesting.com/api/v3"

// ErrNoSeleniumTest is returned when no remote selenium test matches a lookup.
var ErrNoSeleniumTest = errors.New("no matching selenium test found")

// APIError is returned for non-2xx responses.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client talks to the CBT API using basic authentication.
type Client struct {
	logger     zerolog.Logger
	baseURL    string
	username   string
	apiKey     string
	httpClient *http.Client
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client for the given credentials.
func New(logger zerolog.Logger, username, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		logger:     logger,
		baseURL:    DefaultBaseURL,
		username:   username,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Username returns the account the client authenticates as.
func (c *Client) Username() string {
	return c.username
}

// ScreenshotResult holds the flattened response of a screenshot test start.
// Info contains an "error" key when the service rejected the request.
type ScreenshotResult struct {
	TestID string
	Info   map[string]string
}

// Failed reports whether the service returned an error for the request.
func (r *ScreenshotResult) Failed() bool {
	_, ok := r.Info["error"]
	return ok
}

type screenshotVersion struct {
	VersionID            json.Number `json:"version_id"`
	Active               bool        `json:"active"`
	ShowResultsWebURL    string      `json:"show_results_web_url"`
	ShowResultsPublicURL string      `json:"show_results_public_url"`
}

type screenshotResponse struct {
	ScreenshotTestID json.Number         `json:"screenshot_test_id"`
	URL              string              `json:"url"`
	Versions         []screenshotVersion `json:"versions"`
}

// RunScreenshotTest starts a screenshot test of targetURL across the named
// browser list.
func (c *Client) RunScreenshotTest(ctx context.Context, browserList, targetURL string) (*ScreenshotResult, error) {
	form := url.Values{}
	form.Set("browser_list_name", browserList)
	form.Set("url", targetURL)

	var resp screenshotResponse
	err := c.do(ctx, http.MethodPost, "/screenshots", nil, strings.NewReader(form.Encode()), &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		c.logger.Debug().Err(err).Msg("Screenshot test rejected")
		return &ScreenshotResult{Info: map[string]string{
			"error": fmt.Sprintf("%d error returned for screenshot test", apiErr.StatusCode),
		}}, nil
	}
	if err != nil {
		return nil, err
	}

	result := &ScreenshotResult{
		TestID: resp.ScreenshotTestID.String(),
		Info: map[string]string{
			"screenshot_test_id": resp.ScreenshotTestID.String(),
			"url":                resp.URL,
		},
	}
	if len(resp.Versions) > 0 {
		v := resp.Versions[0]
		result.Info["version_id"] = v.VersionID.String()
		result.Info["show_results_web_url"] = v.ShowResultsWebURL
		result.Info["show_results_public_url"] = v.ShowResultsPublicURL
	}
	return result, nil
}

// QueryScreenshotTest reports whether the screenshot test is still running.
func (c *Client) QueryScreenshotTest(ctx context.Context, testID string) (bool, error) {
	var resp screenshotResponse
	if err := c.do(ctx, http.MethodGet, "/screenshots/"+url.PathEscape(testID), nil, nil, &resp); err != nil {
		return false, err
	}
	for _, v := range resp.Versions {
		if v.Active {
			return true, nil
		}
	}
	return false, nil
}

// SeleniumQuery identifies one remote selenium test by build and target.
type SeleniumQuery struct {
	BuildName       string
	BuildNumber     string
	Browser         string
	OperatingSystem string
	Resolution      string
}

// SeleniumTestInfo is the durable id and public URL of a remote selenium test.
type SeleniumTestInfo struct {
	TestID    string
	PublicURL string
}

type seleniumListResponse struct {
	Selenium []struct {
		SeleniumTestID      json.Number `json:"selenium_test_id"`
		ShowResultPublicURL string      `json:"show_result_public_url"`
	} `json:"selenium"`
}

// GetSeleniumTestInfo looks up the most recent selenium test matching q.
func (c *Client) GetSeleniumTestInfo(ctx context.Context, q SeleniumQuery) (SeleniumTestInfo, error) {
	params := url.Values{}
	params.Set("num", "1")
	params.Set("build", q.BuildName)
	params.Set("version", q.BuildNumber)
	params.Set("browser", q.Browser)
	params.Set("os", q.OperatingSystem)
	params.Set("resolution", q.Resolution)

	var resp seleniumListResponse
	if err := c.do(ctx, http.MethodGet, "/selenium", params, nil, &resp); err != nil {
		return SeleniumTestInfo{}, err
	}
	if len(resp.Selenium) == 0 {
		return SeleniumTestInfo{}, ErrNoSeleniumTest
	}
	return SeleniumTestInfo{
		TestID:    resp.Selenium[0].SeleniumTestID.String(),
		PublicURL: resp.Selenium[0].ShowResultPublicURL,
	}, nil
}

// Tunnel is an active tunnel registered for the account.
type Tunnel struct {
	ID     json.Number `json:"tunnel_id"`
	Active bool        `json:"active"`
	State  string      `json:"state"`
}

type tunnelListResponse struct {
	Tunnels []Tunnel `json:"tunnels"`
}

// ActiveTunnels lists the account's active tunnels.
func (c *Client) ActiveTunnels(ctx context.Context) ([]Tunnel, error) {
	params := url.Values{}
	params.Set("num", "10")
	params.Set("active", "true")

	var resp tunnelListResponse
	if err := c.do(ctx, http.MethodGet, "/tunnels", params, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tunnels, nil
}

// DeleteTunnel asks the service to tear down the tunnel with the given id.
func (c *Client) DeleteTunnel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/tunnels/"+url.PathEscape(id), nil, nil, nil)
}

// Option is a selectable value with a display name and an API name.
type Option struct {
	Name    string `json:"name"`
	APIName string `json:"api_name"`
}

// Configuration is a selenium operating system with its browsers and
// resolutions.
type Configuration struct {
	Option
	Browsers    []Option `json:"browsers"`
	Resolutions []Option `json:"resolutions"`
}

// SeleniumConfigurations lists the operating systems, browsers and
// resolutions available for selenium tests.
func (c *Client) SeleniumConfigurations(ctx context.Context) ([]Configuration, error) {
	var resp []Configuration
	if err := c.do(ctx, http.MethodGet, "/selenium/browsers", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ScreenshotBrowserLists lists the account's saved screenshot browser lists.
func (c *Client) ScreenshotBrowserLists(ctx context.Context) ([]string, error) {
	var resp []struct {
		Name string `json:"browser_list_name"`
	}
	if err := c.do(ctx, http.MethodGet, "/screenshots/browserlists", nil, nil, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp))
	for _, l := range resp {
		names = append(names, l.Name)
	}
	return names, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body io.Reader, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Msg("Calling CBT API")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
