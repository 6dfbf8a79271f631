package cbt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(zerolog.Nop(), "user@example.com", "secret", WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()))
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestClient_RunScreenshotTest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/screenshots", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "user@example.com", user)
		require.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "Popular Browsers", r.PostForm.Get("browser_list_name"))
		require.Equal(t, "https://example.com", r.PostForm.Get("url"))

		writeJSON(t, w, map[string]any{
			"screenshot_test_id": 4242,
			"url":                "https://example.com",
			"versions": []map[string]any{{
				"version_id":              7,
				"active":                  true,
				"show_results_web_url":    "https://app.crossbrowsertesting.com/screenshots/4242",
				"show_results_public_url": "https://app.crossbrowsertesting.com/public/abc/screenshots/4242",
			}},
		})
	})

	res, err := c.RunScreenshotTest(context.Background(), "Popular Browsers", "https://example.com")
	require.NoError(t, err)
	require.False(t, res.Failed())
	require.Equal(t, "4242", res.TestID)
	require.Equal(t, "7", res.Info["version_id"])
	require.Equal(t, "https://app.crossbrowsertesting.com/public/abc/screenshots/4242", res.Info["show_results_public_url"])
}

func TestClient_RunScreenshotTestServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	})

	res, err := c.RunScreenshotTest(context.Background(), "Popular Browsers", "https://example.com")
	require.NoError(t, err)
	require.True(t, res.Failed())
	require.Empty(t, res.TestID)
	require.Contains(t, res.Info["error"], "500")
}

func TestClient_QueryScreenshotTest(t *testing.T) {
	active := true
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/screenshots/4242", r.URL.Path)
		writeJSON(t, w, map[string]any{
			"screenshot_test_id": 4242,
			"versions":           []map[string]any{{"version_id": 1, "active": active}},
		})
	})

	running, err := c.QueryScreenshotTest(context.Background(), "4242")
	require.NoError(t, err)
	require.True(t, running)

	active = false
	running, err = c.QueryScreenshotTest(context.Background(), "4242")
	require.NoError(t, err)
	require.False(t, running)
}

func TestClient_GetSeleniumTestInfo(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/selenium", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "my-job", q.Get("build"))
		require.Equal(t, "17", q.Get("version"))
		require.Equal(t, "Chrome53", q.Get("browser"))
		require.Equal(t, "Win10", q.Get("os"))
		require.Equal(t, "1366x768", q.Get("resolution"))

		writeJSON(t, w, map[string]any{
			"selenium": []map[string]any{{
				"selenium_test_id":       "991",
				"show_result_public_url": "https://app.crossbrowsertesting.com/public/x/selenium/991",
			}},
		})
	})

	info, err := c.GetSeleniumTestInfo(context.Background(), SeleniumQuery{
		BuildName:       "my-job",
		BuildNumber:     "17",
		Browser:         "Chrome53",
		OperatingSystem: "Win10",
		Resolution:      "1366x768",
	})
	require.NoError(t, err)
	require.Equal(t, "991", info.TestID)
	require.Equal(t, "https://app.crossbrowsertesting.com/public/x/selenium/991", info.PublicURL)
}

func TestClient_GetSeleniumTestInfoNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"selenium": []any{}})
	})

	_, err := c.GetSeleniumTestInfo(context.Background(), SeleniumQuery{BuildName: "my-job"})
	require.ErrorIs(t, err, ErrNoSeleniumTest)
}

func TestClient_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})

	_, err := c.ActiveTunnels(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Equal(t, "/tunnels", apiErr.Path)
}

func TestClient_Options(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/selenium/browsers":
			writeJSON(t, w, []map[string]any{{
				"name":        "Windows 10",
				"api_name":    "Win10",
				"browsers":    []map[string]any{{"name": "Chrome 53", "api_name": "Chrome53"}},
				"resolutions": []map[string]any{{"name": "1366x768"}},
			}})
		case "/screenshots/browserlists":
			writeJSON(t, w, []map[string]any{{"browser_list_name": "Popular Browsers"}, {"browser_list_name": "Mobile"}})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	configs, err := c.SeleniumConfigurations(context.Background())
	require.NoError(t, err)
	require.Len(t, configs, 1)
	require.Equal(t, "Win10", configs[0].APIName)
	require.Equal(t, "Chrome53", configs[0].Browsers[0].APIName)
	require.Equal(t, "1366x768", configs[0].Resolutions[0].Name)

	lists, err := c.ScreenshotBrowserLists(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"Popular Browsers", "Mobile"}, lists)
}
