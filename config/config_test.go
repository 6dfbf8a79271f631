package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cbtgo/cbtgo/model"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(`
screenshot_browser_list: Popular Browsers
screenshot_url: http://localhost:8080
use_local_tunnel: true
selenium_tests:
  - operating_system: Win10
    browser: Chrome53
    resolution: 1366x768
`), 0644))

	cfg, err := LoadFile(path, false)
	require.NoError(t, err)
	require.Equal(t, "Popular Browsers", cfg.ScreenshotBrowserList)
	require.Equal(t, "http://localhost:8080", cfg.ScreenshotURL)
	require.True(t, cfg.UseLocalTunnel)
	require.True(t, cfg.ScreenshotEnabled())
	require.Equal(t, []model.SeleniumTest{{OperatingSystem: "Win10", Browser: "Chrome53", Resolution: "1366x768"}}, cfg.SeleniumTests)
}

func TestLoadFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")

	cfg, err := LoadFile(path, true)
	require.NoError(t, err)
	require.Equal(t, Config{}, cfg)

	_, err = LoadFile(path, false)
	require.Error(t, err)
}

func TestLoadFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, nil, 0644))

	cfg, err := LoadFile(path, false)
	require.NoError(t, err)
	require.Equal(t, Config{}, cfg)
}

func TestLoadFileUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("screenshot_urls: nope\n"), 0644))

	_, err := LoadFile(path, false)
	require.ErrorContains(t, err, "failed to parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "valid",
			cfg:  Config{Username: "u", APIKey: "k", SeleniumTests: []model.SeleniumTest{{OperatingSystem: "a", Browser: "b", Resolution: "c"}}},
		},
		{
			name:    "missing credentials",
			cfg:     Config{},
			wantErr: "username is required",
		},
		{
			name:    "incomplete selenium test",
			cfg:     Config{Username: "u", APIKey: "k", SeleniumTests: []model.SeleniumTest{{Browser: "b"}}},
			wantErr: "selenium test 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestScreenshotEnabled(t *testing.T) {
	require.False(t, Config{ScreenshotURL: "http://x"}.ScreenshotEnabled())
	require.False(t, Config{ScreenshotBrowserList: "list"}.ScreenshotEnabled())
}

func TestSnapshot(t *testing.T) {
	cfg := Config{
		Username:       "u",
		APIKey:         "secret",
		ScreenshotURL:  "http://x",
		SeleniumTests:  []model.SeleniumTest{{OperatingSystem: "a", Browser: "b", Resolution: "c"}},
		UseLocalTunnel: true,
	}

	snap := cfg.Snapshot()
	require.Equal(t, "http://x", snap.ScreenshotURL)
	require.True(t, snap.UseLocalTunnel)

	snap.SeleniumTests[0].Browser = "changed"
	require.Equal(t, "b", cfg.SeleniumTests[0].Browser)
}

func TestParseSeleniumTest(t *testing.T) {
	tests := []struct {
		input   string
		want    model.SeleniumTest
		wantErr bool
	}{
		{input: "Win10|Chrome53|1366x768", want: model.SeleniumTest{OperatingSystem: "Win10", Browser: "Chrome53", Resolution: "1366x768"}},
		{input: " Mac | Safari | 1024x768 ", want: model.SeleniumTest{OperatingSystem: "Mac", Browser: "Safari", Resolution: "1024x768"}},
		{input: "Win10|Chrome53", wantErr: true},
		{input: "Win10||1366x768", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSeleniumTest(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestCredentialsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cbtgo", "credentials.yaml")

	creds, err := LoadCredentials(path)
	require.NoError(t, err)
	require.Equal(t, Credentials{}, creds)

	require.NoError(t, SaveCredentials(path, Credentials{Username: "me@example.com", APIKey: "k3y"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	creds, err = LoadCredentials(path)
	require.NoError(t, err)
	require.Equal(t, Credentials{Username: "me@example.com", APIKey: "k3y"}, creds)
}

func TestDefaultCredentialsPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	require.Equal(t, "/tmp/xdg/cbtgo/credentials.yaml", DefaultCredentialsPath())
}
