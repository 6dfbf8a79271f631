package config

// Package config loads the per-build orchestration configuration and the
// persisted account credentials.

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cbtgo/cbtgo/model"
	"gopkg.in/yaml.v3"
)

const DefaultFileName = "cbtgo.yaml"

// Config is the immutable configuration of one orchestration.
type Config struct {
	Username              string               `yaml:"-"`
	APIKey                string               `yaml:"-"`
	ScreenshotBrowserList string               `yaml:"screenshot_browser_list"`
	ScreenshotURL         string               `yaml:"screenshot_url"`
	SeleniumTests         []model.SeleniumTest `yaml:"selenium_tests"`
	UseLocalTunnel        bool                 `yaml:"use_local_tunnel"`
}

// ScreenshotEnabled reports whether a screenshot test is configured.
func (c Config) ScreenshotEnabled() bool {
	return c.ScreenshotBrowserList != "" && c.ScreenshotURL != ""
}

// Validate checks the configuration for missing values.
func (c Config) Validate() error {
	var errs []error
	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("api key is required"))
	}
	for i, t := range c.SeleniumTests {
		if t.OperatingSystem == "" || t.Browser == "" || t.Resolution == "" {
			errs = append(errs, fmt.Errorf("selenium test %d: operating_system, browser and resolution are required", i+1))
		}
	}
	return errors.Join(errs...)
}

// Snapshot returns the configuration without credentials.
func (c Config) Snapshot() *model.ConfigSnapshot {
	tests := make([]model.SeleniumTest, len(c.SeleniumTests))
	copy(tests, c.SeleniumTests)
	return &model.ConfigSnapshot{
		ScreenshotBrowserList: c.ScreenshotBrowserList,
		ScreenshotURL:         c.ScreenshotURL,
		SeleniumTests:         tests,
		UseLocalTunnel:        c.UseLocalTunnel,
	}
}

// LoadFile reads a YAML configuration file. A missing file yields an empty
// configuration when optional is set.
func LoadFile(path string, optional bool) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseSeleniumTest parses an "os|browser|resolution" triple.
func ParseSeleniumTest(s string) (model.SeleniumTest, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 3 {
		return model.SeleniumTest{}, fmt.Errorf("invalid selenium test %q: expected os|browser|resolution", s)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return model.SeleniumTest{}, fmt.Errorf("invalid selenium test %q: empty field", s)
		}
	}
	return model.SeleniumTest{
		OperatingSystem: parts[0],
		Browser:         parts[1],
		Resolution:      parts[2],
	}, nil
}

// Credentials are the persisted account settings.
type Credentials struct {
	Username string `yaml:"username"`
	APIKey   string `yaml:"apikey"`
}

// DefaultCredentialsPath returns ~/.config/cbtgo/credentials.yaml, honouring
// XDG_CONFIG_HOME.
func DefaultCredentialsPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		if home := os.Getenv("HOME"); home != "" {
			configHome = filepath.Join(home, ".config")
		}
	}
	if configHome == "" {
		configHome = os.TempDir()
	}
	return filepath.Join(configHome, "cbtgo", "credentials.yaml")
}

// LoadCredentials reads persisted credentials. A missing file is not an error.
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read credentials: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("failed to parse credentials %s: %w", path, err)
	}
	return creds, nil
}

// SaveCredentials writes credentials readable only by the current user.
func SaveCredentials(path string, creds Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(&creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}
