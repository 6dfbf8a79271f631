package model

import (
	"sort"
	"time"
)

// TestKind identifies which remote product an execution record belongs to
type TestKind string

const (
	TestKindSelenium   TestKind = "selenium"
	TestKindScreenshot TestKind = "screenshot"
)

// Environment variable names injected into every dispatched test.
const (
	EnvUsername        = "CBT_USERNAME"
	EnvAPIKey          = "CBT_APIKEY"
	EnvBuildName       = "CBT_BUILD_NAME"
	EnvBuildNumber     = "CBT_BUILD_NUMBER"
	EnvOperatingSystem = "CBT_OPERATING_SYSTEM"
	EnvBrowser         = "CBT_BROWSER"
	EnvResolution      = "CBT_RESOLUTION"
)

// EnvironmentContext maps the CBT_* variables to their values for one test
type EnvironmentContext map[string]string

// Keys returns the variable names in a stable order.
func (e EnvironmentContext) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Redacted returns a copy with the API key masked, suitable for the build log.
func (e EnvironmentContext) Redacted() EnvironmentContext {
	out := make(EnvironmentContext, len(e))
	for k, v := range e {
		if k == EnvAPIKey && v != "" {
			v = "********"
		}
		out[k] = v
	}
	return out
}

// TestDescriptor describes one discovered local test artifact for one
// configured target.
type TestDescriptor struct {
	FileName        string
	Extension       string
	OperatingSystem string
	Browser         string
	Resolution      string
	// Interpreter is the command prefix used to run the file, empty when the
	// file is executed directly.
	Interpreter []string
}

// ExecutionRecord records one dispatched selenium test or one screenshot call.
type ExecutionRecord struct {
	// Kind of the record
	Kind TestKind `json:"kind"`
	// Environment injected into the test process, recorded verbatim
	Environment EnvironmentContext `json:"environment,omitempty"`
	// Workspace file that was executed (selenium only)
	File string `json:"file,omitempty"`
	// Command line that was executed (selenium only)
	Command []string `json:"command,omitempty"`
	// Exit code of the test process (selenium only)
	ExitCode int `json:"exit_code"`
	// Output file containing the test's stdout/stderr (relative to build dir)
	OutputFile string `json:"output_file,omitempty"`
	// Response fields of the screenshot call (screenshot only)
	Info map[string]string `json:"info,omitempty"`
	// When the execution started
	StartedAt time.Time `json:"started_at"`
	// How long the execution took
	Duration time.Duration `json:"duration"`
	// Remote test identifier, filled in during teardown
	RemoteTestID string `json:"remote_test_id,omitempty"`
	// Public result URL, filled in during teardown
	PublicURL string `json:"public_url,omitempty"`
}

// Reconciled reports whether the remote identifiers have been resolved.
func (r *ExecutionRecord) Reconciled() bool {
	return r.RemoteTestID != ""
}

// Env returns a single variable from the recorded environment.
func (r *ExecutionRecord) Env(key string) string {
	if r.Environment == nil {
		return ""
	}
	return r.Environment[key]
}
