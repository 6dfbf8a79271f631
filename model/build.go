package model

import "time"

// Outcome represents how an orchestrated build ended
type Outcome string

const (
	OutcomeRunning Outcome = "running"
	OutcomeSuccess Outcome = "success"
	OutcomeAborted Outcome = "aborted"
)

// Build represents a single orchestrated CI build.
// It is written to build.json inside the build's history directory.
type Build struct {
	// Unique ID for this build record (uuid)
	ID string `json:"id"`
	// Job name as reported by the CI system (JOB_NAME)
	JobName string `json:"job_name"`
	// Build number as reported by the CI system (BUILD_NUMBER)
	BuildNumber string `json:"build_number"`
	// Timestamp when the orchestration started
	Timestamp time.Time `json:"timestamp"`
	// Command-line arguments (including command name)
	Args []string `json:"args"`
	// Workspace directory the tests were dispatched from
	Workspace string `json:"workspace"`
	// Outcome of the orchestration
	Outcome Outcome `json:"outcome"`
	// Exit code of the user build command, if one was run
	ExitCode int `json:"exit_code"`
	// Duration of the whole orchestration
	Duration time.Duration `json:"duration"`
	// Git information of the workspace
	Git *Git `json:"git,omitempty"`
	// Tunnel usage during this build
	Tunnel *TunnelUsage `json:"tunnel,omitempty"`
	// Configuration used (credentials are never stored)
	Config *ConfigSnapshot `json:"config,omitempty"`
	// Execution records attached to this build, in dispatch order
	Actions []*ExecutionRecord `json:"actions,omitempty"`
}

// DisplayName returns the name the CI system would show for this build.
func (b *Build) DisplayName() string {
	if b.BuildNumber == "" {
		return b.JobName
	}
	return b.JobName + " #" + b.BuildNumber
}

// Git contains git repository information
type Git struct {
	// Git commit hash at time of execution
	Commit string `json:"commit,omitempty"`
	// Git branch at time of execution
	Branch string `json:"branch,omitempty"`
}

// TunnelUsage records whether a local tunnel was requested and who owned it
type TunnelUsage struct {
	// Whether the build asked for a local tunnel
	Requested bool `json:"requested"`
	// Whether this build started the tunnel (and is therefore responsible for stopping it)
	Owned bool `json:"owned"`
	// Whether the tunnel was confirmed disconnected at teardown
	Disconnected bool `json:"disconnected,omitempty"`
}

// ConfigSnapshot is the redacted configuration a build ran with
type ConfigSnapshot struct {
	ScreenshotBrowserList string         `json:"screenshot_browser_list,omitempty"`
	ScreenshotURL         string         `json:"screenshot_url,omitempty"`
	SeleniumTests         []SeleniumTest `json:"selenium_tests,omitempty"`
	UseLocalTunnel        bool           `json:"use_local_tunnel"`
}

// SeleniumTest is one configured target for local selenium scripts
type SeleniumTest struct {
	OperatingSystem string `json:"operating_system" yaml:"operating_system"`
	Browser         string `json:"browser" yaml:"browser"`
	Resolution      string `json:"resolution" yaml:"resolution"`
}
