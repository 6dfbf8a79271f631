package metrics

// Package metrics collects per-build counters on a private registry and writes
// them in the Prometheus text format for a node exporter textfile collector.

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "cbt"

// Metrics holds the build's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	testsDispatched *prometheus.CounterVec
	testExitCodes   *prometheus.CounterVec
	launchErrors    prometheus.Counter
	tunnelPolls     *prometheus.CounterVec
	remoteLookups   *prometheus.CounterVec
	screenshotPolls prometheus.Counter
	buildDuration   prometheus.Gauge
	buildOutcome    *prometheus.GaugeVec
}

// New creates a Metrics with every collector registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		testsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tests_dispatched_total",
			Help:      "Count of local selenium test executions",
		}, []string{"extension"}),
		testExitCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "test_results_total",
			Help:      "Count of local selenium test executions by result",
		}, []string{"result"}),
		launchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "test_launch_errors_total",
			Help:      "Count of test artifacts that could not be launched",
		}),
		tunnelPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tunnel_polls_total",
			Help:      "Count of tunnel status polls",
		}, []string{"phase"}),
		remoteLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "remote_lookups_total",
			Help:      "Count of remote test info lookups",
		}, []string{"kind", "result"}),
		screenshotPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "screenshot_polls_total",
			Help:      "Count of screenshot completion polls",
		}),
		buildDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "build_duration_seconds",
			Help:      "Duration of the orchestrated build",
		}),
		buildOutcome: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "build_outcome",
			Help:      "Outcome of the orchestrated build (1 for the reached outcome)",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.testsDispatched,
		m.testExitCodes,
		m.launchErrors,
		m.tunnelPolls,
		m.remoteLookups,
		m.screenshotPolls,
		m.buildDuration,
		m.buildOutcome,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) TestDispatched(extension string, exitCode int) {
	if m == nil {
		return
	}
	m.testsDispatched.WithLabelValues(extension).Inc()
	result := "pass"
	if exitCode != 0 {
		result = "fail"
	}
	m.testExitCodes.WithLabelValues(result).Inc()
}

func (m *Metrics) LaunchError() {
	if m == nil {
		return
	}
	m.launchErrors.Inc()
}

func (m *Metrics) TunnelPoll(phase string) {
	if m == nil {
		return
	}
	m.tunnelPolls.WithLabelValues(phase).Inc()
}

func (m *Metrics) RemoteLookup(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.remoteLookups.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ScreenshotPoll() {
	if m == nil {
		return
	}
	m.screenshotPolls.Inc()
}

// BuildFinished records the duration and outcome of the build.
func (m *Metrics) BuildFinished(seconds float64, outcome string) {
	if m == nil {
		return
	}
	m.buildDuration.Set(seconds)
	m.buildOutcome.WithLabelValues(outcome).Set(1)
}

// WriteTextfile writes all collected metrics to path.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
