// Package metrics records what the harness does to the daemons it supervises.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the harness metrics. A nil *Collector records nothing.
type Collector struct {
	launches       *prometheus.CounterVec
	resolutions    *prometheus.HistogramVec
	terminations   prometheus.Counter
	livenessChecks *prometheus.CounterVec
	probes         *prometheus.CounterVec
	syntaxChecks   *prometheus.CounterVec
	scenarios      *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "ftpd_harness"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
	}

	c.launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "launches_total",
			Help:      "Total number of daemon launches",
		},
		[]string{"result"},
	)

	c.resolutions = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "port_resolution_duration_seconds",
			Help:      "Time taken to discover the port a daemon bound to",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"result"},
	)

	c.terminations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminations_total",
			Help:      "Total number of daemon terminations",
		},
	)

	c.livenessChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_checks_total",
			Help:      "Total number of liveness probes by observed state",
		},
		[]string{"state"},
	)

	c.probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_probes_total",
			Help:      "Total number of FTP login probes by outcome",
		},
		[]string{"outcome"},
	)

	c.syntaxChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syntax_checks_total",
			Help:      "Total number of configuration syntax checks by verdict",
		},
		[]string{"verdict"},
	)

	c.scenarios = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenarios_total",
			Help:      "Total number of behaviour scenarios by result",
		},
		[]string{"result"},
	)

	c.registry.MustRegister(
		c.launches,
		c.resolutions,
		c.terminations,
		c.livenessChecks,
		c.probes,
		c.syntaxChecks,
		c.scenarios,
	)

	return c
}

// Registry returns the registry holding the harness metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) RecordLaunch(err error) {
	if c == nil {
		return
	}
	c.launches.WithLabelValues(result(err, "ok", "error")).Inc()
}

func (c *Collector) RecordResolution(duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.resolutions.WithLabelValues(result(err, "bound", "unbound")).Observe(duration.Seconds())
}

func (c *Collector) RecordTermination() {
	if c == nil {
		return
	}
	c.terminations.Inc()
}

func (c *Collector) RecordLiveness(alive bool) {
	if c == nil {
		return
	}
	state := "dead"
	if alive {
		state = "alive"
	}
	c.livenessChecks.WithLabelValues(state).Inc()
}

// RecordProbe takes "accepted", "rejected" or "connection_failure".
func (c *Collector) RecordProbe(outcome string) {
	if c == nil {
		return
	}
	c.probes.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordSyntaxCheck(valid bool) {
	if c == nil {
		return
	}
	verdict := "invalid"
	if valid {
		verdict = "valid"
	}
	c.syntaxChecks.WithLabelValues(verdict).Inc()
}

func (c *Collector) RecordScenario(passed bool) {
	if c == nil {
		return
	}
	label := "fail"
	if passed {
		label = "pass"
	}
	c.scenarios.WithLabelValues(label).Inc()
}

func result(err error, ok, failed string) string {
	if err != nil {
		return failed
	}
	return ok
}
