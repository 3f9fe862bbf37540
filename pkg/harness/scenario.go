package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib/vsftpdconf"
)

// Expectation names the observable outcome a scenario asserts.
type Expectation string

const (
	ExpectSyntaxValid       Expectation = "syntax-valid"
	ExpectSyntaxInvalid     Expectation = "syntax-invalid"
	ExpectStarts            Expectation = "starts"
	ExpectDoesNotStart      Expectation = "does-not-start"
	ExpectAnonymousRejected Expectation = "anonymous-rejected"
)

func (e Expectation) known() bool {
	switch e {
	case ExpectSyntaxValid, ExpectSyntaxInvalid, ExpectStarts, ExpectDoesNotStart, ExpectAnonymousRejected:
		return true
	}
	return false
}

// Scenario is one configuration and the behaviour expected from it.
// Directives are written verbatim, one per line.
type Scenario struct {
	Name       string      `json:"name"`
	Directives []string    `json:"directives,omitempty"`
	Expect     Expectation `json:"expect"`
}

func (s Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: scenario without a name", lib.ErrInvalidConfig)
	}
	if !s.Expect.known() {
		return fmt.Errorf("%w: scenario %q: unknown expectation %q", lib.ErrInvalidConfig, s.Name, s.Expect)
	}
	return nil
}

// Result is the outcome of one scenario. Err is set when the scenario could
// not be carried out at all, as opposed to the daemon misbehaving.
type Result struct {
	Name     string
	Expect   Expectation
	Passed   bool
	Detail   string
	Duration time.Duration
	Err      error
}

// DefaultScenarios returns the stock vsftpd behaviour suite.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{
			Name:       "syntax check rejects an unknown line",
			Directives: []string{"invalidline"},
			Expect:     ExpectSyntaxInvalid,
		},
		{
			Name:       "syntax check accepts listen_ipv6=NO",
			Directives: []string{"listen_ipv6=NO"},
			Expect:     ExpectSyntaxValid,
		},
		{
			Name:   "starts with an empty config",
			Expect: ExpectStarts,
		},
		{
			Name:       "does not start with an invalid config",
			Directives: []string{"asdfs"},
			Expect:     ExpectDoesNotStart,
		},
		{
			Name:       "refuses anonymous login when disabled",
			Directives: []string{"anonymous_enable=NO"},
			Expect:     ExpectAnonymousRejected,
		},
	}
}

type scenarioFile struct {
	Scenarios []Scenario `json:"scenarios"`
}

// LoadScenarios reads scenarios from a YAML file with a top level
// "scenarios" list.
func LoadScenarios(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file scenarioFile
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", lib.ErrInvalidConfig, path, err)
	}
	if len(file.Scenarios) == 0 {
		return nil, fmt.Errorf("%w: %s: no scenarios", lib.ErrInvalidConfig, path)
	}
	for _, s := range file.Scenarios {
		if err := s.validate(); err != nil {
			return nil, err
		}
	}
	return file.Scenarios, nil
}

// RunScenarios runs scenarios one after another. Every scenario gets a
// result, even when an earlier one hit an infrastructure fault.
func (h *Harness) RunScenarios(ctx context.Context, scenarios []Scenario) []Result {
	results := make([]Result, 0, len(scenarios))
	for _, s := range scenarios {
		results = append(results, h.RunScenario(ctx, s))
	}
	return results
}

// RunScenario writes a fresh config for s, runs the check its expectation
// calls for and removes the config again.
func (h *Harness) RunScenario(ctx context.Context, s Scenario) (result Result) {
	started := time.Now()
	result = Result{Name: s.Name, Expect: s.Expect}
	log := h.log.WithField(lib.FieldScenario, s.Name)

	defer func() {
		result.Duration = time.Since(started)
		h.metrics.RecordScenario(result.Passed)

		entry := log.WithField(lib.FieldDuration, result.Duration.Milliseconds())
		switch {
		case result.Err != nil:
			entry.WithError(result.Err).Error("scenario errored")
		case result.Passed:
			entry.Info("scenario passed")
		default:
			entry.WithField("detail", result.Detail).Warn("scenario failed")
		}
	}()

	if err := s.validate(); err != nil {
		result.Err = err
		return result
	}

	artifact, err := vsftpdconf.Write(h.cfg.WorkDir, s.Directives...)
	if err != nil {
		result.Err = err
		return result
	}
	defer func() {
		if err := artifact.Remove(); err != nil {
			log.WithError(err).Warn("remove config")
		}
	}()

	switch s.Expect {
	case ExpectSyntaxValid, ExpectSyntaxInvalid:
		h.runSyntax(ctx, s.Expect, artifact.Path, &result)
	case ExpectStarts:
		h.runStarts(ctx, artifact.Path, &result)
	case ExpectDoesNotStart:
		h.runDoesNotStart(ctx, artifact.Path, &result)
	case ExpectAnonymousRejected:
		h.runAnonymousRejected(ctx, artifact.Path, &result)
	}
	return result
}

func (h *Harness) runSyntax(ctx context.Context, expect Expectation, path string, result *Result) {
	check, err := h.CheckSyntax(ctx, path)
	if err != nil {
		result.Err = err
		return
	}

	if check.TimedOut {
		result.Detail = "daemon kept running until the check timed out"
	} else {
		result.Detail = fmt.Sprintf("daemon exited with status %d", check.ExitCode)
	}
	result.Passed = check.Valid() == (expect == ExpectSyntaxValid)
}

func (h *Harness) runStarts(ctx context.Context, path string, result *Result) {
	session, err := h.Start(ctx, path)
	if err != nil {
		result.Err = err
		return
	}
	defer h.closeInto(session, result)

	svc, err := session.Bind(ctx)
	switch {
	case errors.Is(err, lib.ErrPortNotFound):
		result.Detail = err.Error()
		return
	case err != nil:
		result.Err = err
		return
	}

	if !session.Alive() {
		result.Detail = fmt.Sprintf("daemon bound %s and then exited", svc.Addr())
		return
	}
	result.Passed = true
	result.Detail = fmt.Sprintf("daemon listening on %s", svc.Addr())
}

func (h *Harness) runDoesNotStart(ctx context.Context, path string, result *Result) {
	session, err := h.Start(ctx, path)
	if err != nil {
		result.Err = err
		return
	}
	defer h.closeInto(session, result)

	if h.AwaitExit(ctx, session, h.cfg.StartGrace) {
		result.Passed = true
		result.Detail = "daemon exited"
		return
	}
	result.Detail = fmt.Sprintf("daemon still running after %s", h.cfg.StartGrace)
}

func (h *Harness) runAnonymousRejected(ctx context.Context, path string, result *Result) {
	err := h.WithService(ctx, path, func(ctx context.Context, svc *lib.BoundService) error {
		return h.ProbeAnonymous(ctx, svc)
	})

	switch {
	case errors.Is(err, lib.ErrLoginRejected):
		result.Passed = true
		result.Detail = err.Error()
	case err == nil:
		result.Detail = "anonymous login accepted"
	case errors.Is(err, lib.ErrPortNotFound):
		result.Detail = err.Error()
	default:
		result.Err = err
	}
}

// closeInto terminates session and records a termination fault on result.
func (h *Harness) closeInto(session *Session, result *Result) {
	if err := session.Close(); err != nil && result.Err == nil {
		result.Err = err
	}
}
