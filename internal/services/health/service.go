package health

import (
	"context"
	"time"
)

const checkTimeout = 2 * time.Second

// Check probes one dependency.
type Check struct {
	Name string
	Func func(ctx context.Context) error
}

// Service encapsulates health-related checks.
type Service struct {
	checks []Check
	labels map[string]string
}

// NewService constructs a health service. labels are reported verbatim.
func NewService(labels map[string]string, checks ...Check) *Service {
	return &Service{checks: checks, labels: labels}
}

// Report is the health payload.
type Report struct {
	OK     bool              `json:"ok"`
	Labels map[string]string `json:"stores,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Status runs every check with a short timeout.
func (s *Service) Status(ctx context.Context) Report {
	report := Report{OK: true, Labels: s.labels}
	if len(s.checks) == 0 {
		return report
	}
	report.Checks = make(map[string]string, len(s.checks))
	for _, check := range s.checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := check.Func(cctx)
		cancel()
		if err != nil {
			report.OK = false
			report.Checks[check.Name] = err.Error()
			continue
		}
		report.Checks[check.Name] = "ok"
	}
	return report
}
