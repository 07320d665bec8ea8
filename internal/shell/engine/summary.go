package engine

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// Run Summary
// =============================================================================

// Outcome classifies how one service ended a startup run.
type Outcome string

const (
	// OutcomeStarted means the service reached Running/Healthy.
	OutcomeStarted Outcome = "started"
	// OutcomeFailed means the service was started but errored.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means the service never started because a dependency
	// failed.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeAborted means startup was canceled before the service reached a
	// terminal state.
	OutcomeAborted Outcome = "aborted"
)

// ServiceResult is the terminal report for one service.
type ServiceResult struct {
	Service string
	Outcome Outcome
	State   State
	Err     error
}

// Summary is the user-facing report of one startup run, distinguishing
// services that started, failed to start, and were skipped because a
// dependency failed.
type Summary struct {
	Results []ServiceResult
}

func newSummary(instances map[string]*ServiceInstance, aborted bool) *Summary {
	s := &Summary{}
	for name, inst := range instances {
		result := ServiceResult{
			Service: name,
			State:   inst.State(),
			Err:     inst.Err(),
		}
		switch {
		case inst.State() == StateRunning || inst.State() == StateHealthy:
			result.Outcome = OutcomeStarted
		case inst.Skipped():
			result.Outcome = OutcomeSkipped
		case inst.State() == StateErrored:
			result.Outcome = OutcomeFailed
		case aborted:
			result.Outcome = OutcomeAborted
		default:
			result.Outcome = OutcomeFailed
		}
		s.Results = append(s.Results, result)
	}
	sort.Slice(s.Results, func(i, j int) bool {
		return s.Results[i].Service < s.Results[j].Service
	})
	return s
}

// Ok reports whether every service started.
func (s *Summary) Ok() bool {
	for _, r := range s.Results {
		if r.Outcome != OutcomeStarted {
			return false
		}
	}
	return true
}

// Started returns the names of services that came up.
func (s *Summary) Started() []string { return s.byOutcome(OutcomeStarted) }

// Failed returns the names of services that errored after being started.
func (s *Summary) Failed() []string { return s.byOutcome(OutcomeFailed) }

// Skipped returns the names of services skipped due to dependency failure.
func (s *Summary) Skipped() []string { return s.byOutcome(OutcomeSkipped) }

func (s *Summary) byOutcome(o Outcome) []string {
	var names []string
	for _, r := range s.Results {
		if r.Outcome == o {
			names = append(names, r.Service)
		}
	}
	return names
}

// Result returns the entry for one service, or nil.
func (s *Summary) Result(service string) *ServiceResult {
	for i := range s.Results {
		if s.Results[i].Service == service {
			return &s.Results[i]
		}
	}
	return nil
}

// String renders a one-line-per-service report.
func (s *Summary) String() string {
	var b strings.Builder
	for _, r := range s.Results {
		switch r.Outcome {
		case OutcomeStarted:
			fmt.Fprintf(&b, "%s: %s\n", r.Service, r.State)
		case OutcomeSkipped:
			fmt.Fprintf(&b, "%s: errored (skipped: %v)\n", r.Service, r.Err)
		default:
			if r.Err != nil {
				fmt.Fprintf(&b, "%s: %s (%v)\n", r.Service, r.State, r.Err)
			} else {
				fmt.Fprintf(&b, "%s: %s\n", r.Service, r.State)
			}
		}
	}
	return b.String()
}
