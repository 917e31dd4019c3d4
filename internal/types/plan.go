package types

import (
	"fmt"
	"strings"
)

type PlanStep struct {
	Package PackageID
	From    *string
	To      string
	Scheme  VersionScheme
	Range   string
	// After lists earlier steps of the same plan that must complete first.
	After []PackageID
}

func (s PlanStep) Target() PackageVersion {
	return PackageVersion{Package: s.Package, Version: s.To, Scheme: s.Scheme}
}

func (s PlanStep) String() string {
	from := "none"
	if s.From != nil {
		from = *s.From
	}
	return fmt.Sprintf("%s: %s -> %s", s.Package, from, s.To)
}

type InstallPlan struct {
	Primary PackageID
	Target  string
	Steps   []PlanStep
}

func (p InstallPlan) IsEmpty() bool {
	return len(p.Steps) == 0
}

type StepOutcome string

const (
	StepCompleted StepOutcome = "completed"
	StepFailed    StepOutcome = "failed"
	StepSkipped   StepOutcome = "skipped"
)

type StepResult struct {
	Step    PlanStep
	Outcome StepOutcome
	Err     error
}

// InstallReport lists exactly which plan steps succeeded, failed, or never
// ran. It is returned even when Install fails.
type InstallReport struct {
	Results []StepResult
}

func (r InstallReport) ByOutcome(outcome StepOutcome) []StepResult {
	var out []StepResult
	for _, result := range r.Results {
		if result.Outcome == outcome {
			out = append(out, result)
		}
	}
	return out
}

func (r InstallReport) Summary() string {
	var lines []string
	for _, result := range r.Results {
		line := fmt.Sprintf("%s %s", result.Outcome, result.Step)
		if result.Err != nil {
			line += ": " + result.Err.Error()
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
