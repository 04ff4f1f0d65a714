package policy

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/openfroyo/stead/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but does not block a run.
	SeverityWarning Severity = "warning"

	// SeverityError rejects the definition and aborts the run before planning.
	SeverityError Severity = "error"
)

// Blocking reports whether the severity rejects a definition.
func (s Severity) Blocking() bool {
	return s == SeverityError
}

// Policy is a Rego module whose deny set is evaluated against every project.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the policy module.
	Rego string `json:"rego"`

	// Severity applies to violations that carry none of their own.
	Severity Severity `json:"severity"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Builtin reports whether the policy ships with stead.
func (p *Policy) Builtin() bool {
	return p.Source == ""
}

// Violation is a single deny result for one project.
type Violation struct {
	Policy   string   `json:"policy"`
	Project  string   `json:"project"`
	Path     string   `json:"path,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// String renders the violation for reports.
func (v Violation) String() string {
	return fmt.Sprintf("%s: %s [%s]", v.Project, v.Message, v.Policy)
}

// Input is the document policies see as input.
type Input struct {
	Project *engine.Project `json:"project"`
}

// Result is the outcome of evaluating every policy against a project set.
type Result struct {
	Violations        []Violation   `json:"violations,omitempty"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Allowed reports whether no blocking violation was found.
func (r *Result) Allowed() bool {
	return len(r.Errors()) == 0
}

// Errors returns the blocking violations.
func (r *Result) Errors() []Violation {
	return r.filter(func(s Severity) bool { return s.Blocking() })
}

// Warnings returns the non-blocking violations.
func (r *Result) Warnings() []Violation {
	return r.filter(func(s Severity) bool { return !s.Blocking() })
}

func (r *Result) filter(keep func(Severity) bool) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if keep(v.Severity) {
			out = append(out, v)
		}
	}
	return out
}

// Err returns the blocking violations as configuration errors, or nil.
func (r *Result) Err() error {
	var result *multierror.Error
	for _, v := range r.Errors() {
		result = multierror.Append(result, engine.NewConfigError(
			fmt.Sprintf("%s [%s]", v.Message, v.Policy), nil,
		).WithCode(engine.ErrCodePolicyViolation).WithProject(v.Project).WithPath(v.Path))
	}
	return result.ErrorOrNil()
}
