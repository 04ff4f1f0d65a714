package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/openfroyo/stead/pkg/engine"
	"github.com/openfroyo/stead/pkg/policy"
)

const (
	iconDone      = "✓"
	iconFailed    = "✗"
	iconCancelled = "-"
	iconPending   = "~"
	iconWarning   = "!"
)

// Printer renders plans, action progress and run summaries for a terminal.
// It implements engine.ActionObserver so apply progress is printed live.
type Printer struct {
	out     io.Writer
	verbose bool

	cyan   func(a ...interface{}) string
	green  func(a ...interface{}) string
	red    func(a ...interface{}) string
	yellow func(a ...interface{}) string
	faint  func(a ...interface{}) string
	bold   func(a ...interface{}) string
}

// NewPrinter creates a printer writing to out. Verbose printers include the
// captured output of failed commands.
func NewPrinter(out io.Writer, verbose bool) *Printer {
	return &Printer{
		out:     out,
		verbose: verbose,
		cyan:    color.New(color.FgCyan).SprintFunc(),
		green:   color.New(color.FgGreen).SprintFunc(),
		red:     color.New(color.FgRed).SprintFunc(),
		yellow:  color.New(color.FgYellow).SprintFunc(),
		faint:   color.New(color.Faint).SprintFunc(),
		bold:    color.New(color.Bold).SprintFunc(),
	}
}

// Out returns the writer the printer renders to.
func (p *Printer) Out() io.Writer {
	return p.out
}

func (p *Printer) printf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format, args...)
}

// Plan prints the configuration changes, retries and planned actions. With
// showDiff, changed projects are followed by their configuration diff.
func (p *Printer) Plan(plan *engine.Plan, showDiff bool) {
	if plan.IsEmpty() && len(plan.Changes) == 0 && len(plan.Retries) == 0 {
		p.printf("%s No changes. %d project(s) up to date.\n", p.green(iconDone), plan.Summary.Unchanged)
		return
	}

	p.printf("%s %s\n", p.bold("Plan"), p.faint(plan.ID))

	names := make([]string, 0, len(plan.Changes))
	for name := range plan.Changes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		change := plan.Changes[name]
		p.printf("  %s %s\n", p.changeMarker(change), name)
		if showDiff && change == engine.ChangeChanged && plan.Previous != nil {
			p.printDiff(plan.Current[name].Diff(plan.Previous.Projects[name]))
		}
	}

	retried := make([]string, 0, len(plan.Retries))
	for name := range plan.Retries {
		retried = append(retried, name)
	}
	sort.Strings(retried)
	for _, name := range retried {
		phases := make([]string, 0, len(plan.Retries[name]))
		for _, ph := range plan.Retries[name] {
			phases = append(phases, ph.String())
		}
		p.printf("  %s %s %s\n", p.yellow("↻"), name, p.faint("retry "+strings.Join(phases, ", ")))
	}

	if len(plan.Actions) > 0 {
		p.printf("\n%s\n", p.bold("Actions"))
		for _, a := range plan.Actions {
			p.printf("  %-8s %-16s %s\n", a.Phase, a.Project, a.Kind.Describe())
		}
	}

	s := plan.Summary
	p.printf("\n%d to add, %d to change, %d to remove, %d to retry, %d action(s)\n",
		s.Added, s.Changed, s.Removed, s.Retried, s.Actions)
}

func (p *Printer) changeMarker(change engine.ConfigChange) string {
	switch change {
	case engine.ChangeAdded:
		return p.green("+")
	case engine.ChangeRemoved:
		return p.red("-")
	default:
		return p.yellow("~")
	}
}

func (p *Printer) printDiff(diff string) {
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "+"):
			line = p.green(line)
		case strings.HasPrefix(trimmed, "-"):
			line = p.red(line)
		default:
			line = p.faint(line)
		}
		p.printf("      %s\n", line)
	}
}

// ActionFinished prints one line per action as the executor reports it.
func (p *Printer) ActionFinished(_ context.Context, _ string, a *engine.Action, elapsed time.Duration) {
	desc := fmt.Sprintf("%s %s: %s", a.Phase, a.Project, a.Kind.Describe())

	switch a.Status.State {
	case engine.ActionDone:
		p.printf("%s %s %s\n", p.green(iconDone), desc, p.faint(elapsed.Round(time.Millisecond)))
	case engine.ActionFailed:
		p.printf("%s %s\n", p.red(iconFailed), desc)
		p.printReason(a.Status.Reason)
	case engine.ActionCancelled:
		p.printf("%s %s %s\n", p.faint(iconCancelled), p.faint(desc), p.faint("(cancelled)"))
	default:
		p.printf("%s would run %s\n", p.cyan(iconPending), desc)
	}
}

// printReason prints the first line of a failure reason, or all of it when verbose.
func (p *Printer) printReason(reason string) {
	if reason == "" {
		return
	}
	lines := strings.Split(strings.TrimRight(reason, "\n"), "\n")
	if !p.verbose && len(lines) > 1 {
		lines = append(lines[:1], p.faint("(run with --verbose for full output)"))
	}
	for _, line := range lines {
		p.printf("    %s\n", line)
	}
}

// Summary prints the outcome of an apply.
func (p *Printer) Summary(result *engine.ApplyResult) {
	s := result.Summary

	if result.DryRun {
		p.printf("\n%s Dry run: %d action(s) would run\n", p.cyan(iconPending), s.Total)
		return
	}

	var status string
	switch result.Status {
	case engine.RunStatusSucceeded:
		status = p.green(string(result.Status))
	case engine.RunStatusPartial:
		status = p.yellow(string(result.Status))
	default:
		status = p.red(string(result.Status))
	}

	p.printf("\n%s %s in %s: %d done, %d failed, %d cancelled\n",
		p.bold("Apply"), status,
		result.CompletedAt.Sub(result.StartedAt).Round(time.Millisecond),
		s.Done, s.Failed, s.Cancelled)

	if len(result.FailedProjects) > 0 {
		p.printf("%s Failed projects: %s\n", p.red(iconFailed), strings.Join(result.FailedProjects, ", "))
	}
	if result.Err != nil {
		p.printf("%s %v\n", p.red(iconFailed), result.Err)
	}
}

// Violations prints policy violations; blocking ones in red, others as warnings.
func (p *Printer) Violations(violations []policy.Violation) {
	for _, v := range violations {
		if v.Severity.Blocking() {
			p.printf("%s %s\n", p.red(iconFailed), v)
		} else {
			p.printf("%s %s\n", p.yellow(iconWarning), v)
		}
		if v.Path != "" {
			p.printf("    %s\n", p.faint(v.Path))
		}
	}
}
