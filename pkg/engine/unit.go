package engine

import (
	"fmt"
	"strings"
)

// UnitOptions carries the values a generated unit needs besides the project.
type UnitOptions struct {
	// Root is the working root passed back to the tool.
	Root string
	// Executable is the absolute path of the tool binary.
	Executable string
	// ConfigPath is passed back with --config when set.
	ConfigPath string
}

// RenderUnit generates the service unit for p. The unit re-invokes the tool,
// which runs the project's start commands in the dependency shell.
func RenderUnit(p *Project, opts UnitOptions) string {
	args := []string{opts.Executable, "--root", opts.Root}
	if opts.ConfigPath != "" {
		args = append(args, "--config", opts.ConfigPath)
	}
	args = append(args, "run", p.Name)

	quoted := make([]string, 0, len(args))
	for _, arg := range args {
		quoted = append(quoted, execArg(arg))
	}

	var b strings.Builder
	b.WriteString("[Unit]\n")
	fmt.Fprintf(&b, "Description=stead project %s\n", p.Name)
	b.WriteString("\n[Service]\n")
	fmt.Fprintf(&b, "WorkingDirectory=%s\n", unitPath(opts.Root))
	fmt.Fprintf(&b, "ExecStart=%s\n", strings.Join(quoted, " "))
	fmt.Fprintf(&b, "Restart=%s\n", p.Service.RestartOn.SystemdValue())
	b.WriteString("\n[Install]\n")
	b.WriteString("WantedBy=default.target\n")
	return b.String()
}

// unitPath escapes specifiers in a path setting. Path settings take the
// rest of the line verbatim, so spaces need no quoting.
func unitPath(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}

var execArgEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "%", "%%", "$", "$$")

// execArg quotes s as a single ExecStart word when it holds characters the
// unit parser would split or expand.
func execArg(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"'\\%$;") {
		return s
	}
	return `"` + execArgEscaper.Replace(s) + `"`
}
