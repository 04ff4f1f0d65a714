// Package policy provides Open Policy Agent (OPA) admission checks for
// project definitions.
//
// Every declared project is evaluated, before any plan is built, against the
// built-in policies and the .rego files found under <root>/policies and the
// configured policy paths. A policy is a Rego module with a deny set; each
// member is a message string or an object with message and severity:
//
//	package stead.policies.local
//
//	import rego.v1
//
//	deny contains violation if {
//		input.project.source.kind == "path"
//		violation := {"message": "path sources are not allowed here", "severity": "error"}
//	}
//
// The input document is {"project": <project>} using the state file's JSON
// field names. Violations with severity error become configuration errors
// and abort the run; other severities are reported as warnings.
//
// # Built-in Policies
//
//   - project-naming: names match ^[a-z0-9][a-z0-9_-]*$
//   - source-location: git sources use https, ssh or git URLs; zip sources end in .zip
//   - non-empty-commands: no blank phase commands
//   - dependency-scopes: warns about scopes other than nix
package policy
