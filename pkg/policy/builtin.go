package policy

// BuiltinPolicies returns the policies every project definition is checked against.
func BuiltinPolicies() []Policy {
	return []Policy{
		projectNamingPolicy(),
		sourceLocationPolicy(),
		commandsPolicy(),
		dependencyScopesPolicy(),
	}
}

// projectNamingPolicy keeps project names usable in unit names and paths.
func projectNamingPolicy() Policy {
	return Policy{
		Name:        "project-naming",
		Description: "Project names must be lowercase letters, digits, hyphens and underscores",
		Severity:    SeverityError,
		Rego: `package stead.policies.naming

import rego.v1

deny contains violation if {
	name := input.project.name
	not regex.match("^[a-z0-9][a-z0-9_-]*$", name)
	violation := {
		"message": sprintf("project name '%s' must match ^[a-z0-9][a-z0-9_-]*$", [name]),
		"severity": "error",
	}
}
`,
	}
}

// sourceLocationPolicy checks git and zip source locations.
func sourceLocationPolicy() Policy {
	return Policy{
		Name:        "source-location",
		Description: "Git sources use https, ssh or git URLs and zip sources name a .zip archive",
		Severity:    SeverityError,
		Rego: `package stead.policies.source

import rego.v1

git_prefixes := ["https://", "ssh://", "git://", "git@"]

valid_git(url) if {
	some prefix in git_prefixes
	startswith(url, prefix)
}

deny contains violation if {
	input.project.source.kind == "git"
	url := input.project.source.location
	not valid_git(url)
	violation := {
		"message": sprintf("git source '%s' must use an https, ssh or git URL", [url]),
		"severity": "error",
	}
}

deny contains violation if {
	input.project.source.kind == "zip"
	archive := input.project.source.location
	not endswith(lower(archive), ".zip")
	violation := {
		"message": sprintf("zip source '%s' must name a .zip archive", [archive]),
		"severity": "error",
	}
}
`,
	}
}

// commandsPolicy rejects blank phase commands.
func commandsPolicy() Policy {
	return Policy{
		Name:        "non-empty-commands",
		Description: "Phase commands must not be blank",
		Severity:    SeverityError,
		Rego: `package stead.policies.commands

import rego.v1

deny contains violation if {
	some phase, cmds in input.project.phases
	some i, cmd in cmds
	trim_space(cmd) == ""
	violation := {
		"message": sprintf("%s command %d is empty", [phase, i + 1]),
		"severity": "error",
	}
}
`,
	}
}

// dependencyScopesPolicy warns about scopes the dependency shell ignores.
func dependencyScopesPolicy() Policy {
	return Policy{
		Name:        "dependency-scopes",
		Description: "Only the nix dependency scope is provisioned",
		Severity:    SeverityWarning,
		Rego: `package stead.policies.deps

import rego.v1

deny contains violation if {
	some scope, _ in input.project.deps
	scope != "nix"
	violation := {
		"message": sprintf("dependency scope '%s' is ignored; only 'nix' is provisioned", [scope]),
		"severity": "warning",
	}
}
`,
	}
}
