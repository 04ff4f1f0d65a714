// Package config loads the stead tool configuration and the declarative
// project definitions under the working root.
//
// # Tool configuration
//
// <root>/stead.yaml is optional. Missing keys keep their defaults:
//
//	nix_shell_path: /nix/var/nix/profiles/default/bin/nix-shell
//	unit_dir: ~/.config/systemd/user
//	safe_mode: false
//	retry_failed: true
//	history:
//	  enabled: true
//	  path: history.db
//	policy:
//	  enabled: true
//	  paths: []
//	telemetry:
//	  logging: {level: info, format: console}
//	  metrics: {enabled: true, textfile: "", namespace: stead}
//	  tracing: {exporter: none, endpoint: "", insecure: true, sampling_rate: 1}
//
// # Project definitions
//
// Every file under <root>/projects with a .toml, .yaml, .yml or .cue
// extension declares one project:
//
//	name = "web"
//	source = { git = "https://example.com/web.git" }
//	deps = { nix = ["nodejs"] }
//	env = { PORT = "8080" }
//
//	[phase]
//	setup = "npm ci"
//	build = ["npm run build"]
//	start = "npm start"
//
//	[service]
//	autostart = true
//	restart-on = "on-failure"
//
// Source is "none" or a table with exactly one of path, git or zip. Relative
// path and zip locations resolve against the definition's directory. Each
// phase takes a single command or a list. CUE files are checked against the
// #Project schema before decoding, and may declare the project at the top
// level or under a single project field.
//
// Load reports every malformed file and duplicate name at once, each as an
// engine configuration error carrying the file path.
package config
