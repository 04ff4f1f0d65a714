// Package handlers implements the host-side collaborators that engine actions
// run through.
//
// NixRunner runs project commands inside nix-shell with the project's declared
// packages and clones or unpacks sources. Systemctl drives the per-user service
// manager. LocalFS performs directory creation, tree copies and atomic file
// writes under the stead root.
package handlers
