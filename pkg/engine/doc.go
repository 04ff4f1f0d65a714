// Package engine provides the core types and the reconciliation loop of stead.
//
// # Overview
//
// stead keeps a set of locally hosted projects in line with their declarations.
// Every run goes through four steps:
//
//  1. Compare - classify declared projects against the last snapshot (Compare)
//  2. Plan - map every change to lifecycle phases and expand them into actions (Planner)
//  3. Execute - run actions in global phase order (Executor)
//  4. Persist - replace the snapshot with what was attempted (Reconciler)
//
// # Core Domain Types
//
//   - Project: a declared unit of work with source, dependencies, commands and service settings
//   - Snapshot: the persisted project set of the last apply
//   - ConfigChange: added, changed or removed
//   - Phase: teardown < setup < update < build < start < stop
//   - Action: one side effect of a project in a phase, with an ActionKind and an ActionStatus
//
// ActionKind is a closed set of kinds in three families. Command kinds run an
// external program, filesystem kinds touch local files and systemctl kinds talk
// to the user service manager.
//
// # Phase Table
//
//	added   -> setup, build, start
//	changed -> teardown, setup, build, start
//	removed -> stop, teardown
//
// Unchanged projects whose last apply failed are resumed from the failed phase
// when retries are enabled.
//
// # Execution
//
// The executor groups actions into phase buckets across all projects, so every
// setup action of every project runs before any build action. The service
// manager is reloaded once before the start bucket. When an action fails, the
// remaining actions of its project are cancelled while other projects continue.
//
// Safe mode turns systemctl actions into no-ops that succeed. Dry run executes
// nothing and leaves every action in state todo.
//
// # Collaborators
//
// The engine performs no I/O itself. It talks to the outside through
// CommandRunner, FileSystem, ServiceManager and StateStore, and reports progress
// through ActionObserver and RunObserver.
//
// # Error Classification
//
//   - Config: malformed or rejected definitions, fatal before planning
//   - Execution: a single action failed, recorded on the action
//   - State: the snapshot could not be saved
//   - Service: daemon-reload failed, fatal to the start bucket
//
//	if engine.IsConfig(err) {
//	    // fix the definition
//	}
package engine
