// Package report renders plans and apply progress for the terminal.
//
// Colors come from fatih/color and are disabled automatically when the
// output is not a terminal or NO_COLOR is set.
package report
