// Package logs tails the gas log file for the CLI.
//
// It reads the last N lines with bounded memory, follows appended lines from
// an offset, and filters by structured fields so an operator can watch one
// job or one stage. Both the console and JSON log formats are understood.
package logs
