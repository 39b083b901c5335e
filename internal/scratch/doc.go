// Package scratch manages the per-job working directories the annotator
// downloads inputs into. Each job gets <scratch>/<user>/<job>/ guarded by a
// file lock so two workers on the same host never run the same job at once.
package scratch
