// Package preflight provides readiness checks for the local resources the
// annotator depends on: the scratch volume, its free space, and the
// annotation runner binary.
//
// These checks run in two contexts:
//   - The processing stage calls CheckFreeSpace before each job so a full
//     scratch volume leaves the message for another worker instead of failing
//     half way through a download.
//   - The CLI "gas jobs stats" command prints RunAll for operator diagnostics.
package preflight
