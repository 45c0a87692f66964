// Package preflight provides readiness checks for the filesystem paths,
// external tools and lock backend clipforge depends on.
//
// These checks run in two contexts:
//   - The daemon logs RunAll results at startup so a missing tool shows up
//     before the first task fails on it.
//   - The CLI "clipforge check" command prints every result and exits non-zero
//     when any check fails.
package preflight
