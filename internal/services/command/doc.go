// Package command runs external tools for the pipeline stages.
//
// Stages depend on the Runner interface so tests can substitute a fake that
// writes the files a real tool would produce.
package command
