package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// featureSymbols returns the marks for enabled and disabled features.
// Terminals get the check marks the original used; pipes and log capture
// get plain ASCII so the output stays grep-friendly.
func featureSymbols() (enabled, disabled string) {
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return "✓", "✗"
	}

	return "x", " "
}
