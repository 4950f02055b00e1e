package main

import (
	"fmt"
	"os"
)

// ANSI styles for human-facing messages. Everything decorative goes to
// stderr so stdout stays pipeable (search results, document listings).
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
)

func paint(style, s string) string {
	if noColor {
		return s
	}
	return style + s + ansiReset
}

func notify(style, glyph, format string, args ...any) {
	fmt.Fprintln(os.Stderr, paint(style, glyph+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notify(ansiGreen, "✓", format, args...) }
func printError(format string, args ...any)   { notify(ansiRed, "✗", format, args...) }
func printWarning(format string, args ...any) { notify(ansiYellow, "⚠", format, args...) }

// printStatus renders one aligned "Label: value" line for the status command.
func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", paint(ansiBold, label+":"), fmt.Sprintf(format, args...))
}
