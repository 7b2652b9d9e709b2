// Package printer provides colored terminal output helpers for the rookery
// CLI. All coordination inspection output flows through here so formatting
// stays consistent across commands.
package printer

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

func init() {
	// Force color output even when not connected to a TTY.
	// Users can disable with the NO_COLOR environment variable.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// Success prints a success message in green with a checkmark prefix.
func Success(format string, a ...any) {
	green.Printf("✓ %s", fmt.Sprintf(format, a...))
}

// Warning prints a warning message in yellow.
func Warning(format string, a ...any) {
	yellow.Printf("⚠ %s", fmt.Sprintf(format, a...))
}

// Header prints a section header in cyan.
func Header(format string, a ...any) {
	cyan.Printf(format, a...)
}

// Error prints a formatted error with optional suggestions to stderr and
// returns a plain error for Cobra (which has SilenceErrors set).
func Error(title string, explanation string, suggestions []string) error {
	red.Fprintf(os.Stderr, "%s\n", title)
	if explanation != "" {
		fmt.Fprintf(os.Stderr, "\n%s\n", explanation)
	}
	for _, suggestion := range suggestions {
		fmt.Fprintf(os.Stderr, "  - %s\n", suggestion)
	}
	return fmt.Errorf("%s", title)
}

// Printf prints a plain formatted message.
func Printf(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Println prints a plain message.
func Println(a ...any) {
	fmt.Println(a...)
}
