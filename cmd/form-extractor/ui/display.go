package ui

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

// Section prints an underlined section header.
func Section(title string) {
	fmt.Fprintf(os.Stdout, "\n%s\n%s\n\n", title, strings.Repeat("=", len(title)))
}

// Info prints an informational line.
func Info(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, "ℹ %s\n", fmt.Sprintf(format, args...))
}

// Success prints a success line in green.
func Success(format string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(os.Stdout, "✓ %s\n", fmt.Sprintf(format, args...))
}

// Warning prints a warning line in yellow.
func Warning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(os.Stdout, "⚠ %s\n", fmt.Sprintf(format, args...))
}

// Error prints an error line in red to stderr.
func Error(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(os.Stderr, "✗ %s\n", fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func Newline() {
	fmt.Fprintln(os.Stdout)
}

// Table renders rows under headers with aligned columns.
func Table(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))

	separator := make([]string, len(headers))
	for i := range separator {
		separator[i] = strings.Repeat("-", len(headers[i]))
	}
	fmt.Fprintln(w, strings.Join(separator, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	_ = w.Flush()
}

// FormatDuration renders a duration as compact hours/minutes/seconds.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)

	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
