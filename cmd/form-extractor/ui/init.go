package ui

import (
	"github.com/fatih/color"
)

var (
	noColorFlag bool
	verboseFlag bool
)

// InitUI configures color and verbosity for all UI output.
func InitUI(noColor, verbose bool) {
	noColorFlag = noColor
	verboseFlag = verbose

	if noColor {
		color.NoColor = true
	}
}

// Verbose reports whether verbose output was requested. In verbose mode the
// structured log stream replaces progress bars, so both never fight over
// stderr.
func Verbose() bool {
	return verboseFlag
}
