// Package ui provides terminal output helpers for the form-extractor CLI.
package ui

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
)

// ProgressBar tracks per-page extraction progress.
type ProgressBar struct {
	bar *progressbar.ProgressBar
}

// NewProgressBar creates a page-count progress bar writing to stderr.
func NewProgressBar(total int64, description string) *ProgressBar {
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
	)

	return &ProgressBar{bar: bar}
}

// Add advances the bar by n pages.
func (p *ProgressBar) Add(n int) {
	_ = p.bar.Add(n)
}

// Finish completes the bar and moves to a fresh line.
func (p *ProgressBar) Finish() {
	_ = p.bar.Finish()
}

// Stop halts the bar where it stands, without filling it.
func (p *ProgressBar) Stop() {
	_ = p.bar.Exit()
	fmt.Fprint(os.Stderr, "\n")
}

// Spinner shows indeterminate progress for the staging phase, where the
// page count is not yet known.
type Spinner struct {
	spinner *spinner.Spinner
}

// NewSpinner creates a spinner with the given message.
func NewSpinner(message string) *Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	return &Spinner{spinner: s}
}

// Start begins the spinner animation.
func (s *Spinner) Start() {
	s.spinner.Start()
}

// Stop halts the spinner and clears its line.
func (s *Spinner) Stop() {
	s.spinner.Stop()
}
