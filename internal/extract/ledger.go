package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spherical/form-extractor/internal/domain"
)

// LedgerEntry records one page-local extraction failure.
type LedgerEntry struct {
	Page   int                        `json:"page"`
	Kind   domain.ExtractionErrorKind `json:"kind"`
	Detail string                     `json:"detail"`
}

// Ledger aggregates per-page failures for a run. Pages are recorded in
// commit order, which equals page order, so entries are already sorted. A
// non-empty ledger means incomplete data coverage, not a failed run.
type Ledger struct {
	entries []LedgerEntry
}

// NewLedger creates an empty failure ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Record adds a failure for a page.
func (l *Ledger) Record(page int, err *domain.ExtractionError) {
	l.entries = append(l.entries, LedgerEntry{
		Page:   page,
		Kind:   err.Kind,
		Detail: err.Detail,
	})
}

// Entries returns a copy of the recorded failures in page order.
func (l *Ledger) Entries() []LedgerEntry {
	out := make([]LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of failed pages.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Empty reports whether the run had no page failures.
func (l *Ledger) Empty() bool {
	return len(l.entries) == 0
}

// Summary renders the ledger for run-end reporting, one line per failure.
func (l *Ledger) Summary() string {
	if l.Empty() {
		return "no page failures"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d page(s) failed:", len(l.entries))
	for _, e := range l.entries {
		fmt.Fprintf(&b, "\n  page %d: %s: %s", e.Page, e.Kind, e.Detail)
	}
	return b.String()
}

// WriteFile persists the ledger as JSON so batch consumers can detect
// coverage gaps without parsing CLI output.
func (l *Ledger) WriteFile(path string) error {
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal failure ledger: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write failure ledger: %w", err)
	}
	return nil
}
