package llm

import (
	"fmt"
	"os"
	"strings"
)

// DefaultPrompt is the extraction instruction sent with every page image
// unless a prompt file overrides it.
const DefaultPrompt = `You are an expert data analyst working with scanned tax and government forms.
Analyze the form page in this image and extract every piece of filled-in and printed information.

Extraction rules:
- Capture every labeled field on the page, using the form's own field labels as keys.
- Group related fields into nested objects per section of the form (e.g. employer, employee, wages).
- Transcribe values exactly as printed; do not normalize, compute, or infer missing values.
- Use null for fields that are present on the form but empty or illegible.
- Include checkbox and choice fields with their selected state.`

// DefaultSchemaGuidance shapes the reply so it can be persisted as a
// page-indexed artifact without post-processing.
const DefaultSchemaGuidance = `Respond with a single well-formed JSON object and nothing else:
no markdown fences, no comments, no prose before or after the object.
Keys are the form's field labels; values are strings, numbers, booleans, null,
nested objects for sections, or arrays for repeated rows.`

// LoadText returns the trimmed contents of path, or fallback when path is
// empty. Prompt and schema overrides both go through here.
func LoadText(path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt file %s: %w", path, err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("prompt file %s is empty", path)
	}
	return text, nil
}
