package internal

import "fmt"

// SummarizeForLog renders at most limit keys of subjects as a slice
// suitable for a log line, with a trailing "(and N more...)" marker
// when the set is larger than limit. Route tables and TLS subject
// sets can run into the hundreds of thousands of entries, far too
// many to log in full, but a map alone (needed for O(1) lookup) isn't
// loggable as-is.
func SummarizeForLog(subjects map[string]struct{}, limit int) []string {
	shown := len(subjects)
	if shown > limit {
		shown = limit
	}

	out := make([]string, 0, shown)
	for name := range subjects {
		if len(out) >= shown {
			break
		}
		out = append(out, name)
	}

	if remaining := len(subjects) - limit; remaining > 0 {
		out = append(out, fmt.Sprintf("(and %d more...)", remaining))
	}
	return out
}
