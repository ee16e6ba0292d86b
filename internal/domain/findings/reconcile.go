package findings

import (
	"sort"
	"strings"
)

// Options tune the duplicate test between an LLM finding and a regex finding.
// LLM line attribution drifts by a few lines, and type labels rarely match
// exactly, so both knobs are deliberately loose.
type Options struct {
	// LineTolerance is the max line distance for two findings to be
	// considered the same location.
	LineTolerance int
	// TypeOverlap is the word-overlap ratio above which two type labels
	// are considered the same category.
	TypeOverlap float64
}

// DefaultOptions returns the tolerances used in production.
func DefaultOptions() Options {
	return Options{LineTolerance: 2, TypeOverlap: 0.5}
}

// Reconcile merges regex findings with LLM findings for the same source
// text into one deduplicated, priority-ranked list.
//
// Regex findings are authoritative and always survive. An LLM finding is
// dropped when a regex finding reports the same issue: within
// Options.LineTolerance lines and with a similar type or a shared CWE id.
// Survivors are sorted by severity score descending, then confidence
// descending, then line ascending (stable, so ties keep input order), and
// PriorityRank is assigned 1..N.
//
// Pure and synchronous: same inputs always produce the same output, and
// input slices are never mutated. An empty llm list (detector unavailable)
// degrades to regex-only output; an empty regex list passes every LLM
// finding through.
func Reconcile(regex, llm []Finding, opts Options) []Finding {
	if opts.LineTolerance <= 0 {
		opts.LineTolerance = DefaultOptions().LineTolerance
	}
	if opts.TypeOverlap <= 0 {
		opts.TypeOverlap = DefaultOptions().TypeOverlap
	}

	merged := make([]Finding, 0, len(regex)+len(llm))
	for _, r := range regex {
		r.Source = SourceRegex
		r.PriorityRank = 0
		merged = append(merged, r)
	}
	for _, l := range llm {
		if duplicatesAny(l, regex, opts) {
			continue
		}
		l.Source = SourceLLM
		l.PriorityRank = 0
		merged = append(merged, l)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.SeverityScore != b.SeverityScore {
			return a.SeverityScore > b.SeverityScore
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Line < b.Line
	})

	for i := range merged {
		merged[i].PriorityRank = i + 1
	}
	return merged
}

// duplicatesAny reports whether the LLM finding repeats any regex finding.
func duplicatesAny(l Finding, regex []Finding, opts Options) bool {
	for _, r := range regex {
		if absInt(l.Line-r.Line) > opts.LineTolerance {
			continue
		}
		if typesSimilar(l.Type, r.Type, opts.TypeOverlap) || cweOverlap(l.CWE, r.CWE) {
			return true
		}
	}
	return false
}

// typesSimilar is a loose category match: case-insensitive substring in
// either direction, or word overlap above the threshold.
func typesSimilar(a, b string, threshold float64) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}

	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	setB := make(map[string]bool, len(wordsB))
	for _, w := range wordsB {
		setB[w] = true
	}
	overlap := 0
	for _, w := range wordsA {
		if setB[w] {
			overlap++
		}
	}
	minLen := len(wordsA)
	if len(wordsB) < minLen {
		minLen = len(wordsB)
	}
	return float64(overlap)/float64(minLen) > threshold
}

// cweOverlap reports whether the two lists share any CWE id. The comparison
// is case-insensitive since LLMs emit both "CWE-120" and "cwe-120".
func cweOverlap(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, id := range a {
		set[strings.ToUpper(strings.TrimSpace(id))] = true
	}
	for _, id := range b {
		if set[strings.ToUpper(strings.TrimSpace(id))] {
			return true
		}
	}
	return false
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
