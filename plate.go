package main

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Classification is the outcome of matching a plate against the reference identifier.
type Classification int

const (
	// Unknown marks a plate that did not match the reference closely enough.
	Unknown Classification = iota
	// Authorized marks a plate whose similarity exceeded the threshold.
	Authorized
)

// String returns the label written to the report for the classification.
func (c Classification) String() string {
	switch c {
	case Authorized:
		return "ACCESS GRANTED"
	default:
		return "UNKNOWN"
	}
}

// ClassificationResult pairs a classification with the similarity that produced it.
type ClassificationResult struct {
	Status     Classification
	Similarity float64
}

// CanonicalPlate keeps only Unicode letters and digits and upper-cases them.
// Regional plates such as "ÇAĞ 123" keep their non-ASCII letters.
func CanonicalPlate(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// NormalizePlate canonicalizes recognized text and rejects results whose length
// in characters does not exceed minLen. The second return value is false when
// rejected.
func NormalizePlate(text string, minLen int) (string, bool) {
	plate := CanonicalPlate(text)
	if utf8.RuneCountInString(plate) <= minLen {
		return "", false
	}
	return plate, true
}

// Matcher scores plates against a fixed reference identifier.
type Matcher struct {
	reference string
	threshold float64
}

// NewMatcher canonicalizes the reference once so that both sides of every
// comparison go through the same normalization.
func NewMatcher(reference string, threshold float64) *Matcher {
	return &Matcher{
		reference: CanonicalPlate(reference),
		threshold: threshold,
	}
}

// Reference returns the canonical reference identifier.
func (m *Matcher) Reference() string {
	return m.reference
}

// Classify scores candidate against the reference. Only a similarity strictly
// above the threshold is Authorized.
func (m *Matcher) Classify(candidate string) ClassificationResult {
	sim := Similarity(candidate, m.reference)
	status := Unknown
	if sim > m.threshold {
		status = Authorized
	}
	return ClassificationResult{Status: status, Similarity: sim}
}

// Similarity returns the normalized indel ratio of a and b in [0,1]:
// (|a|+|b| - indel(a,b)) / (|a|+|b|), where indel counts insertions and
// deletions only and lengths are in characters. Two empty strings are
// identical.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1.0
	}
	// indel(a,b) = |a| + |b| - 2*LCS(a,b)
	lcs := longestCommonSubsequence(ra, rb)
	return float64(2*lcs) / float64(total)
}

func longestCommonSubsequence(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
