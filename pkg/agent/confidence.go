package agent

import (
	"regexp"
	"strconv"
)

var confidencePattern = regexp.MustCompile(`\[CONFIDENCE: (0\.\d+)\]`)

// ParseConfidence extracts the first [CONFIDENCE: 0.XX] marker from an
// analysis. Text without a parseable marker scores 0.
func ParseConfidence(analysis string) float64 {
	m := confidencePattern.FindStringSubmatch(analysis)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return v
}
