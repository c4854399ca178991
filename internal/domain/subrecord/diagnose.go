package subrecord

import (
	"regexp"
	"strings"
)

// Pattern is a heuristic hint about how a stored value got corrupted.
type Pattern string

const (
	PatternUnquotedKeys     Pattern = "unquoted_keys"
	PatternEscapedQuotes    Pattern = "escaped_quotes"
	PatternUnbalancedBraces Pattern = "unbalanced_braces"
	PatternUnterminated     Pattern = "unterminated"
)

var unquotedKey = regexp.MustCompile(`[{,]\s*[A-Za-z_][A-Za-z0-9_]*\s*:`)

// Diagnose inspects a value that failed to decode and returns the known
// writer bugs it resembles. The result is for operators only.
func Diagnose(s string) []Pattern {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []Pattern
	if unquotedKey.MatchString(s) {
		out = append(out, PatternUnquotedKeys)
	}
	if strings.Contains(s, `\"`) && !strings.Contains(s, `"\"`) {
		out = append(out, PatternEscapedQuotes)
	}
	if strings.Count(s, "{") != strings.Count(s, "}") {
		out = append(out, PatternUnbalancedBraces)
	}
	if !strings.HasSuffix(s, "}") && !strings.HasSuffix(s, "]") {
		out = append(out, PatternUnterminated)
	}
	return out
}
