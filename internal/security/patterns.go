package security

import "regexp"

// threatPattern pairs a compiled signature with the threat family it detects.
type threatPattern struct {
	family   string
	severity Severity
	re       *regexp.Regexp
}

// Patterns are matched case-insensitively against raw input. They are
// deliberately coarse: this is a tripwire, not a parser.
var threatPatterns = []threatPattern{
	{
		family:   "sql_injection",
		severity: SeverityHigh,
		re:       regexp.MustCompile(`(?i)('\s*(or|and)\s+[\w'"]+\s*=|union\s+select|;\s*drop\s+table|--\s*$|\bor\s+1\s*=\s*1\b)`),
	},
	{
		family:   "xss",
		severity: SeverityHigh,
		re:       regexp.MustCompile(`(?i)(<script\b|javascript:|\bon(error|load|click|mouseover)\s*=)`),
	},
	{
		family:   "path_traversal",
		severity: SeverityMedium,
		re:       regexp.MustCompile(`(\.\./|\.\.\\|%2e%2e%2f|%2e%2e/)`),
	},
	{
		family:   "command_injection",
		severity: SeverityHigh,
		re:       regexp.MustCompile(`(?i)(;\s*(rm|cat|wget|curl|nc|bash|sh)\b|\|\s*(rm|cat|wget|curl|nc)\b|\$\(|` + "`" + `)`),
	},
}
