package patterns

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"

	"github.com/hybridsec/hybridscan/internal/domain/findings"
	"github.com/hybridsec/hybridscan/internal/domain/scans"
)

// rule pairs a compiled pattern with the finding it produces.
type rule struct {
	re          *regexp.Regexp
	findingType string
	severity    findings.Severity
	cwe         []string
	confidence  float64
	message     string
	remediation string
}

// rules is the built-in detector table. Patterns are line-oriented and
// intentionally narrow: the matcher is the high-precision half of the
// hybrid scanner, so a miss here is acceptable and a false positive is not.
var rules = []rule{
	{
		re:          regexp.MustCompile(`\bgets\s*\(`),
		findingType: "Buffer Overflow",
		severity:    findings.SeverityCritical,
		cwe:         []string{"CWE-120", "CWE-242"},
		confidence:  0.95,
		message:     "gets() performs no bounds checking and always risks overflowing its buffer.",
		remediation: "Replace gets() with fgets() using an explicit buffer size.",
	},
	{
		re:          regexp.MustCompile(`\b(strcpy|strcat|sprintf)\s*\(`),
		findingType: "Buffer Overflow",
		severity:    findings.SeverityHigh,
		cwe:         []string{"CWE-120"},
		confidence:  0.85,
		message:     "Unbounded string copy can write past the destination buffer.",
		remediation: "Use the bounded variants (strncpy, strncat, snprintf) with the destination size.",
	},
	{
		re:          regexp.MustCompile(`\b(printf|fprintf|syslog)\s*\(\s*[A-Za-z_][A-Za-z0-9_]*\s*[),]`),
		findingType: "Format String",
		severity:    findings.SeverityHigh,
		cwe:         []string{"CWE-134"},
		confidence:  0.8,
		message:     "Variable used as a format string lets attacker-controlled input drive formatting.",
		remediation: "Pass a constant format string, e.g. printf(\"%s\", value).",
	},
	{
		re:          regexp.MustCompile(`\b(system|popen|exec[lv]p?e?)\s*\(`),
		findingType: "Command Injection",
		severity:    findings.SeverityCritical,
		cwe:         []string{"CWE-78"},
		confidence:  0.75,
		message:     "Shell command execution; injected metacharacters run arbitrary commands if input reaches this call.",
		remediation: "Avoid shelling out, or pass an argument vector and validate every component against an allow-list.",
	},
	{
		re:          regexp.MustCompile(`(?i)\b(select|insert|update|delete)\b[^;\n]*(\+\s*[A-Za-z_]|%s|\|\||\bconcat\s*\()`),
		findingType: "SQL Injection",
		severity:    findings.SeverityCritical,
		cwe:         []string{"CWE-89"},
		confidence:  0.7,
		message:     "SQL statement built by string concatenation or interpolation.",
		remediation: "Use parameterized queries or prepared statements; never splice user input into SQL text.",
	},
	{
		re:          regexp.MustCompile(`(?i)(password|passwd|secret|api[_-]?key|token)\s*[:=]\s*["'][^\s"']{6,}["']`),
		findingType: "Hardcoded Credentials",
		severity:    findings.SeverityHigh,
		cwe:         []string{"CWE-798"},
		confidence:  0.8,
		message:     "Credential literal embedded in source.",
		remediation: "Load secrets from environment variables or a secret manager and rotate the exposed value.",
	},
	{
		re:          regexp.MustCompile(`(?i)\b(md5|sha1)\s*\(`),
		findingType: "Weak Hashing",
		severity:    findings.SeverityMedium,
		cwe:         []string{"CWE-327", "CWE-328"},
		confidence:  0.7,
		message:     "MD5/SHA-1 are broken for integrity and password storage.",
		remediation: "Use SHA-256 or better; for passwords use bcrypt, scrypt, or argon2.",
	},
	{
		re:          regexp.MustCompile(`http://[A-Za-z0-9.-]+`),
		findingType: "Insecure Transport",
		severity:    findings.SeverityMedium,
		cwe:         []string{"CWE-319"},
		confidence:  0.6,
		message:     "Cleartext HTTP URL; data in transit is exposed.",
		remediation: "Use HTTPS for all endpoints and enforce certificate validation.",
	},
	{
		re:          regexp.MustCompile(`\.\./|%2e%2e%2f`),
		findingType: "Path Traversal",
		severity:    findings.SeverityMedium,
		cwe:         []string{"CWE-22"},
		confidence:  0.55,
		message:     "Relative parent-directory path segment; may escape the intended directory.",
		remediation: "Canonicalize paths and reject any that resolve outside the allowed root.",
	},
	{
		re:          regexp.MustCompile(`\beval\s*\(`),
		findingType: "Code Injection",
		severity:    findings.SeverityHigh,
		cwe:         []string{"CWE-95"},
		confidence:  0.65,
		message:     "eval() of dynamic input executes arbitrary code.",
		remediation: "Remove eval; parse the input explicitly or dispatch through a fixed function table.",
	},
	{
		re:          regexp.MustCompile(`\b(rand|srand)\s*\(|math/rand`),
		findingType: "Insecure Randomness",
		severity:    findings.SeverityLow,
		cwe:         []string{"CWE-338"},
		confidence:  0.5,
		message:     "Non-cryptographic RNG; predictable when used for secrets or tokens.",
		remediation: "Use a CSPRNG (crypto/rand or the platform equivalent) for anything security-sensitive.",
	},
}

// Matcher is the regex half of the hybrid scanner. It is stateless and
// safe for concurrent use.
type Matcher struct{}

func NewMatcher() *Matcher { return &Matcher{} }

// Match scans the source line by line and returns findings ordered by line
// then rule order. It never fails: unmatchable input just yields no findings.
func (m *Matcher) Match(src scans.Source) []findings.Finding {
	var out []findings.Finding
	lines := strings.Split(src.Content, "\n")
	for i, line := range lines {
		lineNo := i + 1
		for _, r := range rules {
			loc := r.re.FindStringIndex(line)
			if loc == nil {
				continue
			}
			f := findings.Finding{
				Type:          r.findingType,
				Severity:      r.severity,
				SeverityScore: r.severity.Score(),
				Line:          lineNo,
				Column:        loc[0] + 1,
				CWE:           r.cwe,
				Confidence:    r.confidence,
				Source:        findings.SourceRegex,
				Message:       r.message,
				Remediation:   r.remediation,
				CodeSnippet:   strings.TrimSpace(line),
			}
			f.ID = findingID(src.Filename, f.Type, f.Line, f.Column)
			out = append(out, f)
		}
	}
	return out
}

// findingID derives a stable id so the same source always yields the same
// finding ids across scans.
func findingID(filename, findingType string, line, col int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d:%d", filename, findingType, line, col)))
	return fmt.Sprintf("%x", h[:8])
}
