package middleware

import (
	"fmt"
	"regexp"
	"strings"
)

// Input validation and sanitization utilities

// MaxSourceBytes caps the source text accepted for a scan. Larger inputs
// blow past LLM context windows anyway.
const MaxSourceBytes = 256 * 1024

var allowedLanguages = map[string]bool{
	"":           true, // optional; matcher rules are language-agnostic
	"c":          true,
	"cpp":        true,
	"go":         true,
	"java":       true,
	"javascript": true,
	"typescript": true,
	"python":     true,
	"php":        true,
	"ruby":       true,
	"rust":       true,
	"csharp":     true,
}

// ValidateLanguage checks the language hint against the allow-list.
func ValidateLanguage(lang string) error {
	if !allowedLanguages[strings.ToLower(lang)] {
		return fmt.Errorf("unsupported language: %s", lang)
	}
	return nil
}

// ValidateSource checks the scan payload before it reaches the detectors.
func ValidateSource(code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("code cannot be empty")
	}
	if len(code) > MaxSourceBytes {
		return fmt.Errorf("source too large: %d bytes (max %d)", len(code), MaxSourceBytes)
	}
	return nil
}

// SanitizeFilename strips path components and control characters so the
// client-supplied name is safe to use in artifact keys.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\x00", "")
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		name = name[i+1:]
	}
	var b strings.Builder
	for _, r := range name {
		if r >= 32 && r != ';' && r != '`' && r != '$' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

var tenantRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateTenantID validates tenant ID format
func ValidateTenantID(tenant string) error {
	if tenant == "" {
		return fmt.Errorf("tenant ID cannot be empty")
	}
	if !tenantRe.MatchString(tenant) {
		return fmt.Errorf("invalid tenant ID format (alphanumeric, dash, underscore only, max 64 chars)")
	}
	return nil
}

var scanIDRe = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}-hybrid$`)

// ValidateScanID validates scan ID format: uuid with the -hybrid suffix
func ValidateScanID(scanID string) error {
	if scanID == "" {
		return fmt.Errorf("scan ID cannot be empty")
	}
	if !scanIDRe.MatchString(scanID) {
		return fmt.Errorf("invalid scan ID format")
	}
	return nil
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

// ValidateDays validates days parameter
func ValidateDays(days int) int {
	if days <= 0 {
		return 7
	}
	if days > 365 {
		return 365
	}
	return days
}
