// Package security validates user-supplied names and masks credentials.
package security

import (
	"regexp"
	"strings"

	apperrors "optviz/internal/errors"
)

// Validation patterns
var (
	// Token symbol: uppercase letters, digits, dots and dashes
	tokenPattern = regexp.MustCompile(`^[A-Z0-9.-]{1,20}$`)

	// Strategy id: lowercase letters, digits and dashes, not starting with a dash
	strategyIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

	// Credential patterns for detection (not validation)
	credentialPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(api[_-]?key|x[_-]cg[_-]demo[_-]api[_-]key|access[_-]?token|bearer)[=:\s]+["']?([A-Za-z0-9_\-\.]{8,})["']?`),
		regexp.MustCompile(`\bCG-[A-Za-z0-9]{16,}\b`), // CoinGecko demo keys
	}
)

// ValidateToken checks a token symbol. The symbol is upper-cased and trimmed
// before matching, as NormalizeToken does.
func ValidateToken(token string) error {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return apperrors.NewValidationError("token", token, "token cannot be empty")
	}
	if !tokenPattern.MatchString(token) {
		return apperrors.NewValidationError("token", token, "invalid token symbol")
	}
	return nil
}

// ValidateStrategyID checks a catalog strategy id.
func ValidateStrategyID(id string) error {
	if id == "" {
		return apperrors.NewValidationError("id", id, "strategy id cannot be empty")
	}
	if len(id) > 64 {
		return apperrors.NewValidationError("id", id[:16]+"...", "strategy id too long (max 64 characters)")
	}
	if !strategyIDPattern.MatchString(id) {
		return apperrors.NewValidationError("id", id, "use lowercase letters, digits and '-'")
	}
	return nil
}

// MaskCredential masks a credential value for display.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskSensitive masks credentials embedded in free text such as upstream
// error bodies.
func MaskSensitive(input string) string {
	result := input
	for _, pattern := range credentialPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if sub := pattern.FindStringSubmatch(match); len(sub) > 2 {
				return strings.Replace(match, sub[2], MaskCredential(sub[2]), 1)
			}
			return MaskCredential(match)
		})
	}
	return result
}

// ContainsSensitiveData reports whether input looks like it carries a credential.
func ContainsSensitiveData(input string) bool {
	for _, pattern := range credentialPatterns {
		if pattern.MatchString(input) {
			return true
		}
	}
	return false
}
