// Package validation provides input validation for the engine API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxIdentityLength bounds identity strings (emails or user IDs).
const MaxIdentityLength = 320

// MaxFingerprintLength bounds device fingerprint strings.
const MaxFingerprintLength = 128

var (
	// emailRegex is a pragmatic email shape check, not full RFC 5322
	emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	// identityRegex accepts user IDs (usr_ prefixed hex) and normalized emails
	identityRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9@._+-]*$`)
	// fingerprintRegex validates opaque device fingerprints (hex or base64url)
	fingerprintRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)
	// endpointRegex validates endpoint names like "auth.login" or "api/generate"
	endpointRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._/-]{0,127}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// NormalizeIdentity lowercases and trims an identity so that the same
// principal always maps to the same counter rows. Returns "" when the
// input cannot be a valid identity.
func NormalizeIdentity(identity string) string {
	identity = strings.ToLower(strings.TrimSpace(identity))
	if identity == "" || len(identity) > MaxIdentityLength {
		return ""
	}
	if !identityRegex.MatchString(identity) {
		return ""
	}
	return identity
}

// IsEmail reports whether the identity looks like an email address
// (pre-authentication identities are normalized emails).
func IsEmail(identity string) bool {
	return emailRegex.MatchString(identity)
}

// IsValidEndpoint checks an endpoint name.
func IsValidEndpoint(endpoint string) bool {
	return endpointRegex.MatchString(endpoint)
}

// IsValidFingerprint checks an opaque device fingerprint.
func IsValidFingerprint(fp string) bool {
	return fingerprintRegex.MatchString(fp)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidIdentity checks that a field normalizes to a usable identity.
func ValidIdentity(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if NormalizeIdentity(value) == "" {
			return &ValidationError{Field: field, Message: "must be a normalized email or user id"}
		}
		return nil
	}
}

// ValidEndpoint checks that a field is a well-formed endpoint name.
func ValidEndpoint(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidEndpoint(value) {
			return &ValidationError{Field: field, Message: "must be a valid endpoint name"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// IdentityParamMiddleware validates the :identity URL parameter on routes
// that use it, rejecting malformed identities before any store is touched.
func IdentityParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("identity")
		if id != "" && NormalizeIdentity(id) == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_identity",
				"message": "identity must be a normalized email or user id",
			})
			return
		}
		c.Next()
	}
}
