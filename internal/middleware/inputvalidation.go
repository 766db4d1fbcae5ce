package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
)

// InputValidator rejects requests whose path or query parameters carry
// common injection patterns, and exposes a bluemonday-based sanitizer for
// JSON request bodies. Neither pass is a substitute for parameterized
// queries or a real authorization layer — it's defense-in-depth against
// malformed or hostile input reaching a handler unexamined.
type InputValidator struct {
	sanitizer *bluemonday.Policy
}

// NewInputValidator builds a validator backed by bluemonday's strict policy,
// which strips all HTML rather than trying to allow a safe subset.
func NewInputValidator() *InputValidator {
	return &InputValidator{sanitizer: bluemonday.StrictPolicy()}
}

// Middleware rejects requests whose URL path or query values match a path
// traversal or injection pattern, before the request reaches routing.
func (v *InputValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := v.validatePath(c.Request.URL.Path); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid path", "message": err.Error()})
			c.Abort()
			return
		}

		for key, values := range c.Request.URL.Query() {
			for _, value := range values {
				if err := v.validateInput(value); err != nil {
					c.JSON(http.StatusBadRequest, gin.H{
						"error":   "invalid query parameter",
						"message": fmt.Sprintf("parameter %q: %s", key, err.Error()),
					})
					c.Abort()
					return
				}
			}
		}

		c.Next()
	}
}

// SanitizeJSONMiddleware decodes a JSON object body, sanitizes every string
// value through bluemonday, and stashes the result under "sanitized_json"
// for the handler to use in place of re-parsing the raw body. Non-JSON or
// non-object bodies pass through untouched — a handler still validates its
// own body shape.
func (v *InputValidator) SanitizeJSONMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.ContentType() != "application/json" {
			c.Next()
			return
		}

		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Next()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		var data map[string]any
		if err := json.Unmarshal(bodyBytes, &data); err != nil {
			c.Next()
			return
		}

		c.Set("sanitized_json", v.sanitizeMap(data))
		c.Next()
	}
}

// SanitizeString strips HTML/script content from a single value, for
// handlers that want bluemonday sanitization outside the JSON-body path.
func (v *InputValidator) SanitizeString(input string) string {
	return v.sanitizer.Sanitize(input)
}

func (v *InputValidator) validatePath(path string) error {
	traversalPatterns := []string{"../", "..\\", "/..", "\\..", "%2e%2e", "%252e%252e", "..%2f", "..%5c"}
	lower := strings.ToLower(path)
	for _, pattern := range traversalPatterns {
		if strings.Contains(lower, pattern) {
			return fmt.Errorf("path traversal attempt detected")
		}
	}
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("null byte detected in path")
	}
	return nil
}

func (v *InputValidator) validateInput(value string) error {
	if len(value) > 10000 {
		return fmt.Errorf("value too long (max 10000 characters)")
	}
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("null byte detected")
	}
	if err := checkSQLInjection(value); err != nil {
		return err
	}
	if err := checkCommandInjection(value); err != nil {
		return err
	}
	return checkLDAPInjection(value)
}

var sqlInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)union\s+select`),
	regexp.MustCompile(`(?i)select\s+.*\s+from`),
	regexp.MustCompile(`(?i)insert\s+into`),
	regexp.MustCompile(`(?i)delete\s+from`),
	regexp.MustCompile(`(?i)drop\s+table`),
	regexp.MustCompile(`(?i)update\s+.*\s+set`),
	regexp.MustCompile(`(?i)exec\s*\(`),
	regexp.MustCompile(`(?i)script\s*>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)onerror\s*=`),
	regexp.MustCompile(`(?i)onload\s*=`),
	regexp.MustCompile(`--`),
	regexp.MustCompile(`/\*`),
}

func checkSQLInjection(value string) error {
	for _, re := range sqlInjectionPatterns {
		if re.MatchString(value) {
			return fmt.Errorf("potential SQL injection detected")
		}
	}
	return nil
}

var commandInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[;&|]`),
	regexp.MustCompile("`"),
	regexp.MustCompile(`\$\(`),
}

func checkCommandInjection(value string) error {
	for _, re := range commandInjectionPatterns {
		if re.MatchString(value) {
			return fmt.Errorf("potential command injection detected")
		}
	}
	return nil
}

// ldapSpecialChars mirrors the teacher's heuristic: a single special
// character is common in ordinary input, but two or more together are
// treated as a potential LDAP filter injection attempt.
var ldapSpecialChars = []string{"*", "(", ")", "\\", "/", "\x00"}

func checkLDAPInjection(value string) error {
	count := 0
	for _, c := range ldapSpecialChars {
		if strings.Contains(value, c) {
			count++
		}
	}
	if count >= 2 {
		return fmt.Errorf("potential LDAP injection detected")
	}
	return nil
}

func (v *InputValidator) sanitizeMap(data map[string]any) map[string]any {
	result := make(map[string]any, len(data))
	for key, value := range data {
		result[key] = v.sanitizeValue(value)
	}
	return result
}

func (v *InputValidator) sanitizeArray(data []any) []any {
	result := make([]any, len(data))
	for i, value := range data {
		result[i] = v.sanitizeValue(value)
	}
	return result
}

func (v *InputValidator) sanitizeValue(value any) any {
	switch val := value.(type) {
	case string:
		return v.sanitizer.Sanitize(val)
	case map[string]any:
		return v.sanitizeMap(val)
	case []any:
		return v.sanitizeArray(val)
	default:
		return value
	}
}
