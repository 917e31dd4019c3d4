// Package shared provides small helpers used by several adapters.
package shared

import (
	"fmt"
	"net/http"
	"strings"
)

// StatusError is returned for non-2xx HTTP responses. Server errors and
// throttling are worth retrying; other client errors are not.
type StatusError struct {
	Status int
	URL    string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status=%d url=%s", e.Status, e.URL)
	}
	return fmt.Sprintf("status=%d url=%s response=%s", e.Status, e.URL, e.Body)
}

func (e *StatusError) Retryable() bool {
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

// HTTPStatusErrorWithBody creates a StatusError carrying the trimmed
// response body.
func HTTPStatusErrorWithBody(status int, url string, body string) error {
	return &StatusError{Status: status, URL: url, Body: strings.TrimSpace(body)}
}

// CommandError wraps a command execution error with its trimmed output
// for cleaner error messages.
func CommandError(output []byte, err error) error {
	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return err
	}
	return fmt.Errorf("%s: %w", trimmed, err)
}

// RedactToken keeps only the last four characters of a bearer token.
func RedactToken(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", 8) + token[len(token)-4:]
}
