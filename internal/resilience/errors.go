// Package resilience provides bounded retry with exponential backoff for
// external service calls.
package resilience

import "strings"

// IsTransient reports whether an error is safe to retry: only failures whose
// message mentions a timeout or connection problem qualify. Validation,
// schema, and API errors must fail fast; an LLM 500 can carry a complaint
// about the request itself, so server status alone never earns a retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection")
}
