// Package pterodactyl provides a client for the Pterodactyl panel
// application API.
package pterodactyl

import (
	"fmt"
	"net/http"
	"strings"
)

// APIError represents an error returned by the panel.
type APIError struct {
	StatusCode int
	Errors     []ErrorDetail
}

// ErrorDetail is one entry of the panel's error envelope.
type ErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("pterodactyl api error (status %d)", e.StatusCode)
	}
	details := make([]string, 0, len(e.Errors))
	for _, d := range e.Errors {
		if d.Code != "" {
			details = append(details, d.Code+": "+d.Detail)
		} else {
			details = append(details, d.Detail)
		}
	}
	return fmt.Sprintf("pterodactyl api error (status %d): %s", e.StatusCode, strings.Join(details, "; "))
}

// IsNotFound returns true if the error represents a 404 Not Found response
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsRateLimited returns true if the error represents a 429 Too Many Requests response
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsConflict is true when the panel rejects a change to a server that is
// still installing or transferring.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}
