package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoCredentials means no refresh credential is stored. The operator has to
// re-connect the upstream account; no amount of retrying helps.
var ErrNoCredentials = errors.New("no upstream refresh credential available")

// APIError is a non-2xx response from the upstream API.
type APIError struct {
	Status   int
	Endpoint string
	Body     string
}

func (e *APIError) Error() string {
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("upstream request failed: %s %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("upstream request failed: %s %d: %s", e.Endpoint, e.Status, e.Body)
}

// IsRateLimit reports whether err is an upstream throttling response.
func IsRateLimit(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests
}

// IsUnauthorized reports whether err is an expired/invalid token response.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// IsValidation reports whether the upstream rejected the request shape, e.g.
// an unsupported filter combination. Callers fall back to a broader query.
func IsValidation(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest
}
