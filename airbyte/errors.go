package airbyte

import (
	"fmt"
	"net/http"
)

// ProvisioningError is returned when the control plane answers a call with a non-success status, or
// with a success status but without the identifier the call is expected to produce. Body holds the raw
// response so that upstream validation errors reach the operator unchanged.
type ProvisioningError struct {
	Op         string
	StatusCode int
	Body       string
	Reason     string
}

func (e *ProvisioningError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = fmt.Sprintf("%s (%d)", http.StatusText(e.StatusCode), e.StatusCode)
	}
	return fmt.Sprintf("failed to %s: %s: %s", e.Op, reason, e.Body)
}

// AuthConfigError is returned when the auth section holds neither an api key nor a username and
// password pair.
type AuthConfigError struct {
	Reason string
}

func (e *AuthConfigError) Error() string {
	return "no auth provided for airbyte: " + e.Reason
}
