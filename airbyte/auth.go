package airbyte

import (
	"encoding/base64"
	"net/http"
	"strings"

	"genai/lib/data_integration"
)

// AuthHeader derives the header set sent with every control plane call. An api key takes precedence
// over a username and password pair.
func AuthHeader(auth data_integration.AuthConfig) (http.Header, error) {
	header := make(http.Header)
	if key := strings.TrimSpace(auth.APIKey); key != "" {
		header.Set("Authorization", "Bearer "+key)
		return header, nil
	}
	if auth.Username != "" && auth.Password != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		header.Set("Authorization", "Basic "+creds)
		return header, nil
	}
	return nil, &AuthConfigError{
		Reason: "either api-key or username and password should be provided in the config",
	}
}
