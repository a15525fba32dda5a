package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// ServiceURLValidator checks the base URL of a remote people API.
type ServiceURLValidator struct {
	// RequireHTTPS rejects plain http URLs.
	RequireHTTPS bool
	MaxLength    int
}

func NewServiceURLValidator() *ServiceURLValidator {
	return &ServiceURLValidator{MaxLength: 2048}
}

// ValidateAndNormalize returns the URL without a trailing slash. It must
// be absolute and carry no credentials, query or fragment.
func (v *ServiceURLValidator) ValidateAndNormalize(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("URL cannot be empty")
	}
	if len(input) > v.MaxLength {
		return "", fmt.Errorf("URL too long (max %d characters)", v.MaxLength)
	}

	parsedURL, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}

	switch parsedURL.Scheme {
	case "https":
	case "http":
		if v.RequireHTTPS {
			return "", fmt.Errorf("URL must use https")
		}
	default:
		return "", fmt.Errorf("URL must use http or https protocol")
	}
	if parsedURL.Host == "" {
		return "", fmt.Errorf("URL must have a valid hostname")
	}
	if parsedURL.User != nil {
		return "", fmt.Errorf("credentials are not allowed in the URL")
	}
	if parsedURL.RawQuery != "" || parsedURL.Fragment != "" {
		return "", fmt.Errorf("URL must not have a query or fragment")
	}
	if strings.Contains(parsedURL.Path, "..") {
		return "", fmt.Errorf("directory traversal patterns not allowed in URL path")
	}

	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")
	return parsedURL.String(), nil
}
