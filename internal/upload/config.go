package upload

import (
	"fmt"
	"net/url"
	"strings"
)

// Config addresses the remote transcription service. AuthToken is an opaque
// credential supplied externally; when present it is sent as a bearer token.
type Config struct {
	BaseURL    string
	UploadPath string
	AuthToken  string
}

// Validate checks the addressing fields.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("upload: base url is required")
	}
	if strings.TrimSpace(c.UploadPath) == "" {
		return fmt.Errorf("upload: upload path is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("upload: invalid base url: %w", err)
	}
	return nil
}

// endpoint joins the base URL, the upload path with an optional suffix, and
// query parameters.
func (c Config) endpoint(suffix string, query url.Values) string {
	base := strings.TrimRight(c.BaseURL, "/")
	path := "/" + strings.Trim(c.UploadPath, "/")
	full := base + path + suffix
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	return full
}
