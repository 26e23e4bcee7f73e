package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// resolveReference resolves ref against an absolute base URL.
func resolveReference(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", base, err)
	}
	if !baseURL.IsAbs() {
		return "", fmt.Errorf("base url %q is not absolute", base)
	}
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse href %q: %w", ref, err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// visitKey standardizes a URL so trivially different spellings of the same
// page compare equal. It lowercases scheme and host, drops default ports and
// the fragment, and sorts query parameters.
func visitKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()
	return u.String()
}
