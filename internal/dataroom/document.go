// Package dataroom implements the reviewer data-room document listing: the
// document model shared by the API and the portal, the HTTP client that
// fetches a listing, and the Panel that drives a fetch through its
// loading, success and error states and renders the result.
package dataroom

import (
	"path"
	"regexp"
	"strings"
)

// orgPattern bounds organization identifiers to what storage keys and URL
// path segments can carry unescaped.
var orgPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,62}$`)

// ValidOrg reports whether org is a well-formed organization identifier.
func ValidOrg(org string) bool {
	return orgPattern.MatchString(org)
}

// ResolveOrg returns org, or defaultOrg when org is blank. Pages, the API and
// the panel all resolve organization identifiers through it.
func ResolveOrg(org, defaultOrg string) string {
	if strings.TrimSpace(org) == "" {
		return defaultOrg
	}
	return org
}

// Document is one fetchable file offered to a reviewer.
type Document struct {
	// Name is the display label.
	Name string `json:"name"`
	// URL is an absolute, time-limited locator for the file.
	URL string `json:"url"`
	// Key is the opaque storage key the URL was minted from. Not rendered.
	Key string `json:"key,omitempty"`
}

// DisplayName returns Name, or the last segment of Key when no name was set.
func (d Document) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	if d.Key != "" {
		return path.Base(d.Key)
	}
	return d.URL
}

// DocumentListResponse is the envelope returned by the documents endpoint.
// Documents keeps the order the server sent.
type DocumentListResponse struct {
	Org       string     `json:"org"`
	Documents []Document `json:"documents"`
}

// listEnvelope is the wire form used while decoding. A pointer lets the
// client tell an absent or null documents field apart from an empty array.
type listEnvelope struct {
	Org       string      `json:"org"`
	Documents *[]Document `json:"documents"`
}
