package permissions

import (
	"crypto/subtle"
	"net/http"
)

// DefaultAPIKeyHeader is the header APIKey reads when none is configured.
const DefaultAPIKeyHeader = "X-API-Key"

// APIKey admits requests carrying one of a fixed set of keys in a header.
type APIKey struct {
	Header string
	Keys   []string
	// Status, when set, is written with the rejection payload.
	Status int
}

// Check implements unison.Permission.
func (a *APIKey) Check(w http.ResponseWriter, r *http.Request) bool {
	header := a.Header
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	given := r.Header.Get(header)
	if given == "" {
		return false
	}
	for _, key := range a.Keys {
		if subtle.ConstantTimeCompare([]byte(given), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// Reject implements unison.Permission.
func (a *APIKey) Reject(w http.ResponseWriter, r *http.Request) interface{} {
	return reject(w, a.Status, "Invalid or missing API key")
}
