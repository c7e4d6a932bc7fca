package unison

import "strings"

// ComposeURI joins a view's base path with a route's relative path so that
// exactly one slash separates them.
//
//	ComposeURI("/api/", "/users") == "/api/users"
//	ComposeURI("/api", "users")   == "/api/users"
//	ComposeURI("/api", "")        == "/api/"
func ComposeURI(base, relative string) string {
	baseSlash := strings.HasSuffix(base, "/")
	relSlash := strings.HasPrefix(relative, "/")
	switch {
	case baseSlash != relSlash:
		return base + relative
	case baseSlash && relSlash:
		return base[:len(base)-1] + relative
	default:
		return base + "/" + relative
	}
}
