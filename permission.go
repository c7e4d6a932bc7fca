package unison

import "net/http"

// Permission guards a route.  Check is consulted before the view is
// constructed; when it returns false, Reject produces the response and its
// return value becomes the result of the request.  A non-nil result is
// written as JSON unless Reject already wrote to w.
type Permission interface {
	Check(w http.ResponseWriter, r *http.Request) bool
	Reject(w http.ResponseWriter, r *http.Request) interface{}
}

// evaluatePermissions runs perms in order and stops at the first failure.
func evaluatePermissions(perms []Permission, w http.ResponseWriter, r *http.Request) (result interface{}, allowed bool) {
	for _, p := range perms {
		if !p.Check(w, r) {
			return p.Reject(w, r), false
		}
	}
	return nil, true
}
