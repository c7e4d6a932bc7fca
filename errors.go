package unison

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrUnresolvedDependency indicates that a view constructor asked for
	// an identity that has no entry in the Injectables.
	ErrUnresolvedDependency = errors.New("unresolved dependency")

	// ErrMisconfiguredApplication indicates that bootstrap was handed an
	// application without the descriptors it needs.
	ErrMisconfiguredApplication = errors.New("misconfigured application")

	// ErrInvalidDeclaration indicates a Declaration that cannot be resolved.
	ErrInvalidDeclaration = errors.New("invalid declaration")

	// ErrNotPermission indicates that an identity listed as a permission
	// resolved to a value that does not implement Permission.
	ErrNotPermission = errors.New("not a permission")

	// ErrAlreadyStarted is returned by a second call to App.Start.
	ErrAlreadyStarted = errors.New("application already started")
)

// ParameterSource names where a required parameter is looked up.
type ParameterSource string

const (
	SourceQuery  ParameterSource = "Query"
	SourceHeader ParameterSource = "Header"
	SourceBody   ParameterSource = "Body"
)

// MissingParameterError describes a required query parameter, header or
// body field that was absent from a request.  The pipeline turns it into
// a failure payload; it is never returned to callers.
type MissingParameterError struct {
	Source ParameterSource
	Name   string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("Missing %s Parameter: %s", e.Source, e.Name)
}

// UnresolvedDependencyError names the constructor parameter that could not
// be satisfied.
type UnresolvedDependencyError struct {
	Owner    string
	Identity Identity
	Position int
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("%s: parameter #%d (%s) has no injectable", e.Owner, e.Position, e.Identity)
}

// Is implements errors.Is support
func (e *UnresolvedDependencyError) Is(target error) bool {
	return target == ErrUnresolvedDependency
}

// DependencyTypeError reports an injectable whose type does not fit the
// constructor parameter it was resolved for.
type DependencyTypeError struct {
	Owner    string
	Identity Identity
	Position int
	Have     reflect.Type
	Want     reflect.Type
}

func (e *DependencyTypeError) Error() string {
	return fmt.Sprintf("%s: parameter #%d (%s) wants %s but injectable is %s",
		e.Owner, e.Position, e.Identity, e.Want, e.Have)
}
