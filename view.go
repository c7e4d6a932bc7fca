package unison

import (
	"fmt"
	"net/http"
	"reflect"
	"runtime"
	"strings"
)

// Method is the HTTP method a route is bound to.
type Method string

const (
	Get     Method = http.MethodGet
	Post    Method = http.MethodPost
	Put     Method = http.MethodPut
	Patch   Method = http.MethodPatch
	Delete  Method = http.MethodDelete
	Options Method = http.MethodOptions
	Head    Method = http.MethodHead
	// All binds the route for every method.
	All Method = "ALL"
)

// RouteDescriptor pairs an HTTP method with a path relative to the view's
// base path.
type RouteDescriptor struct {
	Method Method
	Path   string
}

// Requirements lists the query parameters, headers and body fields that
// must be present before a handler runs.
type Requirements struct {
	Query   []string
	Headers []string
	Body    []string
}

// Handler is a view method.  It is normally given as a method expression:
//
//	users.Get("/users", (*UserView).List)
type Handler[T any] func(view *T, w http.ResponseWriter, r *http.Request) error

// RouteOption adjusts a route while it is being declared.
type RouteOption func(*route)

// RequireQuery adds required query parameter names.
func RequireQuery(names ...string) RouteOption {
	return func(rt *route) { rt.requirements.Query = append(rt.requirements.Query, names...) }
}

// RequireHeaders adds required header names.  Header names are matched
// case-insensitively.
func RequireHeaders(names ...string) RouteOption {
	return func(rt *route) { rt.requirements.Headers = append(rt.requirements.Headers, names...) }
}

// RequireBody adds required top-level body field names.
func RequireBody(names ...string) RouteOption {
	return func(rt *route) { rt.requirements.Body = append(rt.requirements.Body, names...) }
}

// Permissions adds permission identities, evaluated in the order given.
func Permissions(tokens ...Identity) RouteOption {
	return func(rt *route) { rt.permissions = append(rt.permissions, tokens...) }
}

// Named overrides the handler name used in logs and route listings.
func Named(name string) RouteOption {
	return func(rt *route) { rt.name = name }
}

type route struct {
	descriptor   RouteDescriptor
	name         string
	requirements Requirements
	permissions  []Identity
	invoke       func(view interface{}, w http.ResponseWriter, r *http.Request) error
}

// RouteInfo describes a route that has been bound.
type RouteInfo struct {
	View        string   `json:"view" yaml:"view"`
	Handler     string   `json:"handler" yaml:"handler"`
	Method      Method   `json:"method" yaml:"method"`
	Path        string   `json:"path" yaml:"path"`
	Query       []string `json:"query,omitempty" yaml:"query,omitempty"`
	Headers     []string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body        []string `json:"body,omitempty" yaml:"body,omitempty"`
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// ViewDescriptor is the type-erased form of a View, so views with
// different receiver types can be registered together.
type ViewDescriptor interface {
	Name() string
	Base() string
	Dependencies() []Identity
	routes() []*route
	constructor() viewConstructor
}

type viewConstructor struct {
	fn           reflect.Value
	params       []reflect.Type
	returnsError bool
}

// View groups handler methods of *T under one base path.  Each request
// gets a fresh *T built by the view's constructor, whose parameters are
// filled from the Injectables.
type View[T any] struct {
	name string
	base string
	ctor viewConstructor
	deps []Identity
	rts  []*route
}

// NewView declares a view rooted at base.  constructor must be a func
// returning *T or (*T, error); its parameter types are the view's
// dependencies, in order.  A nil constructor builds new(T).
func NewView[T any](base string, constructor interface{}) *View[T] {
	viewType := reflect.TypeOf((*T)(nil))
	v := &View[T]{
		name: viewType.Elem().String(),
		base: base,
	}
	if constructor == nil {
		v.ctor = viewConstructor{fn: reflect.ValueOf(func() *T { return new(T) })}
		return v
	}
	fn := reflect.ValueOf(constructor)
	ft := fn.Type()
	if ft.Kind() != reflect.Func {
		panic(fmt.Sprintf("%s: constructor must be a func, got %s", v.name, ft))
	}
	switch {
	case ft.NumOut() == 1 && ft.Out(0) == viewType:
	case ft.NumOut() == 2 && ft.Out(0) == viewType && ft.Out(1) == errorType:
		v.ctor.returnsError = true
	default:
		panic(fmt.Sprintf("%s: constructor %s must return %s or (%s, error)", v.name, ft, viewType, viewType))
	}
	if ft.IsVariadic() {
		panic(fmt.Sprintf("%s: constructor %s must not be variadic", v.name, ft))
	}
	v.ctor.fn = fn
	for i := 0; i < ft.NumIn(); i++ {
		v.ctor.params = append(v.ctor.params, ft.In(i))
		v.deps = append(v.deps, IdentityOf(ft.In(i)))
	}
	return v
}

// Inject replaces the identities inferred from the constructor signature
// with an explicit list, one per constructor parameter.
func (v *View[T]) Inject(tokens ...Identity) *View[T] {
	if len(tokens) != len(v.ctor.params) {
		panic(fmt.Sprintf("%s: Inject given %d identities for %d constructor parameters",
			v.name, len(tokens), len(v.ctor.params)))
	}
	v.deps = append([]Identity(nil), tokens...)
	return v
}

// As renames the view in logs and route listings.
func (v *View[T]) As(name string) *View[T] {
	v.name = name
	return v
}

// Route declares a handler for method at path, relative to the base.
func (v *View[T]) Route(method Method, path string, h Handler[T], opts ...RouteOption) *View[T] {
	if h == nil {
		panic(fmt.Sprintf("%s: nil handler for %s %s", v.name, method, path))
	}
	rt := &route{
		descriptor: RouteDescriptor{Method: method, Path: path},
		name:       handlerName(h),
		invoke: func(view interface{}, w http.ResponseWriter, r *http.Request) error {
			return h(view.(*T), w, r)
		},
	}
	for _, opt := range opts {
		opt(rt)
	}
	v.rts = append(v.rts, rt)
	return v
}

func (v *View[T]) Get(path string, h Handler[T], opts ...RouteOption) *View[T] {
	return v.Route(Get, path, h, opts...)
}

func (v *View[T]) Post(path string, h Handler[T], opts ...RouteOption) *View[T] {
	return v.Route(Post, path, h, opts...)
}

func (v *View[T]) Put(path string, h Handler[T], opts ...RouteOption) *View[T] {
	return v.Route(Put, path, h, opts...)
}

func (v *View[T]) Patch(path string, h Handler[T], opts ...RouteOption) *View[T] {
	return v.Route(Patch, path, h, opts...)
}

func (v *View[T]) Delete(path string, h Handler[T], opts ...RouteOption) *View[T] {
	return v.Route(Delete, path, h, opts...)
}

func (v *View[T]) Name() string { return v.name }
func (v *View[T]) Base() string { return v.base }

// Dependencies returns the constructor dependency identities in order.
func (v *View[T]) Dependencies() []Identity {
	return append([]Identity(nil), v.deps...)
}

func (v *View[T]) routes() []*route {
	return v.rts
}

func (v *View[T]) constructor() viewConstructor {
	return v.ctor
}

// handlerName turns "pkg.(*UserView).List-fm" style names into "List".
func handlerName(fn interface{}) string {
	f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if f == nil {
		return "handler"
	}
	name := strings.TrimSuffix(f.Name(), "-fm")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
