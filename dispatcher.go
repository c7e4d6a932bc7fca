package unison

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// EndpointBinder attaches a handler to a transport at (method, path).
type EndpointBinder func(method Method, path string, fn http.HandlerFunc)

// MuxBinder binds endpoints with gorilla mux.Router.HandleFunc.
func MuxBinder(router *mux.Router) EndpointBinder {
	return func(method Method, path string, fn http.HandlerFunc) {
		route := router.HandleFunc(path, fn)
		if method != All {
			route.Methods(string(method))
		}
	}
}

// ServeMuxBinder binds endpoints with method-qualified http.ServeMux
// patterns.  Registering the same pattern twice panics, as ServeMux does.
func ServeMuxBinder(m *http.ServeMux) EndpointBinder {
	return func(method Method, path string, fn http.HandlerFunc) {
		pattern := path
		if method != All {
			pattern = string(method) + " " + path
		}
		m.HandleFunc(pattern, fn)
	}
}

// ErrorHandler receives errors returned by view constructors and handlers.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for registration and request failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithObserver reports the outcome of every request to o.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithLenientInjection injects the zero value for constructor dependencies
// that have no injectable instead of failing registration.
func WithLenientInjection() Option {
	return func(d *Dispatcher) { d.lenient = true }
}

// WithErrorHandler replaces the default handler-error response.
func WithErrorHandler(h ErrorHandler) Option {
	return func(d *Dispatcher) {
		if h != nil {
			d.onError = h
		}
	}
}

// Dispatcher compiles views into endpoints and binds them.
type Dispatcher struct {
	binder   EndpointBinder
	logger   zerolog.Logger
	observer Observer
	lenient  bool
	onError  ErrorHandler
	lock     sync.Mutex
	bound    []RouteInfo
}

// NewDispatcher creates a Dispatcher that binds through binder.
func NewDispatcher(binder EndpointBinder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		binder:   binder,
		logger:   zerolog.Nop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.onError == nil {
		d.onError = d.defaultErrorHandler
	}
	return d
}

// RegisterAll binds a router to every route of every view, resolving
// constructor dependencies and permissions from inj.
func RegisterAll(views []ViewDescriptor, inj *Injectables, router *mux.Router, opts ...Option) error {
	return NewDispatcher(MuxBinder(router), opts...).RegisterAll(views, inj)
}

// RegisterAll compiles every route of views.  If any view has unresolved
// dependencies or permissions nothing is bound and the joined errors are
// returned.
func (d *Dispatcher) RegisterAll(views []ViewDescriptor, inj *Injectables) error {
	d.logger.Info().Int("views", len(views)).Msg("Registering routes")

	var endpoints []*endpoint
	var errs []error
	for _, view := range views {
		args, err := resolveArguments(view, inj, d.lenient, d.logger)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, rt := range view.routes() {
			info := routeInfo(view, rt)
			perms, err := resolvePermissions(view.Name()+"."+rt.name, rt.permissions, inj)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			endpoints = append(endpoints, &endpoint{
				info:         info,
				requirements: rt.requirements,
				permissions:  perms,
				ctor:         view.constructor(),
				args:         args,
				invoke:       rt.invoke,
				observer:     d.observer,
				logger:       d.logger,
			})
		}
	}
	if err := errors.Join(errs...); err != nil {
		d.logger.Error().Err(err).Msg("Route registration failed")
		return err
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	for _, e := range endpoints {
		d.binder(e.info.Method, e.info.Path, d.handlerFunc(e))
		d.bound = append(d.bound, e.info)
		d.logger.Debug().
			Str("method", string(e.info.Method)).
			Str("path", e.info.Path).
			Str("view", e.info.View).
			Str("handler", e.info.Handler).
			Msg("Registered route")
	}
	d.logger.Info().
		Int("views", len(views)).
		Int("routes", len(endpoints)).
		Msg("Registered routes")
	return nil
}

// Routes returns every route bound so far, in binding order.
func (d *Dispatcher) Routes() []RouteInfo {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]RouteInfo(nil), d.bound...)
}

func (d *Dispatcher) handlerFunc(e *endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tw := &trackingWriter{ResponseWriter: w}
		result, err := e.serve(tw, r)
		if err != nil {
			d.onError(tw, r, err)
			return
		}
		if result != nil && !tw.written {
			WriteJSON(tw, result)
		}
	}
}

func (d *Dispatcher) defaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	d.logger.Error().
		Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("Handler failed")
	if tw, ok := w.(*trackingWriter); ok && tw.written {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	WriteJSON(w, Fail(http.StatusText(http.StatusInternalServerError)))
}
