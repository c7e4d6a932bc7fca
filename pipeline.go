package unison

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/rs/zerolog"
)

// Outcome is the stage at which a request left the pipeline.
type Outcome string

const (
	OutcomeMissingQuery  Outcome = "missing_query"
	OutcomeMissingHeader Outcome = "missing_header"
	OutcomeMissingBody   Outcome = "missing_body"
	OutcomeRejected      Outcome = "rejected"
	OutcomeInvoked       Outcome = "invoked"
	OutcomeFailed        Outcome = "failed"
)

// Observer is told how every dispatched request ended.
type Observer interface {
	Observe(route RouteInfo, outcome Outcome, elapsed time.Duration)
}

// ObserverFunc adapts a func to Observer.
type ObserverFunc func(route RouteInfo, outcome Outcome, elapsed time.Duration)

func (f ObserverFunc) Observe(route RouteInfo, outcome Outcome, elapsed time.Duration) {
	f(route, outcome, elapsed)
}

type nopObserver struct{}

func (nopObserver) Observe(RouteInfo, Outcome, time.Duration) {}

var missingOutcomes = map[ParameterSource]Outcome{
	SourceQuery:  OutcomeMissingQuery,
	SourceHeader: OutcomeMissingHeader,
	SourceBody:   OutcomeMissingBody,
}

// endpoint is one route compiled against a set of Injectables.
type endpoint struct {
	info         RouteInfo
	requirements Requirements
	permissions  []Permission
	ctor         viewConstructor
	args         []reflect.Value
	invoke       func(view interface{}, w http.ResponseWriter, r *http.Request) error
	observer     Observer
	logger       zerolog.Logger
}

// resolveArguments looks up a view's constructor dependencies, in order.
// Lookups happen once; every request reuses the same singletons.
func resolveArguments(view ViewDescriptor, inj *Injectables, lenient bool, logger zerolog.Logger) ([]reflect.Value, error) {
	ctor := view.constructor()
	deps := view.Dependencies()
	args := make([]reflect.Value, len(deps))
	var errs []error
	for i, id := range deps {
		want := ctor.params[i]
		v, ok := inj.Get(id)
		if !ok {
			if lenient {
				logger.Warn().
					Str("view", view.Name()).
					Int("position", i).
					Str("identity", id.String()).
					Msg("Injecting zero value for unresolved dependency")
				args[i] = reflect.Zero(want)
				continue
			}
			errs = append(errs, &UnresolvedDependencyError{Owner: view.Name(), Identity: id, Position: i})
			continue
		}
		rv := reflect.ValueOf(v)
		if !rv.IsValid() {
			args[i] = reflect.Zero(want)
			continue
		}
		if !rv.Type().AssignableTo(want) {
			errs = append(errs, &DependencyTypeError{
				Owner:    view.Name(),
				Identity: id,
				Position: i,
				Have:     rv.Type(),
				Want:     want,
			})
			continue
		}
		args[i] = rv
	}
	return args, errors.Join(errs...)
}

// resolvePermissions looks up a route's permissions.  A missing permission
// is always an error: there is no safe zero value for a guard.
func resolvePermissions(owner string, ids []Identity, inj *Injectables) ([]Permission, error) {
	perms := make([]Permission, 0, len(ids))
	var errs []error
	for i, id := range ids {
		v, ok := inj.Get(id)
		if !ok {
			errs = append(errs, &UnresolvedDependencyError{Owner: owner, Identity: id, Position: i})
			continue
		}
		p, isPerm := v.(Permission)
		if !isPerm {
			errs = append(errs, fmt.Errorf("%s: %s (%T): %w", owner, id, v, ErrNotPermission))
			continue
		}
		perms = append(perms, p)
	}
	return perms, errors.Join(errs...)
}

func routeInfo(view ViewDescriptor, rt *route) RouteInfo {
	info := RouteInfo{
		View:    view.Name(),
		Handler: rt.name,
		Method:  rt.descriptor.Method,
		Path:    ComposeURI(view.Base(), rt.descriptor.Path),
		Query:   rt.requirements.Query,
		Headers: rt.requirements.Headers,
		Body:    rt.requirements.Body,
	}
	for _, id := range rt.permissions {
		info.Permissions = append(info.Permissions, id.String())
	}
	return info
}

// serve runs the pipeline: query, headers, body, permissions, then the
// view method on a freshly constructed view.
func (e *endpoint) serve(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	start := time.Now()
	outcome, result, err := e.run(w, r)
	e.observer.Observe(e.info, outcome, time.Since(start))
	return result, err
}

func (e *endpoint) run(w http.ResponseWriter, r *http.Request) (Outcome, interface{}, error) {
	if len(e.requirements.Query) > 0 {
		query := r.URL.Query()
		for _, name := range e.requirements.Query {
			if !query.Has(name) {
				return e.missing(w, SourceQuery, name)
			}
		}
	}

	for _, name := range e.requirements.Headers {
		if !hasHeader(r, name) {
			return e.missing(w, SourceHeader, name)
		}
	}

	if len(e.requirements.Body) > 0 {
		body, err := BodyFrom(r)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeBodyError(w, err)
			return OutcomeFailed, nil, nil
		}
		if err != nil {
			return OutcomeFailed, nil, fmt.Errorf("%s %s: read body: %w", e.info.Method, e.info.Path, err)
		}
		for _, name := range e.requirements.Body {
			if !body.Has(name) {
				return e.missing(w, SourceBody, name)
			}
		}
	}

	if result, allowed := evaluatePermissions(e.permissions, w, r); !allowed {
		return OutcomeRejected, result, nil
	}

	view, err := e.construct()
	if err != nil {
		return OutcomeFailed, nil, err
	}
	if err := e.invoke(view, w, r); err != nil {
		return OutcomeFailed, nil, err
	}
	return OutcomeInvoked, nil, nil
}

func (e *endpoint) missing(w http.ResponseWriter, source ParameterSource, name string) (Outcome, interface{}, error) {
	err := &MissingParameterError{Source: source, Name: name}
	e.logger.Debug().
		Str("method", string(e.info.Method)).
		Str("path", e.info.Path).
		Msg(err.Error())
	WriteFailure(w, err.Error())
	return missingOutcomes[source], nil, nil
}

func (e *endpoint) construct() (interface{}, error) {
	out := e.ctor.fn.Call(e.args)
	if e.ctor.returnsError && !out[1].IsNil() {
		return nil, fmt.Errorf("construct %s: %w", e.info.View, out[1].Interface().(error))
	}
	return out[0].Interface(), nil
}

func hasHeader(r *http.Request, name string) bool {
	if http.CanonicalHeaderKey(name) == "Host" {
		return r.Host != ""
	}
	return len(r.Header.Values(name)) > 0
}
