package unison

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/rs/zerolog"
)

// Declaration pairs a token with the value used to satisfy it.  Use may be
// a ready-made value, the result of Class, or the result of Factory.
type Declaration struct {
	Token Identity
	Use   interface{}
}

// Provide is shorthand for Declaration{Token: token, Use: use}.
func Provide(token Identity, use interface{}) Declaration {
	return Declaration{Token: token, Use: use}
}

type class struct {
	t reflect.Type
}

type factory struct {
	fn reflect.Value
}

// Class marks T as a type to be instantiated with no arguments when the
// declaration is resolved.  The stored instance is always a pointer: *T,
// or T itself when T is already a pointer type.
func Class[T any]() interface{} {
	return class{t: reflect.TypeOf((*T)(nil)).Elem()}
}

// Factory marks fn as a constructor to call when the declaration is
// resolved.  fn must be func() V or func() (V, error).
func Factory(fn interface{}) interface{} {
	return factory{fn: reflect.ValueOf(fn)}
}

// Injectables is the resolved dependency container.  It is built once by
// Resolve and never modified afterwards, so concurrent reads are safe.
type Injectables struct {
	values map[Identity]interface{}
}

// Get returns the singleton stored for id.
func (i *Injectables) Get(id Identity) (interface{}, bool) {
	if i == nil {
		return nil, false
	}
	v, ok := i.values[id]
	return v, ok
}

// Has reports whether id has an entry.
func (i *Injectables) Has(id Identity) bool {
	_, ok := i.Get(id)
	return ok
}

// Len returns the number of entries.
func (i *Injectables) Len() int {
	if i == nil {
		return 0
	}
	return len(i.values)
}

// Identities returns the stored identities ordered by name.
func (i *Injectables) Identities() []Identity {
	if i == nil {
		return nil
	}
	ids := make([]Identity, 0, len(i.values))
	for id := range i.values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool {
		return ids[a].String() < ids[b].String()
	})
	return ids
}

// Resolve turns declarations into Injectables.  Declarations are processed
// in order and a later declaration for the same token replaces an earlier
// one.  Resolution is one level deep: classes are instantiated without
// arguments and factories are called without arguments.
func Resolve(decls ...Declaration) (*Injectables, error) {
	return ResolveWithLogger(zerolog.Nop(), decls...)
}

// ResolveWithLogger is Resolve with debug logging of each resolved token.
func ResolveWithLogger(logger zerolog.Logger, decls ...Declaration) (*Injectables, error) {
	values := make(map[Identity]interface{}, len(decls))
	for i, d := range decls {
		if d.Token == 0 || !d.Token.Valid() {
			return nil, fmt.Errorf("declaration #%d: zero token: %w", i, ErrInvalidDeclaration)
		}
		v, err := instantiate(d)
		if err != nil {
			return nil, fmt.Errorf("declaration #%d (%s): %w", i, d.Token, err)
		}
		if _, shadowed := values[d.Token]; shadowed {
			logger.Debug().Str("token", d.Token.String()).Msg("Declaration replaces earlier entry")
		}
		values[d.Token] = v
		logger.Debug().
			Str("token", d.Token.String()).
			Str("type", fmt.Sprintf("%T", v)).
			Msg("Resolved injectable")
	}
	return &Injectables{values: values}, nil
}

func instantiate(d Declaration) (interface{}, error) {
	switch use := d.Use.(type) {
	case nil:
		return nil, fmt.Errorf("nil use: %w", ErrInvalidDeclaration)
	case class:
		t := use.t
		if t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		if t.Kind() == reflect.Interface {
			return nil, fmt.Errorf("cannot instantiate interface %s: %w", t, ErrInvalidDeclaration)
		}
		return reflect.New(t).Interface(), nil
	case factory:
		return callFactory(use.fn)
	default:
		return use, nil
	}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func callFactory(fn reflect.Value) (interface{}, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, fmt.Errorf("factory is not a func: %w", ErrInvalidDeclaration)
	}
	ft := fn.Type()
	if ft.NumIn() != 0 {
		return nil, fmt.Errorf("factory %s takes arguments: %w", ft, ErrInvalidDeclaration)
	}
	switch {
	case ft.NumOut() == 1 && ft.Out(0) != errorType:
		return fn.Call(nil)[0].Interface(), nil
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
		out := fn.Call(nil)
		if !out[1].IsNil() {
			return nil, out[1].Interface().(error)
		}
		return out[0].Interface(), nil
	default:
		return nil, fmt.Errorf("factory %s must return V or (V, error): %w", ft, ErrInvalidDeclaration)
	}
}
