package unison

import (
	"fmt"
	"reflect"
	"sync"
)

// Identity is the key used to look up injectables and permissions.
// Identities are derived from Go types or from explicit names and are
// stable for the life of the process.
type Identity int

var (
	identityLock sync.Mutex
	lastIdentity Identity
)

var (
	typeIdentity = make(map[reflect.Type]Identity)
	nameIdentity = make(map[string]Identity)
	reverseTypes = make(map[Identity]reflect.Type)
	reverseNames = make(map[Identity]string)
)

// IdentityOf maps a Go type to its Identity.  The argument may be a
// reflect.Type or an example value of the type.
func IdentityOf(a interface{}) Identity {
	if a == nil {
		panic("nil has no type")
	}
	t, isType := a.(reflect.Type)
	if !isType {
		t = reflect.TypeOf(a)
	}
	identityLock.Lock()
	defer identityLock.Unlock()
	if id, ok := typeIdentity[t]; ok {
		return id
	}
	lastIdentity++
	typeIdentity[t] = lastIdentity
	reverseTypes[lastIdentity] = t
	return lastIdentity
}

// IdentityFor returns the Identity of T.  Unlike IdentityOf it works for
// interface types:
//
//	IdentityFor[io.Writer]()
func IdentityFor[T any]() Identity {
	return IdentityOf(reflect.TypeOf((*T)(nil)).Elem())
}

// NamedIdentity returns the Identity registered under name, creating it
// on first use.  Named identities let two dependencies of the same type
// be told apart.
func NamedIdentity(name string) Identity {
	if name == "" {
		panic("named identity requires a name")
	}
	identityLock.Lock()
	defer identityLock.Unlock()
	if id, ok := nameIdentity[name]; ok {
		return id
	}
	lastIdentity++
	nameIdentity[name] = lastIdentity
	reverseNames[lastIdentity] = name
	return lastIdentity
}

// Type returns the reflect.Type this Identity was derived from, or nil for
// named identities.
func (id Identity) Type() reflect.Type {
	identityLock.Lock()
	defer identityLock.Unlock()
	return reverseTypes[id]
}

// Valid reports whether id was produced by IdentityOf or NamedIdentity.
func (id Identity) Valid() bool {
	identityLock.Lock()
	defer identityLock.Unlock()
	if _, ok := reverseTypes[id]; ok {
		return true
	}
	_, ok := reverseNames[id]
	return ok
}

func (id Identity) String() string {
	identityLock.Lock()
	defer identityLock.Unlock()
	if t, ok := reverseTypes[id]; ok {
		return t.String()
	}
	if name, ok := reverseNames[id]; ok {
		return name
	}
	return fmt.Sprintf("identity(%d)", int(id))
}
