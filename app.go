package unison

import (
	"fmt"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// App is the registry of an application's descriptors: its dependency
// declarations and its views.  Nothing is resolved or bound until Start.
// An App replaces process-wide metadata; it is built at bootstrap and
// discarded with Close.
type App struct {
	Name         string
	declarations []Declaration
	views        []ViewDescriptor
	started      *Dispatcher
	injectables  *Injectables
	closed       bool
	lock         sync.Mutex
}

// NewApp creates an empty application registry.
//
// The name of the app is used for log messages and is otherwise irrelevant.
func NewApp(name string) *App {
	return &App{Name: name}
}

// Provide declares an injectable for token.  See Declaration for the
// accepted forms of use.
func (a *App) Provide(token Identity, use interface{}) *App {
	return a.Declare(Provide(token, use))
}

// Declare appends dependency declarations.  Later declarations for the
// same token win.
func (a *App) Declare(decls ...Declaration) *App {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.declarations = append(a.declarations, decls...)
	return a
}

// Register adds views to the application.  If the app has already been
// started, the views are bound immediately and Register panics if they
// cannot be; views that fail to bind are not recorded.
func (a *App) Register(views ...ViewDescriptor) *App {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.started != nil {
		if err := a.started.RegisterAll(views, a.injectables); err != nil {
			panic(fmt.Sprintf("app %q: late registration: %v", a.Name, err))
		}
	}
	a.views = append(a.views, views...)
	return a
}

// Views returns the registered views.
func (a *App) Views() []ViewDescriptor {
	a.lock.Lock()
	defer a.lock.Unlock()
	return append([]ViewDescriptor(nil), a.views...)
}

// Declarations returns the dependency declarations in order.
func (a *App) Declarations() []Declaration {
	a.lock.Lock()
	defer a.lock.Unlock()
	return append([]Declaration(nil), a.declarations...)
}

// Start resolves the declarations and binds every view through binder.
// Start may only be called once.
func (a *App) Start(binder EndpointBinder, opts ...Option) (*Dispatcher, *Injectables, error) {
	if a == nil {
		return nil, nil, fmt.Errorf("nil app: %w", ErrMisconfiguredApplication)
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.closed {
		return nil, nil, fmt.Errorf("app %q is closed: %w", a.Name, ErrMisconfiguredApplication)
	}
	if len(a.views) == 0 {
		return nil, nil, fmt.Errorf("app %q has no views: %w", a.Name, ErrMisconfiguredApplication)
	}
	if a.started != nil {
		return nil, nil, fmt.Errorf("app %q: %w", a.Name, ErrAlreadyStarted)
	}

	d := NewDispatcher(binder, opts...)
	logger := d.logger.With().Str("app", a.Name).Logger()
	inj, err := ResolveWithLogger(logger, a.declarations...)
	if err != nil {
		return nil, nil, fmt.Errorf("app %q: resolve: %w", a.Name, err)
	}
	if err := d.RegisterAll(a.views, inj); err != nil {
		return nil, nil, fmt.Errorf("app %q: register: %w", a.Name, err)
	}
	a.started = d
	a.injectables = inj
	return d, inj, nil
}

// StartWithMux starts the app on a gorilla mux router.
func (a *App) StartWithMux(router *mux.Router, opts ...Option) (*Dispatcher, *Injectables, error) {
	return a.Start(MuxBinder(router), opts...)
}

// Started reports whether Start has succeeded.
func (a *App) Started() bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.started != nil
}

// Close drops the registry's descriptors.  Routes already bound keep
// working; the app cannot be started afterwards.
func (a *App) Close() {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.declarations = nil
	a.views = nil
	a.closed = true
}

// Logger returns a logger annotated with the app name, for bootstrap code.
func (a *App) Logger(base zerolog.Logger) zerolog.Logger {
	return base.With().Str("app", a.Name).Logger()
}
