package unison_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/jacobclevenger/unison"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct{ name string }
type testConfig struct{ env string }

type userView struct {
	log *testLogger
	cfg *testConfig
}

// viewSpy records every view the constructor builds and every handler call.
type viewSpy struct {
	lock    sync.Mutex
	views   []*userView
	invoked int
}

func (s *viewSpy) constructor() func(*testLogger, *testConfig) *userView {
	return func(l *testLogger, c *testConfig) *userView {
		v := &userView{log: l, cfg: c}
		s.lock.Lock()
		s.views = append(s.views, v)
		s.lock.Unlock()
		return v
	}
}

func (s *viewSpy) handler() unison.Handler[userView] {
	return func(v *userView, w http.ResponseWriter, r *http.Request) error {
		s.lock.Lock()
		s.invoked++
		s.lock.Unlock()
		unison.WriteJSON(w, map[string]string{"env": v.cfg.env})
		return nil
	}
}

func (s *viewSpy) count() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.invoked
}

type countingPermission struct {
	allow   bool
	message string
	lock    sync.Mutex
	checks  int
	rejects int
}

func (p *countingPermission) Check(w http.ResponseWriter, r *http.Request) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.checks++
	return p.allow
}

func (p *countingPermission) Reject(w http.ResponseWriter, r *http.Request) interface{} {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.rejects++
	return unison.Fail(p.message)
}

type permA struct{ countingPermission }
type permB struct{ countingPermission }

var (
	loggerInstance = &testLogger{name: "main"}
	configInstance = &testConfig{env: "test"}
)

func baseDeclarations() []unison.Declaration {
	return []unison.Declaration{
		unison.Provide(unison.IdentityFor[*testLogger](), loggerInstance),
		unison.Provide(unison.IdentityFor[*testConfig](), configInstance),
	}
}

func startRouter(t *testing.T, inj *unison.Injectables, views ...unison.ViewDescriptor) *mux.Router {
	t.Helper()
	router := mux.NewRouter()
	require.NoError(t, unison.RegisterAll(views, inj, router))
	return router
}

func resolve(t *testing.T, decls ...unison.Declaration) *unison.Injectables {
	t.Helper()
	inj, err := unison.Resolve(decls...)
	require.NoError(t, err)
	return inj
}

func do(h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func failureOf(t *testing.T, rec *httptest.ResponseRecorder) unison.Failure {
	t.Helper()
	var f unison.Failure
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &f), rec.Body.String())
	return f
}

func TestMissingQueryParameter(t *testing.T) {
	t.Parallel()
	spy := &viewSpy{}
	view := unison.NewView[userView]("/api/", spy.constructor()).
		Get("/users", spy.handler(), unison.RequireQuery("id"))
	router := startRouter(t, resolve(t, baseDeclarations()...), view)

	rec := do(router, "GET", "/api/users", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Missing Query Parameter: id"}`, rec.Body.String())
	assert.Equal(t, 0, spy.count())
	assert.Empty(t, spy.views)

	rec = do(router, "GET", "/api/users?id=", "", nil)
	assert.JSONEq(t, `{"env":"test"}`, rec.Body.String())
	assert.Equal(t, 1, spy.count())
}

func TestOversizedBodyIsRejected(t *testing.T) {
	t.Parallel()
	spy := &viewSpy{}
	view := unison.NewView[userView]("/api", spy.constructor()).
		Post("/users", spy.handler(), unison.RequireBody("name"))
	router := startRouter(t, resolve(t, baseDeclarations()...), view)
	form := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}

	rec := do(unison.ParseBody(16)(router), "POST", "/api/users", "name="+strings.Repeat("x", 40), form)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, spy.count())

	rec = do(router, "POST", "/api/users", "name="+strings.Repeat("x", int(unison.DefaultBodyLimit)), form)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "Request Entity Too Large", failureOf(t, rec).Error)
	assert.Equal(t, 0, spy.count())

	rec = do(unison.ParseBody(16)(router), "POST", "/api/users", "name=ada", form)
	assert.JSONEq(t, `{"env":"test"}`, rec.Body.String())
	assert.Equal(t, 1, spy.count())
}

func TestValidationOrder(t *testing.T) {
	t.Parallel()
	spy := &viewSpy{}
	deny := &permA{countingPermission{message: "denied"}}
	view := unison.NewView[userView]("/api", spy.constructor()).
		Post("/users", spy.handler(),
			unison.RequireQuery("q"),
			unison.RequireHeaders("X-Token"),
			unison.RequireBody("name"),
			unison.Permissions(unison.IdentityFor[*permA]()))
	decls := append(baseDeclarations(), unison.Provide(unison.IdentityFor[*permA](), deny))
	router := startRouter(t, resolve(t, decls...), view)

	cases := []struct {
		name    string
		target  string
		body    string
		headers map[string]string
		want    string
	}{
		{"all missing", "/api/users", "", nil, "Missing Query Parameter: q"},
		{"header and body missing", "/api/users?q=1", "", nil, "Missing Header Parameter: X-Token"},
		{"body missing", "/api/users?q=1", `{"other":1}`, map[string]string{"x-token": "t"}, "Missing Body Parameter: name"},
		{"permission denied", "/api/users?q=1", `{"name":null}`, map[string]string{"X-Token": "t"}, "denied"},
	}
	for _, c := range cases {
		rec := do(router, "POST", c.target, c.body, c.headers)
		f := failureOf(t, rec)
		assert.False(t, f.Success, c.name)
		assert.Equal(t, c.want, f.Error, c.name)
	}
	assert.Equal(t, 1, deny.checks)
	assert.Equal(t, 0, spy.count())
}

func TestPermissionsStopAtFirstFailure(t *testing.T) {
	t.Parallel()
	spy := &viewSpy{}
	a := &permA{countingPermission{allow: false, message: "A says no"}}
	b := &permB{countingPermission{allow: false, message: "B says no"}}
	view := unison.NewView[userView]("/", spy.constructor()).
		Get("guarded", spy.handler(), unison.Permissions(
			unison.IdentityFor[*permA](),
			unison.IdentityFor[*permB](),
		))
	decls := append(baseDeclarations(),
		unison.Provide(unison.IdentityFor[*permA](), a),
		unison.Provide(unison.IdentityFor[*permB](), b))
	router := startRouter(t, resolve(t, decls...), view)

	rec := do(router, "GET", "/guarded", "", nil)
	assert.Equal(t, "A says no", failureOf(t, rec).Error)
	assert.Equal(t, 1, a.checks)
	assert.Equal(t, 1, a.rejects)
	assert.Equal(t, 0, b.checks)
	assert.Equal(t, 0, b.rejects)
	assert.Equal(t, 0, spy.count())
}

func TestPermissionsAllPass(t *testing.T) {
	t.Parallel()
	spy := &viewSpy{}
	a := &permA{countingPermission{allow: true}}
	b := &permB{countingPermission{allow: true}}
	view := unison.NewView[userView]("/", spy.constructor()).
		Get("guarded", spy.handler(), unison.Permissions(
			unison.IdentityFor[*permA](),
			unison.IdentityFor[*permB](),
		))
	decls := append(baseDeclarations(),
		unison.Provide(unison.IdentityFor[*permA](), a),
		unison.Provide(unison.IdentityFor[*permB](), b))
	router := startRouter(t, resolve(t, decls...), view)

	rec := do(router, "GET", "/guarded", "", nil)
	assert.JSONEq(t, `{"env":"test"}`, rec.Body.String())
	assert.Equal(t, 1, a.checks)
	assert.Equal(t, 1, b.checks)
	assert.Equal(t, 1, spy.count())
}

type writingPermission struct{}

func (writingPermission) Check(http.ResponseWriter, *http.Request) bool { return false }
func (writingPermission) Reject(w http.ResponseWriter, r *http.Request) interface{} {
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte("forbidden"))
	return "ignored because the response was written"
}

func TestRejectWritingItsOwnResponse(t *testing.T) {
	t.Parallel()
	spy := &viewSpy{}
	view := unison.NewView[userView]("/", spy.constructor()).
		Get("/x", spy.handler(), unison.Permissions(unison.IdentityFor[writingPermission]()))
	decls := append(baseDeclarations(), unison.Provide(unison.IdentityFor[writingPermission](), writingPermission{}))
	router := startRouter(t, resolve(t, decls...), view)

	rec := do(router, "GET", "/x", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", rec.Body.String())
}

func TestFreshViewSharedSingletons(t *testing.T) {
	t.Parallel()
	spy := &viewSpy{}
	view := unison.NewView[userView]("/api/", spy.constructor()).Get("/users", spy.handler())
	router := startRouter(t, resolve(t, baseDeclarations()...), view)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			do(router, "GET", "/api/users", "", nil)
		}()
	}
	wg.Wait()

	require.Len(t, spy.views, 2)
	assert.NotSame(t, spy.views[0], spy.views[1])
	for _, v := range spy.views {
		assert.Same(t, loggerInstance, v.log)
		assert.Same(t, configInstance, v.cfg)
	}
}

func TestFullPathVariants(t *testing.T) {
	t.Parallel()
	for _, base := range []string{"/api", "/api/"} {
		for _, rel := range []string{"users", "/users"} {
			spy := &viewSpy{}
			view := unison.NewView[userView](base, spy.constructor()).Get(rel, spy.handler())
			router := mux.NewRouter()
			d := unison.NewDispatcher(unison.MuxBinder(router))
			require.NoError(t, d.RegisterAll([]unison.ViewDescriptor{view}, resolve(t, baseDeclarations()...)))

			routes := d.Routes()
			require.Len(t, routes, 1)
			assert.Equal(t, "/api/users", routes[0].Path)
			assert.Equal(t, http.StatusOK, do(router, "GET", "/api/users", "", nil).Code)
			assert.Equal(t, 1, spy.count(), "base %q route %q", base, rel)
		}
	}
}

func TestMethodBinding(t *testing.T) {
	t.Parallel()
	spy := &viewSpy{}
	view := unison.NewView[userView]("/", spy.constructor()).
		Get("/only-get", spy.handler()).
		Route(unison.All, "/any", spy.handler())
	router := startRouter(t, resolve(t, baseDeclarations()...), view)

	assert.Equal(t, http.StatusMethodNotAllowed, do(router, "POST", "/only-get", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(router, "DELETE", "/any", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(router, "PUT", "/any", "", nil).Code)
	assert.Equal(t, 2, spy.count())
}

func TestUnresolvedDependencyFailsRegistration(t *testing.T) {
	t.Parallel()
	spy := &viewSpy{}
	view := unison.NewView[userView]("/", spy.constructor()).Get("/users", spy.handler())
	inj := resolve(t, unison.Provide(unison.IdentityFor[*testLogger](), loggerInstance))

	router := mux.NewRouter()
	d := unison.NewDispatcher(unison.MuxBinder(router))
	err := d.RegisterAll([]unison.ViewDescriptor{view}, inj)
	require.Error(t, err)
	assert.ErrorIs(t, err, unison.ErrUnresolvedDependency)

	var unresolved *unison.UnresolvedDependencyError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, 1, unresolved.Position)
	assert.Equal(t, unison.IdentityFor[*testConfig](), unresolved.Identity)

	assert.Empty(t, d.Routes())
	assert.Equal(t, http.StatusNotFound, do(router, "GET", "/users", "", nil).Code)
}

func TestLenientInjectionPassesZeroValue(t *testing.T) {
	t.Parallel()
	var got *userView
	view := unison.NewView[userView]("/", func(l *testLogger, c *testConfig) *userView {
		got = &userView{log: l, cfg: c}
		return got
	}).Get("/users", func(v *userView, w http.ResponseWriter, r *http.Request) error {
		w.WriteHeader(http.StatusNoContent)
		return nil
	})
	inj := resolve(t, unison.Provide(unison.IdentityFor[*testLogger](), loggerInstance))

	router := mux.NewRouter()
	require.NoError(t, unison.RegisterAll([]unison.ViewDescriptor{view}, inj, router, unison.WithLenientInjection()))

	assert.Equal(t, http.StatusNoContent, do(router, "GET", "/users", "", nil).Code)
	require.NotNil(t, got)
	assert.Same(t, loggerInstance, got.log)
	assert.Nil(t, got.cfg)
}

func TestMissingPermissionFailsEvenWhenLenient(t *testing.T) {
	t.Parallel()
	spy := &viewSpy{}
	view := unison.NewView[userView]("/", spy.constructor()).
		Get("/users", spy.handler(), unison.Permissions(unison.IdentityFor[*permB]()))
	err := unison.RegisterAll([]unison.ViewDescriptor{view}, resolve(t, baseDeclarations()...),
		mux.NewRouter(), unison.WithLenientInjection())
	assert.ErrorIs(t, err, unison.ErrUnresolvedDependency)
}

func TestNotAPermission(t *testing.T) {
	t.Parallel()
	spy := &viewSpy{}
	view := unison.NewView[userView]("/", spy.constructor()).
		Get("/users", spy.handler(), unison.Permissions(unison.IdentityFor[*testConfig]()))
	err := unison.RegisterAll([]unison.ViewDescriptor{view}, resolve(t, baseDeclarations()...), mux.NewRouter())
	assert.ErrorIs(t, err, unison.ErrNotPermission)
}

func TestShadowedDeclarationWithWrongType(t *testing.T) {
	t.Parallel()
	spy := &viewSpy{}
	view := unison.NewView[userView]("/", spy.constructor()).Get("/users", spy.handler())
	decls := append(baseDeclarations(), unison.Provide(unison.IdentityFor[*testConfig](), "not a config"))
	err := unison.RegisterAll([]unison.ViewDescriptor{view}, resolve(t, decls...), mux.NewRouter())

	var typeErr *unison.DependencyTypeError
	require.True(t, errors.As(err, &typeErr), "%v", err)
	assert.Equal(t, 1, typeErr.Position)
}

type pairView struct{ primary, replica string }

func TestExplicitInjectManifest(t *testing.T) {
	t.Parallel()
	primary := unison.NamedIdentity("dispatcher-test-primary")
	replica := unison.NamedIdentity("dispatcher-test-replica")
	view := unison.NewView[pairView]("/db", func(p, r string) *pairView {
		return &pairView{primary: p, replica: r}
	}).Inject(primary, replica).
		Get("/", func(v *pairView, w http.ResponseWriter, r *http.Request) error {
			unison.WriteJSON(w, []string{v.primary, v.replica})
			return nil
		})
	assert.Equal(t, []unison.Identity{primary, replica}, view.Dependencies())

	router := startRouter(t, resolve(t,
		unison.Provide(primary, "db-1"),
		unison.Provide(replica, "db-2"),
	), view)
	assert.JSONEq(t, `["db-1","db-2"]`, do(router, "GET", "/db/", "", nil).Body.String())

	assert.Panics(t, func() { unison.NewView[pairView]("/", func(p, r string) *pairView { return nil }).Inject(primary) })
}

func TestHandlerErrorGoesToErrorHandler(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	view := unison.NewView[userView]("/", nil).
		Get("/fail", func(v *userView, w http.ResponseWriter, r *http.Request) error { return boom })

	router := startRouter(t, resolve(t), view)
	rec := do(router, "GET", "/fail", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", failureOf(t, rec).Error)

	var seen error
	custom := mux.NewRouter()
	require.NoError(t, unison.RegisterAll([]unison.ViewDescriptor{view}, resolve(t), custom,
		unison.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			seen = err
			w.WriteHeader(http.StatusTeapot)
		})))
	assert.Equal(t, http.StatusTeapot, do(custom, "GET", "/fail", "", nil).Code)
	assert.ErrorIs(t, seen, boom)
}

func TestConstructorError(t *testing.T) {
	t.Parallel()
	boom := errors.New("no view today")
	view := unison.NewView[userView]("/", func() (*userView, error) { return nil, boom }).
		Get("/x", func(v *userView, w http.ResponseWriter, r *http.Request) error { return nil })

	var seen error
	router := mux.NewRouter()
	require.NoError(t, unison.RegisterAll([]unison.ViewDescriptor{view}, resolve(t), router,
		unison.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) { seen = err })))
	do(router, "GET", "/x", "", nil)
	assert.ErrorIs(t, seen, boom)
}

func TestBadConstructorsPanic(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { unison.NewView[userView]("/", 42) })
	assert.Panics(t, func() { unison.NewView[userView]("/", func() userView { return userView{} }) })
	assert.Panics(t, func() { unison.NewView[userView]("/", func(...int) *userView { return nil }) })
	assert.Panics(t, func() { unison.NewView[userView]("/", nil).Get("/", nil) })
}

func TestObserverOutcomes(t *testing.T) {
	t.Parallel()
	var lock sync.Mutex
	var outcomes []unison.Outcome
	observer := unison.ObserverFunc(func(route unison.RouteInfo, outcome unison.Outcome, elapsed time.Duration) {
		lock.Lock()
		defer lock.Unlock()
		assert.Equal(t, "/o", route.Path)
		outcomes = append(outcomes, outcome)
	})
	spy := &viewSpy{}
	view := unison.NewView[userView]("/", spy.constructor()).
		Post("/o", spy.handler(), unison.RequireQuery("q"), unison.RequireHeaders("H"), unison.RequireBody("b"))
	router := mux.NewRouter()
	require.NoError(t, unison.RegisterAll([]unison.ViewDescriptor{view}, resolve(t, baseDeclarations()...), router,
		unison.WithObserver(observer)))

	do(router, "POST", "/o", "", nil)
	do(router, "POST", "/o?q", "", nil)
	do(router, "POST", "/o?q", "", map[string]string{"H": "1"})
	do(router, "POST", "/o?q", "b=1", map[string]string{"H": "1", "Content-Type": "application/x-www-form-urlencoded"})

	assert.Equal(t, []unison.Outcome{
		unison.OutcomeMissingQuery,
		unison.OutcomeMissingHeader,
		unison.OutcomeMissingBody,
		unison.OutcomeInvoked,
	}, outcomes)
}

func TestServeMuxBinder(t *testing.T) {
	t.Parallel()
	spy := &viewSpy{}
	view := unison.NewView[userView]("/api/", spy.constructor()).
		Get("/users", spy.handler(), unison.Named("ListUsers"))
	m := http.NewServeMux()
	d := unison.NewDispatcher(unison.ServeMuxBinder(m))
	require.NoError(t, d.RegisterAll([]unison.ViewDescriptor{view}, resolve(t, baseDeclarations()...)))

	assert.Equal(t, http.StatusOK, do(m, "GET", "/api/users", "", nil).Code)
	assert.Equal(t, "ListUsers", d.Routes()[0].Handler)
	assert.Equal(t, "unison_test.userView", d.Routes()[0].View)
}
