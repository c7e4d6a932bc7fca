package unison_test

import (
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	"github.com/jacobclevenger/unison"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingView struct{ cfg *testConfig }

func newPingView(cfg *testConfig) *pingView { return &pingView{cfg: cfg} }

func (v *pingView) Ping(w http.ResponseWriter, r *http.Request) error {
	unison.WriteJSON(w, map[string]string{"pong": v.cfg.env})
	return nil
}

func pingApp(name string) *unison.App {
	return unison.NewApp(name).
		Provide(unison.IdentityFor[*testConfig](), unison.Factory(func() *testConfig {
			return &testConfig{env: name}
		})).
		Register(unison.NewView[pingView]("/", newPingView).Get("/ping", (*pingView).Ping))
}

func TestAppStart(t *testing.T) {
	t.Parallel()
	app := pingApp("start")
	assert.False(t, app.Started())

	router := mux.NewRouter()
	d, inj, err := app.StartWithMux(router)
	require.NoError(t, err)
	assert.True(t, app.Started())
	assert.True(t, inj.Has(unison.IdentityFor[*testConfig]()))
	require.Len(t, d.Routes(), 1)
	assert.Equal(t, "Ping", d.Routes()[0].Handler)
	assert.JSONEq(t, `{"pong":"start"}`, do(router, "GET", "/ping", "", nil).Body.String())

	_, _, err = app.StartWithMux(mux.NewRouter())
	assert.ErrorIs(t, err, unison.ErrAlreadyStarted)
}

func TestAppMisconfigured(t *testing.T) {
	t.Parallel()
	var nilApp *unison.App
	_, _, err := nilApp.StartWithMux(mux.NewRouter())
	assert.ErrorIs(t, err, unison.ErrMisconfiguredApplication)

	_, _, err = unison.NewApp("empty").StartWithMux(mux.NewRouter())
	assert.ErrorIs(t, err, unison.ErrMisconfiguredApplication)

	closed := pingApp("closed")
	closed.Close()
	assert.Empty(t, closed.Views())
	assert.Empty(t, closed.Declarations())
	_, _, err = closed.StartWithMux(mux.NewRouter())
	assert.ErrorIs(t, err, unison.ErrMisconfiguredApplication)
}

func TestAppStartUnresolved(t *testing.T) {
	t.Parallel()
	app := unison.NewApp("unresolved").
		Register(unison.NewView[pingView]("/", newPingView).Get("/ping", (*pingView).Ping))
	router := mux.NewRouter()
	_, _, err := app.StartWithMux(router)
	assert.ErrorIs(t, err, unison.ErrUnresolvedDependency)
	assert.False(t, app.Started())
	assert.Equal(t, http.StatusNotFound, do(router, "GET", "/ping", "", nil).Code)
}

func TestAppLateRegistration(t *testing.T) {
	t.Parallel()
	app := pingApp("late")
	router := mux.NewRouter()
	d, _, err := app.StartWithMux(router)
	require.NoError(t, err)

	app.Register(unison.NewView[pingView]("/late", newPingView).Get("", (*pingView).Ping))
	assert.Len(t, d.Routes(), 2)
	assert.Len(t, app.Views(), 2)
	assert.JSONEq(t, `{"pong":"late"}`, do(router, "GET", "/late/", "", nil).Body.String())

	assert.Panics(t, func() {
		app.Register(unison.NewView[userView]("/bad", func(l *testLogger) *userView { return nil }).
			Get("/", func(*userView, http.ResponseWriter, *http.Request) error { return nil }))
	})
	assert.Len(t, app.Views(), 2, "unbound view is not recorded")
	assert.Len(t, d.Routes(), 2)
}

func TestAppDeclarationOrder(t *testing.T) {
	t.Parallel()
	token := unison.IdentityFor[*testConfig]()
	app := pingApp("first").
		Provide(token, &testConfig{env: "second"})
	decls := app.Declarations()
	require.Len(t, decls, 2)
	assert.Equal(t, token, decls[1].Token)

	router := mux.NewRouter()
	_, _, err := app.Start(unison.MuxBinder(router))
	require.NoError(t, err)
	assert.JSONEq(t, `{"pong":"second"}`, do(router, "GET", "/ping", "", nil).Body.String())
}
