// Package demo is a small application built on unison: a health check and
// a user API whose changes are pushed to socket clients.
package demo

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jacobclevenger/unison"
	"github.com/jacobclevenger/unison/permissions"
	"github.com/jacobclevenger/unison/socket"
	"github.com/rs/zerolog"
)

// Issuer is the issuer claim of the demo's bearer tokens.
const Issuer = "unison-demo"

// Socket events.
const (
	EventUserCreated = "user.created"
	EventUserDeleted = "user.deleted"
	EventListUsers   = "users.list"
)

// Identities of the demo's injectables.
var (
	StoreToken   = unison.IdentityFor[*UserStore]()
	AuthToken    = unison.IdentityFor[*permissions.BearerToken]()
	LoggerToken  = unison.IdentityFor[zerolog.Logger]()
	StartedToken = unison.NamedIdentity("demo.started")
)

// Options configure the demo app.
type Options struct {
	// Secret signs and verifies bearer tokens.
	Secret []byte
	Logger zerolog.Logger
}

// NewApp declares the demo's injectables and views.
func NewApp(opts Options) *unison.App {
	return unison.NewApp("demo").
		Provide(StoreToken, unison.Class[UserStore]()).
		Provide(AuthToken, unison.Factory(func() (*permissions.BearerToken, error) {
			if len(opts.Secret) == 0 {
				return nil, errors.New("demo: token secret is required")
			}
			return permissions.NewBearerToken(opts.Secret,
				permissions.WithIssuer(Issuer),
				permissions.WithLogger(opts.Logger)), nil
		})).
		Provide(LoggerToken, opts.Logger).
		Provide(StartedToken, unison.Factory(func() time.Time { return time.Now() })).
		Register(HealthViewDescriptor(), UserViewDescriptor())
}

// HealthView reports liveness.
type HealthView struct {
	started time.Time
}

// HealthViewDescriptor declares GET /health.
func HealthViewDescriptor() *unison.View[HealthView] {
	return unison.NewView[HealthView]("/", func(started time.Time) *HealthView {
		return &HealthView{started: started}
	}).Inject(StartedToken).
		Get("/health", (*HealthView).Health)
}

func (v *HealthView) Health(w http.ResponseWriter, r *http.Request) error {
	unison.WriteJSON(w, map[string]interface{}{
		"success": true,
		"status":  "ok",
		"uptime":  time.Since(v.started).Round(time.Second).String(),
	})
	return nil
}

// UserView serves the user API.
type UserView struct {
	store  *UserStore
	socket *socket.Server
	auth   *permissions.BearerToken
	logger zerolog.Logger
}

// NewUserView builds a UserView from its singletons.
func NewUserView(store *UserStore, sock *socket.Server, auth *permissions.BearerToken, logger zerolog.Logger) *UserView {
	return &UserView{store: store, socket: sock, auth: auth, logger: logger}
}

// UserViewDescriptor declares the /api/users routes.
func UserViewDescriptor() *unison.View[UserView] {
	return unison.NewView[UserView]("/api/", NewUserView).
		Get("/users", (*UserView).List).
		Get("/users/search", (*UserView).Search, unison.RequireQuery("name")).
		Get("/users/{id}", (*UserView).Get).
		Post("/users", (*UserView).Create,
			unison.RequireHeaders("Content-Type"),
			unison.RequireBody("name")).
		Delete("/users/{id}", (*UserView).Delete, unison.Permissions(AuthToken))
}

type result struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	unison.WriteJSON(w, result{Success: true, Data: data})
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	unison.WriteJSON(w, unison.Fail("User not found"))
}

func (v *UserView) List(w http.ResponseWriter, r *http.Request) error {
	respond(w, http.StatusOK, v.store.List(""))
	return nil
}

func (v *UserView) Search(w http.ResponseWriter, r *http.Request) error {
	respond(w, http.StatusOK, v.store.List(r.URL.Query().Get("name")))
	return nil
}

func (v *UserView) Get(w http.ResponseWriter, r *http.Request) error {
	u, err := v.store.Get(mux.Vars(r)["id"])
	if errors.Is(err, ErrUserNotFound) {
		notFound(w)
		return nil
	}
	if err != nil {
		return err
	}
	respond(w, http.StatusOK, u)
	return nil
}

func (v *UserView) Create(w http.ResponseWriter, r *http.Request) error {
	body, err := unison.BodyFrom(r)
	if err != nil {
		return err
	}
	name, _ := body.Value("name")
	email, _ := body.Value("email")
	if name == "" {
		unison.WriteFailure(w, "Name must not be empty")
		return nil
	}

	u := v.store.Create(name, email)
	v.logger.Info().Str("user_id", u.ID).Msg("User created")
	if err := v.socket.Broadcast(EventUserCreated, u); err != nil {
		v.logger.Warn().Err(err).Msg("Broadcast failed")
	}
	respond(w, http.StatusCreated, u)
	return nil
}

func (v *UserView) Delete(w http.ResponseWriter, r *http.Request) error {
	claims, err := v.auth.Claims(r)
	if err != nil {
		return err
	}
	u, err := v.store.Delete(mux.Vars(r)["id"])
	if errors.Is(err, ErrUserNotFound) {
		notFound(w)
		return nil
	}
	if err != nil {
		return err
	}
	v.logger.Info().
		Str("user_id", u.ID).
		Str("deleted_by", claims.Subject).
		Msg("User deleted")
	if err := v.socket.Broadcast(EventUserDeleted, u); err != nil {
		v.logger.Warn().Err(err).Msg("Broadcast failed")
	}
	respond(w, http.StatusOK, u)
	return nil
}

// Attach registers the demo's socket events.  inj must be the Injectables
// the demo app was started with.
func Attach(sock *socket.Server, inj *unison.Injectables) error {
	v, found := inj.Get(StoreToken)
	if !found {
		return &unison.UnresolvedDependencyError{Owner: "demo.Attach", Identity: StoreToken}
	}
	store := v.(*UserStore)
	sock.On(EventListUsers, func(c *socket.Client, data json.RawMessage) {
		var filter struct {
			Name string `json:"name"`
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &filter)
		}
		_ = c.Emit(EventListUsers, store.List(filter.Name))
	})
	return nil
}
