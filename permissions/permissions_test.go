package permissions_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/jacobclevenger/unison"
	"github.com/jacobclevenger/unison/permissions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestBearerTokenClaims(t *testing.T) {
	t.Parallel()
	b := permissions.NewBearerToken(secret, permissions.WithIssuer("unison"), permissions.WithRoles("admin"))
	admin, err := b.Sign("ada", "admin", time.Minute)
	require.NoError(t, err)
	viewer, err := b.Sign("bob", "viewer", time.Minute)
	require.NoError(t, err)
	expired, err := b.Sign("ada", "admin", -time.Minute)
	require.NoError(t, err)
	other, err := permissions.NewBearerToken([]byte("other"), permissions.WithIssuer("unison")).Sign("ada", "admin", time.Minute)
	require.NoError(t, err)
	foreign, err := permissions.NewBearerToken(secret, permissions.WithIssuer("elsewhere")).Sign("ada", "admin", time.Minute)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "ada"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   error
	}{
		{"valid", "Bearer " + admin, nil},
		{"lowercase scheme", "bearer " + admin, nil},
		{"missing", "", permissions.ErrMissingToken},
		{"basic", "Basic abc", permissions.ErrMissingToken},
		{"wrong role", "Bearer " + viewer, permissions.ErrForbiddenRole},
		{"expired", "Bearer " + expired, permissions.ErrInvalidToken},
		{"wrong secret", "Bearer " + other, permissions.ErrInvalidToken},
		{"wrong issuer", "Bearer " + foreign, permissions.ErrInvalidToken},
		{"alg none", "Bearer " + none, permissions.ErrInvalidToken},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		claims, err := b.Claims(r)
		if tt.want != nil {
			assert.ErrorIs(t, err, tt.want, tt.name)
			assert.False(t, b.Check(httptest.NewRecorder(), r), tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		assert.Equal(t, "ada", claims.Subject)
		assert.Equal(t, "admin", claims.Role)
		assert.True(t, b.Check(httptest.NewRecorder(), r), tt.name)
	}
}

type secretView struct{}

func (v *secretView) Read(w http.ResponseWriter, r *http.Request) error {
	unison.WriteJSON(w, map[string]bool{"ok": true})
	return nil
}

func TestPermissionsGuardRoutes(t *testing.T) {
	t.Parallel()
	bearer := permissions.NewBearerToken(secret)
	strict := permissions.NewBearerToken(secret, permissions.WithRejectStatus(http.StatusUnauthorized))
	key := &permissions.APIKey{Keys: []string{"k1", "k2"}}

	strictID := unison.NamedIdentity("permissions-test-strict")
	inj, err := unison.Resolve(
		unison.Provide(unison.IdentityFor[*permissions.BearerToken](), bearer),
		unison.Provide(strictID, strict),
		unison.Provide(unison.IdentityFor[*permissions.APIKey](), key),
	)
	require.NoError(t, err)

	view := unison.NewView[secretView]("/secret", nil).
		Get("/token", (*secretView).Read, unison.Permissions(unison.IdentityFor[*permissions.BearerToken]())).
		Get("/strict", (*secretView).Read, unison.Permissions(strictID)).
		Get("/key", (*secretView).Read, unison.Permissions(unison.IdentityFor[*permissions.APIKey]()))
	router := mux.NewRouter()
	require.NoError(t, unison.RegisterAll([]unison.ViewDescriptor{view}, inj, router))

	token, err := bearer.Sign("ada", "", time.Minute)
	require.NoError(t, err)

	serve := func(path string, headers map[string]string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("GET", path, nil)
		for k, v := range headers {
			r.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)
		return rec
	}

	rec := serve("/secret/token", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Unauthorized"}`, rec.Body.String())
	assert.Equal(t, `Bearer realm="unison"`, rec.Header().Get("WWW-Authenticate"))

	rec = serve("/secret/token", map[string]string{"Authorization": "Bearer " + token})
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = serve("/secret/strict", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Unauthorized"}`, rec.Body.String())

	rec = serve("/secret/key", map[string]string{"X-API-Key": "nope"})
	assert.JSONEq(t, `{"success":false,"error":"Invalid or missing API key"}`, rec.Body.String())

	rec = serve("/secret/key", map[string]string{"X-API-Key": "k2"})
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}
