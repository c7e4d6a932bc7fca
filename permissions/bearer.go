// Package permissions provides unison.Permission implementations for the
// common ways a request proves who it is.
package permissions

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jacobclevenger/unison"
	"github.com/rs/zerolog"
)

var (
	// ErrMissingToken is returned when the request has no bearer token.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken is returned for tokens that fail validation.
	ErrInvalidToken = errors.New("invalid bearer token")
	// ErrForbiddenRole is returned when the token's role is not accepted.
	ErrForbiddenRole = errors.New("role not permitted")
)

// Claims are the JWT claims BearerToken issues and accepts.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// BearerToken admits requests carrying an HMAC-signed JWT in the
// Authorization header.
type BearerToken struct {
	secret     []byte
	issuer     string
	roles      []string
	statusCode int
	logger     zerolog.Logger
}

// BearerOption configures a BearerToken.
type BearerOption func(*BearerToken)

// WithIssuer requires and issues tokens with the given issuer.
func WithIssuer(issuer string) BearerOption {
	return func(b *BearerToken) { b.issuer = issuer }
}

// WithRoles admits only tokens whose role is one of roles.
func WithRoles(roles ...string) BearerOption {
	return func(b *BearerToken) { b.roles = append(b.roles, roles...) }
}

// WithRejectStatus makes Reject write the failure with status instead of
// leaving the status to the transport.
func WithRejectStatus(status int) BearerOption {
	return func(b *BearerToken) { b.statusCode = status }
}

// WithLogger logs rejected tokens.
func WithLogger(logger zerolog.Logger) BearerOption {
	return func(b *BearerToken) { b.logger = logger }
}

// NewBearerToken creates a BearerToken that validates HS256 tokens signed
// with secret.
func NewBearerToken(secret []byte, opts ...BearerOption) *BearerToken {
	b := &BearerToken{
		secret: secret,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Check implements unison.Permission.
func (b *BearerToken) Check(w http.ResponseWriter, r *http.Request) bool {
	if _, err := b.Claims(r); err != nil {
		b.logger.Debug().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Bearer token rejected")
		return false
	}
	return true
}

// Reject implements unison.Permission.
func (b *BearerToken) Reject(w http.ResponseWriter, r *http.Request) interface{} {
	w.Header().Set("WWW-Authenticate", `Bearer realm="unison"`)
	return reject(w, b.statusCode, "Unauthorized")
}

// Claims validates the request's token and returns its claims.  Handlers
// behind a BearerToken call it to learn who the caller is.
func (b *BearerToken) Claims(r *http.Request) (*Claims, error) {
	raw, ok := bearer(r)
	if !ok {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if b.issuer != "" {
		opts = append(opts, jwt.WithIssuer(b.issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return b.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if len(b.roles) > 0 && !slices.Contains(b.roles, claims.Role) {
		return nil, fmt.Errorf("%w: %q", ErrForbiddenRole, claims.Role)
	}
	return claims, nil
}

// Sign issues a token for subject with the given role, valid for ttl.
func (b *BearerToken) Sign(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    b.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
}

func bearer(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// reject returns the failure payload, writing it first when a status is
// configured.
func reject(w http.ResponseWriter, status int, message string) interface{} {
	failure := unison.Fail(message)
	if status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		unison.WriteJSON(w, failure)
	}
	return failure
}
