// Package auth authenticates API bearer tokens and checks their scopes.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Scopes understood by the API. A write scope implies its read scope.
const (
	ScopeAll        = "*"
	ScopeFeaturesRO = "features:ro"
	ScopeDumpsRO    = "dumps:ro"
	ScopeDumpsRW    = "dumps:rw"
)

var implied = map[string][]string{
	ScopeAll:        nil,
	ScopeFeaturesRO: nil,
	ScopeDumpsRO:    nil,
	ScopeDumpsRW:    {ScopeDumpsRO},
}

var (
	// ErrNoCredentials is returned when a request carries no bearer token.
	ErrNoCredentials = errors.New("missing bearer token")
	// ErrMalformedCredentials is returned for a non-bearer Authorization header.
	ErrMalformedCredentials = errors.New("invalid Authorization header format")
)

// ValidScope reports whether s is a scope the API understands.
func ValidScope(s string) bool {
	_, ok := implied[strings.TrimSpace(s)]
	return ok
}

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Principal is an authenticated caller.
type Principal struct {
	Token  string
	scopes map[string]bool
}

// Allows reports whether p holds "*" or any of required.
func (p Principal) Allows(required ...string) bool {
	if len(required) == 0 || p.scopes[ScopeAll] {
		return true
	}
	for _, s := range required {
		if p.scopes[s] {
			return true
		}
	}
	return false
}

// Scopes returns the effective scope count, implied scopes included.
func (p Principal) Scopes() int { return len(p.scopes) }

// Authenticator matches presented tokens against a fixed token list.
type Authenticator struct {
	tokens []TokenConfig
	scopes []map[string]bool
}

// NewAuthenticator expands each token's scopes once up front.
func NewAuthenticator(tokens []TokenConfig) *Authenticator {
	a := &Authenticator{tokens: tokens, scopes: make([]map[string]bool, len(tokens))}
	for i, t := range tokens {
		set := make(map[string]bool, len(t.Scopes))
		for _, s := range t.Scopes {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			set[s] = true
			for _, extra := range implied[s] {
				set[extra] = true
			}
		}
		a.scopes[i] = set
	}
	return a
}

// Authenticate returns the principal for presented. Empty tokens never match.
func (a *Authenticator) Authenticate(presented string) (Principal, bool) {
	if presented == "" {
		return Principal{}, false
	}
	for i, t := range a.tokens {
		if t.Token != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(t.Token)) == 1 {
			return Principal{Token: presented, scopes: a.scopes[i]}, true
		}
	}
	return Principal{}, false
}

// BearerToken pulls the token out of the Authorization header. The scheme
// is matched case-insensitively.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoCredentials
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedCredentials
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoCredentials
	}
	return token, nil
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal set by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
