package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// AuthConfig carries the token verification settings main resolves from the
// environment.
type AuthConfig struct {
	JWKS     *keyfunc.JWKS
	Audience string
	Issuer   string

	// SharedSecret switches verification to HS256 for local runs without a
	// hosted identity provider. Leave nil in production.
	SharedSecret []byte

	// KeyCacheTTL bounds how long a resolved JWKS key is reused per kid
	// before the JWKS is consulted again.
	KeyCacheTTL time.Duration
}

// Auth validates bearer tokens. All sign-in flows (email/password and the
// OAuth providers) terminate at the hosted identity provider, so the backend
// only ever sees its tokens.
type Auth struct {
	cfg    AuthConfig
	parser *jwt.Parser
	keys   sync.Map // kid -> cachedKey
}

type cachedKey struct {
	key     any
	staleAt time.Time
}

func NewAuth(cfg AuthConfig) *Auth {
	method := "RS256"
	if cfg.SharedSecret != nil {
		method = "HS256"
	}
	return &Auth{
		cfg:    cfg,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{method})),
	}
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromBearer(token)
}

// UserIDFromBearer verifies a raw bearer token and returns its subject.
func (a *Auth) UserIDFromBearer(token []byte) (string, error) {
	if len(token) == 0 {
		return "", errBadAuthorization
	}
	parsed, err := a.parser.Parse(readOnlyString(token), a.resolveKey)
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	return a.subject(claims)
}

// subject validates the registered claims and returns sub. Expiry is checked
// with a minute of slack so a token about to lapse cannot enqueue a command
// whose processing outlives it.
func (a *Auth) subject(claims jwt.MapClaims) (string, error) {
	now := time.Now().Add(time.Minute).Unix()
	switch {
	case !claims.VerifyExpiresAt(now, true):
		return "", errors.New("token expired")
	case !claims.VerifyNotBefore(now, false):
		return "", errors.New("token not valid yet")
	case !claims.VerifyIssuedAt(now, false):
		return "", errors.New("token used before issued")
	case a.cfg.Audience != "" && !claims.VerifyAudience(a.cfg.Audience, false):
		return "", errors.New("invalid audience")
	case a.cfg.Issuer != "" && !claims.VerifyIssuer(a.cfg.Issuer, false):
		return "", errors.New("invalid issuer")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func (a *Auth) resolveKey(token *jwt.Token) (any, error) {
	if a.cfg.SharedSecret != nil {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.cfg.SharedSecret, nil
	}
	if a.cfg.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if key, ok := a.cachedKeyFor(kid); ok {
		return key, nil
	}

	key, err := a.cfg.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" && a.cfg.KeyCacheTTL > 0 {
		a.keys.Store(kid, cachedKey{key: key, staleAt: time.Now().Add(a.cfg.KeyCacheTTL)})
	}
	return key, nil
}

func (a *Auth) cachedKeyFor(kid string) (any, bool) {
	if kid == "" || a.cfg.KeyCacheTTL <= 0 {
		return nil, false
	}
	cached, ok := a.keys.Load(kid)
	if !ok {
		return nil, false
	}
	entry := cached.(cachedKey)
	if time.Now().After(entry.staleAt) {
		a.keys.Delete(kid)
		return nil, false
	}
	return entry.key, true
}
