package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const DefaultJWKSCacheTTL = 15 * time.Minute

var (
	errInvalidClaims = errors.New("invalid claims")
	errMissingSub    = errors.New("missing sub")
)

// AuthConfig selects how bearer tokens are verified. When SharedSecret is
// set tokens are HS256 signed with it, otherwise they are RS256 signed by a
// key published in JWKS.
type AuthConfig struct {
	JWKS         *keyfunc.JWKS
	Audience     string
	Issuer       string
	SharedSecret []byte
	KeyCacheTTL  time.Duration
}

// Auth validates incoming JWT tokens. The board owner is the token subject.
type Auth struct {
	cfg    AuthConfig
	parser *jwt.Parser

	keyCache sync.Map
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

func NewAuth(cfg AuthConfig) (*Auth, error) {
	if len(cfg.SharedSecret) == 0 && cfg.JWKS == nil {
		return nil, errors.New("auth: either a shared secret or a JWKS is required")
	}
	a := &Auth{cfg: cfg}
	if a.sharedSecretMode() {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return a, nil
}

func (a *Auth) sharedSecretMode() bool { return len(a.cfg.SharedSecret) > 0 }

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
func (a *Auth) UserIDFromBearer(token string) (string, error) {
	if token == "" {
		return "", errBadAuthorization
	}

	parsed, err := a.parser.Parse(token, a.keyFor)
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errInvalidClaims
	}
	if err := a.verifyClaims(claims); err != nil {
		return "", err
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errMissingSub
	}
	return sub, nil
}

func (a *Auth) verifyClaims(claims jwt.MapClaims) error {
	// one minute of clock skew
	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return errors.New("token used before issued")
	}
	if a.cfg.Audience != "" && !claims.VerifyAudience(a.cfg.Audience, false) {
		return errors.New("invalid audience")
	}
	if a.cfg.Issuer != "" && !claims.VerifyIssuer(a.cfg.Issuer, false) {
		return errors.New("invalid issuer")
	}
	return nil
}

func (a *Auth) keyFor(token *jwt.Token) (any, error) {
	if a.sharedSecretMode() {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.cfg.SharedSecret, nil
	}
	if a.cfg.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.cfg.KeyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.cfg.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" && a.cfg.KeyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.cfg.KeyCacheTTL)})
	}
	return key, nil
}
