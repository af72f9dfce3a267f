package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

func authHeader(r *http.Request) string {
	return r.Header.Get(echo.HeaderAuthorization)
}

// streamAuthHeader falls back to a token query parameter for EventSource
// clients, which cannot set headers. Other routes only read the header.
func streamAuthHeader(r *http.Request) string {
	if h := authHeader(r); h != "" {
		return h
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return bearerPrefix + token
	}
	return ""
}

func bearerTokenFromString(raw string) (string, error) {
	trimmed := strings.Trim(raw, " ")
	if trimmed == "" {
		return "", errMissingAuthorization
	}
	if len(trimmed) <= len(bearerPrefix) || !strings.HasPrefix(trimmed, bearerPrefix) {
		return "", errBadAuthorization
	}
	token := trimmed[len(bearerPrefix):]
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}
