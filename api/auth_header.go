package api

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"unsafe"
)

var (
	errMissingAuthorization = errors.New("missing Authorization header")
	errBadAuthorization     = errors.New("malformed Authorization header")
)

const bearerPrefix = "Bearer "

// bearerTokenFromHeader extracts the raw JWT from a request header set.
func bearerTokenFromHeader(h http.Header) ([]byte, error) {
	raw := h.Get("Authorization")
	if raw == "" {
		return nil, errMissingAuthorization
	}
	return bearerTokenFromString(raw)
}

// bearerTokenFromString pulls the raw JWT out of an Authorization header.
// The returned slice aliases the input string and must not be modified.
func bearerTokenFromString(h string) ([]byte, error) {
	if len(h) <= len(bearerPrefix) || !strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return nil, errBadAuthorization
	}
	token := readOnlyBytes(h[len(bearerPrefix):])
	token = bytes.TrimSpace(token)
	if len(token) == 0 || bytes.Count(token, []byte{'.'}) != 2 {
		return nil, errBadAuthorization
	}
	return token, nil
}

// readOnlyBytes views a string as a byte slice without copying.
// Callers must treat the result as immutable.
func readOnlyBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// readOnlyString views a byte slice as a string without copying.
// The slice must not be mutated while the string is in use.
func readOnlyString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
