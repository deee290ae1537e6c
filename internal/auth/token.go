package auth

import (
	"errors"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrMissingToken = errors.New("missing upstream token")
	ErrInvalidToken = errors.New("invalid upstream token")
)

// ExtractUpstreamToken reads the caller's upstream API token from the named
// header. The token is forwarded verbatim, so it must be valid UTF-8 without
// control characters.
func ExtractUpstreamToken(h http.Header, name string) (string, error) {
	values := h.Values(name)
	if len(values) == 0 {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(values[0])
	if token == "" {
		return "", ErrMissingToken
	}
	if !utf8.ValidString(token) {
		return "", ErrInvalidToken
	}
	for _, r := range token {
		if unicode.IsControl(r) {
			return "", ErrInvalidToken
		}
	}
	return token, nil
}
