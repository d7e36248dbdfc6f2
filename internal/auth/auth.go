package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
	ErrNoToken       = errors.New("no api token configured")
)

type Claims struct {
	Subject string
}

type Authenticator interface {
	Authenticate(r *http.Request) (Claims, error)
}

// StaticToken accepts a single shared bearer token. An empty token accepts
// nothing.
type StaticToken struct {
	Token string
}

func (a StaticToken) Authenticate(r *http.Request) (Claims, error) {
	bearer, err := extractBearer(r)
	if err != nil {
		return Claims{}, err
	}
	if a.Token == "" || subtle.ConstantTimeCompare([]byte(bearer), []byte(a.Token)) != 1 {
		return Claims{}, ErrInvalidToken
	}
	return Claims{Subject: "operator"}, nil
}

// Open accepts every request. Only FromToken with allowOpen returns it.
type Open struct{}

func (Open) Authenticate(*http.Request) (Claims, error) {
	return Claims{Subject: "anonymous"}, nil
}

// FromToken returns StaticToken for a non-empty token. An empty token is
// refused with ErrNoToken unless allowOpen is set.
func FromToken(token string, allowOpen bool) (Authenticator, error) {
	if token != "" {
		return StaticToken{Token: token}, nil
	}
	if !allowOpen {
		return nil, ErrNoToken
	}
	return Open{}, nil
}

func extractBearer(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
