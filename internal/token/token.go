// Package token mints and verifies the HS256 bearer tokens used between
// infractl nodes and by the dashboard.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const issuer = "infractl"

// Mint produces a signed token for the given subject, valid for ttl.
func Mint(secret []byte, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Subject(subject).
		Issuer(issuer).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Build()
	if err != nil {
		return "", fmt.Errorf("building token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return string(signed), nil
}

// Verify parses and validates a token. The returned detail string is a
// short machine-friendly reason ("expired", "bad_signature", ...) used in
// suspicious-request records.
func Verify(secret []byte, raw string) (subject string, detail string, err error) {
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, secret),
		jwt.WithValidate(true),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired()):
			return "", "expired", err
		case errors.Is(err, jwt.ErrTokenNotYetValid()):
			return "", "not_yet_valid", err
		case errors.Is(err, jwt.ErrInvalidIssuer()):
			return "", "wrong_issuer", err
		default:
			return "", "bad_signature", err
		}
	}
	return tok.Subject(), "", nil
}
