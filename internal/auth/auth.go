// Package auth turns a bearer credential into an active employee.
// Token verification itself belongs to an external identity provider;
// this package consumes it through TokenVerifier.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"english-eval-go/internal/evalerr"
	"english-eval-go/internal/types"
)

var (
	ErrUnknownToken     = errors.New("token not recognised")
	ErrEmployeeNotFound = errors.New("no active employee for token subject")
)

// Principal is the authenticated caller.
type Principal struct {
	Employee types.EmployeeRef
}

// TokenVerifier checks a bearer token and returns the subject's email.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (email string, err error)
}

// StaticTokens verifies tokens against a fixed token -> email table.
type StaticTokens map[string]string

func (s StaticTokens) Verify(_ context.Context, token string) (string, error) {
	for known, email := range s {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return email, nil
		}
	}
	return "", ErrUnknownToken
}

// Directory resolves an email to an active employee of the externally
// owned employee table. Implementations only read.
type Directory interface {
	ActiveByEmail(ctx context.Context, email string) (types.EmployeeRef, error)
	ActiveByID(ctx context.Context, id int64) (types.EmployeeRef, error)
}

type Authenticator struct {
	verifier  TokenVerifier
	directory Directory
}

func NewAuthenticator(verifier TokenVerifier, directory Directory) *Authenticator {
	return &Authenticator{verifier: verifier, directory: directory}
}

// Authenticate accepts an Authorization header value ("Bearer <token>").
// Every failure is an AuthError.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (Principal, error) {
	token, ok := bearerToken(header)
	if !ok {
		return Principal{}, evalerr.Auth("authentication token is missing", nil)
	}
	email, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return Principal{}, evalerr.Auth("invalid token", err)
	}
	emp, err := a.directory.ActiveByEmail(ctx, email)
	if err != nil {
		return Principal{}, evalerr.Auth("invalid token", err)
	}
	return Principal{Employee: emp}, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
