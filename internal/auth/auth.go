// Package auth defines the Authenticator and AccessOracle collaborators the
// collaboration engine depends on, plus a JWT-backed default implementation:
// a bearer token pulled from the connection query string names a principal
// and carries the document access list (owned, shared, public) an external
// collaborator-management system decided on.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/collabd/collabd/internal/collabderr"
)

// Principal is the opaque authenticated identity the collaboration engine
// consumes; how it was derived — account storage, registration, token
// issuance — is entirely the authenticator's concern.
type Principal struct {
	ID   string
	Name string
}

// Authenticator validates a bearer credential and returns the principal it
// names.
type Authenticator interface {
	Validate(ctx context.Context, credential string) (Principal, error)
}

// AccessOracle reports whether a principal may join a document.
type AccessOracle interface {
	HasAccess(ctx context.Context, principal Principal, documentID string) (bool, error)
}

// Claims is the JWT payload a credential must carry: a subject (principal
// ID), a display name, and the document access list HasAccess needs. This
// claim shape is how an external collaborator-management system communicates
// its access decision without the engine needing to call back out to it
// synchronously on every connection.
type Claims struct {
	jwt.RegisteredClaims
	Name       string   `json:"name"`
	OwnedDocs  []string `json:"owned_docs"`
	SharedDocs []string `json:"shared_docs"`
	PublicDocs []string `json:"public_docs"`
}

// JWTAuthenticator validates HS256-signed tokens with a shared secret.
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator constructs an Authenticator+AccessOracle pair backed
// by the given HMAC signing secret.
func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

// Validate parses and verifies credential, returning the principal it
// names. An expired, malformed, or mis-signed token is ErrAuthFailure.
func (a *JWTAuthenticator) Validate(_ context.Context, credential string) (Principal, error) {
	if credential == "" {
		return Principal{}, fmt.Errorf("%w: empty credential", collabderr.ErrAuthFailure)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", collabderr.ErrAuthFailure, err)
	}
	if !token.Valid {
		return Principal{}, fmt.Errorf("%w: token rejected", collabderr.ErrAuthFailure)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", collabderr.ErrAuthFailure)
	}

	return Principal{ID: subject, Name: claims.Name}, nil
}

// HasAccess reports true when the document appears in the token's owned,
// shared, or public document lists, mirroring Document.has_access's
// owner-or-collaborator-or-public check.
func (a *JWTAuthenticator) HasAccess(ctx context.Context, principal Principal, documentID string) (bool, error) {
	credential, ok := CredentialFromContext(ctx)
	if !ok {
		return false, errors.New("no credential in context")
	}

	claims := &Claims{}
	_, _, err := jwt.NewParser().ParseUnverified(credential, claims)
	if err != nil {
		return false, fmt.Errorf("%w: %v", collabderr.ErrAccessDenied, err)
	}

	for _, list := range [][]string{claims.OwnedDocs, claims.SharedDocs, claims.PublicDocs} {
		for _, id := range list {
			if id == documentID {
				return true, nil
			}
		}
	}
	return false, nil
}

type credentialKey struct{}

// ContextWithCredential attaches the raw bearer credential to ctx so
// AccessOracle implementations that need to re-inspect claims (rather than
// re-deriving them from the Principal alone) can retrieve it.
func ContextWithCredential(ctx context.Context, credential string) context.Context {
	return context.WithValue(ctx, credentialKey{}, credential)
}

// CredentialFromContext retrieves a credential attached by
// ContextWithCredential.
func CredentialFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(credentialKey{}).(string)
	return v, ok
}

// NewSigningKeyClaims is a small helper for tests and local tooling that
// need to mint a token without a full account system.
func NewSigningKeyClaims(subject, name string, ttl time.Duration, owned, shared, public []string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Name:       name,
		OwnedDocs:  owned,
		SharedDocs: shared,
		PublicDocs: public,
	}
}
