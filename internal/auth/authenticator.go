package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kirimchat/kirim/pkg/models"
)

// Directory resolves user snapshots from the external user directory.
type Directory interface {
	Get(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// JWTClaims represents the claims in the bearer tokens issued by the user
// directory. The subject carries the user id.
type JWTClaims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator validates bearer credentials presented at connection time and
// binds them to an active user record. Resolve is stateless so event handlers
// on transports that do not persist identity can re-authenticate per event.
type Authenticator struct {
	secretKey []byte
	directory Directory
}

// NewAuthenticator creates an authenticator with the shared HS256 secret.
func NewAuthenticator(secretKey string, directory Directory) *Authenticator {
	return &Authenticator{
		secretKey: []byte(secretKey),
		directory: directory,
	}
}

// Resolve verifies the token's signature and expiry, extracts the subject and
// resolves it to an active user. Any failure (missing token, bad signature,
// expired token, unknown or suspended user) returns an error; callers reject
// the connection without surfacing anything to other parties.
func (a *Authenticator) Resolve(ctx context.Context, tokenString string) (*models.User, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("missing token")
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secretKey, nil
	})
	if err != nil || !token.Valid {
		if err == nil {
			err = fmt.Errorf("invalid token")
		}
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject claim: %w", err)
	}

	user, err := a.directory.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	if user.IsSuspended && (user.SuspendedUntil == nil || time.Now().Before(*user.SuspendedUntil)) {
		return nil, fmt.Errorf("user is suspended")
	}

	return user, nil
}

// IssueToken signs a token for the given user. Outside of tests the user
// directory issues tokens; this exists for local deployments and tooling.
func (a *Authenticator) IssueToken(userID uuid.UUID, username string, ttl time.Duration) (string, error) {
	claims := &JWTClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "kirim",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
