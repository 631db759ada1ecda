package credentials

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/inkseal/inkseal/internal/auth"
)

// TokenExpiry is the duration after which a minted token expires.
const TokenExpiry = 1 * time.Hour

// JWTSigner mints bearer tokens for document-service authentication.
type JWTSigner struct {
	store *Store
}

// NewJWTSigner creates a new JWT signer.
func NewJWTSigner(store *Store) *JWTSigner {
	return &JWTSigner{store: store}
}

// SignToken creates a signed JWT for the named credential. The kid header
// carries the credential fingerprint so the service can look up the public
// key; the subject is the credential name.
func (s *JWTSigner) SignToken(credName string, audience string) (string, error) {
	cred, err := s.store.Get(credName)
	if err != nil {
		return "", err
	}

	privateKey, err := s.store.LoadPrivateKey(credName)
	if err != nil {
		return "", fmt.Errorf("failed to load private key: %w", err)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    auth.Issuer,
		Subject:   cred.Name,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TokenExpiry)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	// Server side resolves the verification key from this header
	token.Header["kid"] = cred.Fingerprint

	tokenString, err := token.SignedString(privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	log.Debug().
		Str("credential", credName).
		Str("fingerprint", cred.Fingerprint).
		Str("audience", audience).
		Msg("minted bearer token")

	return tokenString, nil
}

// SignTokenWithKey creates a signed JWT using a provided private key.
// Used primarily for testing.
func SignTokenWithKey(
	privateKey *ecdsa.PrivateKey,
	fingerprint string,
	subject string,
	audience string,
) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    auth.Issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TokenExpiry)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = fingerprint

	return token.SignedString(privateKey)
}
