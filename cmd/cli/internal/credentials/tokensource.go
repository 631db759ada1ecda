package credentials

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// TokenSource mints and caches bearer tokens for the document service. It
// implements oauth2.TokenSource, which is the seam the docservice client
// accepts.
type TokenSource struct {
	signer   *JWTSigner
	credName string
	audience string

	// Token caching
	mu          sync.RWMutex
	cachedToken string
	tokenExpiry time.Time
}

// NewTokenSource creates a token source backed by a stored credential.
// credName is the credential to use (empty string uses the default).
// audience is the server URL (used in the JWT aud claim).
func NewTokenSource(store *Store, credName string, audience string) (*TokenSource, error) {
	if credName == "" {
		defaultCred, err := store.GetDefault()
		if err != nil {
			if errors.Is(err, ErrNoDefaultCredential) {
				return nil, errors.New("no credential specified and no default set\n\n" +
					"Either specify a credential with --credential or set a default:\n" +
					"  inkseal credentials set-default <name>")
			}
			return nil, fmt.Errorf("failed to get default credential: %w", err)
		}
		credName = defaultCred.Name
	}

	// Verify credential exists
	if _, err := store.Get(credName); err != nil {
		return nil, err
	}

	log.Debug().
		Str("credential", credName).
		Str("audience", audience).
		Msg("initialized token source")

	return &TokenSource{
		signer:   NewJWTSigner(store),
		credName: credName,
		audience: audience,
	}, nil
}

// CredentialName returns the resolved credential name.
func (t *TokenSource) CredentialName() string {
	return t.credName
}

// Token returns a cached token or mints a new one. Implements
// oauth2.TokenSource.
func (t *TokenSource) Token() (*oauth2.Token, error) {
	token, expiry, err := t.getToken()
	if err != nil {
		return nil, err
	}

	return &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
		Expiry:      expiry,
	}, nil
}

// getToken returns the cached token while it has at least five minutes
// left, and mints a replacement otherwise.
func (t *TokenSource) getToken() (string, time.Time, error) {
	t.mu.RLock()
	if t.cachedToken != "" && time.Now().Add(5*time.Minute).Before(t.tokenExpiry) {
		token, expiry := t.cachedToken, t.tokenExpiry
		t.mu.RUnlock()
		return token, expiry, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring write lock
	if t.cachedToken != "" && time.Now().Add(5*time.Minute).Before(t.tokenExpiry) {
		return t.cachedToken, t.tokenExpiry, nil
	}

	token, err := t.signer.SignToken(t.credName, t.audience)
	if err != nil {
		return "", time.Time{}, err
	}

	t.cachedToken = token
	t.tokenExpiry = time.Now().Add(TokenExpiry)

	log.Debug().
		Str("credential", t.credName).
		Time("expiry", t.tokenExpiry).
		Msg("cached new bearer token")

	return t.cachedToken, t.tokenExpiry, nil
}
