package credentials

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkseal/inkseal/internal/auth"
)

func TestNewTokenSource(t *testing.T) {
	t.Run("uses the named credential", func(t *testing.T) {
		store, err := NewStore(t.TempDir())
		require.NoError(t, err)

		_, err = store.Create("first")
		require.NoError(t, err)
		_, err = store.Create("second")
		require.NoError(t, err)

		ts, err := NewTokenSource(store, "second", "https://docs.example.com")
		require.NoError(t, err)
		assert.Equal(t, "second", ts.CredentialName())
	})

	t.Run("falls back to the default credential", func(t *testing.T) {
		store, err := NewStore(t.TempDir())
		require.NoError(t, err)

		_, err = store.Create("signer")
		require.NoError(t, err)

		ts, err := NewTokenSource(store, "", "https://docs.example.com")
		require.NoError(t, err)
		assert.Equal(t, "signer", ts.CredentialName())
	})

	t.Run("explains how to set a default", func(t *testing.T) {
		store, err := NewStore(t.TempDir())
		require.NoError(t, err)

		_, err = NewTokenSource(store, "", "https://docs.example.com")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "set-default")
	})

	t.Run("errors for unknown credential", func(t *testing.T) {
		store, err := NewStore(t.TempDir())
		require.NoError(t, err)

		_, err = NewTokenSource(store, "nonexistent", "https://docs.example.com")
		require.ErrorIs(t, err, ErrCredentialNotFound)
	})
}

func TestTokenSource_Token(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Create("signer")
	require.NoError(t, err)

	ts, err := NewTokenSource(store, "signer", "https://docs.example.com")
	require.NoError(t, err)

	token, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.NotEmpty(t, token.AccessToken)
	assert.WithinDuration(t, time.Now().Add(TokenExpiry), token.Expiry, 5*time.Second)

	// Second call inside the freshness window returns the cached token
	again, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, token.AccessToken, again.AccessToken)
}

// TestTokenSource_AgainstVerifier pins the full auth round trip: a token
// minted from a stored credential must pass the service-side middleware once
// the credential's public key is registered.
func TestTokenSource_AgainstVerifier(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	cred, err := store.Create("signer")
	require.NoError(t, err)

	pubPEM, err := store.LoadPublicKeyPEM("signer")
	require.NoError(t, err)

	registry := auth.NewStaticKeyRegistry()
	_, err = registry.AddPEM([]byte(pubPEM))
	require.NoError(t, err)

	var principal *auth.Principal
	handler := auth.NewVerifier(registry).Middleware()(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal = auth.PrincipalFromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	ts, err := NewTokenSource(store, "signer", srv.URL)
	require.NoError(t, err)

	token, err := ts.Token()
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/signatures/instances/wf-1/signable-data/f", nil)
	require.NoError(t, err)
	token.SetAuthHeader(req)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.NotNil(t, principal)
	assert.Equal(t, "signer", principal.Subject)
	assert.Equal(t, cred.Fingerprint, principal.Fingerprint)
}
