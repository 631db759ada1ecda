package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkseal/inkseal/cmd/cli/internal/credentials"
)

func TestCredentialsInitCmd_Run(t *testing.T) {
	tmpDir := t.TempDir()

	cmd := &CredentialsInitCmd{
		Name:      "signer",
		OutputDir: tmpDir,
	}

	err := cmd.Run(context.Background(), &Globals{})
	require.NoError(t, err)

	// Verify files created
	_, err = os.Stat(filepath.Join(tmpDir, "signer.key"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(tmpDir, "signer.pub"))
	require.NoError(t, err)

	// Verify credential was added to config
	store, err := credentials.NewStore(tmpDir)
	require.NoError(t, err)

	cred, err := store.Get("signer")
	require.NoError(t, err)
	assert.Equal(t, "signer", cred.Name)
	assert.NotEmpty(t, cred.Fingerprint)
}

func TestCredentialsInitCmd_Duplicate(t *testing.T) {
	tmpDir := t.TempDir()

	cmd := &CredentialsInitCmd{
		Name:      "signer",
		OutputDir: tmpDir,
	}

	// First creation should succeed
	err := cmd.Run(context.Background(), &Globals{})
	require.NoError(t, err)

	// Try to create duplicate - should fail
	err = cmd.Run(context.Background(), &Globals{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestCredentialsInitCmd_SetDefault(t *testing.T) {
	tmpDir := t.TempDir()

	// Create first credential without set-default
	cmd1 := &CredentialsInitCmd{
		Name:       "first",
		SetDefault: false,
		OutputDir:  tmpDir,
	}
	err := cmd1.Run(context.Background(), &Globals{})
	require.NoError(t, err)

	// Create second credential with set-default
	cmd2 := &CredentialsInitCmd{
		Name:       "second",
		SetDefault: true,
		OutputDir:  tmpDir,
	}
	err = cmd2.Run(context.Background(), &Globals{})
	require.NoError(t, err)

	// Verify second credential is now default
	store, err := credentials.NewStore(tmpDir)
	require.NoError(t, err)

	defaultCred, err := store.GetDefault()
	require.NoError(t, err)
	assert.Equal(t, "second", defaultCred.Name)
}

func TestCredentialsInitCmd_AutoDefaultForFirstCredential(t *testing.T) {
	tmpDir := t.TempDir()

	cmd := &CredentialsInitCmd{
		Name:       "signer",
		SetDefault: false,
		OutputDir:  tmpDir,
	}

	err := cmd.Run(context.Background(), &Globals{})
	require.NoError(t, err)

	// The first credential becomes the default automatically
	store, err := credentials.NewStore(tmpDir)
	require.NoError(t, err)

	defaultCred, err := store.GetDefault()
	require.NoError(t, err)
	assert.Equal(t, "signer", defaultCred.Name)
}

func TestCredentialsListCmd_Empty(t *testing.T) {
	tmpDir := t.TempDir()

	cmd := &CredentialsListCmd{OutputDir: tmpDir}
	err := cmd.Run(context.Background(), &Globals{})
	require.NoError(t, err)
}

func TestCredentialsListCmd_WithCredentials(t *testing.T) {
	tmpDir := t.TempDir()

	// Create some credentials
	store, err := credentials.NewStore(tmpDir)
	require.NoError(t, err)

	_, err = store.Create("first")
	require.NoError(t, err)
	_, err = store.Create("second")
	require.NoError(t, err)

	// Run list command
	cmd := &CredentialsListCmd{OutputDir: tmpDir}
	err = cmd.Run(context.Background(), &Globals{})
	require.NoError(t, err)
}

func TestCredentialsShowCmd_Success(t *testing.T) {
	tmpDir := t.TempDir()

	// Create a credential
	store, err := credentials.NewStore(tmpDir)
	require.NoError(t, err)

	_, err = store.Create("signer")
	require.NoError(t, err)

	// Run show command
	cmd := &CredentialsShowCmd{
		Name:      "signer",
		OutputDir: tmpDir,
	}
	err = cmd.Run(context.Background(), &Globals{})
	require.NoError(t, err)
}

func TestCredentialsShowCmd_NotFound(t *testing.T) {
	tmpDir := t.TempDir()

	cmd := &CredentialsShowCmd{
		Name:      "nonexistent",
		OutputDir: tmpDir,
	}

	err := cmd.Run(context.Background(), &Globals{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCredentialsDeleteCmd_Success(t *testing.T) {
	tmpDir := t.TempDir()

	// Create a credential
	store, err := credentials.NewStore(tmpDir)
	require.NoError(t, err)

	_, err = store.Create("signer")
	require.NoError(t, err)

	// Run delete command with force flag
	cmd := &CredentialsDeleteCmd{
		Name:      "signer",
		Force:     true,
		OutputDir: tmpDir,
	}
	err = cmd.Run(context.Background(), &Globals{})
	require.NoError(t, err)

	// Verify it was deleted
	_, err = store.Get("signer")
	require.Error(t, err)
	assert.ErrorIs(t, err, credentials.ErrCredentialNotFound)
}

func TestCredentialsDeleteCmd_NotFound(t *testing.T) {
	tmpDir := t.TempDir()

	cmd := &CredentialsDeleteCmd{
		Name:      "nonexistent",
		Force:     true,
		OutputDir: tmpDir,
	}

	err := cmd.Run(context.Background(), &Globals{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCredentialsSetDefaultCmd_Success(t *testing.T) {
	tmpDir := t.TempDir()

	// Create credentials
	store, err := credentials.NewStore(tmpDir)
	require.NoError(t, err)

	_, err = store.Create("first")
	require.NoError(t, err)
	_, err = store.Create("second")
	require.NoError(t, err)

	// Run set-default command
	cmd := &CredentialsSetDefaultCmd{
		Name:      "second",
		OutputDir: tmpDir,
	}
	err = cmd.Run(context.Background(), &Globals{})
	require.NoError(t, err)

	// Verify it was set as default
	defaultCred, err := store.GetDefault()
	require.NoError(t, err)
	assert.Equal(t, "second", defaultCred.Name)
}

func TestCredentialsSetDefaultCmd_NotFound(t *testing.T) {
	tmpDir := t.TempDir()

	cmd := &CredentialsSetDefaultCmd{
		Name:      "nonexistent",
		OutputDir: tmpDir,
	}

	err := cmd.Run(context.Background(), &Globals{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
