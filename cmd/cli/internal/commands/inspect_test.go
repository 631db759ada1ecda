package commands

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCertificate writes a self-signed certificate with the given validity
// window and returns its path.
func writeCertificate(t *testing.T, dir string, notBefore, notAfter time.Time) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(0x5005),
		Subject: pkix.Name{
			CommonName:   "Inspect Target",
			Organization: []string{"Inkseal"},
		},
		NotBefore: notBefore,
		NotAfter:  notAfter,
		KeyUsage:  x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	path := filepath.Join(dir, "target.crt")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, os.WriteFile(path, certPEM, 0600))

	return path
}

func TestInspectCmd_Run(t *testing.T) {
	path := writeCertificate(t, t.TempDir(),
		time.Now().Add(-time.Hour), time.Now().Add(365*24*time.Hour))

	cmd := &InspectCmd{Cert: path}
	err := cmd.Run(context.Background(), &Globals{})
	require.NoError(t, err)
}

func TestInspectCmd_JSON(t *testing.T) {
	path := writeCertificate(t, t.TempDir(),
		time.Now().Add(-time.Hour), time.Now().Add(365*24*time.Hour))

	cmd := &InspectCmd{Cert: path, JSON: true}
	err := cmd.Run(context.Background(), &Globals{})
	require.NoError(t, err)
}

func TestInspectCmd_ExpiredCertificate(t *testing.T) {
	path := writeCertificate(t, t.TempDir(),
		time.Now().Add(-48*time.Hour), time.Now().Add(-24*time.Hour))

	cmd := &InspectCmd{Cert: path}
	err := cmd.Run(context.Background(), &Globals{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed validation")
}

func TestInspectCmd_MalformedCertificate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.crt")
	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0600))

	cmd := &InspectCmd{Cert: path}
	err := cmd.Run(context.Background(), &Globals{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse certificate")
}

func TestInspectCmd_MissingFile(t *testing.T) {
	cmd := &InspectCmd{Cert: filepath.Join(t.TempDir(), "missing.crt")}
	err := cmd.Run(context.Background(), &Globals{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read certificate")
}
