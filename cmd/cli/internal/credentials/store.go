// Package credentials manages the CLI's local signing credential: an ECDSA
// P-256 keypair stored on disk and used to mint short-lived bearer tokens
// for the document service. The credential identifies the CLI to the
// service; it is unrelated to the certificates that sign documents.
package credentials

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/inkseal/inkseal/internal/auth"
)

// Sentinel errors
var (
	// ErrCredentialNotFound is returned when a credential doesn't exist.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrCredentialExists is returned when trying to create a duplicate.
	ErrCredentialExists = errors.New("credential already exists")

	// ErrNoDefaultCredential is returned when no default is set.
	ErrNoDefaultCredential = errors.New("no default credential set")

	// ErrInvalidPrivateKey is returned when the private key file is invalid.
	ErrInvalidPrivateKey = errors.New("invalid private key")

	// ErrInvalidName is returned when a credential name cannot be used as a
	// file name.
	ErrInvalidName = errors.New("invalid credential name")
)

// Credential is stored credential metadata. The fingerprint doubles as the
// kid header of every token minted with the credential's key.
type Credential struct {
	Name        string    `json:"name"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Config is the credentials configuration file.
type Config struct {
	Version           int                   `json:"version"`
	DefaultCredential string                `json:"default_credential,omitempty"`
	Credentials       map[string]Credential `json:"credentials"`
}

// Store manages credential storage on the local filesystem.
type Store struct {
	baseDir string
}

// NewStore creates a new credential store.
// If baseDir is empty, uses ~/.inkseal/credentials/
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".inkseal", "credentials")
	}

	// Key material lives here, so the directory is owner-only
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}

	store := &Store{baseDir: baseDir}

	if err := store.ensureConfig(); err != nil {
		return nil, err
	}

	log.Debug().Str("base_dir", baseDir).Msg("credential store initialized")

	return store, nil
}

// Create generates a new ECDSA P-256 keypair and stores it.
// Returns the credential metadata including fingerprint.
func (s *Store) Create(name string) (*Credential, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	if _, err := s.Get(name); err == nil {
		return nil, ErrCredentialExists
	}

	log.Info().Str("name", name).Msg("generating new credential")

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	privateKeyDER, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: privateKeyDER,
	})

	publicKeyDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	publicKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicKeyDER,
	})

	// Same derivation the service uses to look tokens up, so the stored
	// fingerprint matches the kid the verifier sees.
	fingerprint, err := auth.Fingerprint(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint public key: %w", err)
	}

	log.Debug().
		Str("name", name).
		Str("fingerprint", fingerprint).
		Msg("generated key fingerprint")

	privateKeyPath := filepath.Join(s.baseDir, name+".key")
	if err := os.WriteFile(privateKeyPath, privateKeyPEM, 0600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}

	publicKeyPath := filepath.Join(s.baseDir, name+".pub")
	// #nosec G306 - public key files are intentionally world-readable
	if err := os.WriteFile(publicKeyPath, publicKeyPEM, 0644); err != nil {
		// Clean up private key on failure
		os.Remove(privateKeyPath)
		return nil, fmt.Errorf("failed to write public key: %w", err)
	}

	now := time.Now().UTC()
	cred := Credential{
		Name:        name,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.addCredential(cred); err != nil {
		// Clean up key files on failure
		os.Remove(privateKeyPath)
		os.Remove(publicKeyPath)
		return nil, err
	}

	log.Info().
		Str("name", name).
		Str("fingerprint", fingerprint).
		Str("private_key_path", privateKeyPath).
		Str("public_key_path", publicKeyPath).
		Msg("credential created")

	return &cred, nil
}

// Get retrieves credential metadata by name.
func (s *Store) Get(name string) (*Credential, error) {
	cfg, err := s.loadConfig()
	if err != nil {
		return nil, err
	}

	cred, ok := cfg.Credentials[name]
	if !ok {
		return nil, ErrCredentialNotFound
	}

	return &cred, nil
}

// GetDefault retrieves the default credential.
// Returns ErrNoDefaultCredential if none is set.
func (s *Store) GetDefault() (*Credential, error) {
	cfg, err := s.loadConfig()
	if err != nil {
		return nil, err
	}

	if cfg.DefaultCredential == "" {
		return nil, ErrNoDefaultCredential
	}

	return s.Get(cfg.DefaultCredential)
}

// DefaultName returns the name of the default credential, or "" if none is
// set.
func (s *Store) DefaultName() (string, error) {
	cfg, err := s.loadConfig()
	if err != nil {
		return "", err
	}

	return cfg.DefaultCredential, nil
}

// List returns all stored credentials sorted by name.
func (s *Store) List() ([]Credential, error) {
	cfg, err := s.loadConfig()
	if err != nil {
		return nil, err
	}

	credentials := make([]Credential, 0, len(cfg.Credentials))
	for _, cred := range cfg.Credentials {
		credentials = append(credentials, cred)
	}

	sort.Slice(credentials, func(i, j int) bool {
		return credentials[i].Name < credentials[j].Name
	})

	return credentials, nil
}

// Delete removes a credential and its key files.
func (s *Store) Delete(name string) error {
	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}

	if _, ok := cfg.Credentials[name]; !ok {
		return ErrCredentialNotFound
	}

	privateKeyPath := filepath.Join(s.baseDir, name+".key")
	publicKeyPath := filepath.Join(s.baseDir, name+".pub")

	if err := os.Remove(privateKeyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove private key: %w", err)
	}

	if err := os.Remove(publicKeyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove public key: %w", err)
	}

	delete(cfg.Credentials, name)

	// Clear default if this was the default credential
	if cfg.DefaultCredential == name {
		cfg.DefaultCredential = ""
	}

	if err := s.saveConfig(cfg); err != nil {
		return err
	}

	log.Info().Str("name", name).Msg("credential deleted")

	return nil
}

// SetDefault sets the default credential.
func (s *Store) SetDefault(name string) error {
	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}

	if _, ok := cfg.Credentials[name]; !ok {
		return ErrCredentialNotFound
	}

	cfg.DefaultCredential = name

	if err := s.saveConfig(cfg); err != nil {
		return err
	}

	log.Info().Str("name", name).Msg("default credential set")

	return nil
}

// LoadPrivateKey loads the private key for minting tokens.
func (s *Store) LoadPrivateKey(name string) (*ecdsa.PrivateKey, error) {
	if _, err := s.Get(name); err != nil {
		return nil, err
	}

	privateKeyPath := filepath.Join(s.baseDir, name+".key")
	pemData, err := os.ReadFile(privateKeyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidPrivateKey
	}

	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	log.Debug().Str("name", name).Msg("private key loaded")

	return privateKey, nil
}

// PublicKeyPath returns the path of the credential's public key file. The
// stub server accepts these files for its trusted-key set.
func (s *Store) PublicKeyPath(name string) string {
	return filepath.Join(s.baseDir, name+".pub")
}

// LoadPublicKeyPEM returns the public key in PEM format.
func (s *Store) LoadPublicKeyPEM(name string) (string, error) {
	if _, err := s.Get(name); err != nil {
		return "", err
	}

	publicKeyPath := filepath.Join(s.baseDir, name+".pub")
	pemData, err := os.ReadFile(publicKeyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrCredentialNotFound
		}
		return "", fmt.Errorf("failed to read public key: %w", err)
	}

	return string(pemData), nil
}

// validateName rejects names that would escape the store directory once
// used as a file name.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// ensureConfig creates an empty config if it doesn't exist.
func (s *Store) ensureConfig() error {
	configPath := filepath.Join(s.baseDir, "config.json")

	if _, err := os.Stat(configPath); err == nil {
		return nil // Config exists
	}

	cfg := &Config{
		Version:     1,
		Credentials: make(map[string]Credential),
	}

	return s.saveConfig(cfg)
}

// loadConfig reads the config file.
func (s *Store) loadConfig() (*Config, error) {
	configPath := filepath.Join(s.baseDir, "config.json")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Credentials == nil {
		cfg.Credentials = make(map[string]Credential)
	}

	return &cfg, nil
}

// saveConfig writes the config file atomically.
func (s *Store) saveConfig(cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to temp file first
	configPath := filepath.Join(s.baseDir, "config.json")
	tempPath := configPath + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, configPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// addCredential adds a new credential to the config.
func (s *Store) addCredential(cred Credential) error {
	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}

	cfg.Credentials[cred.Name] = cred

	// First credential becomes the default
	if len(cfg.Credentials) == 1 {
		cfg.DefaultCredential = cred.Name
	}

	return s.saveConfig(cfg)
}
