package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/inkseal/inkseal/internal/certificate"
	"github.com/inkseal/inkseal/internal/logger"
	"github.com/inkseal/inkseal/internal/signingkey"
)

type CheckKeyCmd struct {
	Key            string `help:"Private key path" required:"" type:"path"`
	PassphraseEnv  string `help:"Environment variable holding the key passphrase"`
	PassphraseFile string `help:"File holding the key passphrase" type:"path"`
	Cert           string `help:"Certificate the key should pair with" type:"path"`
}

func (c *CheckKeyCmd) Run(ctx context.Context, globals *Globals) error {
	passphrase, err := loadPassphrase(c.PassphraseEnv, c.PassphraseFile)
	if err != nil {
		return err
	}

	keyData, err := os.ReadFile(c.Key)
	if err != nil {
		return fmt.Errorf("failed to read private key: %w", err)
	}

	opts := keyImportOptions(passphrase)
	if globals.Debug {
		opts = append(opts, signingkey.WithLogger(logger.Setup(true)))
	}

	key, err := signingkey.Import(keyData, opts...)
	if err != nil {
		return fmt.Errorf("failed to import private key: %w", err)
	}
	defer key.Destroy()

	fmt.Println("Private key imported successfully.")
	fmt.Printf("Format:  %s\n", key.Format())
	fmt.Printf("Key ID:  %s\n", key.ID())

	if c.Cert != "" {
		certData, err := os.ReadFile(c.Cert)
		if err != nil {
			return fmt.Errorf("failed to read certificate: %w", err)
		}

		cert, err := certificate.Parse(certData)
		if err != nil {
			return fmt.Errorf("failed to parse certificate: %w", err)
		}

		if !key.MatchesCertificate(cert) {
			return fmt.Errorf("private key does not match certificate %s", cert.Subject)
		}

		fmt.Printf("Matches certificate %s.\n", cert.Subject)
	}

	return nil
}
