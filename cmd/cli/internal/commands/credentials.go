package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/inkseal/inkseal/cmd/cli/internal/credentials"
)

// CredentialsCmd manages the local service credentials.
type CredentialsCmd struct {
	Init       CredentialsInitCmd       `cmd:"" help:"Generate a new credential keypair"`
	List       CredentialsListCmd       `cmd:"" help:"List all credentials"`
	Show       CredentialsShowCmd       `cmd:"" help:"Show credential details"`
	Delete     CredentialsDeleteCmd     `cmd:"" help:"Delete a credential"`
	SetDefault CredentialsSetDefaultCmd `cmd:"" name:"set-default" help:"Set the default credential"`
}

// CredentialsInitCmd generates a new credential keypair.
type CredentialsInitCmd struct {
	Name       string `arg:"" help:"Name for the credential (e.g., staging-signer)"`
	SetDefault bool   `help:"Set as the default credential" default:"false"`
	OutputDir  string `help:"Custom credentials directory (default: ~/.inkseal/credentials/)"`
}

func (c *CredentialsInitCmd) Run(ctx context.Context, globals *Globals) error {
	store, err := credentials.NewStore(c.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	// Create the credential
	cred, err := store.Create(c.Name)
	if err != nil {
		if errors.Is(err, credentials.ErrCredentialExists) {
			return fmt.Errorf("credential %q already exists\n\nTo delete and recreate:\n  inkseal credentials delete %s\n  inkseal credentials init %s", c.Name, c.Name, c.Name)
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}

	// Set as default if requested
	if c.SetDefault {
		if err := store.SetDefault(c.Name); err != nil {
			return fmt.Errorf("failed to set default: %w", err)
		}
	}

	// Load public key for display
	publicKeyPEM, err := store.LoadPublicKeyPEM(c.Name)
	if err != nil {
		return fmt.Errorf("failed to load public key: %w", err)
	}

	// Display result
	fmt.Printf("Generated credential: %s\n", cred.Name)
	fmt.Printf("Fingerprint: %s\n", cred.Fingerprint)
	fmt.Println()
	fmt.Println("The document service accepts tokens from this credential once its")
	fmt.Println("public key is registered in the service's trusted key set, e.g.:")
	fmt.Printf("  inkseal-stub serve --trusted-key %s\n", store.PublicKeyPath(c.Name))
	fmt.Println()
	fmt.Println("Public Key:")
	fmt.Println(publicKeyPEM)

	return nil
}

// CredentialsListCmd lists all credentials.
type CredentialsListCmd struct {
	OutputDir string `help:"Custom credentials directory"`
}

func (c *CredentialsListCmd) Run(ctx context.Context, globals *Globals) error {
	store, err := credentials.NewStore(c.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	creds, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}

	if len(creds) == 0 {
		fmt.Println("No credentials found.")
		fmt.Println()
		fmt.Println("To create a new credential:")
		fmt.Println("  inkseal credentials init <name>")
		return nil
	}

	defaultName, _ := store.DefaultName()

	// Print as table
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFINGERPRINT\tCREATED\tDEFAULT")

	for _, cred := range creds {
		isDefault := ""
		if cred.Name == defaultName {
			isDefault = "*"
		}

		// Truncate fingerprint for display
		fp := cred.Fingerprint
		if len(fp) > 12 {
			fp = fp[:12] + "..."
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			cred.Name, fp, cred.CreatedAt.Format("2006-01-02 15:04:05"), isDefault)
	}

	w.Flush()
	return nil
}

// CredentialsShowCmd shows details of a credential.
type CredentialsShowCmd struct {
	Name      string `arg:"" help:"Credential name"`
	OutputDir string `help:"Custom credentials directory"`
}

func (c *CredentialsShowCmd) Run(ctx context.Context, globals *Globals) error {
	store, err := credentials.NewStore(c.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	cred, err := store.Get(c.Name)
	if err != nil {
		if errors.Is(err, credentials.ErrCredentialNotFound) {
			return fmt.Errorf("credential %q not found\n\nRun 'inkseal credentials list' to see available credentials", c.Name)
		}
		return fmt.Errorf("failed to get credential: %w", err)
	}

	publicKeyPEM, err := store.LoadPublicKeyPEM(c.Name)
	if err != nil {
		return fmt.Errorf("failed to load public key: %w", err)
	}

	defaultName, _ := store.DefaultName()

	fmt.Printf("Name:         %s\n", cred.Name)
	fmt.Printf("Fingerprint:  %s\n", cred.Fingerprint)
	fmt.Printf("Default:      %v\n", cred.Name == defaultName)
	fmt.Printf("Created:      %s\n", cred.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:      %s\n", cred.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Println()
	fmt.Println("Public Key:")
	fmt.Println(publicKeyPEM)

	return nil
}

// CredentialsDeleteCmd deletes a credential.
type CredentialsDeleteCmd struct {
	Name      string `arg:"" help:"Credential name"`
	Force     bool   `help:"Skip confirmation" default:"false"`
	OutputDir string `help:"Custom credentials directory"`
}

func (c *CredentialsDeleteCmd) Run(ctx context.Context, globals *Globals) error {
	store, err := credentials.NewStore(c.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	// Verify credential exists
	cred, err := store.Get(c.Name)
	if err != nil {
		if errors.Is(err, credentials.ErrCredentialNotFound) {
			return fmt.Errorf("credential %q not found", c.Name)
		}
		return fmt.Errorf("failed to get credential: %w", err)
	}

	defaultName, _ := store.DefaultName()

	// Warn when deleting the default credential
	if !c.Force && cred.Name == defaultName {
		fmt.Printf("Warning: Credential %q is the default credential.\n", c.Name)
		fmt.Println("Commands that rely on the default will stop authenticating.")
		fmt.Println()

		if !confirm("Continue?") {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := store.Delete(c.Name); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	fmt.Printf("Credential %q deleted.\n", c.Name)
	fmt.Println()
	fmt.Println("Note: Remove the public key from any service trusted key set as well.")

	return nil
}

// CredentialsSetDefaultCmd sets the default credential.
type CredentialsSetDefaultCmd struct {
	Name      string `arg:"" help:"Credential name"`
	OutputDir string `help:"Custom credentials directory"`
}

func (c *CredentialsSetDefaultCmd) Run(ctx context.Context, globals *Globals) error {
	store, err := credentials.NewStore(c.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	// Verify credential exists
	if _, err := store.Get(c.Name); err != nil {
		if errors.Is(err, credentials.ErrCredentialNotFound) {
			return fmt.Errorf("credential %q not found\n\nRun 'inkseal credentials list' to see available credentials", c.Name)
		}
		return fmt.Errorf("failed to get credential: %w", err)
	}

	if err := store.SetDefault(c.Name); err != nil {
		return fmt.Errorf("failed to set default: %w", err)
	}

	fmt.Printf("Default credential set to %q.\n", c.Name)
	return nil
}
