package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/inkseal/inkseal/cmd/cli/internal/credentials"
	"github.com/inkseal/inkseal/internal/certificate"
	"github.com/inkseal/inkseal/internal/docservice"
	"github.com/inkseal/inkseal/internal/logger"
	"github.com/inkseal/inkseal/internal/signer"
	"github.com/inkseal/inkseal/internal/signingkey"
	"github.com/inkseal/inkseal/internal/workflow"
)

// SignRequest mirrors the sign flags for request files. Explicit flags keep
// precedence; the file only fills in what was left unset.
type SignRequest struct {
	InstanceID     string `yaml:"instance_id" json:"instance_id"`
	SignatureField string `yaml:"signature_field" json:"signature_field"`
	Certificate    string `yaml:"certificate" json:"certificate"`
	Key            string `yaml:"key" json:"key"`
	Algorithm      string `yaml:"algorithm" json:"algorithm"`
	Server         string `yaml:"server" json:"server"`
}

type SignCmd struct {
	Cert           string        `help:"Signing certificate path (PEM, DER, or base64 DER)" type:"path"`
	Key            string        `help:"Private key path" type:"path"`
	PassphraseEnv  string        `help:"Environment variable holding the key passphrase"`
	PassphraseFile string        `help:"File holding the key passphrase" type:"path"`
	InstanceID     string        `help:"Document instance to sign"`
	Field          string        `help:"Signature field to complete"`
	Algorithm      string        `help:"Signature algorithm (default RSA-SHA256)"`
	Server         string        `help:"Document service base URL (default http://localhost:8080)" env:"INKSEAL_SERVER"`
	Timeout        time.Duration `help:"Timeout per service call, retries included" default:"30s"`
	Request        string        `help:"YAML/JSON request file path" type:"path"`
	Credential     string        `help:"Authenticate with this stored credential" env:"INKSEAL_CREDENTIAL"`
	Auth           bool          `help:"Authenticate with the default stored credential" default:"false"`
	Yes            bool          `help:"Skip the confirmation prompt" default:"false"`
}

func (s *SignCmd) Run(ctx context.Context, globals *Globals) error {
	// Load request from file if provided
	if s.Request != "" {
		if err := s.loadRequestFile(); err != nil {
			return fmt.Errorf("failed to load request file: %w", err)
		}
	}

	if s.InstanceID == "" {
		return errors.New("instance id is required (use --instance-id flag or --request file)")
	}
	if s.Field == "" {
		return errors.New("signature field is required (use --field flag or --request file)")
	}
	if s.Cert == "" {
		return errors.New("certificate path is required (use --cert flag or --request file)")
	}
	if s.Key == "" {
		return errors.New("private key path is required (use --key flag or --request file)")
	}
	if s.Server == "" {
		s.Server = docservice.DefaultConfig().BaseURL
	}

	algorithm := signer.RSASHA256
	if s.Algorithm != "" {
		var err error
		algorithm, err = signer.ParseAlgorithm(s.Algorithm)
		if err != nil {
			return err
		}
	}

	passphrase, err := loadPassphrase(s.PassphraseEnv, s.PassphraseFile)
	if err != nil {
		return err
	}

	certData, err := os.ReadFile(s.Cert)
	if err != nil {
		return fmt.Errorf("failed to read certificate: %w", err)
	}

	keyData, err := os.ReadFile(s.Key)
	if err != nil {
		return fmt.Errorf("failed to read private key: %w", err)
	}

	log := logger.Setup(globals.Debug)

	cleanup := setupTelemetry(ctx, log, globals)
	defer cleanup()

	// The printed summary is the interface; workflow progress reaches
	// stderr only in debug mode.
	wfLog := zerolog.Nop()
	if globals.Debug {
		wfLog = log
	}

	clientCfg := docservice.Config{
		BaseURL:   s.Server,
		Timeout:   s.Timeout,
		UserAgent: "inkseal-cli/" + globals.Version,
		Logger:    wfLog,
	}

	if s.Auth || s.Credential != "" {
		store, err := credentials.NewStore("")
		if err != nil {
			return fmt.Errorf("failed to initialize credential store: %w", err)
		}

		tokenSource, err := credentials.NewTokenSource(store, s.Credential, s.Server)
		if err != nil {
			return err
		}

		clientCfg.TokenSource = tokenSource
		fmt.Printf("Authenticating as credential %q\n", tokenSource.CredentialName())
	}

	wf, err := workflow.New(workflow.Config{
		InstanceID:     s.InstanceID,
		SignatureField: s.Field,
		Client:         docservice.NewClient(clientCfg),
		Algorithm:      algorithm,
		Logger:         wfLog,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Signing field %q of instance %s on server %s\n", s.Field, s.InstanceID, s.Server)
	fmt.Println()

	verdict, err := wf.LoadCertificate(ctx, certData)
	if verdict != nil {
		printCertificateSummary(wf, verdict)
	}
	if err != nil {
		return fmt.Errorf("certificate rejected: %w", err)
	}

	if err := wf.LoadKey(ctx, keyData, keyImportOptions(passphrase)...); err != nil {
		return fmt.Errorf("failed to import private key: %w", err)
	}

	data, err := wf.FetchData(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch signable data: %w", err)
	}

	if err := printSignableData(data); err != nil {
		return err
	}

	if !s.Yes {
		if !confirm("Sign this data and submit the signature?") {
			fmt.Println("Aborted.")
			wf.Abort(ctx)
			return nil
		}
	}

	result, err := wf.ConfirmAndSign(ctx)
	if result != nil {
		printOutcome(result)
	}
	if err != nil {
		return fmt.Errorf("signing failed: %w", err)
	}

	return nil
}

func (s *SignCmd) loadRequestFile() error {
	data, err := os.ReadFile(s.Request)
	if err != nil {
		return fmt.Errorf("failed to read request file: %w", err)
	}

	var req SignRequest

	// Determine file format by extension
	if strings.HasSuffix(strings.ToLower(s.Request), ".json") {
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("failed to parse JSON request: %w", err)
		}
	} else {
		// Default to YAML
		if err := yaml.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("failed to parse YAML request: %w", err)
		}
	}

	if s.InstanceID == "" {
		s.InstanceID = req.InstanceID
	}
	if s.Field == "" {
		s.Field = req.SignatureField
	}
	if s.Cert == "" {
		s.Cert = req.Certificate
	}
	if s.Key == "" {
		s.Key = req.Key
	}
	if s.Algorithm == "" {
		s.Algorithm = req.Algorithm
	}
	if s.Server == "" {
		s.Server = req.Server
	}

	return nil
}

func keyImportOptions(passphrase string) []signingkey.ImportOption {
	if passphrase == "" {
		return nil
	}
	return []signingkey.ImportOption{signingkey.WithPassphrase(passphrase)}
}

func printCertificateSummary(wf *workflow.Workflow, verdict *certificate.Verdict) {
	cert := wf.Certificate()
	if cert != nil {
		fmt.Printf("Certificate: %s\n", cert.Subject)
		fmt.Printf("Issuer:      %s\n", cert.Issuer)
		fmt.Printf("Valid until: %s\n", cert.NotAfter.Format("2006-01-02 15:04:05 MST"))
		fmt.Printf("Fingerprint: %s\n", cert.Fingerprint())
	}

	for _, e := range verdict.Errors {
		fmt.Printf("Error: %s\n", e)
	}
	for _, w := range verdict.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}

	fmt.Println()
}

func printSignableData(data *docservice.SignableData) error {
	var pretty map[string]any
	if err := json.Unmarshal(data.SignableData, &pretty); err != nil {
		return fmt.Errorf("service returned unreadable signable data: %w", err)
	}

	rendered, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render signable data: %w", err)
	}

	fmt.Println("Data to be signed:")
	fmt.Println(string(rendered))
	fmt.Println()

	if data.Instructions != "" {
		fmt.Printf("Instructions: %s\n", data.Instructions)
	}
	fmt.Printf("Signing window closes at %s\n", data.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Println()

	return nil
}

func printOutcome(result *workflow.Result) {
	fmt.Println()

	switch result.Outcome {
	case workflow.OutcomeVerified:
		fmt.Println("Signature stored and verified by the service.")
	case workflow.OutcomeStoredUnverified:
		fmt.Println("Signature stored, but the service did not verify it.")
	case workflow.OutcomeRejected:
		fmt.Println("Signature rejected by the service.")
	}

	if result.Message != "" {
		fmt.Printf("Service message: %s\n", result.Message)
	}
	fmt.Printf("Submitted at: %s\n", result.SubmittedAt.Format("2006-01-02 15:04:05 MST"))
}
