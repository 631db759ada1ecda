package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/inkseal/inkseal/internal/certificate"
)

type InspectCmd struct {
	Cert string `help:"Certificate path (PEM, DER, or base64 DER)" required:"" type:"path"`
	JSON bool   `help:"Print machine-readable JSON" default:"false"`
}

func (c *InspectCmd) Run(ctx context.Context, globals *Globals) error {
	data, err := os.ReadFile(c.Cert)
	if err != nil {
		return fmt.Errorf("failed to read certificate: %w", err)
	}

	cert, err := certificate.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}

	verdict := certificate.NewValidator(certificate.ValidatorConfig{}).Validate(cert, time.Now())

	if c.JSON {
		if err := printInspectJSON(cert, verdict); err != nil {
			return err
		}
	} else {
		printInspectText(cert, verdict)
	}

	if !verdict.Valid {
		return errors.New("certificate failed validation")
	}

	return nil
}

func printInspectJSON(cert *certificate.Certificate, verdict certificate.Verdict) error {
	out := struct {
		*certificate.Certificate
		Fingerprint string              `json:"fingerprint"`
		Verdict     certificate.Verdict `json:"verdict"`
	}{cert, cert.Fingerprint(), verdict}

	rendered, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render certificate: %w", err)
	}

	fmt.Println(string(rendered))
	return nil
}

func printInspectText(cert *certificate.Certificate, verdict certificate.Verdict) {
	usages := make([]string, len(cert.KeyUsages))
	for i, u := range cert.KeyUsages {
		usages[i] = string(u)
	}

	usageLine := strings.Join(usages, ", ")
	if len(usages) == 0 {
		usageLine = "none"
	}
	if cert.KeyUsageAssumed {
		usageLine += " (assumed, no key-usage extension)"
	}

	fmt.Printf("Subject:      %s\n", cert.Subject)
	fmt.Printf("Issuer:       %s\n", cert.Issuer)
	fmt.Printf("Serial:       %s\n", cert.SerialNumber)
	fmt.Printf("Not before:   %s\n", cert.NotBefore.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Not after:    %s\n", cert.NotAfter.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Key usages:   %s\n", usageLine)
	fmt.Printf("Fingerprint:  %s\n", cert.Fingerprint())
	fmt.Println()

	for _, e := range verdict.Errors {
		fmt.Printf("Error: %s\n", e)
	}
	for _, w := range verdict.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}

	if verdict.Valid {
		fmt.Println("Certificate is valid for signing.")
	} else {
		fmt.Println("Certificate is NOT valid for signing.")
	}
}
