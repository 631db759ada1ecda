package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/inkseal/inkseal/internal/telemetry"
)

type Globals struct {
	Debug     bool
	Telemetry bool
	Version   string
}

// loadPassphrase resolves a key passphrase from an environment variable or a
// file. Passphrases never travel on the command line itself.
func loadPassphrase(envName, file string) (string, error) {
	switch {
	case envName != "" && file != "":
		return "", errors.New("use either --passphrase-env or --passphrase-file, not both")
	case envName != "":
		passphrase, ok := os.LookupEnv(envName)
		if !ok {
			return "", fmt.Errorf("environment variable %s is not set", envName)
		}
		return passphrase, nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	default:
		return "", nil
	}
}

// setupTelemetry starts the OTLP exporters when --telemetry is set. Export
// failures downgrade to a warning so the command keeps working without
// metrics.
func setupTelemetry(ctx context.Context, log zerolog.Logger, globals *Globals) func() {
	if !globals.Telemetry {
		return func() {}
	}

	shutdown, err := telemetry.InitTelemetry(ctx, "inkseal-cli", globals.Version)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown telemetry")
		}
	}
}

// confirm prompts on stdout and reads one line. Anything other than y/Y
// declines.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)

	var response string
	_, _ = fmt.Scanln(&response)

	return response == "y" || response == "Y"
}
