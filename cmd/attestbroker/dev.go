//go:build dev

package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	devCommands = append(devCommands, newInitCmd())
}

func newInitCmd() *cobra.Command {
	var (
		output        string
		projectNumber string
		backend       string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "[dev] Generate a server config with a fresh master key and admin token",
		Long: `Generate a random ledger master key (32 bytes, hex) and admin token,
write them to a YAML server config, and print the matching environment
variables.

NOTE: This command is only available in dev builds (go build -tags dev).
In production, provision secrets through your deployment's secret store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(output, projectNumber, backend)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "attestbroker.yaml", "Output path for the server config")
	cmd.Flags().StringVar(&projectNumber, "cloud-project-number", "", "Static cloud project number to write")
	cmd.Flags().StringVar(&backend, "backend", "dstack", "Integrity backend: dstack|remote")

	return cmd
}

func initConfig(output, projectNumber, backend string) error {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return fmt.Errorf("generate master key: %w", err)
	}
	var tok [24]byte
	if _, err := rand.Read(tok[:]); err != nil {
		return fmt.Errorf("generate admin token: %w", err)
	}

	masterKey := hex.EncodeToString(key[:])
	adminToken := base64.RawURLEncoding.EncodeToString(tok[:])

	cfg := map[string]any{
		"admin_token":     adminToken,
		"master_key":      masterKey,
		"backend":         backend,
		"db_path":         "attestbroker.db",
		"request_timeout": "30s",
	}
	if projectNumber != "" {
		cfg["cloud_project_number"] = projectNumber
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(output, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}

	fmt.Fprintf(os.Stderr, "Wrote %s\n", output)
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "Start the server with:\n")
	fmt.Fprintf(os.Stderr, "  ATTESTBROKER_CONFIG=%s attestbroker-server\n", output)
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "Admin commands need the token:\n")
	fmt.Fprintf(os.Stderr, "  export ATTESTBROKER_ADMIN_TOKEN=%s\n", adminToken)

	return nil
}
