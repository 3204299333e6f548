package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/aspect-build/attestbroker/internal/client"
	"github.com/aspect-build/attestbroker/internal/logx"
	"github.com/aspect-build/attestbroker/internal/version"
	"github.com/spf13/cobra"
)

// devCommands is populated by dev.go (build tag "dev") with dev-only subcommands.
var devCommands []*cobra.Command

type globalOptions struct {
	serverURL     string
	insecure      bool
	projectNumber string
	logLevel      string
	verbose       bool

	resolvedURL string
}

// resolveServerURL returns the server URL from the flag or ATTESTBROKER_SERVER_URL env var.
// Prints a warning to stderr when falling back to the env var.
// Returns an error if neither is set.
func resolveServerURL(cmd *cobra.Command, flagValue string) (string, error) {
	if cmd.Flags().Changed("server") {
		return strings.TrimRight(flagValue, "/"), nil
	}
	if v := os.Getenv("ATTESTBROKER_SERVER_URL"); v != "" {
		fmt.Fprintf(os.Stderr, "attestbroker: WARNING: using server URL from ATTESTBROKER_SERVER_URL environment variable\n")
		return strings.TrimRight(v, "/"), nil
	}
	return "", fmt.Errorf("server URL required: use --server flag or set ATTESTBROKER_SERVER_URL")
}

func (o *globalOptions) client(cmd *cobra.Command) (*client.Client, error) {
	serverURL, err := resolveServerURL(cmd, o.serverURL)
	if err != nil {
		return nil, err
	}
	c, err := client.New(serverURL, o.insecure)
	if err != nil {
		return nil, err
	}
	o.resolvedURL = serverURL
	c.SetAdminToken(os.Getenv("ATTESTBROKER_ADMIN_TOKEN"))
	return c, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:     "attestbroker",
		Short:   "attestbroker - request device integrity tokens from an attestbroker server",
		Version: version.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logx.Configure(opts.logLevel, opts.verbose)
		},
	}
	rootCmd.SetVersionTemplate(version.String("attestbroker") + "\n")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.serverURL, "server", "", "attestbroker server URL (or set ATTESTBROKER_SERVER_URL)")
	pf.BoolVar(&opts.insecure, "insecure", false, "Allow plaintext HTTP connection to server")
	pf.StringVar(&opts.projectNumber, "project-number", "", "Cloud project number (defaults to the server's configured one)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error (or ATTESTBROKER_LOG_LEVEL)")
	pf.BoolVar(&opts.verbose, "verbose", false, "Enable verbose debug logs (same as --log-level debug)")

	rootCmd.AddCommand(
		newSupportedCmd(opts),
		newPrepareCmd(opts),
		newAttestCmd(opts),
		newAssertCmd(opts),
		newStoreKeyCmd(opts),
		newStoredKeyCmd(opts),
		newClearKeyCmd(opts),
		newStatusCmd(opts),
		newRequestsCmd(opts),
	)
	for _, cmd := range devCommands {
		rootCmd.AddCommand(cmd)
	}
	return rootCmd
}

func newSupportedCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "supported",
		Short: "Report whether the server's integrity backend is usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(cmd)
			if err != nil {
				return err
			}
			sup, err := c.IsSupported(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "supported=%v\n", sup.IsSupported)
			fmt.Fprintf(out, "platform=%s\n", sup.Platform)
			fmt.Fprintf(out, "format=%s\n", sup.Format)
			return nil
		},
	}
}

func newPrepareCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prepare",
		Short: "Prepare the default key and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(cmd)
			if err != nil {
				return err
			}
			res, err := c.Prepare(cmd.Context(), opts.projectNumber)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key_id=%s\n", res.KeyID)
			return nil
		},
	}
}

func newAttestCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "attest <key_id> <challenge>",
		Short: "Request an attestation token bound to a challenge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(cmd)
			if err != nil {
				return err
			}
			tok, err := c.CreateAttestation(cmd.Context(), args[0], args[1], opts.projectNumber)
			if err != nil {
				return err
			}
			printToken(cmd.OutOrStdout(), tok)
			return nil
		},
	}
}

func newAssertCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "assert <key_id> <payload>",
		Short: "Request an assertion token bound to a payload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(cmd)
			if err != nil {
				return err
			}
			tok, err := c.CreateAssertion(cmd.Context(), args[0], args[1], opts.projectNumber)
			if err != nil {
				return err
			}
			printToken(cmd.OutOrStdout(), tok)
			return nil
		},
	}
}

func printToken(out io.Writer, tok *client.Token) {
	fmt.Fprintf(out, "key_id=%s\n", tok.KeyID)
	if tok.Challenge != "" {
		fmt.Fprintf(out, "challenge=%s\n", tok.Challenge)
	}
	fmt.Fprintf(out, "format=%s\n", tok.Format)
	fmt.Fprintf(out, "token=%s\n", tok.Token)
}

func newStoreKeyCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "store-key <key_id>",
		Short: "Prepare a session under a caller-chosen key id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(cmd)
			if err != nil {
				return err
			}
			if err := c.StoreKeyID(cmd.Context(), args[0], opts.projectNumber); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored=%s\n", args[0])
			return nil
		},
	}
}

func newStoredKeyCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stored-key",
		Short: "Show the key id the server reports as stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(cmd)
			if err != nil {
				return err
			}
			res, err := c.StoredKeyID(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "has_stored_key=%v\n", res.HasStoredKey)
			if res.KeyID != nil {
				fmt.Fprintf(out, "key_id=%s\n", *res.KeyID)
			}
			return nil
		},
	}
}

func newClearKeyCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-key",
		Short: "Drop every prepared session on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(cmd)
			if err != nil {
				return err
			}
			if err := c.ClearStoredKeyID(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cleared=true")
			return nil
		},
	}
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server cache status (requires ATTESTBROKER_ADMIN_TOKEN)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "server=%s\n", opts.resolvedURL)
			st, err := c.Status(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "reachable=false\n")
				fmt.Fprintf(out, "status_error=%v\n", err)
				return nil
			}
			fmt.Fprintf(out, "reachable=true\n")
			fmt.Fprintf(out, "supported=%v\n", st.IsSupported)
			fmt.Fprintf(out, "platform=%s\n", st.Platform)
			fmt.Fprintf(out, "format=%s\n", st.Format)
			fmt.Fprintf(out, "ready_keys=%d\n", st.Count)
			for _, k := range st.Keys {
				fmt.Fprintf(out, "key=%s\n", k)
			}
			return nil
		},
	}
}

func newRequestsCmd(opts *globalOptions) *cobra.Command {
	var (
		keyID string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "List recent token requests from the server ledger (requires ATTESTBROKER_ADMIN_TOKEN)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(cmd)
			if err != nil {
				return err
			}
			entries, err := c.Requests(cmd.Context(), keyID, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				line := fmt.Sprintf("%s %s op=%s key=%q outcome=%s", e.CreatedAt.Format("2006-01-02T15:04:05Z"), e.ID, e.Operation, e.KeyID, e.Outcome)
				if e.ErrorKind != "" {
					line += " error=" + e.ErrorKind
				}
				if e.ErrorCode != nil {
					line += fmt.Sprintf(" integrity_code=%d", *e.ErrorCode)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keyID, "key", "", "Only show requests for this key id")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries (1-1000)")
	return cmd
}
