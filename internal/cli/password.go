package cli

import (
	"bufio"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesmerverse/maci-keyvault/internal/passwordvault"
	"github.com/mesmerverse/maci-keyvault/internal/router"
)

// Version information (set via -ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func newVersionCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter(cmd.OutOrStdout(), cfg.Output)
			if cfg.Output == "json" {
				return p.json(map[string]string{
					"version":    Version,
					"commit":     GitCommit,
					"go_version": runtime.Version(),
				})
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "keyvaultctl version %s (%s, %s)\n", Version, GitCommit, runtime.Version())
			return err
		},
	}
}

func newSetPasswordCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "set-password",
		Short: "Set the vault master password, read from stdin",
		Long: `Set the vault master password. The password is read from the first
line of stdin so it never appears in the process list or shell history:

  keyvaultctl set-password --principal alice < password.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return callInternal(cmd, cfg, router.InternalRequest{Action: "setPassword", Password: password})
		},
	}
}

func newClearPasswordCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-password",
		Short: "Forget the master password and delete its backup",
		Long: `Forget the vault master password. The remote backup is deleted and the
cached password is wiped. Stored keys stay encrypted; set the same password
again to sign with them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return callInternal(cmd, cfg, router.InternalRequest{Action: "clearPassword"})
		},
	}
}

func newStrengthCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "strength",
		Short: "Score a password against the policy, read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}

			st := passwordvault.CheckStrength(password)
			p := newPrinter(cmd.OutOrStdout(), cfg.Output)
			if cfg.Output == "json" {
				return p.json(st)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "valid: %t\nscore: %d/%d (%d%%)\n", st.Valid, st.Score, st.Max, st.Percent())
			for _, u := range st.Unmet {
				fmt.Fprintf(out, "  missing: %s\n", u)
			}
			for _, s := range st.Suggestions {
				fmt.Fprintf(out, "  suggestion: %s\n", s)
			}
			return nil
		},
	}
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("no password on stdin")
	}
	return password, nil
}
