// Package cli implements keyvaultctl, the operator tool that talks to a
// running key vault over NATS.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mesmerverse/maci-keyvault/internal/config"
	"github.com/mesmerverse/maci-keyvault/internal/natsbus"
	"github.com/mesmerverse/maci-keyvault/internal/protocol"
)

// Config holds the global flags
type Config struct {
	NATSURL         string
	CredentialsFile string
	Principal       string
	Prefix          string
	Encoding        string
	Timeout         time.Duration
	Output          string
	Verbose         bool
}

// NewRootCmd builds the command tree writing to out
func NewRootCmd(out io.Writer) *cobra.Command {
	cfg := &Config{}

	root := &cobra.Command{
		Use:   "keyvaultctl",
		Short: "keyvaultctl - MACI key vault operator tool",
		Long: `keyvaultctl talks to a running keyvaultd over NATS.

Generating keys and signing through the request subject waits for a human
to approve the request (see "pending", "approve" and "reject"). The
--internal flag uses the trusted subject instead, which skips approval and
is only reachable with internal NATS permissions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.WarnLevel
			if cfg.Verbose {
				level = zerolog.DebugLevel
			}
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
		},
	}
	root.SetOut(out)

	defaults := config.Default()
	flags := root.PersistentFlags()
	flags.StringVar(&cfg.NATSURL, "nats-url", defaults.NATS.URL, "NATS server URL")
	flags.StringVar(&cfg.CredentialsFile, "creds", "", "NATS credentials file")
	flags.StringVar(&cfg.Principal, "principal", os.Getenv("KEYVAULT_PRINCIPAL"), "principal id of the vault")
	flags.StringVar(&cfg.Prefix, "prefix", defaults.NATS.SubjectPrefix, "NATS subject prefix")
	flags.StringVar(&cfg.Encoding, "encoding", defaults.NATS.Encoding, "frame encoding (json, cbor)")
	flags.DurationVar(&cfg.Timeout, "timeout", 5*time.Minute, "how long to wait for a reply, including approval")
	flags.StringVarP(&cfg.Output, "output", "o", "text", "output format (text, json)")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newVersionCmd(cfg),
		newPingCmd(cfg),
		newKeysCmd(cfg),
		newPendingCmd(cfg),
		newResolveCmd(cfg, true),
		newResolveCmd(cfg, false),
		newWatchCmd(cfg),
		newSetPasswordCmd(cfg),
		newClearPasswordCmd(cfg),
		newStrengthCmd(cfg),
	)
	return root
}

// Execute runs keyvaultctl with os.Args
func Execute() error {
	return NewRootCmd(os.Stdout).Execute()
}

// session is one connected invocation
type session struct {
	cfg      *Config
	client   *natsbus.Client
	subjects natsbus.Subjects
	codec    protocol.Codec
}

func connect(cfg *Config) (*session, error) {
	if cfg.Principal == "" {
		return nil, fmt.Errorf("--principal is required")
	}
	codec, err := protocol.CodecFor(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	client, err := natsbus.Connect(config.NATSConfig{
		URL:             cfg.NATSURL,
		CredentialsFile: cfg.CredentialsFile,
		ReconnectWait:   500,
		MaxReconnects:   0,
	}, "keyvaultctl")
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:      cfg,
		client:   client,
		subjects: natsbus.Subjects{Prefix: cfg.Prefix, Principal: cfg.Principal},
		codec:    codec,
	}, nil
}

func (s *session) Close() {
	s.client.Close()
}

func (s *session) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.cfg.Timeout)
}

// withSession connects, runs fn and closes the connection
func withSession(cmd *cobra.Command, cfg *Config, fn func(ctx context.Context, s *session) error) error {
	s, err := connect(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := s.context(cmd.Context())
	defer cancel()
	return fn(ctx, s)
}
