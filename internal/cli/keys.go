package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesmerverse/maci-keyvault/internal/keymanager"
	"github.com/mesmerverse/maci-keyvault/internal/protocol"
	"github.com/mesmerverse/maci-keyvault/internal/router"
)

func newPingCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the vault answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, cfg, func(ctx context.Context, s *session) error {
				reply, err := s.client.RequestFrame(ctx, s.subjects.Request(), s.codec, protocol.Frame{Type: protocol.TypePing})
				if err != nil {
					return err
				}
				data, err := frameData(reply)
				if err != nil {
					return err
				}
				return newPrinter(cmd.OutOrStdout(), cfg.Output).data(data)
			})
		},
	}
}

func newKeysCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage signing keys",
	}

	var internal bool
	cmd.PersistentFlags().BoolVar(&internal, "internal", false, "use the trusted subject (no approval)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored key pairs",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, args []string) error {
				return call(c, cfg, internal, map[string]any{"action": "listKeys"})
			},
		},
		&cobra.Command{
			Use:   "generate",
			Short: "Generate a key pair (waits for approval)",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, args []string) error {
				return call(c, cfg, internal, map[string]any{"action": "generateKeypair"})
			},
		},
		newSignCmd(cfg, &internal),
		newKeyAdminCmd(cfg, "discard <public-key>", "Discard a key pair", "discardKeyPair"),
		newKeyAdminCmd(cfg, "delete <public-key>", "Delete a key pair", "deleteKeyPair"),
		newRenameCmd(cfg),
		&cobra.Command{
			Use:   "recover",
			Short: "Check that the first active key decrypts with the current password",
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, args []string) error {
				return callInternal(c, cfg, router.InternalRequest{Action: "recoverKeyPair"})
			},
		},
	)
	return cmd
}

func newSignCmd(cfg *Config, internal *bool) *cobra.Command {
	var metadata string

	cmd := &cobra.Command{
		Use:   "sign <public-key> <message>",
		Short: "Sign a message (waits for approval)",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			md, err := parseMetadata(metadata)
			if err != nil {
				return err
			}
			payload := map[string]any{
				"action":    "signMessage",
				"publicKey": args[0],
				"message":   args[1],
			}
			if md != nil {
				payload["metadata"] = map[string]any(md)
			}
			return call(c, cfg, *internal, payload)
		},
	}
	cmd.Flags().StringVar(&metadata, "metadata", "", "metadata JSON object to sign with the message")
	return cmd
}

func newKeyAdminCmd(cfg *Config, use, short, action string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return callInternal(c, cfg, router.InternalRequest{Action: action, PublicKey: args[0]})
		},
	}
}

func newRenameCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <public-key> <name>",
		Short: "Set a key pair's display name",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return callInternal(c, cfg, router.InternalRequest{Action: "renameKeyPair", PublicKey: args[0], Name: args[1]})
		},
	}
}

// call sends payload as a MACI request, or as an internal request when
// internal is set
func call(cmd *cobra.Command, cfg *Config, internal bool, payload map[string]any) error {
	if internal {
		req := router.InternalRequest{Action: payload["action"].(string)}
		req.PublicKey, _ = payload["publicKey"].(string)
		req.Message, _ = payload["message"].(string)
		if md, ok := payload["metadata"].(map[string]any); ok {
			req.Metadata = keymanager.Metadata(md)
		}
		return callInternal(cmd, cfg, req)
	}

	return withSession(cmd, cfg, func(ctx context.Context, s *session) error {
		reply, err := s.client.RequestFrame(ctx, s.subjects.Request(), s.codec,
			protocol.Frame{Type: protocol.TypeRequest, Payload: payload})
		if err != nil {
			return err
		}
		data, err := frameData(reply)
		if err != nil {
			return err
		}
		return newPrinter(cmd.OutOrStdout(), cfg.Output).data(data)
	})
}

func callInternal(cmd *cobra.Command, cfg *Config, req router.InternalRequest) error {
	return withSession(cmd, cfg, func(ctx context.Context, s *session) error {
		res, err := s.client.RequestInternal(ctx, s.subjects.Internal(), s.codec, req)
		if err != nil {
			return err
		}
		if err := resultError(res); err != nil {
			return err
		}
		return newPrinter(cmd.OutOrStdout(), cfg.Output).data(res.Data)
	})
}

func parseMetadata(raw string) (keymanager.Metadata, error) {
	if raw == "" {
		return nil, nil
	}
	var md keymanager.Metadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, fmt.Errorf("--metadata must be a JSON object: %w", err)
	}
	return md, nil
}
