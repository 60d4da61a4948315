package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/mesmerverse/maci-keyvault/internal/broker"
	"github.com/mesmerverse/maci-keyvault/internal/router"
)

func newPendingCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List requests awaiting approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return callInternal(cmd, cfg, router.InternalRequest{Action: "getPendingRequests"})
		},
	}
}

func newResolveCmd(cfg *Config, approve bool) *cobra.Command {
	use, short := "reject <request-id>", "Reject a pending request"
	if approve {
		use, short = "approve <request-id>", "Approve a pending request"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callInternal(cmd, cfg, router.InternalRequest{
				Action:    "resolveRequest",
				RequestID: args[0],
				Approved:  approve,
			})
		},
	}
}

func newWatchCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print approval requests as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			p := newPrinter(cmd.OutOrStdout(), cfg.Output)
			err = s.client.Subscribe(s.subjects.Approvals(), func(msg *nats.Msg) {
				var req broker.Request
				if err := s.codec.Unmarshal(msg.Data, &req); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "bad notification: %v\n", err)
					return
				}
				if cfg.Output == "json" {
					_ = p.json(req)
					return
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n",
					req.EnqueuedAt.Format("15:04:05"), req.ID, req.Action)
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s (Ctrl-C to stop)\n", s.subjects.Approvals())
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
}
