package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/campus-cert-api/internal/models"
	"github.com/noah-isme/campus-cert-api/pkg/sis"
)

type anchorOperations interface {
	RetryAnchor(ctx context.Context, id string, operator models.Actor) (*models.Certificate, error)
	OverrideUnanchored(ctx context.Context, id, reason string, operator models.Actor) (*models.Certificate, error)
	RecoverPendingAnchors(ctx context.Context) (int, error)
}

type anchorQueue interface {
	Start(ctx context.Context)
	Stop()
}

type gatewayStatus interface {
	Status(ctx context.Context) sis.GatewayStatus
}

type documentCleaner interface {
	Cleanup() ([]string, error)
}

type tokenIssuer interface {
	IssueToken(actor models.Actor, email string) (string, time.Time, error)
}

type operator struct {
	anchors   anchorOperations
	queue     anchorQueue
	gateway   gatewayStatus
	documents documentCleaner
	tokens    tokenIssuer
}

type operatorLoader func(ctx context.Context) (*operator, func(), error)

var globalFlags = struct {
	operatorID string
	tenantID   string
	role       string
}{}

func rootCommand(load operatorLoader) *cobra.Command {
	root := &cobra.Command{
		Use:           programName,
		Short:         "Operator tooling for certificate anchoring and documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&globalFlags.operatorID, "operator", "", "operator user id recorded in the audit trail")
	root.PersistentFlags().StringVar(&globalFlags.tenantID, "tenant", "", "restrict lookups to this tenant")
	root.PersistentFlags().StringVar(&globalFlags.role, "role", string(models.RoleRegistrar), "operator role")

	root.AddCommand(anchorCommand(load), gatewayCommand(load), documentsCommand(load), tokenCommand(load))
	return root
}

func operatorActor() (models.Actor, error) {
	id := strings.TrimSpace(globalFlags.operatorID)
	if id == "" {
		return models.Actor{}, fmt.Errorf("--operator is required")
	}
	return models.Actor{UserID: id, TenantID: strings.TrimSpace(globalFlags.tenantID), Role: models.UserRole(strings.ToUpper(globalFlags.role))}, nil
}

// withOperator loads services for the duration of one command.
func withOperator(load operatorLoader, fn func(cmd *cobra.Command, op *operator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		op, closer, err := load(cmd.Context())
		if err != nil {
			return err
		}
		if closer != nil {
			defer closer()
		}
		return fn(cmd, op, args)
	}
}

func anchorCommand(load operatorLoader) *cobra.Command {
	cmd := &cobra.Command{Use: "anchor", Short: "Manage ledger anchoring of approved certificates"}

	retry := &cobra.Command{
		Use:   "retry <certificate-id>",
		Short: "Retry anchoring a processing certificate",
		Args:  cobra.ExactArgs(1),
		RunE: withOperator(load, func(cmd *cobra.Command, op *operator, args []string) error {
			actor, err := operatorActor()
			if err != nil {
				return err
			}
			cert, err := op.anchors.RetryAnchor(cmd.Context(), args[0], actor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cert)
		}),
	}

	var reason string
	override := &cobra.Command{
		Use:   "override <certificate-id>",
		Short: "Issue a certificate without a ledger anchor",
		Args:  cobra.ExactArgs(1),
		RunE: withOperator(load, func(cmd *cobra.Command, op *operator, args []string) error {
			actor, err := operatorActor()
			if err != nil {
				return err
			}
			cert, err := op.anchors.OverrideUnanchored(cmd.Context(), args[0], reason, actor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cert)
		}),
	}
	override.Flags().StringVar(&reason, "reason", "", "reason recorded with the override")
	_ = override.MarkFlagRequired("reason")

	var wait time.Duration
	recoverCmd := &cobra.Command{
		Use:   "recover",
		Short: "Requeue processing certificates and run the anchor workers for a while",
		Args:  cobra.NoArgs,
		RunE: withOperator(load, func(cmd *cobra.Command, op *operator, args []string) error {
			op.queue.Start(context.Background())
			defer op.queue.Stop()

			count, err := op.anchors.RecoverPendingAnchors(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d certificate(s)\n", count)
			if count == 0 || wait <= 0 {
				return nil
			}
			select {
			case <-time.After(wait):
			case <-cmd.Context().Done():
			}
			return nil
		}),
	}
	recoverCmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "how long to let the workers run")

	cmd.AddCommand(retry, override, recoverCmd)
	return cmd
}

func gatewayCommand(load operatorLoader) *cobra.Command {
	cmd := &cobra.Command{Use: "gateway", Short: "Inspect the SIS gateway"}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show gateway and ledger status",
		Args:  cobra.NoArgs,
		RunE: withOperator(load, func(cmd *cobra.Command, op *operator, args []string) error {
			return printJSON(cmd.OutOrStdout(), op.gateway.Status(cmd.Context()))
		}),
	})
	return cmd
}

func documentsCommand(load operatorLoader) *cobra.Command {
	cmd := &cobra.Command{Use: "documents", Short: "Maintain rendered certificate documents"}
	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Delete rendered documents past the retention window",
		Args:  cobra.NoArgs,
		RunE: withOperator(load, func(cmd *cobra.Command, op *operator, args []string) error {
			removed, err := op.documents.Cleanup()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d document(s)\n", len(removed))
			return nil
		}),
	})
	return cmd
}

func tokenCommand(load operatorLoader) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for service-to-service calls",
		Args:  cobra.NoArgs,
		RunE: withOperator(load, func(cmd *cobra.Command, op *operator, args []string) error {
			actor, err := operatorActor()
			if err != nil {
				return err
			}
			token, expiresAt, err := op.tokens.IssueToken(actor, email)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{"token": token, "expiresAt": expiresAt})
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "email embedded in the token")
	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
