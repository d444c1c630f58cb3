// Command admintoken mints bearer tokens signed with the configured JWT
// secret: operator tokens for the /api/v1/admin routes, or a replacement
// token for an existing merchant.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"giftcard-ledger/config"
	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/internal/service"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	var (
		configPath string
		merchant   string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:           "admintoken",
		Short:         "Mint a bearer token for the gift card ledger API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.JWT.Secret == "" {
				return fmt.Errorf("jwt.secret is required")
			}

			subject, role := uuid.Nil, ports.RoleAdmin
			if merchant != "" {
				if subject, err = uuid.Parse(merchant); err != nil {
					return fmt.Errorf("invalid merchant id: %w", err)
				}
				role = ports.RoleMerchant
			}
			if ttl <= 0 {
				ttl = cfg.JWT.Expiry
			}

			tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Issuer)
			token, expiresAt, err := tokenSvc.Generate(subject, role, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}

			fmt.Fprintf(errOut, "%s token, expires at %s\n", role, expiresAt.UTC().Format(time.RFC3339))
			fmt.Fprintln(out, token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("GCL_CONFIG"), "Config file (defaults to $GCL_CONFIG)")
	cmd.Flags().StringVarP(&merchant, "merchant", "m", "", "Mint a merchant token for this merchant id instead of an admin token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to jwt.expiry)")

	return cmd
}
