package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API, the refresh workers and the scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := app.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [pid...]",
		Short: "Refresh providers now and print one outcome per provider",
		Long: `Refreshes the listed providers, or every native provider when none are
listed, and prints the outcomes as JSON. Exits non-zero when any provider failed.`,
		RunE: func(cmd *cobra.Command, pids []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			outcomes, err := app.Catalog().RefreshAll(cmd.Context(), worker.Filter(pids))
			if err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(outcomes); err != nil {
				return fmt.Errorf("write outcomes: %w", err)
			}
			var failed []string
			for _, o := range outcomes {
				if o.Status == catalog.OutcomeFailed {
					failed = append(failed, o.PID)
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("refresh failed for %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
}

func newBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Seed an empty catalog with the known providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := app.Catalog().Bootstrap(cmd.Context()); err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			app.Logger().Info("catalog bootstrapped")
			return nil
		},
	}
}

func newResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe every provider and backend, then bootstrap again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("reset deletes the whole catalog; pass --yes to confirm")
			}
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := app.Catalog().Reset(cmd.Context()); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			app.Logger().Info("catalog reset")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the encrypted provider secrets of an operator account",
	}
	cmd.AddCommand(newCredentialsSetCmd())
	return cmd
}

func newCredentialsSetCmd() *cobra.Command {
	var (
		email    string
		platform string
		keys     []string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Encrypt and store secrets for one platform",
		Example: `  qcatalog credentials set --platform "IBM Quantum" --key TOKEN=abc123
  qcatalog credentials set --platform "Amazon Braket" \
    --key AWS_ACCESS_KEY_ID=... --key AWS_SECRET_ACCESS_KEY=... --key AWS_REGION=us-east-1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secrets, err := parseSecrets(keys)
			if err != nil {
				return err
			}
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if email == "" {
				email = app.Config().Operator.Email
			}
			key := catalog.Norm(platform)
			if err := app.Secrets().Set(cmd.Context(), email, key, secrets); err != nil {
				return fmt.Errorf("store credentials: %w", err)
			}
			app.Logger().Info("credentials stored",
				zap.String("email", email),
				zap.String("platform", key),
				zap.Int("keys", len(secrets)),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "operator account (defaults to operator.email)")
	cmd.Flags().StringVar(&platform, "platform", "", "platform name, e.g. \"IBM Quantum\"")
	cmd.Flags().StringArrayVar(&keys, "key", nil, "secret as NAME=VALUE; repeatable")
	_ = cmd.MarkFlagRequired("platform")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func parseSecrets(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --key %q, want NAME=VALUE", pair)
		}
		out[name] = value
	}
	return out, nil
}
