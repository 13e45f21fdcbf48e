// Package cmd defines and implements the CLI commands for the qcatalog executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/config"
	"github.com/JakeFAU/quantum-catalog/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Catalog is the synchronous side of the reconciler used by one-shot commands.
type Catalog interface {
	Bootstrap(ctx context.Context) error
	Reset(ctx context.Context) error
	RefreshAll(ctx context.Context, filter catalog.ProviderFilter) ([]catalog.Outcome, error)
}

// SecretWriter stores encrypted provider secrets on an operator account.
type SecretWriter interface {
	Set(ctx context.Context, email, platform string, secrets map[string]string) error
}

// App defines the application interface that commands use, so tests can
// inject a fake.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
	Config() config.Config
	Catalog() Catalog
	Secrets() SecretWriter
}

type serverApp struct {
	*server.App
}

func (a serverApp) Catalog() Catalog      { return a.Reconciler }
func (a serverApp) Secrets() SecretWriter { return a.Credentials }

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfgFile string) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return serverApp{App: app}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "qcatalog",
		Short: "Catalog of quantum computing providers and their backends.",
		Long: `qcatalog keeps a catalog of quantum hardware providers and the backends
they expose. It fetches provider data over vendor APIs, SDKs and scraped
pages, normalizes it into one backend model and serves it over REST.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				if err := appInstance.Close(context.Background()); err != nil {
					appInstance.Logger().Warn("close failed", zap.Error(err))
				}
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env QCATALOG_* overrides it)")

	cmd.AddCommand(
		newServeCmd(),
		newRefreshCmd(),
		newBootstrapCmd(),
		newResetCmd(),
		newCredentialsCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
