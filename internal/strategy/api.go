package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/credentials"
	"github.com/JakeFAU/quantum-catalog/internal/extractor"
)

// TokenPlaceholder is replaced by the stored secret in auth header templates.
const TokenPlaceholder = "TOKEN"

// API fetches through a provider REST API.
type API struct {
	runner
	secrets SecretSource
}

// NewAPI returns the API strategy.
func NewAPI(loader Loader, secrets SecretSource, timeout time.Duration, logger *zap.Logger) *API {
	return &API{
		runner:  runner{method: catalog.FetchAPI, loader: loader, timeout: timeout, logger: logger.Named("strategy.api")},
		secrets: secrets,
	}
}

// Fetch implements Strategy.
func (s *API) Fetch(ctx context.Context, p catalog.Provider) ([]catalog.RawRecord, error) {
	return s.fetch(ctx, p, s.prepare)
}

func (s *API) prepare(ctx context.Context, p catalog.Provider) (extractor.Input, func(), error) {
	req, ok := p.Request.(catalog.APIRequest)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %T", ErrMethodMismatch, p.Request)
	}
	headers := make(map[string]string, len(req.Auth))
	var token string
	for name, tmpl := range req.Auth {
		if strings.Contains(tmpl, TokenPlaceholder) && token == "" {
			platform := catalog.CredentialKey(p.PID)
			secrets, err := s.secrets.Secrets(ctx, platform, TokenPlaceholder)
			if err != nil {
				return nil, nil, wrapSecretErr(platform, err)
			}
			token = secrets[TokenPlaceholder]
		}
		headers[name] = strings.ReplaceAll(tmpl, TokenPlaceholder, token)
	}
	return extractor.APIInput{Provider: p.Ref(), BaseURL: req.BaseURL, Headers: headers}, nil, nil
}

func wrapSecretErr(platform string, err error) error {
	if credentials.IsPrecondition(err) {
		return fmt.Errorf("%w: credentials for %s: %w", ErrSkipped, platform, err)
	}
	return fmt.Errorf("credentials for %s: %w", platform, err)
}
