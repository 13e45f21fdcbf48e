package strategy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/extractor"
)

// SDK fetches through a vendor SDK. Credentials are handed to the extractor
// explicitly; the process environment is never modified.
type SDK struct {
	runner
	secrets SecretSource
}

// NewSDK returns the SDK strategy.
func NewSDK(loader Loader, secrets SecretSource, timeout time.Duration, logger *zap.Logger) *SDK {
	return &SDK{
		runner:  runner{method: catalog.FetchSDK, loader: loader, timeout: timeout, logger: logger.Named("strategy.sdk")},
		secrets: secrets,
	}
}

// Fetch implements Strategy.
func (s *SDK) Fetch(ctx context.Context, p catalog.Provider) ([]catalog.RawRecord, error) {
	return s.fetch(ctx, p, s.prepare)
}

func (s *SDK) prepare(ctx context.Context, p catalog.Provider) (extractor.Input, func(), error) {
	req, ok := p.Request.(catalog.SDKRequest)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %T", ErrMethodMismatch, p.Request)
	}
	creds := map[string]string{}
	if len(req.EnvVars) > 0 {
		platform := catalog.CredentialKey(p.PID)
		secrets, err := s.secrets.Secrets(ctx, platform, req.EnvVars...)
		if err != nil {
			return nil, nil, wrapSecretErr(platform, err)
		}
		creds = secrets
	}
	return extractor.SDKInput{Provider: p.Ref(), Credentials: creds}, nil, nil
}
