package server

import (
	"context"
	"fmt"

	"github.com/aspect-build/attestbroker/internal/broker"
	"github.com/aspect-build/attestbroker/internal/integrity"
)

// Backend is an integrity service that can also report whether it is
// usable on this host.
type Backend interface {
	integrity.Manager
	broker.SupportDetector
}

// NewBackend builds the integrity backend selected by cfg.Backend.
func NewBackend(ctx context.Context, cfg *Config) (Backend, error) {
	switch cfg.Backend {
	case BackendDstack:
		return integrity.NewDstackManager(cfg.DstackEndpoint), nil
	case BackendRemote:
		m, err := integrity.NewRemoteManager(ctx, integrity.RemoteConfig{
			BaseURL:      cfg.Remote.URL,
			ClientID:     cfg.Remote.ClientID,
			ClientSecret: cfg.Remote.ClientSecret,
			TokenURL:     cfg.Remote.TokenURL,
			GoogleADC:    cfg.Remote.GoogleADC,
			BearerToken:  cfg.Remote.Token,
			Timeout:      cfg.RequestTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("remote backend: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// NewService wires a broker service on top of backend using cfg.
func NewService(cfg *Config, backend Backend) *broker.Service {
	return broker.NewService(
		broker.NewCache(backend),
		backend,
		broker.WithStaticProjectNumber(cfg.CloudProjectNumber),
	)
}
