package main

import (
	"github.com/sergeschumacher/hermes/internal/domain"
	"github.com/sergeschumacher/hermes/internal/infra/config"
)

func providersFromConfig(cfg *config.Config) []domain.Provider {
	providers := make([]domain.Provider, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		providers = append(providers, domain.Provider{
			ID:            s.ID,
			Host:          s.Host,
			Port:          s.Port,
			Username:      s.Username,
			Password:      s.Password,
			TLS:           s.TLS,
			MaxConnection: s.MaxConnection,
			Priority:      s.Priority,
		})
	}
	return providers
}
