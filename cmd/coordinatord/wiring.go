package main

import (
	"github.com/agentmesh/coordinator/internal/config"
	"github.com/agentmesh/coordinator/internal/gateway"
	"github.com/agentmesh/coordinator/internal/gateway/native"
	"github.com/agentmesh/coordinator/internal/gateway/rest"
)

func loadConfig() (*config.Config, error) {
	return config.Load()
}

// openGateway resolves the configured Persistence Gateway backend. The
// CLI never branches on backend identity beyond this one call site.
func openGateway(cfg *config.Config) (gateway.Gateway, func(), error) {
	switch cfg.Persistence.Backend {
	case config.BackendREST:
		return rest.New(cfg.Persistence.DSN, cfg.Persistence.RESTPrefix), func() {}, nil
	default:
		gw, err := native.Open(cfg.Persistence.DSN)
		if err != nil {
			return nil, func() {}, err
		}
		return gw, func() { gw.Close() }, nil
	}
}
