package router

import (
	"fmt"

	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc"

	"github.com/joshp123/gokumo/internal/core"
)

// RegisterPlugins registers plugin services and core services on the gRPC server.
func RegisterPlugins(server *grpc.Server, plugins []core.Plugin) error {
	if err := core.NewRegistryService(plugins).Register(server); err != nil {
		return fmt.Errorf("register registry: %w", err)
	}

	for _, p := range plugins {
		if err := p.RegisterGRPC(server); err != nil {
			return fmt.Errorf("register plugin %s: %w", p.ID(), err)
		}
	}
	return nil
}

// MountHTTP mounts plugin HTTP routes under /api/{plugin_id}.
func MountHTTP(r chi.Router, plugins []core.Plugin) {
	for _, p := range plugins {
		registrant, ok := p.(core.HTTPRegistrant)
		if !ok {
			continue
		}
		r.Route("/api/"+p.ID(), registrant.RegisterHTTP)
	}
}
