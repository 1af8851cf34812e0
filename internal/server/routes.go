package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/masgate/internal/api/v1"
	"github.com/gosuda/masgate/internal/api/ws"
)

func registerAPIRoutes(api huma.API, opts Options) {
	v1.RegisterAgentRoutes(api, opts.Catalog, opts.Registry)
	if opts.Traces != nil {
		v1.RegisterTraceRoutes(api, opts.Traces)
	}
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/traces", hub.ServeLifecycle)
	r.Get("/traces/{clientRequestID}", hub.ServeTrace)
}
