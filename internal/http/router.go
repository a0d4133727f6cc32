// Package http expone la superficie HTTP del servicio: emisión y descarga
// de links firmados, administración de claves, JWKS y health.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/linksign/internal/keys"
	"github.com/dropDatabas3/linksign/internal/link"
)

// Deps contiene las dependencias del router.
type Deps struct {
	Links *link.Service
	Keys  keys.Store

	// AdminAPIKey protege /v1/admin. Vacío = admin deshabilitado (403).
	AdminAPIKey string
}

func NewRouter(deps Deps) http.Handler {
	h := &handlers{links: deps.Links, keys: deps.Keys}

	initHTTPMetrics(nil)

	r := chi.NewRouter()
	r.Use(withRequestLogger())
	r.Use(withRecover())
	r.Use(withHTTPMetrics())
	r.Use(withSecurityHeaders())

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/.well-known/jwks.json", h.jwks)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/links", h.createLink)
		r.Get("/download/{token}", h.download)

		r.Route("/admin", func(r chi.Router) {
			r.Use(withAdminKey(deps.AdminAPIKey))
			r.Get("/keys", h.listKeys)
			r.Post("/keys/rotate", h.rotateKey)
			r.Delete("/keys/{kid}", h.retireKey)
		})
	})

	return r
}
